package settlement

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"unicode/utf8"

	"github.com/angelmondragon/loyaltyhub-backend/pkg/db/models"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/loyaltyhub-backend/pkg/errors"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/metrics"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/payments"
	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"
)

var errPayoutRejected = errors.New("payout rejected by gateway")

// ExecutePayout moves a pending or failed settlement's payout to the merchant.
// Gateway failures are recorded on the row and are not returned; only errors
// that leave the row untouched are.
func (s *service) ExecutePayout(ctx context.Context, settlementID uuid.UUID) (*models.SettlementRecord, error) {
	lease, err := s.locks.Acquire(ctx, lockScopePayout, settlementID.String())
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := lease.Release(ctx); err != nil {
			s.logg.Warn(ctx, fmt.Sprintf("release payout lock: %v", err))
		}
	}()

	record, err := s.repo.FindByID(ctx, settlementID)
	if err != nil {
		return nil, err
	}
	ctx = s.logg.WithFields(ctx, map[string]any{
		"settlement_id": record.ID.String(),
		"merchant_id":   record.MerchantID.String(),
	})
	if record.Status == enums.SettlementStatusSettled {
		s.countPayout(metrics.PayoutSkipped)
		return record, nil
	}

	outcome, payoutErr := s.attemptPayout(ctx, record)
	now := s.now().UTC()
	if payoutErr == nil {
		if _, err := s.repo.MarkSettled(ctx, record.ID, now); err != nil {
			return nil, err
		}
		record.Status = enums.SettlementStatusSettled
		record.SettledAt = &now
		record.LastError = nil
		s.countPayout(outcome)
		s.logg.Info(ctx, "settlement paid out")
		return record, nil
	}

	reason := truncate(payoutErr.Error(), maxLastErrorChars)
	if _, err := s.repo.MarkFailed(ctx, record.ID, reason); err != nil {
		return nil, err
	}
	record.Status = enums.SettlementStatusFailed
	record.RetryCount++
	record.LastError = &reason
	s.countPayout(outcome)
	s.logg.Error(s.logg.WithField(ctx, "retry_count", record.RetryCount), "settlement payout failed", payoutErr)
	return record, nil
}

func (s *service) attemptPayout(ctx context.Context, record *models.SettlementRecord) (string, error) {
	if !record.PayoutAmount.IsPositive() {
		return metrics.PayoutSettled, nil
	}
	if record.OrderNumber == nil {
		return metrics.PayoutFailed, errors.New("settlement has no originating order")
	}
	order, err := s.orders.FindByNumber(ctx, *record.OrderNumber)
	if err != nil {
		return metrics.PayoutFailed, fmt.Errorf("load order: %w", err)
	}
	account, err := s.merchants.GetPayoutAccount(ctx, record.MerchantID)
	if err != nil {
		return metrics.PayoutFailed, fmt.Errorf("payout account: %w", err)
	}
	txnID := ""
	if order.GatewayTxnID != nil {
		txnID = *order.GatewayTxnID
	}

	callCtx := ctx
	if s.payoutTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, s.payoutTimeout)
		defer cancel()
	}
	ok, err := s.gateway.Payout(callCtx, payments.PayoutRequest{
		Reference:       record.ID.String(),
		GatewayTxnID:    txnID,
		OrderNumber:     order.OrderNumber,
		Amount:          record.PayoutAmount,
		ReceiverAccount: account,
		Description:     "voucher redemption settlement",
	})
	if err != nil {
		// a timeout is a failure; the sweep retries it
		return metrics.PayoutFailed, err
	}
	if !ok {
		return metrics.PayoutRejected, errPayoutRejected
	}
	return metrics.PayoutSettled, nil
}

// RetrySettlement re-attempts failed settlements below the retry ceiling with
// bounded parallelism. Rows at the ceiling stay failed for operators.
func (s *service) RetrySettlement(ctx context.Context) (RetryResult, error) {
	var result RetryResult
	rows, err := s.repo.ListRetryable(ctx, s.maxRetries, s.retryBatch)
	if err != nil {
		return result, err
	}
	if len(rows) == 0 {
		return result, nil
	}

	var mu sync.Mutex
	p := pool.New().WithMaxGoroutines(s.retryConcurrency).WithErrors()
	for i := range rows {
		id := rows[i].ID
		p.Go(func() error {
			record, err := s.ExecutePayout(ctx, id)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case pkgerrors.IsCode(err, pkgerrors.CodeTooFrequent):
				result.Skipped++
				return nil
			case err != nil:
				return fmt.Errorf("settlement %s: %w", id, err)
			}
			result.Attempted++
			if record.Status == enums.SettlementStatusSettled {
				result.Settled++
			} else {
				result.Failed++
			}
			return nil
		})
	}
	err = p.Wait()
	return result, err
}

func (s *service) countPayout(outcome string) {
	if s.metrics != nil {
		s.metrics.IncPayout(outcome)
	}
}

func truncate(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	for limit > 0 && !utf8.RuneStart(value[limit]) {
		limit--
	}
	return value[:limit]
}
