package settlement

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/loyaltyhub-backend/internal/vouchers"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/config"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/db/models"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/loyaltyhub-backend/pkg/errors"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/locks"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/logger"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/outbox"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/payments"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/statemachine"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	currencyPlaces    = 2
	lockScopePayout   = "settlement_payout"
	maxLastErrorChars = 500
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type voucherStore interface {
	WithTx(tx *gorm.DB) vouchers.Repository
	FindByCode(ctx context.Context, code string) (*models.Voucher, error)
	MarkExpired(ctx context.Context, id uuid.UUID) (bool, error)
}

type orderReader interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindByNumber(ctx context.Context, orderNumber string) (*models.Order, error)
}

type groupReader interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.GroupOrder, error)
}

type activityReader interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Activity, error)
}

type merchantLookup interface {
	GetFeeRate(ctx context.Context, merchantID uuid.UUID) (decimal.Decimal, error)
	GetPayoutAccount(ctx context.Context, merchantID uuid.UUID) (string, error)
}

type memberLookup interface {
	ResetDormancy(ctx context.Context, tx *gorm.DB, userID, merchantID uuid.UUID) error
}

type locker interface {
	Acquire(ctx context.Context, scope, id string) (*locks.Lease, error)
}

type payoutMetrics interface {
	IncPayout(outcome string)
}

// Service is the verification and settlement engine.
type Service interface {
	Verify(ctx context.Context, input VerifyInput) (*VerificationResult, error)
	ExecutePayout(ctx context.Context, settlementID uuid.UUID) (*models.SettlementRecord, error)
	RetrySettlement(ctx context.Context) (RetryResult, error)
}

// ServiceParams bundles the settlement engine dependencies.
type ServiceParams struct {
	Repo       Repository
	Tx         txRunner
	Outbox     outboxPublisher
	Vouchers   voucherStore
	Orders     orderReader
	Groups     groupReader
	Activities activityReader
	Merchants  merchantLookup
	Members    memberLookup
	Gateway    payments.Gateway
	Locks      locker
	Metrics    payoutMetrics
	Logger     *logger.Logger
	Config     config.SettlementConfig
}

type service struct {
	repo             Repository
	tx               txRunner
	outbox           outboxPublisher
	vouchers         voucherStore
	orders           orderReader
	groups           groupReader
	activities       activityReader
	merchants        merchantLookup
	members          memberLookup
	gateway          payments.Gateway
	locks            locker
	metrics          payoutMetrics
	logg             *logger.Logger
	maxRetries       int
	retryBatch       int
	retryConcurrency int
	payoutTimeout    time.Duration
	now              func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	switch {
	case params.Repo == nil:
		return nil, fmt.Errorf("settlement repository required")
	case params.Tx == nil:
		return nil, fmt.Errorf("transaction runner required")
	case params.Outbox == nil:
		return nil, fmt.Errorf("outbox publisher required")
	case params.Vouchers == nil:
		return nil, fmt.Errorf("voucher repository required")
	case params.Orders == nil || params.Groups == nil || params.Activities == nil:
		return nil, fmt.Errorf("order, group and activity readers required")
	case params.Merchants == nil:
		return nil, fmt.Errorf("merchant lookup required")
	case params.Members == nil:
		return nil, fmt.Errorf("member lookup required")
	case params.Gateway == nil:
		return nil, fmt.Errorf("payment gateway required")
	case params.Locks == nil:
		return nil, fmt.Errorf("lock service required")
	case params.Logger == nil:
		return nil, fmt.Errorf("logger required")
	}
	concurrency := params.Config.RetryConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	return &service{
		repo:             params.Repo,
		tx:               params.Tx,
		outbox:           params.Outbox,
		vouchers:         params.Vouchers,
		orders:           params.Orders,
		groups:           params.Groups,
		activities:       params.Activities,
		merchants:        params.Merchants,
		members:          params.Members,
		gateway:          params.Gateway,
		locks:            params.Locks,
		metrics:          params.Metrics,
		logg:             params.Logger,
		maxRetries:       params.Config.MaxRetries,
		retryBatch:       params.Config.RetryBatchSize,
		retryConcurrency: concurrency,
		payoutTimeout:    params.Config.PayoutTimeout,
		now:              time.Now,
	}, nil
}

// SplitFee applies rate to gross, rounding the fee to currency precision.
// The payout takes the remainder so fee + payout always equals gross.
func SplitFee(gross, rate decimal.Decimal) (fee, payout decimal.Decimal) {
	fee = gross.Mul(rate).Round(currencyPlaces)
	return fee, gross.Sub(fee)
}

func (s *service) Verify(ctx context.Context, input VerifyInput) (*VerificationResult, error) {
	code := strings.ToUpper(strings.TrimSpace(input.VoucherCode))
	if code == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "voucher code required")
	}
	if input.MerchantID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "merchant identity missing")
	}

	voucher, err := s.vouchers.FindByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if voucher.MerchantID != input.MerchantID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "voucher belongs to another merchant")
	}
	now := s.now().UTC()
	if err := s.checkRedeemable(ctx, voucher, now); err != nil {
		return nil, err
	}

	var order *models.Order
	gross := decimal.Zero
	if voucher.OrderID != nil {
		order, err = s.orders.FindByID(ctx, *voucher.OrderID)
		if err != nil {
			return nil, err
		}
		if err := s.checkGroupFormed(ctx, order); err != nil {
			return nil, err
		}
		gross = order.PayAmount
	}
	activity, err := s.activities.FindByID(ctx, voucher.ActivityID)
	if err != nil {
		return nil, err
	}
	rate, err := s.merchants.GetFeeRate(ctx, voucher.MerchantID)
	if err != nil {
		return nil, err
	}
	fee, payout := SplitFee(gross, rate)

	verification := &models.VerificationRecord{
		VoucherID:   voucher.ID,
		VoucherCode: voucher.Code,
		MerchantID:  voucher.MerchantID,
		BranchID:    input.BranchID,
		OperatorID:  input.OperatorID,
		UserID:      voucher.UserID,
		Amount:      voucher.FaceValue,
		Metadata:    verificationMetadata(activity, order),
		VerifiedAt:  now,
	}
	record := &models.SettlementRecord{
		VoucherID:    voucher.ID,
		MerchantID:   voucher.MerchantID,
		GrossAmount:  gross,
		FeeRate:      rate,
		FeeAmount:    fee,
		PayoutAmount: payout,
		Status:       enums.SettlementStatusPending,
	}
	if order != nil {
		record.OrderNumber = &order.OrderNumber
	} else {
		// nothing was collected for a granted voucher, so nothing is owed
		record.Status = enums.SettlementStatusSettled
		record.SettledAt = &now
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		moved, err := s.vouchers.WithTx(tx).MarkUsed(ctx, voucher.ID, vouchers.UsageInput{
			BranchID:   input.BranchID,
			OperatorID: input.OperatorID,
			UsedAt:     now,
		})
		if err != nil {
			return err
		}
		if !moved {
			return pkgerrors.StateConflict(statemachine.ReasonVoucherAlreadyUsed, "voucher was redeemed concurrently")
		}
		repo := s.repo.WithTx(tx)
		if err := repo.CreateVerification(ctx, verification); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record verification")
		}
		if err := repo.CreateSettlement(ctx, record); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create settlement record")
		}
		if activity.TargetMemberType == enums.MemberTargetingDormant {
			if err := s.members.ResetDormancy(ctx, tx, voucher.UserID, voucher.MerchantID); err != nil {
				return err
			}
		}
		return s.emitVerified(ctx, tx, voucher, verification, record, input.MerchantID)
	})
	if err != nil {
		return nil, err
	}

	voucher.Status = enums.VoucherStatusUsed
	voucher.UsedAt = &now
	voucher.UsedBranchID = input.BranchID
	voucher.UsedOperatorID = input.OperatorID

	ctx = s.logg.WithFields(ctx, map[string]any{
		"voucher_id":    voucher.ID.String(),
		"settlement_id": record.ID.String(),
		"gross":         gross.StringFixed(currencyPlaces),
	})
	s.logg.Info(ctx, "voucher verified")
	return &VerificationResult{Voucher: voucher, Verification: verification, Settlement: record}, nil
}

// checkRedeemable enforces status and window. A voucher found past its window
// is flipped to expired before the call fails.
func (s *service) checkRedeemable(ctx context.Context, voucher *models.Voucher, now time.Time) error {
	switch voucher.Status {
	case enums.VoucherStatusUnused:
	case enums.VoucherStatusUsed:
		return pkgerrors.StateConflict(statemachine.ReasonVoucherAlreadyUsed, "voucher already used")
	case enums.VoucherStatusExpired:
		return pkgerrors.StateConflict(statemachine.ReasonVoucherExpired, "voucher expired")
	default:
		return pkgerrors.StateConflict(statemachine.ReasonVoucherNotUsable, fmt.Sprintf("voucher is %s", voucher.Status))
	}
	if now.After(voucher.ValidUntil) {
		if _, err := s.vouchers.MarkExpired(ctx, voucher.ID); err != nil {
			s.logg.Error(s.logg.WithField(ctx, "voucher_id", voucher.ID.String()), "mark voucher expired", err)
		}
		return pkgerrors.StateConflict(statemachine.ReasonVoucherExpired, "voucher expired")
	}
	if now.Before(voucher.ValidFrom) {
		return pkgerrors.StateConflict(statemachine.ReasonVoucherNotUsable, "voucher is not valid yet")
	}
	return nil
}

// checkGroupFormed keeps vouchers from unformed groups out of the till; they
// are refunded when the group fails.
func (s *service) checkGroupFormed(ctx context.Context, order *models.Order) error {
	if order.GroupOrderID == nil {
		return nil
	}
	group, err := s.groups.FindByID(ctx, *order.GroupOrderID)
	if err != nil {
		return err
	}
	if group.Status != enums.GroupOrderStatusSucceeded {
		return pkgerrors.StateConflict(statemachine.ReasonVoucherNotUsable, "group buy has not formed")
	}
	return nil
}

func (s *service) emitVerified(ctx context.Context, tx *gorm.DB, voucher *models.Voucher, verification *models.VerificationRecord, record *models.SettlementRecord, merchantID uuid.UUID) error {
	actor := &outbox.ActorRef{MerchantID: &merchantID, Role: "merchant"}
	if verification.OperatorID != nil {
		actor.UserID = *verification.OperatorID
	}
	err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventVoucherVerified,
		AggregateType: enums.AggregateVoucher,
		AggregateID:   voucher.ID,
		Actor:         actor,
		Data: payloads.VoucherVerifiedEvent{
			VoucherID:    voucher.ID,
			MerchantID:   voucher.MerchantID,
			UserID:       voucher.UserID,
			BranchID:     verification.BranchID,
			OperatorID:   verification.OperatorID,
			SettlementID: record.ID,
			VerifiedAt:   verification.VerifiedAt,
		},
	})
	if err != nil {
		return err
	}
	if record.Status != enums.SettlementStatusPending {
		return nil
	}
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventSettlementPayoutRequested,
		AggregateType: enums.AggregateSettlement,
		AggregateID:   record.ID,
		Actor:         actor,
		Data: payloads.SettlementPayoutRequestedEvent{
			SettlementID: record.ID,
			VoucherID:    voucher.ID,
			MerchantID:   voucher.MerchantID,
			Payout:       record.PayoutAmount,
		},
	})
}

func verificationMetadata(activity *models.Activity, order *models.Order) datatypes.JSON {
	meta := map[string]any{
		"activityId":   activity.ID.String(),
		"activityName": activity.Name,
		"activityType": activity.Type,
	}
	if order != nil {
		meta["orderNumber"] = order.OrderNumber
		if order.GroupOrderID != nil {
			meta["groupOrderId"] = order.GroupOrderID.String()
		}
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return nil
	}
	return datatypes.JSON(raw)
}
