package orders

import (
	"context"
	"time"

	"github.com/angelmondragon/loyaltyhub-backend/internal/activities"
	"github.com/angelmondragon/loyaltyhub-backend/internal/vouchers"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/db/models"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/loyaltyhub-backend/pkg/errors"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/outbox"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/payments"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/statemachine"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// RequestPayment starts payment for a pending order. Orders with nothing to
// charge are confirmed immediately without a gateway call.
func (s *service) RequestPayment(ctx context.Context, input RequestPaymentInput) (*PaymentResult, error) {
	if input.OrderNumber == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order number required")
	}
	order, err := s.repo.FindByNumber(ctx, input.OrderNumber)
	if err != nil {
		return nil, err
	}
	if order.UserID != input.UserID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "order belongs to another user")
	}
	if err := statemachine.Order.Validate(order.Status, enums.OrderStatusPaid, statemachine.ReasonOrderNotPending); err != nil {
		return nil, err
	}
	if s.now().After(order.CreatedAt.Add(s.pendingTimeout)) {
		return nil, pkgerrors.StateConflict(statemachine.ReasonOrderNotPending, "order payment window has elapsed")
	}

	if !order.PayAmount.IsPositive() {
		if err := s.markPaid(ctx, order, "", s.now().UTC()); err != nil {
			return nil, err
		}
		confirmed, err := s.repo.FindByID(ctx, order.ID)
		if err != nil {
			return nil, err
		}
		return &PaymentResult{Order: confirmed, Paid: confirmed.Status == enums.OrderStatusPaid}, nil
	}

	activity, err := s.activities.Get(ctx, order.ActivityID)
	if err != nil {
		return nil, err
	}
	prepay, err := s.gateway.CreatePayment(ctx, payments.PaymentRequest{
		OrderNumber: order.OrderNumber,
		Amount:      order.PayAmount,
		Description: activity.Name,
		PayerRef:    input.PayerRef,
	})
	if err != nil {
		return nil, asDependency(err, "create payment")
	}
	return &PaymentResult{Order: order, Prepay: prepay}, nil
}

// ConfirmPayment applies a successful payment callback. Repeated callbacks and
// callbacks for unknown or closed orders are acknowledged without effect.
func (s *service) ConfirmPayment(ctx context.Context, input ConfirmPaymentInput) error {
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"order_number":   input.OrderNumber,
		"gateway_txn_id": input.GatewayTxnID,
	})
	order, err := s.repo.FindByNumber(ctx, input.OrderNumber)
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
			s.logg.Warn(logCtx, "payment callback for unknown order ignored")
			return nil
		}
		return err
	}

	switch order.Status {
	case enums.OrderStatusPaid, enums.OrderStatusRefunded:
		s.logg.Info(logCtx, "duplicate payment callback ignored")
		return nil
	case enums.OrderStatusClosed:
		s.logg.Warn(logCtx, "payment callback for closed order acknowledged")
		return nil
	}

	paidAt := input.PaidAt
	if paidAt.IsZero() {
		paidAt = s.now()
	}
	return s.markPaid(ctx, order, input.GatewayTxnID, paidAt.UTC())
}

// markPaid moves the order to paid and mints its voucher in one transaction.
// The conditional update makes the whole step run at most once per order.
func (s *service) markPaid(ctx context.Context, order *models.Order, gatewayTxnID string, paidAt time.Time) error {
	activity, err := s.activities.Get(ctx, order.ActivityID)
	if err != nil {
		return err
	}
	pricing, err := activities.ParsePricing(activity.Type, activity.PricingConfig)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "stored pricing config is invalid")
	}

	var voucher *models.Voucher
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		moved, err := s.repo.WithTx(tx).MarkPaid(ctx, order.ID, gatewayTxnID, paidAt)
		if err != nil || !moved {
			return err
		}
		voucher, err = s.vouchers.Issue(ctx, tx, vouchers.IssueInput{
			OrderID:    &order.ID,
			UserID:     order.UserID,
			MerchantID: order.MerchantID,
			ActivityID: order.ActivityID,
			Type:       order.Type,
			FaceValue:  order.PayAmount,
			Validity:   pricing.Validity(),
		})
		if err != nil {
			return err
		}
		if err := s.soldCounts.WithTx(tx).IncrementSoldCount(ctx, order.ActivityID, order.Quantity); err != nil {
			return err
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderPaid,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         &outbox.ActorRef{UserID: order.UserID},
			Data: payloads.OrderPaidEvent{
				OrderID:      order.ID,
				OrderNumber:  order.OrderNumber,
				UserID:       order.UserID,
				MerchantID:   order.MerchantID,
				ActivityID:   order.ActivityID,
				VoucherID:    voucher.ID,
				GroupOrderID: order.GroupOrderID,
				PayAmount:    order.PayAmount,
				PaidAt:       paidAt,
			},
		})
	})
	if err != nil {
		return err
	}

	logCtx := s.logg.WithField(ctx, "order_number", order.OrderNumber)
	if voucher == nil {
		s.logg.Info(logCtx, "order already confirmed by a concurrent callback")
		return nil
	}
	logCtx = s.logg.WithField(logCtx, "voucher_id", voucher.ID.String())
	s.logg.Info(logCtx, "order paid and voucher issued")
	return nil
}

// RefundOrder returns a paid order's money, then records the refund. It is
// driven by the payments worker and is idempotent on refunded orders.
func (s *service) RefundOrder(ctx context.Context, orderID uuid.UUID, reason string) error {
	order, err := s.repo.FindByID(ctx, orderID)
	if err != nil {
		return err
	}
	if order.Status == enums.OrderStatusRefunded {
		return nil
	}
	if err := statemachine.Order.Validate(order.Status, enums.OrderStatusRefunded, statemachine.ReasonOrderNotPaid); err != nil {
		return err
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"order_number": order.OrderNumber,
		"reason":       reason,
	})
	if order.PayAmount.IsPositive() {
		txnID := ""
		if order.GatewayTxnID != nil {
			txnID = *order.GatewayTxnID
		}
		accepted, err := s.gateway.Refund(ctx, payments.RefundRequest{
			OrderNumber:  order.OrderNumber,
			GatewayTxnID: txnID,
			Amount:       order.PayAmount,
			Total:        order.PayAmount,
			Reason:       reason,
		})
		if err != nil {
			return asDependency(err, "refund payment")
		}
		if !accepted {
			return pkgerrors.New(pkgerrors.CodeDependency, "refund not accepted by gateway")
		}
	}

	now := s.now().UTC()
	var moved bool
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		moved, err = s.repo.WithTx(tx).MarkRefunded(ctx, order.ID, now)
		if err != nil || !moved {
			return err
		}
		if err := s.vouchers.RefundByOrder(ctx, tx, order.ID); err != nil {
			if !pkgerrors.IsCode(err, pkgerrors.CodeStateConflict) {
				return err
			}
			s.logg.Error(logCtx, "refunded order has a voucher that can no longer be refunded", err)
		}
		return s.soldCounts.WithTx(tx).DecrementSoldCount(ctx, order.ActivityID, order.Quantity)
	})
	if err != nil {
		return err
	}
	if moved && order.HoldsReservation() {
		s.ReleaseStock(ctx, order.ActivityID, order.Quantity)
	}
	s.logg.Info(logCtx, "order refunded")
	return nil
}

// asDependency keeps typed gateway errors and wraps anything else as an
// upstream failure.
func asDependency(err error, message string) error {
	if pkgerrors.As(err) != nil {
		return err
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, message)
}
