package orders

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/loyaltyhub-backend/internal/activities"
	"github.com/angelmondragon/loyaltyhub-backend/internal/vouchers"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/config"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/db/models"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/loyaltyhub-backend/pkg/errors"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/logger"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/metrics"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/outbox"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/payments"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/statemachine"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/stock"
	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"
)

const (
	maxQuantity = 99

	closeReasonExpired    = "expired"
	closeReasonCancelled  = "cancelled"
	closeReasonGroupEnded = "group_ended"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type activityService interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Activity, error)
	CheckPurchasable(ctx context.Context, activity *models.Activity, userID uuid.UUID) (activities.Pricing, error)
}

type stockLedger interface {
	Reserve(ctx context.Context, activityID string, quantity, seed int64) (*stock.Reservation, error)
	Release(ctx context.Context, activityID string, quantity int64) error
}

type voucherIssuer interface {
	Issue(ctx context.Context, tx *gorm.DB, input vouchers.IssueInput) (*models.Voucher, error)
	RefundByOrder(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) error
}

type numberGenerator interface {
	OrderNumber() string
}

type reservationMetrics interface {
	IncReservation(outcome string)
}

// Service is the order engine: purchase, payment confirmation, close and refund.
type Service interface {
	CreateOrder(ctx context.Context, input CreateOrderInput) (*models.Order, error)
	GetOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	ConfirmPayment(ctx context.Context, input ConfirmPaymentInput) error
	CloseExpiredOrders(ctx context.Context) (int, error)
	CancelOrder(ctx context.Context, orderID, userID uuid.UUID) (*models.Order, error)
	RequestPayment(ctx context.Context, input RequestPaymentInput) (*PaymentResult, error)
	RefundOrder(ctx context.Context, orderID uuid.UUID, reason string) error

	ReserveStock(ctx context.Context, activity *models.Activity, quantity int) (*stock.Reservation, error)
	ReleaseStock(ctx context.Context, activityID uuid.UUID, quantity int)
	CreateGroupMemberOrder(ctx context.Context, tx *gorm.DB, input GroupMemberOrderInput) (*models.Order, error)
	UnwindGroup(ctx context.Context, tx *gorm.DB, groupOrderID uuid.UUID, refund bool) (UnwindResult, error)
}

// ServiceParams bundles the dependencies required to build the order engine.
type ServiceParams struct {
	Repo       Repository
	Tx         txRunner
	Outbox     outboxPublisher
	Activities activityService
	SoldCounts activities.Repository
	Ledger     stockLedger
	Vouchers   voucherIssuer
	Gateway    payments.Gateway
	Numbers    numberGenerator
	Metrics    reservationMetrics
	Logger     *logger.Logger
	Config     config.OrdersConfig
}

type service struct {
	repo           Repository
	tx             txRunner
	outbox         outboxPublisher
	activities     activityService
	soldCounts     activities.Repository
	ledger         stockLedger
	vouchers       voucherIssuer
	gateway        payments.Gateway
	numbers        numberGenerator
	metrics        reservationMetrics
	logg           *logger.Logger
	pendingTimeout time.Duration
	sweepBatch     int
	now            func() time.Time
}

// NewService builds the order engine.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if params.Activities == nil || params.SoldCounts == nil {
		return nil, fmt.Errorf("activity service and repository required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("stock ledger required")
	}
	if params.Vouchers == nil {
		return nil, fmt.Errorf("voucher issuer required")
	}
	if params.Gateway == nil {
		return nil, fmt.Errorf("payment gateway required")
	}
	if params.Numbers == nil {
		return nil, fmt.Errorf("order number generator required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Config.PendingTimeout <= 0 {
		return nil, fmt.Errorf("pending order timeout must be positive")
	}
	return &service{
		repo:           params.Repo,
		tx:             params.Tx,
		outbox:         params.Outbox,
		activities:     params.Activities,
		soldCounts:     params.SoldCounts,
		ledger:         params.Ledger,
		vouchers:       params.Vouchers,
		gateway:        params.Gateway,
		numbers:        params.Numbers,
		metrics:        params.Metrics,
		logg:           params.Logger,
		pendingTimeout: params.Config.PendingTimeout,
		sweepBatch:     params.Config.SweepBatchSize,
		now:            time.Now,
	}, nil
}

func (s *service) CreateOrder(ctx context.Context, input CreateOrderInput) (*models.Order, error) {
	if input.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	if input.ActivityID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "activity id required")
	}
	if input.Quantity <= 0 || input.Quantity > maxQuantity {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("quantity must be between 1 and %d", maxQuantity))
	}

	activity, err := s.activities.Get(ctx, input.ActivityID)
	if err != nil {
		return nil, err
	}
	if activity.Type == enums.ActivityTypeGroupBuy {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "group-buy activities are purchased through a group")
	}
	pricing, err := s.activities.CheckPurchasable(ctx, activity, input.UserID)
	if err != nil {
		return nil, err
	}
	orderAmount, payAmount := activities.Quote(pricing, input.Quantity)

	reservation, err := s.ReserveStock(ctx, activity, input.Quantity)
	if err != nil {
		return nil, err
	}
	defer reservation.ReleaseUnlessCommitted(ctx, s.logReleaseFailure(ctx, activity.ID))

	order := &models.Order{
		OrderNumber: s.numbers.OrderNumber(),
		UserID:      input.UserID,
		MerchantID:  activity.MerchantID,
		ActivityID:  activity.ID,
		Type:        activity.Type,
		Quantity:    input.Quantity,
		OrderAmount: orderAmount,
		PayAmount:   payAmount,
		Status:      enums.OrderStatusPending,
	}
	if err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		return s.repo.WithTx(tx).Create(ctx, order)
	}); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create order")
	}
	reservation.Commit()

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"order_number": order.OrderNumber,
		"activity_id":  activity.ID.String(),
		"quantity":     order.Quantity,
	})
	s.logg.Info(logCtx, "order created")
	return order, nil
}

func (s *service) GetOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	return s.repo.FindByID(ctx, orderID)
}

// ReserveStock takes units from the ledger. Unlimited activities return a nil
// reservation, on which Commit and Release are no-ops.
func (s *service) ReserveStock(ctx context.Context, activity *models.Activity, quantity int) (*stock.Reservation, error) {
	if activity.Unlimited() {
		return nil, nil
	}
	reservation, err := s.ledger.Reserve(ctx, activity.ID.String(), int64(quantity), activity.Remaining())
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeInsufficientStock) {
			s.countReservation(metrics.ReservationInsufficient)
		}
		return nil, err
	}
	s.countReservation(metrics.ReservationGranted)
	return reservation, nil
}

// ReleaseStock returns units after a committed record gave them up. Failures
// are logged; the counter is reseeded from the database if it goes missing.
func (s *service) ReleaseStock(ctx context.Context, activityID uuid.UUID, quantity int) {
	if err := s.ledger.Release(context.WithoutCancel(ctx), activityID.String(), int64(quantity)); err != nil {
		s.logReleaseFailure(ctx, activityID)(err)
		return
	}
	s.countReservation(metrics.ReservationReleased)
}

func (s *service) logReleaseFailure(ctx context.Context, activityID uuid.UUID) func(error) {
	return func(err error) {
		logCtx := s.logg.WithField(ctx, "activity_id", activityID.String())
		s.logg.Error(logCtx, "failed to release stock reservation", err)
	}
}

func (s *service) countReservation(outcome string) {
	if s.metrics != nil {
		s.metrics.IncReservation(outcome)
	}
}

func (s *service) CancelOrder(ctx context.Context, orderID, userID uuid.UUID) (*models.Order, error) {
	order, err := s.repo.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.UserID != userID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "order belongs to another user")
	}
	if err := statemachine.Order.Validate(order.Status, enums.OrderStatusClosed, statemachine.ReasonOrderNotPending); err != nil {
		return nil, err
	}
	moved, err := s.closeOrder(ctx, order, closeReasonCancelled)
	if err != nil {
		return nil, err
	}
	if !moved {
		return nil, pkgerrors.StateConflict(statemachine.ReasonOrderNotPending, "order is no longer pending")
	}
	return order, nil
}

// CloseExpiredOrders closes pending orders older than the payment window and
// returns their stock. Safe to run alongside payment callbacks: the close is
// conditional on the order still being pending.
func (s *service) CloseExpiredOrders(ctx context.Context) (int, error) {
	cutoff := s.now().UTC().Add(-s.pendingTimeout)
	rows, err := s.repo.ListExpiredPending(ctx, cutoff, s.sweepBatch)
	if err != nil {
		return 0, err
	}

	closed := 0
	var errs error
	for i := range rows {
		moved, err := s.closeOrder(ctx, &rows[i], closeReasonExpired)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("close order %s: %w", rows[i].OrderNumber, err))
			continue
		}
		if moved {
			closed++
		}
	}
	return closed, errs
}

func (s *service) closeOrder(ctx context.Context, order *models.Order, reason string) (bool, error) {
	now := s.now().UTC()
	var moved bool
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		moved, err = s.closeOrderTx(ctx, tx, order, reason, now)
		return err
	})
	if err != nil {
		return false, err
	}
	if moved && order.HoldsReservation() {
		s.ReleaseStock(ctx, order.ActivityID, order.Quantity)
	}
	return moved, nil
}

func (s *service) closeOrderTx(ctx context.Context, tx *gorm.DB, order *models.Order, reason string, now time.Time) (bool, error) {
	moved, err := s.repo.WithTx(tx).MarkClosed(ctx, order.ID, now)
	if err != nil || !moved {
		return false, err
	}
	order.Status = enums.OrderStatusClosed
	order.ClosedAt = &now
	event := outbox.DomainEvent{
		EventType:     enums.EventOrderClosed,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Data: payloads.OrderClosedEvent{
			OrderID:     order.ID,
			OrderNumber: order.OrderNumber,
			ActivityID:  order.ActivityID,
			Quantity:    int64(order.Quantity),
			Reason:      reason,
			ClosedAt:    now,
		},
	}
	if err := s.outbox.Emit(ctx, tx, event); err != nil {
		return false, err
	}
	return true, nil
}
