package groupbuy

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/loyaltyhub-backend/internal/activities"
	"github.com/angelmondragon/loyaltyhub-backend/internal/orders"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/config"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/db/models"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/loyaltyhub-backend/pkg/errors"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/locks"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/logger"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/outbox"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/statemachine"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/stock"
	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"
)

const (
	lockScopeGroup    = "group"
	lockScopeInitiate = "group_initiate"
	lockScopePayment  = "group_payment"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type activityService interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Activity, error)
	CheckPurchasable(ctx context.Context, activity *models.Activity, userID uuid.UUID) (activities.Pricing, error)
}

// orderEngine is the slice of the order engine a group seat needs.
type orderEngine interface {
	GetOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	ReserveStock(ctx context.Context, activity *models.Activity, quantity int) (*stock.Reservation, error)
	ReleaseStock(ctx context.Context, activityID uuid.UUID, quantity int)
	CreateGroupMemberOrder(ctx context.Context, tx *gorm.DB, input orders.GroupMemberOrderInput) (*models.Order, error)
	RequestPayment(ctx context.Context, input orders.RequestPaymentInput) (*orders.PaymentResult, error)
	UnwindGroup(ctx context.Context, tx *gorm.DB, groupOrderID uuid.UUID, refund bool) (orders.UnwindResult, error)
}

type locker interface {
	Acquire(ctx context.Context, scope, id string) (*locks.Lease, error)
}

type numberGenerator interface {
	GroupNumber() (string, error)
}

// Service is the group-buy engine.
type Service interface {
	InitiateGroup(ctx context.Context, input InitiateGroupInput) (*models.GroupOrder, error)
	JoinGroup(ctx context.Context, groupOrderID, userID uuid.UUID) (*JoinResult, error)
	CancelGroup(ctx context.Context, groupOrderID, userID uuid.UUID) (*models.GroupOrder, error)
	HandleExpiredGroups(ctx context.Context) (int, error)
	RequestGroupPayment(ctx context.Context, input GroupPaymentInput) (*GroupPaymentResult, error)
	GetGroup(ctx context.Context, groupOrderID uuid.UUID) (*models.GroupOrder, error)
}

// ServiceParams bundles the group-buy engine dependencies.
type ServiceParams struct {
	Repo       Repository
	Tx         txRunner
	Outbox     outboxPublisher
	Activities activityService
	Orders     orderEngine
	Locks      locker
	Numbers    numberGenerator
	Logger     *logger.Logger
	Config     config.GroupBuyConfig
}

type service struct {
	repo       Repository
	tx         txRunner
	outbox     outboxPublisher
	activities activityService
	orders     orderEngine
	locks      locker
	numbers    numberGenerator
	logg       *logger.Logger
	autoRefund bool
	sweepBatch int
	now        func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("group repository required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if params.Activities == nil {
		return nil, fmt.Errorf("activity service required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("order engine required")
	}
	if params.Locks == nil {
		return nil, fmt.Errorf("lock service required")
	}
	if params.Numbers == nil {
		return nil, fmt.Errorf("group number generator required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		repo:       params.Repo,
		tx:         params.Tx,
		outbox:     params.Outbox,
		activities: params.Activities,
		orders:     params.Orders,
		locks:      params.Locks,
		numbers:    params.Numbers,
		logg:       params.Logger,
		autoRefund: params.Config.AutoRefund,
		sweepBatch: params.Config.SweepBatchSize,
		now:        time.Now,
	}, nil
}

func (s *service) InitiateGroup(ctx context.Context, input InitiateGroupInput) (*models.GroupOrder, error) {
	if input.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	activity, pricing, err := s.loadGroupActivity(ctx, input.ActivityID, input.UserID)
	if err != nil {
		return nil, err
	}

	lease, err := s.locks.Acquire(ctx, lockScopeInitiate, activity.ID.String()+":"+input.UserID.String())
	if err != nil {
		return nil, err
	}
	defer s.release(ctx, lease)

	exists, err := s.repo.HasFormingGroup(ctx, activity.ID, input.UserID)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "a forming group already exists for this activity")
	}

	number, err := s.numbers.GroupNumber()
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "generate group number")
	}

	reservation, err := s.orders.ReserveStock(ctx, activity, 1)
	if err != nil {
		return nil, err
	}
	defer reservation.ReleaseUnlessCommitted(ctx, s.logReleaseFailure(ctx, activity.ID))

	now := s.now().UTC()
	expireAt := now.Add(pricing.FormationWindow())
	if expireAt.After(activity.EndAt) {
		expireAt = activity.EndAt
	}
	group := &models.GroupOrder{
		GroupNumber:     number,
		ActivityID:      activity.ID,
		MerchantID:      activity.MerchantID,
		InitiatorUserID: input.UserID,
		RequiredMembers: pricing.RequiredMembers,
		CurrentMembers:  1,
		Status:          enums.GroupOrderStatusForming,
		ExpireAt:        expireAt,
	}
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.CreateGroup(ctx, group); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create group order")
		}
		initiator := models.GroupParticipant{
			GroupOrderID: group.ID,
			UserID:       input.UserID,
			IsInitiator:  true,
			JoinedAt:     now,
		}
		if err := repo.AddParticipant(ctx, &initiator); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "add initiator")
		}
		group.Participants = []models.GroupParticipant{initiator}
		return nil
	})
	if err != nil {
		return nil, err
	}
	reservation.Commit()

	ctx = s.logg.WithFields(ctx, map[string]any{
		"group_number": group.GroupNumber,
		"activity_id":  activity.ID.String(),
	})
	s.logg.Info(ctx, "group initiated")
	return group, nil
}

func (s *service) JoinGroup(ctx context.Context, groupOrderID, userID uuid.UUID) (*JoinResult, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	lease, err := s.locks.Acquire(ctx, lockScopeGroup, groupOrderID.String())
	if err != nil {
		return nil, err
	}
	defer s.release(ctx, lease)

	group, err := s.repo.FindByID(ctx, groupOrderID)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	if err := checkJoinable(group, now); err != nil {
		return nil, err
	}
	if _, err := s.repo.FindParticipant(ctx, group.ID, userID); err == nil {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "already joined this group")
	} else if !pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
		return nil, err
	}

	activity, _, err := s.loadGroupActivity(ctx, group.ActivityID, userID)
	if err != nil {
		return nil, err
	}
	reservation, err := s.orders.ReserveStock(ctx, activity, 1)
	if err != nil {
		return nil, err
	}
	defer reservation.ReleaseUnlessCommitted(ctx, s.logReleaseFailure(ctx, activity.ID))

	completes := group.CurrentMembers+1 == group.RequiredMembers
	participant := &models.GroupParticipant{
		GroupOrderID: group.ID,
		UserID:       userID,
		JoinedAt:     now,
	}
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.AddParticipant(ctx, participant); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "add participant")
		}
		moved, err := repo.AddMember(ctx, group.ID, group.CurrentMembers, completes, now)
		if err != nil {
			return err
		}
		if !moved {
			return pkgerrors.StateConflict(statemachine.ReasonGroupFull, "group is no longer accepting members")
		}
		group.CurrentMembers++
		if completes {
			group.Status = enums.GroupOrderStatusSucceeded
			group.CompletedAt = &now
			return s.emitStatusChanged(ctx, tx, group, now)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	reservation.Commit()

	ctx = s.logg.WithFields(ctx, map[string]any{
		"group_number":    group.GroupNumber,
		"current_members": group.CurrentMembers,
	})
	if completes {
		s.logg.Info(ctx, "group formed")
	} else {
		s.logg.Info(ctx, "group joined")
	}
	return &JoinResult{Group: group, Participant: participant}, nil
}

func (s *service) CancelGroup(ctx context.Context, groupOrderID, userID uuid.UUID) (*models.GroupOrder, error) {
	lease, err := s.locks.Acquire(ctx, lockScopeGroup, groupOrderID.String())
	if err != nil {
		return nil, err
	}
	defer s.release(ctx, lease)

	group, err := s.repo.FindByID(ctx, groupOrderID)
	if err != nil {
		return nil, err
	}
	if group.InitiatorUserID != userID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only the initiator can cancel a group")
	}
	if err := statemachine.GroupOrder.Validate(group.Status, enums.GroupOrderStatusCancelled, statemachine.ReasonGroupNotForming); err != nil {
		return nil, err
	}
	if group.CurrentMembers != 1 {
		return nil, pkgerrors.StateConflict(statemachine.ReasonGroupHasMembers, "group already has other members")
	}

	now := s.now().UTC()
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		moved, err := s.repo.WithTx(tx).MarkCancelled(ctx, group.ID, now)
		if err != nil {
			return err
		}
		if !moved {
			return pkgerrors.StateConflict(statemachine.ReasonGroupHasMembers, "group changed while cancelling")
		}
		if _, err := s.orders.UnwindGroup(ctx, tx, group.ID, true); err != nil {
			return err
		}
		group.Status = enums.GroupOrderStatusCancelled
		group.CompletedAt = &now
		return s.emitStatusChanged(ctx, tx, group, now)
	})
	if err != nil {
		return nil, err
	}
	s.orders.ReleaseStock(ctx, group.ActivityID, 1)

	s.logg.Info(s.logg.WithField(ctx, "group_number", group.GroupNumber), "group cancelled")
	return group, nil
}

// HandleExpiredGroups fails forming groups past their deadline and returns
// every seat's stock unit. Groups locked by an in-flight join are left for
// the next sweep.
func (s *service) HandleExpiredGroups(ctx context.Context) (int, error) {
	now := s.now().UTC()
	rows, err := s.repo.ListExpiredForming(ctx, now, s.sweepBatch)
	if err != nil {
		return 0, err
	}
	var (
		failed int
		errs   error
	)
	for i := range rows {
		ok, err := s.failGroup(ctx, &rows[i], now)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("group %s: %w", rows[i].GroupNumber, err))
			continue
		}
		if ok {
			failed++
		}
	}
	return failed, errs
}

func (s *service) failGroup(ctx context.Context, group *models.GroupOrder, now time.Time) (bool, error) {
	lease, err := s.locks.Acquire(ctx, lockScopeGroup, group.ID.String())
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeTooFrequent) {
			return false, nil
		}
		return false, err
	}
	defer s.release(ctx, lease)

	var (
		moved  bool
		seats  int
		unwind orders.UnwindResult
	)
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		var err error
		moved, err = repo.MarkFailed(ctx, group.ID, now)
		if err != nil || !moved {
			return err
		}
		participants, err := repo.ListParticipants(ctx, group.ID)
		if err != nil {
			return err
		}
		seats = len(participants)
		unwind, err = s.orders.UnwindGroup(ctx, tx, group.ID, s.autoRefund)
		if err != nil {
			return err
		}
		group.Status = enums.GroupOrderStatusFailed
		group.CompletedAt = &now
		return s.emitStatusChanged(ctx, tx, group, now)
	})
	if err != nil || !moved {
		return false, err
	}
	if seats > 0 {
		s.orders.ReleaseStock(ctx, group.ActivityID, seats)
	}

	ctx = s.logg.WithFields(ctx, map[string]any{
		"group_number":      group.GroupNumber,
		"seats_released":    seats,
		"orders_closed":     unwind.Closed,
		"refunds_requested": unwind.RefundsRequested,
	})
	s.logg.Info(ctx, "group expired")
	return true, nil
}

func (s *service) RequestGroupPayment(ctx context.Context, input GroupPaymentInput) (*GroupPaymentResult, error) {
	if input.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	group, err := s.repo.FindByID(ctx, input.GroupOrderID)
	if err != nil {
		return nil, err
	}
	if err := checkPayable(group, s.now().UTC()); err != nil {
		return nil, err
	}
	participant, err := s.repo.FindParticipant(ctx, group.ID, input.UserID)
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeForbidden, "not a member of this group")
		}
		return nil, err
	}

	lease, err := s.locks.Acquire(ctx, lockScopePayment, participant.ID.String())
	if err != nil {
		return nil, err
	}
	defer s.release(ctx, lease)

	order, err := s.seatOrder(ctx, group, participant)
	if err != nil {
		return nil, err
	}
	payment, err := s.orders.RequestPayment(ctx, orders.RequestPaymentInput{
		OrderNumber: order.OrderNumber,
		UserID:      input.UserID,
		PayerRef:    input.PayerRef,
	})
	if err != nil {
		return nil, err
	}
	return &GroupPaymentResult{Participant: participant, Payment: payment}, nil
}

// seatOrder reuses the seat's pending order, or opens a new one when the seat
// has none or its last order was closed unpaid. A new order is only created
// under the group lock so the expiry sweep either sees it or runs first.
func (s *service) seatOrder(ctx context.Context, group *models.GroupOrder, participant *models.GroupParticipant) (*models.Order, error) {
	if participant.OrderID != nil {
		existing, err := s.orders.GetOrder(ctx, *participant.OrderID)
		if err != nil {
			return nil, err
		}
		switch existing.Status {
		case enums.OrderStatusPending:
			return existing, nil
		case enums.OrderStatusClosed:
		default:
			return nil, pkgerrors.StateConflict(statemachine.ReasonOrderNotPending, "seat is already paid")
		}
	}

	lease, err := s.locks.Acquire(ctx, lockScopeGroup, group.ID.String())
	if err != nil {
		return nil, err
	}
	defer s.release(ctx, lease)

	current, err := s.repo.FindByID(ctx, group.ID)
	if err != nil {
		return nil, err
	}
	if err := checkPayable(current, s.now().UTC()); err != nil {
		return nil, err
	}

	activity, err := s.activities.Get(ctx, group.ActivityID)
	if err != nil {
		return nil, err
	}
	pricing, err := activities.ParsePricing(activity.Type, activity.PricingConfig)
	if err != nil {
		return nil, err
	}

	var order *models.Order
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		order, err = s.orders.CreateGroupMemberOrder(ctx, tx, orders.GroupMemberOrderInput{
			GroupOrderID: group.ID,
			Activity:     activity,
			Pricing:      pricing,
			UserID:       participant.UserID,
		})
		if err != nil {
			return err
		}
		return s.repo.WithTx(tx).SetParticipantOrder(ctx, participant.ID, order.ID)
	})
	if err != nil {
		return nil, err
	}
	participant.OrderID = &order.ID
	return order, nil
}

func (s *service) GetGroup(ctx context.Context, groupOrderID uuid.UUID) (*models.GroupOrder, error) {
	return s.repo.FindWithParticipants(ctx, groupOrderID)
}

func (s *service) loadGroupActivity(ctx context.Context, activityID, userID uuid.UUID) (*models.Activity, *activities.GroupBuyPricing, error) {
	activity, err := s.activities.Get(ctx, activityID)
	if err != nil {
		return nil, nil, err
	}
	if activity.Type != enums.ActivityTypeGroupBuy {
		return nil, nil, pkgerrors.New(pkgerrors.CodeValidation, "activity is not a group buy")
	}
	pricing, err := s.activities.CheckPurchasable(ctx, activity, userID)
	if err != nil {
		return nil, nil, err
	}
	groupPricing, ok := pricing.(*activities.GroupBuyPricing)
	if !ok {
		return nil, nil, pkgerrors.New(pkgerrors.CodeInternal, "group-buy activity has mismatched pricing")
	}
	return activity, groupPricing, nil
}

func checkJoinable(group *models.GroupOrder, now time.Time) error {
	if group.Status != enums.GroupOrderStatusForming {
		return pkgerrors.StateConflict(statemachine.ReasonGroupNotForming, fmt.Sprintf("group is %s", group.Status))
	}
	if !now.Before(group.ExpireAt) {
		return pkgerrors.StateConflict(statemachine.ReasonGroupExpired, "group formation window has ended")
	}
	if group.Full() {
		return pkgerrors.StateConflict(statemachine.ReasonGroupFull, "group is full")
	}
	return nil
}

// checkPayable accepts formed groups and forming groups still inside their
// window.
func checkPayable(group *models.GroupOrder, now time.Time) error {
	switch group.Status {
	case enums.GroupOrderStatusSucceeded:
		return nil
	case enums.GroupOrderStatusForming:
		if !now.Before(group.ExpireAt) {
			return pkgerrors.StateConflict(statemachine.ReasonGroupExpired, "group formation window has ended")
		}
		return nil
	}
	return pkgerrors.StateConflict(statemachine.ReasonGroupNotForming, fmt.Sprintf("group is %s", group.Status))
}

func (s *service) emitStatusChanged(ctx context.Context, tx *gorm.DB, group *models.GroupOrder, at time.Time) error {
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventGroupStatusChanged,
		AggregateType: enums.AggregateGroupOrder,
		AggregateID:   group.ID,
		Data: payloads.GroupStatusChangedEvent{
			GroupOrderID:    group.ID,
			GroupNumber:     group.GroupNumber,
			ActivityID:      group.ActivityID,
			Status:          group.Status,
			CurrentMembers:  group.CurrentMembers,
			RequiredMembers: group.RequiredMembers,
			ChangedAt:       at,
		},
	})
}

func (s *service) release(ctx context.Context, lease *locks.Lease) {
	if err := lease.Release(ctx); err != nil {
		s.logg.Warn(ctx, fmt.Sprintf("release group lock: %v", err))
	}
}

func (s *service) logReleaseFailure(ctx context.Context, activityID uuid.UUID) func(error) {
	return func(err error) {
		s.logg.Error(s.logg.WithField(ctx, "activity_id", activityID.String()), "stock release failed", err)
	}
}
