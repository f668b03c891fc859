package orders

import (
	"context"
	"fmt"

	"github.com/angelmondragon/loyaltyhub-backend/internal/activities"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/db/models"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/loyaltyhub-backend/pkg/errors"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/outbox"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/outbox/payloads"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// CreateGroupMemberOrder writes the pending payment order for one group seat
// inside the caller's transaction. The seat already holds its stock unit, so
// no reservation is taken here.
func (s *service) CreateGroupMemberOrder(ctx context.Context, tx *gorm.DB, input GroupMemberOrderInput) (*models.Order, error) {
	if input.Activity == nil || input.Pricing == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "activity and pricing required")
	}
	if input.GroupOrderID == uuid.Nil || input.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "group and user required")
	}
	orderAmount, payAmount := activities.Quote(input.Pricing, 1)
	groupID := input.GroupOrderID
	order := &models.Order{
		OrderNumber:  s.numbers.OrderNumber(),
		UserID:       input.UserID,
		MerchantID:   input.Activity.MerchantID,
		ActivityID:   input.Activity.ID,
		Type:         input.Activity.Type,
		Quantity:     1,
		OrderAmount:  orderAmount,
		PayAmount:    payAmount,
		Status:       enums.OrderStatusPending,
		GroupOrderID: &groupID,
	}
	if err := s.repo.WithTx(tx).Create(ctx, order); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create group order")
	}
	return order, nil
}

// UnwindGroup closes a failed group's pending orders and, when refund is set,
// queues one refund request per paid order.
func (s *service) UnwindGroup(ctx context.Context, tx *gorm.DB, groupOrderID uuid.UUID, refund bool) (UnwindResult, error) {
	var result UnwindResult
	rows, err := s.repo.WithTx(tx).ListByGroup(ctx, groupOrderID)
	if err != nil {
		return result, err
	}
	now := s.now().UTC()
	for i := range rows {
		order := &rows[i]
		switch order.Status {
		case enums.OrderStatusPending:
			moved, err := s.closeOrderTx(ctx, tx, order, closeReasonGroupEnded, now)
			if err != nil {
				return result, fmt.Errorf("close group order %s: %w", order.OrderNumber, err)
			}
			if moved {
				result.Closed++
			}
		case enums.OrderStatusPaid:
			if !refund {
				continue
			}
			event := outbox.DomainEvent{
				EventType:     enums.EventOrderRefundRequested,
				AggregateType: enums.AggregateOrder,
				AggregateID:   order.ID,
				Data: payloads.OrderRefundRequestedEvent{
					OrderID:      order.ID,
					OrderNumber:  order.OrderNumber,
					GroupOrderID: order.GroupOrderID,
					Reason:       "group buy did not form",
				},
			}
			if err := s.outbox.EmitIfNotExists(ctx, tx, event); err != nil {
				return result, fmt.Errorf("queue refund for %s: %w", order.OrderNumber, err)
			}
			result.RefundsRequested++
		}
	}
	return result, nil
}
