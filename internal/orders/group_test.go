package orders

import (
	"context"
	"testing"

	"github.com/angelmondragon/loyaltyhub-backend/internal/activities"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/db/models"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/enums"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestGroupMemberOrdersUnwind(t *testing.T) {
	h := newHarness(t)
	limit := int64(10)
	activity := h.seedActivity(t, enums.ActivityTypeGroupBuy, &limit, `{"group_price":"59.9","original_price":"99","required_members":3,"valid_days":14}`)
	pricing, err := activities.ParsePricing(activity.Type, activity.PricingConfig)
	require.NoError(t, err)
	groupID := uuid.New()
	h.stock.Seed(activity.ID.String(), 8)

	var pendingOrder, paidOrder *models.Order
	require.NoError(t, h.db.Transaction(func(tx *gorm.DB) error {
		var err error
		pendingOrder, err = h.svc.CreateGroupMemberOrder(context.Background(), tx, GroupMemberOrderInput{
			GroupOrderID: groupID, Activity: activity, Pricing: pricing, UserID: uuid.New(),
		})
		if err != nil {
			return err
		}
		paidOrder, err = h.svc.CreateGroupMemberOrder(context.Background(), tx, GroupMemberOrderInput{
			GroupOrderID: groupID, Activity: activity, Pricing: pricing, UserID: uuid.New(),
		})
		return err
	}))
	assert.True(t, pendingOrder.PayAmount.Equal(decimal.RequireFromString("59.9")))
	assert.True(t, pendingOrder.OrderAmount.Equal(decimal.NewFromInt(99)))
	require.NoError(t, h.svc.ConfirmPayment(context.Background(), ConfirmPaymentInput{OrderNumber: paidOrder.OrderNumber, GatewayTxnID: "txn-paid"}))

	var result UnwindResult
	require.NoError(t, h.db.Transaction(func(tx *gorm.DB) error {
		var err error
		result, err = h.svc.UnwindGroup(context.Background(), tx, groupID, true)
		return err
	}))
	assert.Equal(t, 1, result.Closed)
	assert.Equal(t, 1, result.RefundsRequested)
	assert.Equal(t, enums.OrderStatusClosed, h.reloadOrder(t, pendingOrder.ID).Status)
	assert.Equal(t, enums.OrderStatusPaid, h.reloadOrder(t, paidOrder.ID).Status)
	// group seats own their stock; closing their orders leaves the ledger alone
	assert.EqualValues(t, 8, h.ledgerCount(t, activity.ID))

	require.NoError(t, h.db.Transaction(func(tx *gorm.DB) error {
		_, err := h.svc.UnwindGroup(context.Background(), tx, groupID, true)
		return err
	}))
	assert.EqualValues(t, 1, h.countRows(t, &models.OutboxEvent{}, "event_type = ?", enums.EventOrderRefundRequested))

	// the refund itself runs later from the payments worker
	require.NoError(t, h.svc.RefundOrder(context.Background(), paidOrder.ID, "group buy did not form"))
	assert.Equal(t, enums.OrderStatusRefunded, h.reloadOrder(t, paidOrder.ID).Status)
	assert.EqualValues(t, 8, h.ledgerCount(t, activity.ID))
}

func TestUnwindGroupWithoutRefund(t *testing.T) {
	h := newHarness(t)
	activity := h.seedActivity(t, enums.ActivityTypeGroupBuy, nil, `{"group_price":"10","original_price":"20","required_members":2,"valid_days":1}`)
	pricing, err := activities.ParsePricing(activity.Type, activity.PricingConfig)
	require.NoError(t, err)
	groupID := uuid.New()

	order, err := h.svc.CreateGroupMemberOrder(context.Background(), h.db, GroupMemberOrderInput{
		GroupOrderID: groupID, Activity: activity, Pricing: pricing, UserID: uuid.New(),
	})
	require.NoError(t, err)
	require.NoError(t, h.svc.ConfirmPayment(context.Background(), ConfirmPaymentInput{OrderNumber: order.OrderNumber, GatewayTxnID: "txn"}))

	result, err := h.svc.UnwindGroup(context.Background(), h.db, groupID, false)
	require.NoError(t, err)
	assert.Zero(t, result.RefundsRequested)
	assert.Zero(t, h.countRows(t, &models.OutboxEvent{}, "event_type = ?", enums.EventOrderRefundRequested))
}
