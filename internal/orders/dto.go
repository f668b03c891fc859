package orders

import (
	"time"

	"github.com/angelmondragon/loyaltyhub-backend/internal/activities"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/db/models"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/payments"
	"github.com/google/uuid"
)

// CreateOrderInput is a purchase request for a non group-buy activity.
type CreateOrderInput struct {
	ActivityID uuid.UUID
	Quantity   int
	UserID     uuid.UUID
}

// ConfirmPaymentInput is a verified payment callback.
type ConfirmPaymentInput struct {
	OrderNumber  string
	GatewayTxnID string
	PaidAt       time.Time
}

// RequestPaymentInput asks the gateway to start payment for a pending order.
type RequestPaymentInput struct {
	OrderNumber string
	UserID      uuid.UUID
	PayerRef    string
}

// PaymentResult carries prepay parameters, or Paid=true when the order
// needed no payment and was confirmed directly.
type PaymentResult struct {
	Order  *models.Order
	Prepay *payments.PrepayParams
	Paid   bool
}

// GroupMemberOrderInput creates the payment order for one group seat.
type GroupMemberOrderInput struct {
	GroupOrderID uuid.UUID
	Activity     *models.Activity
	Pricing      activities.Pricing
	UserID       uuid.UUID
}

// UnwindResult summarises what happened to a failed group's orders.
type UnwindResult struct {
	Closed           int
	RefundsRequested int
}
