package orders

import (
	"time"

	"github.com/google/uuid"

	internalorders "github.com/angelmondragon/loyaltyhub-backend/internal/orders"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/db/models"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/payments"
)

type OrderResponse struct {
	ID           uuid.UUID  `json:"id"`
	OrderNumber  string     `json:"order_number"`
	ActivityID   uuid.UUID  `json:"activity_id"`
	Type         string     `json:"type"`
	Quantity     int        `json:"quantity"`
	OrderAmount  string     `json:"order_amount"`
	PayAmount    string     `json:"pay_amount"`
	Status       string     `json:"status"`
	GroupOrderID *uuid.UUID `json:"group_order_id,omitempty"`
	PaidAt       *time.Time `json:"paid_at,omitempty"`
	ClosedAt     *time.Time `json:"closed_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

type PaymentResponse struct {
	Order  OrderResponse          `json:"order"`
	Paid   bool                   `json:"paid"`
	Prepay *payments.PrepayParams `json:"prepay,omitempty"`
}

func newOrderResponse(order *models.Order) OrderResponse {
	if order == nil {
		return OrderResponse{}
	}
	return OrderResponse{
		ID:           order.ID,
		OrderNumber:  order.OrderNumber,
		ActivityID:   order.ActivityID,
		Type:         string(order.Type),
		Quantity:     order.Quantity,
		OrderAmount:  order.OrderAmount.StringFixed(2),
		PayAmount:    order.PayAmount.StringFixed(2),
		Status:       string(order.Status),
		GroupOrderID: order.GroupOrderID,
		PaidAt:       order.PaidAt,
		ClosedAt:     order.ClosedAt,
		CreatedAt:    order.CreatedAt,
	}
}

// NewPaymentResponse is shared with the group payment route.
func NewPaymentResponse(result *internalorders.PaymentResult) PaymentResponse {
	if result == nil {
		return PaymentResponse{}
	}
	return PaymentResponse{
		Order:  newOrderResponse(result.Order),
		Paid:   result.Paid,
		Prepay: result.Prepay,
	}
}
