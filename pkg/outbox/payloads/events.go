package payloads

import (
	"time"

	"github.com/angelmondragon/loyaltyhub-backend/pkg/enums"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderPaidEvent is emitted once when a payment callback confirms an order.
type OrderPaidEvent struct {
	OrderID      uuid.UUID       `json:"order_id"`
	OrderNumber  string          `json:"order_number"`
	UserID       uuid.UUID       `json:"user_id"`
	MerchantID   uuid.UUID       `json:"merchant_id"`
	ActivityID   uuid.UUID       `json:"activity_id"`
	VoucherID    uuid.UUID       `json:"voucher_id"`
	GroupOrderID *uuid.UUID      `json:"group_order_id,omitempty"`
	PayAmount    decimal.Decimal `json:"pay_amount"`
	PaidAt       time.Time       `json:"paid_at"`
}

// OrderClosedEvent is emitted when a pending order times out or is cancelled.
type OrderClosedEvent struct {
	OrderID     uuid.UUID `json:"order_id"`
	OrderNumber string    `json:"order_number"`
	ActivityID  uuid.UUID `json:"activity_id"`
	Quantity    int64     `json:"quantity"`
	Reason      string    `json:"reason"`
	ClosedAt    time.Time `json:"closed_at"`
}

// OrderRefundRequestedEvent asks the payments worker to refund a paid order.
type OrderRefundRequestedEvent struct {
	OrderID      uuid.UUID  `json:"order_id"`
	OrderNumber  string     `json:"order_number"`
	GroupOrderID *uuid.UUID `json:"group_order_id,omitempty"`
	Reason       string     `json:"reason"`
}

// VoucherVerifiedEvent is emitted when a voucher is redeemed in store.
type VoucherVerifiedEvent struct {
	VoucherID    uuid.UUID  `json:"voucher_id"`
	MerchantID   uuid.UUID  `json:"merchant_id"`
	UserID       uuid.UUID  `json:"user_id"`
	BranchID     *uuid.UUID `json:"branch_id,omitempty"`
	OperatorID   *uuid.UUID `json:"operator_id,omitempty"`
	SettlementID uuid.UUID  `json:"settlement_id"`
	VerifiedAt   time.Time  `json:"verified_at"`
}

// SettlementPayoutRequestedEvent is the unit of work for an asynchronous payout.
type SettlementPayoutRequestedEvent struct {
	SettlementID uuid.UUID       `json:"settlement_id"`
	VoucherID    uuid.UUID       `json:"voucher_id"`
	MerchantID   uuid.UUID       `json:"merchant_id"`
	Payout       decimal.Decimal `json:"payout"`
}

// GroupStatusChangedEvent is emitted when a group leaves the forming state.
type GroupStatusChangedEvent struct {
	GroupOrderID    uuid.UUID              `json:"group_order_id"`
	GroupNumber     string                 `json:"group_number"`
	ActivityID      uuid.UUID              `json:"activity_id"`
	Status          enums.GroupOrderStatus `json:"status"`
	CurrentMembers  int                    `json:"current_members"`
	RequiredMembers int                    `json:"required_members"`
	ChangedAt       time.Time              `json:"changed_at"`
}
