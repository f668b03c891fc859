package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/loyaltyhub-backend/pkg/enums"
)

// Order is a purchase of an activity. Orders are never deleted.
type Order struct {
	ID           uuid.UUID          `gorm:"column:id;type:uuid;primaryKey"`
	OrderNumber  string             `gorm:"column:order_number;type:varchar(64);not null;uniqueIndex"`
	UserID       uuid.UUID          `gorm:"column:user_id;type:uuid;not null;index"`
	MerchantID   uuid.UUID          `gorm:"column:merchant_id;type:uuid;not null"`
	ActivityID   uuid.UUID          `gorm:"column:activity_id;type:uuid;not null;index"`
	Type         enums.ActivityType `gorm:"column:type;type:varchar(32);not null"`
	Quantity     int                `gorm:"column:quantity;not null;default:1"`
	OrderAmount  decimal.Decimal    `gorm:"column:order_amount;type:numeric(12,2);not null"`
	PayAmount    decimal.Decimal    `gorm:"column:pay_amount;type:numeric(12,2);not null"`
	Status       enums.OrderStatus  `gorm:"column:status;type:varchar(32);not null;index"`
	GroupOrderID *uuid.UUID         `gorm:"column:group_order_id;type:uuid;index"`
	GatewayTxnID *string            `gorm:"column:gateway_txn_id;type:varchar(64)"`
	PaidAt       *time.Time         `gorm:"column:paid_at"`
	ClosedAt     *time.Time         `gorm:"column:closed_at"`
	RefundedAt   *time.Time         `gorm:"column:refunded_at"`
	CreatedAt    time.Time          `gorm:"column:created_at;autoCreateTime;index"`
	UpdatedAt    time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}

func (o *Order) BeforeCreate(*gorm.DB) error {
	assignID(&o.ID)
	return nil
}

// HoldsReservation reports whether closing this order must return stock to
// the ledger. Group orders do not: the group participant owns that unit.
func (o Order) HoldsReservation() bool {
	return o.GroupOrderID == nil
}
