package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/loyaltyhub-backend/pkg/enums"
)

// SettlementRecord splits a redeemed voucher's value into platform fee and
// merchant payout. FeeRate is a snapshot taken at verification time.
type SettlementRecord struct {
	ID           uuid.UUID              `gorm:"column:id;type:uuid;primaryKey"`
	OrderNumber  *string                `gorm:"column:order_number;type:varchar(64);index"`
	VoucherID    uuid.UUID              `gorm:"column:voucher_id;type:uuid;not null;uniqueIndex"`
	MerchantID   uuid.UUID              `gorm:"column:merchant_id;type:uuid;not null;index"`
	GrossAmount  decimal.Decimal        `gorm:"column:gross_amount;type:numeric(12,2);not null"`
	FeeRate      decimal.Decimal        `gorm:"column:fee_rate;type:numeric(8,6);not null"`
	FeeAmount    decimal.Decimal        `gorm:"column:fee_amount;type:numeric(12,2);not null"`
	PayoutAmount decimal.Decimal        `gorm:"column:payout_amount;type:numeric(12,2);not null"`
	Status       enums.SettlementStatus `gorm:"column:status;type:varchar(32);not null;index"`
	RetryCount   int                    `gorm:"column:retry_count;not null;default:0"`
	LastError    *string                `gorm:"column:last_error"`
	SettledAt    *time.Time             `gorm:"column:settled_at"`
	CreatedAt    time.Time              `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time              `gorm:"column:updated_at;autoUpdateTime"`
}

func (s *SettlementRecord) BeforeCreate(*gorm.DB) error {
	assignID(&s.ID)
	return nil
}
