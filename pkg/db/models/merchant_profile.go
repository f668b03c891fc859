package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MerchantProfile is owned by the merchant console. FeeRate is nullable so an
// unset rate falls back to the platform default.
type MerchantProfile struct {
	MerchantID    uuid.UUID           `gorm:"column:merchant_id;type:uuid;primaryKey"`
	Name          string              `gorm:"column:name;not null"`
	FeeRate       decimal.NullDecimal `gorm:"column:fee_rate;type:numeric(8,6)"`
	PayoutAccount string              `gorm:"column:payout_account;type:varchar(64)"`
	UpdatedAt     time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}
