package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// VerificationRecord is the immutable audit row written when a voucher is redeemed.
type VerificationRecord struct {
	ID          uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	VoucherID   uuid.UUID       `gorm:"column:voucher_id;type:uuid;not null;uniqueIndex"`
	VoucherCode string          `gorm:"column:voucher_code;type:varchar(32);not null"`
	MerchantID  uuid.UUID       `gorm:"column:merchant_id;type:uuid;not null;index"`
	BranchID    *uuid.UUID      `gorm:"column:branch_id;type:uuid"`
	OperatorID  *uuid.UUID      `gorm:"column:operator_id;type:uuid"`
	UserID      uuid.UUID       `gorm:"column:user_id;type:uuid;not null"`
	Amount      decimal.Decimal `gorm:"column:amount;type:numeric(12,2);not null"`
	Metadata    datatypes.JSON  `gorm:"column:metadata"`
	VerifiedAt  time.Time       `gorm:"column:verified_at;not null"`
}

func (r *VerificationRecord) BeforeCreate(*gorm.DB) error {
	assignID(&r.ID)
	return nil
}
