package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/loyaltyhub-backend/pkg/enums"
)

// Voucher is a redeemable instrument, minted once per paid order or granted by
// the system (OrderID nil).
type Voucher struct {
	ID             uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	Code           string              `gorm:"column:code;type:varchar(32);not null;uniqueIndex:ux_vouchers_code"`
	OrderID        *uuid.UUID          `gorm:"column:order_id;type:uuid;uniqueIndex:ux_vouchers_order_id"`
	UserID         uuid.UUID           `gorm:"column:user_id;type:uuid;not null;index"`
	MerchantID     uuid.UUID           `gorm:"column:merchant_id;type:uuid;not null;index"`
	ActivityID     uuid.UUID           `gorm:"column:activity_id;type:uuid;not null"`
	Type           enums.ActivityType  `gorm:"column:type;type:varchar(32);not null"`
	FaceValue      decimal.Decimal     `gorm:"column:face_value;type:numeric(12,2);not null"`
	Status         enums.VoucherStatus `gorm:"column:status;type:varchar(32);not null;index"`
	ValidFrom      time.Time           `gorm:"column:valid_from;not null"`
	ValidUntil     time.Time           `gorm:"column:valid_until;not null;index"`
	UsedAt         *time.Time          `gorm:"column:used_at"`
	UsedBranchID   *uuid.UUID          `gorm:"column:used_branch_id;type:uuid"`
	UsedOperatorID *uuid.UUID          `gorm:"column:used_operator_id;type:uuid"`
	CreatedAt      time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

func (v *Voucher) BeforeCreate(*gorm.DB) error {
	assignID(&v.ID)
	return nil
}

// WithinWindow reports whether now falls inside the validity window.
func (v Voucher) WithinWindow(now time.Time) bool {
	return !now.Before(v.ValidFrom) && !now.After(v.ValidUntil)
}
