package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/angelmondragon/loyaltyhub-backend/pkg/enums"
)

// Activity is a merchant-defined, time-boxed promotion. The row is owned by the
// merchant console; this service only writes SoldCount.
type Activity struct {
	ID               uuid.UUID             `gorm:"column:id;type:uuid;primaryKey"`
	MerchantID       uuid.UUID             `gorm:"column:merchant_id;type:uuid;not null;index"`
	Name             string                `gorm:"column:name;not null"`
	Type             enums.ActivityType    `gorm:"column:type;type:varchar(32);not null"`
	Status           enums.ActivityStatus  `gorm:"column:status;type:varchar(32);not null"`
	Stock            *int64                `gorm:"column:stock"`
	SoldCount        int64                 `gorm:"column:sold_count;not null;default:0"`
	StartAt          time.Time             `gorm:"column:start_at;not null"`
	EndAt            time.Time             `gorm:"column:end_at;not null"`
	PricingConfig    datatypes.JSON        `gorm:"column:pricing_config;not null"`
	TargetMemberType enums.MemberTargeting `gorm:"column:target_member_type;type:varchar(32);not null;default:all"`
	CreatedAt        time.Time             `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time             `gorm:"column:updated_at;autoUpdateTime"`
}

func (a *Activity) BeforeCreate(*gorm.DB) error {
	assignID(&a.ID)
	return nil
}

// Unlimited reports whether the activity has no stock cap.
func (a Activity) Unlimited() bool {
	return a.Stock == nil || *a.Stock < 0
}

// Remaining returns stock minus sold count, floored at zero. Only meaningful
// for limited activities.
func (a Activity) Remaining() int64 {
	if a.Unlimited() {
		return 0
	}
	remaining := *a.Stock - a.SoldCount
	if remaining < 0 {
		return 0
	}
	return remaining
}
