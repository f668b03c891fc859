package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/loyaltyhub-backend/pkg/enums"
)

// MemberSnapshot is maintained by the member-matching pipeline; this service
// reads the dormancy level and resets it after a re-engagement redemption.
type MemberSnapshot struct {
	ID            uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	UserID        uuid.UUID           `gorm:"column:user_id;type:uuid;not null;uniqueIndex:ux_member_snapshots_user_merchant"`
	MerchantID    uuid.UUID           `gorm:"column:merchant_id;type:uuid;not null;uniqueIndex:ux_member_snapshots_user_merchant"`
	DormancyLevel enums.DormancyLevel `gorm:"column:dormancy_level;type:varchar(32);not null"`
	LastVisitAt   *time.Time          `gorm:"column:last_visit_at"`
	UpdatedAt     time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

func (m *MemberSnapshot) BeforeCreate(*gorm.DB) error {
	assignID(&m.ID)
	return nil
}
