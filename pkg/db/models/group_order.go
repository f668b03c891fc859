package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/loyaltyhub-backend/pkg/enums"
)

// GroupOrder is a shared group-buy deal that forms once RequiredMembers join.
type GroupOrder struct {
	ID              uuid.UUID              `gorm:"column:id;type:uuid;primaryKey"`
	GroupNumber     string                 `gorm:"column:group_number;type:varchar(32);not null;uniqueIndex"`
	ActivityID      uuid.UUID              `gorm:"column:activity_id;type:uuid;not null;index"`
	MerchantID      uuid.UUID              `gorm:"column:merchant_id;type:uuid;not null"`
	InitiatorUserID uuid.UUID              `gorm:"column:initiator_user_id;type:uuid;not null;index"`
	RequiredMembers int                    `gorm:"column:required_members;not null"`
	CurrentMembers  int                    `gorm:"column:current_members;not null;default:1"`
	Status          enums.GroupOrderStatus `gorm:"column:status;type:varchar(32);not null;index"`
	ExpireAt        time.Time              `gorm:"column:expire_at;not null;index"`
	CompletedAt     *time.Time             `gorm:"column:completed_at"`
	CreatedAt       time.Time              `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time              `gorm:"column:updated_at;autoUpdateTime"`

	Participants []GroupParticipant `gorm:"foreignKey:GroupOrderID;references:ID"`
}

func (g *GroupOrder) BeforeCreate(*gorm.DB) error {
	assignID(&g.ID)
	return nil
}

// Full reports whether no seats remain.
func (g GroupOrder) Full() bool {
	return g.CurrentMembers >= g.RequiredMembers
}

// GroupParticipant is an append-only membership row, one per distinct user.
type GroupParticipant struct {
	ID           uuid.UUID  `gorm:"column:id;type:uuid;primaryKey"`
	GroupOrderID uuid.UUID  `gorm:"column:group_order_id;type:uuid;not null;uniqueIndex:ux_group_participants_group_user"`
	UserID       uuid.UUID  `gorm:"column:user_id;type:uuid;not null;uniqueIndex:ux_group_participants_group_user"`
	OrderID      *uuid.UUID `gorm:"column:order_id;type:uuid"`
	IsInitiator  bool       `gorm:"column:is_initiator;not null;default:false"`
	JoinedAt     time.Time  `gorm:"column:joined_at;not null"`
}

func (p *GroupParticipant) BeforeCreate(*gorm.DB) error {
	assignID(&p.ID)
	return nil
}
