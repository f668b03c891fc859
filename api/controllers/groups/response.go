package groups

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/loyaltyhub-backend/pkg/db/models"
)

type ParticipantResponse struct {
	UserID      uuid.UUID  `json:"user_id"`
	OrderID     *uuid.UUID `json:"order_id,omitempty"`
	IsInitiator bool       `json:"is_initiator"`
	JoinedAt    time.Time  `json:"joined_at"`
}

type GroupResponse struct {
	ID              uuid.UUID             `json:"id"`
	GroupNumber     string                `json:"group_number"`
	ActivityID      uuid.UUID             `json:"activity_id"`
	InitiatorUserID uuid.UUID             `json:"initiator_user_id"`
	RequiredMembers int                   `json:"required_members"`
	CurrentMembers  int                   `json:"current_members"`
	Status          string                `json:"status"`
	ExpireAt        time.Time             `json:"expire_at"`
	CompletedAt     *time.Time            `json:"completed_at,omitempty"`
	Participants    []ParticipantResponse `json:"participants,omitempty"`
}

func newGroupResponse(group *models.GroupOrder) GroupResponse {
	if group == nil {
		return GroupResponse{}
	}
	resp := GroupResponse{
		ID:              group.ID,
		GroupNumber:     group.GroupNumber,
		ActivityID:      group.ActivityID,
		InitiatorUserID: group.InitiatorUserID,
		RequiredMembers: group.RequiredMembers,
		CurrentMembers:  group.CurrentMembers,
		Status:          string(group.Status),
		ExpireAt:        group.ExpireAt,
		CompletedAt:     group.CompletedAt,
	}
	for _, p := range group.Participants {
		resp.Participants = append(resp.Participants, ParticipantResponse{
			UserID:      p.UserID,
			OrderID:     p.OrderID,
			IsInitiator: p.IsInitiator,
			JoinedAt:    p.JoinedAt,
		})
	}
	return resp
}
