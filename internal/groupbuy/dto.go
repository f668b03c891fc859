package groupbuy

import (
	"github.com/angelmondragon/loyaltyhub-backend/internal/orders"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/db/models"
	"github.com/google/uuid"
)

type InitiateGroupInput struct {
	ActivityID uuid.UUID
	UserID     uuid.UUID
}

type GroupPaymentInput struct {
	GroupOrderID uuid.UUID
	UserID       uuid.UUID
	PayerRef     string
}

// JoinResult is the group as committed by the join, with the caller's seat.
type JoinResult struct {
	Group       *models.GroupOrder
	Participant *models.GroupParticipant
}

// GroupPaymentResult pairs the payment leg with the seat it pays for.
type GroupPaymentResult struct {
	Participant *models.GroupParticipant
	Payment     *orders.PaymentResult
}
