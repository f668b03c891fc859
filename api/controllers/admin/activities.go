package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/loyaltyhub-backend/api/responses"
	"github.com/angelmondragon/loyaltyhub-backend/api/validators"
	"github.com/angelmondragon/loyaltyhub-backend/internal/activities"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/db/models"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/loyaltyhub-backend/pkg/errors"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/logger"
)

type ActivityService interface {
	Create(ctx context.Context, input activities.CreateInput) (*models.Activity, error)
}

type createActivityRequest struct {
	MerchantID       string          `json:"merchant_id" validate:"required,uuid"`
	Name             string          `json:"name" validate:"required,max=128"`
	Type             string          `json:"type" validate:"required,oneof=voucher top_up points group_buy"`
	Status           string          `json:"status,omitempty" validate:"omitempty,oneof=draft active paused ended"`
	Stock            *int64          `json:"stock,omitempty" validate:"omitempty,min=0"`
	StartAt          time.Time       `json:"start_at" validate:"required"`
	EndAt            time.Time       `json:"end_at" validate:"required,gtfield=StartAt"`
	PricingConfig    json.RawMessage `json:"pricing_config" validate:"required"`
	TargetMemberType string          `json:"target_member_type,omitempty" validate:"omitempty,oneof=all active dormant"`
}

type ActivityResponse struct {
	ID               uuid.UUID       `json:"id"`
	MerchantID       uuid.UUID       `json:"merchant_id"`
	Name             string          `json:"name"`
	Type             string          `json:"type"`
	Status           string          `json:"status"`
	Stock            *int64          `json:"stock,omitempty"`
	SoldCount        int64           `json:"sold_count"`
	StartAt          time.Time       `json:"start_at"`
	EndAt            time.Time       `json:"end_at"`
	PricingConfig    json.RawMessage `json:"pricing_config"`
	TargetMemberType string          `json:"target_member_type"`
}

// CreateActivity registers a new activity with its typed pricing config.
func CreateActivity(svc ActivityService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "activity service unavailable"))
			return
		}
		var body createActivityRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		input := activities.CreateInput{
			MerchantID:       uuid.MustParse(body.MerchantID),
			Name:             validators.SanitizeString(body.Name, 128),
			Type:             enums.ActivityType(body.Type),
			Status:           enums.ActivityStatus(body.Status),
			Stock:            body.Stock,
			StartAt:          body.StartAt.UTC(),
			EndAt:            body.EndAt.UTC(),
			PricingConfig:    body.PricingConfig,
			TargetMemberType: enums.MemberTargeting(body.TargetMemberType),
		}
		activity, err := svc.Create(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, ActivityResponse{
			ID:               activity.ID,
			MerchantID:       activity.MerchantID,
			Name:             activity.Name,
			Type:             string(activity.Type),
			Status:           string(activity.Status),
			Stock:            activity.Stock,
			SoldCount:        activity.SoldCount,
			StartAt:          activity.StartAt,
			EndAt:            activity.EndAt,
			PricingConfig:    json.RawMessage(activity.PricingConfig),
			TargetMemberType: string(activity.TargetMemberType),
		})
	}
}
