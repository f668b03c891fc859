package groups

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	ordercontrollers "github.com/angelmondragon/loyaltyhub-backend/api/controllers/orders"
	"github.com/angelmondragon/loyaltyhub-backend/api/middleware"
	"github.com/angelmondragon/loyaltyhub-backend/api/responses"
	"github.com/angelmondragon/loyaltyhub-backend/api/validators"
	"github.com/angelmondragon/loyaltyhub-backend/internal/groupbuy"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/loyaltyhub-backend/pkg/errors"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/logger"
)

// GroupService is the slice of the group-buy engine exposed over HTTP.
type GroupService interface {
	InitiateGroup(ctx context.Context, input groupbuy.InitiateGroupInput) (*models.GroupOrder, error)
	JoinGroup(ctx context.Context, groupOrderID, userID uuid.UUID) (*groupbuy.JoinResult, error)
	CancelGroup(ctx context.Context, groupOrderID, userID uuid.UUID) (*models.GroupOrder, error)
	RequestGroupPayment(ctx context.Context, input groupbuy.GroupPaymentInput) (*groupbuy.GroupPaymentResult, error)
	GetGroup(ctx context.Context, groupOrderID uuid.UUID) (*models.GroupOrder, error)
}

type initiateRequest struct {
	ActivityID string `json:"activity_id" validate:"required,uuid"`
}

type paymentRequest struct {
	PayerRef string `json:"payer_ref" validate:"required,max=128"`
}

// caller resolves the authenticated user, writing the error itself.
func caller(w http.ResponseWriter, r *http.Request, svc GroupService, logg *logger.Logger) (uuid.UUID, bool) {
	if svc == nil {
		responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "group service unavailable"))
		return uuid.Nil, false
	}
	userID, ok := middleware.UserUUID(r.Context())
	if !ok {
		responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing"))
		return uuid.Nil, false
	}
	return userID, true
}

func Initiate(svc GroupService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := caller(w, r, svc, logg)
		if !ok {
			return
		}
		var body initiateRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		group, err := svc.InitiateGroup(r.Context(), groupbuy.InitiateGroupInput{
			ActivityID: uuid.MustParse(body.ActivityID),
			UserID:     userID,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, newGroupResponse(group))
	}
}

func Get(svc GroupService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := caller(w, r, svc, logg); !ok {
			return
		}
		groupID, err := validators.ParseUUIDParam(r, "groupID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		group, err := svc.GetGroup(r.Context(), groupID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newGroupResponse(group))
	}
}

func Join(svc GroupService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := caller(w, r, svc, logg)
		if !ok {
			return
		}
		groupID, err := validators.ParseUUIDParam(r, "groupID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		result, err := svc.JoinGroup(r.Context(), groupID, userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newGroupResponse(result.Group))
	}
}

func Cancel(svc GroupService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := caller(w, r, svc, logg)
		if !ok {
			return
		}
		groupID, err := validators.ParseUUIDParam(r, "groupID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		group, err := svc.CancelGroup(r.Context(), groupID, userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newGroupResponse(group))
	}
}

// Pay starts payment for the caller's seat in a group.
func Pay(svc GroupService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := caller(w, r, svc, logg)
		if !ok {
			return
		}
		groupID, err := validators.ParseUUIDParam(r, "groupID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var body paymentRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		result, err := svc.RequestGroupPayment(r.Context(), groupbuy.GroupPaymentInput{
			GroupOrderID: groupID,
			UserID:       userID,
			PayerRef:     body.PayerRef,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, ordercontrollers.NewPaymentResponse(result.Payment))
	}
}
