package admin

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/loyaltyhub-backend/api/responses"
	"github.com/angelmondragon/loyaltyhub-backend/api/validators"
	"github.com/angelmondragon/loyaltyhub-backend/internal/vouchers"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/loyaltyhub-backend/pkg/errors"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/logger"
)

type VoucherGrantService interface {
	IssueSystemVoucher(ctx context.Context, input vouchers.GrantInput) (*models.Voucher, error)
}

type grantVoucherRequest struct {
	UserID     string `json:"user_id" validate:"required,uuid"`
	ActivityID string `json:"activity_id" validate:"required,uuid"`
}

type VoucherResponse struct {
	ID         uuid.UUID `json:"id"`
	Code       string    `json:"code"`
	UserID     uuid.UUID `json:"user_id"`
	MerchantID uuid.UUID `json:"merchant_id"`
	ActivityID uuid.UUID `json:"activity_id"`
	Type       string    `json:"type"`
	FaceValue  string    `json:"face_value"`
	Status     string    `json:"status"`
	ValidFrom  time.Time `json:"valid_from"`
	ValidUntil time.Time `json:"valid_until"`
}

// GrantVoucher issues a system voucher with no originating order.
func GrantVoucher(svc VoucherGrantService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "voucher service unavailable"))
			return
		}
		var body grantVoucherRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		voucher, err := svc.IssueSystemVoucher(r.Context(), vouchers.GrantInput{
			UserID:     uuid.MustParse(body.UserID),
			ActivityID: uuid.MustParse(body.ActivityID),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, VoucherResponse{
			ID:         voucher.ID,
			Code:       voucher.Code,
			UserID:     voucher.UserID,
			MerchantID: voucher.MerchantID,
			ActivityID: voucher.ActivityID,
			Type:       string(voucher.Type),
			FaceValue:  voucher.FaceValue.StringFixed(2),
			Status:     string(voucher.Status),
			ValidFrom:  voucher.ValidFrom,
			ValidUntil: voucher.ValidUntil,
		})
	}
}
