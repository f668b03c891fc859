package merchant

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/loyaltyhub-backend/api/middleware"
	"github.com/angelmondragon/loyaltyhub-backend/api/responses"
	"github.com/angelmondragon/loyaltyhub-backend/api/validators"
	"github.com/angelmondragon/loyaltyhub-backend/internal/settlement"
	pkgerrors "github.com/angelmondragon/loyaltyhub-backend/pkg/errors"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/logger"
)

type VerificationService interface {
	Verify(ctx context.Context, input settlement.VerifyInput) (*settlement.VerificationResult, error)
}

type verifyRequest struct {
	VoucherCode string `json:"voucher_code" validate:"required,max=32"`
	BranchID    string `json:"branch_id,omitempty" validate:"omitempty,uuid"`
}

type VerificationResponse struct {
	VerificationID   uuid.UUID `json:"verification_id"`
	VoucherID        uuid.UUID `json:"voucher_id"`
	VoucherCode      string    `json:"voucher_code"`
	VoucherType      string    `json:"voucher_type"`
	FaceValue        string    `json:"face_value"`
	VerifiedAt       time.Time `json:"verified_at"`
	SettlementID     uuid.UUID `json:"settlement_id"`
	SettlementStatus string    `json:"settlement_status"`
	GrossAmount      string    `json:"gross_amount"`
	FeeAmount        string    `json:"fee_amount"`
	PayoutAmount     string    `json:"payout_amount"`
}

// Verify redeems a voucher at the caller's merchant. The operator is the
// authenticated staff member.
func Verify(svc VerificationService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "verification service unavailable"))
			return
		}
		merchantID, ok := middleware.MerchantUUID(r.Context())
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "merchant context missing"))
			return
		}

		var body verifyRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		input := settlement.VerifyInput{
			VoucherCode: validators.SanitizeString(body.VoucherCode, 32),
			MerchantID:  merchantID,
		}
		if body.BranchID != "" {
			branchID := uuid.MustParse(body.BranchID)
			input.BranchID = &branchID
		}
		if operatorID, ok := middleware.UserUUID(r.Context()); ok {
			input.OperatorID = &operatorID
		}

		result, err := svc.Verify(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newVerificationResponse(result))
	}
}

func newVerificationResponse(result *settlement.VerificationResult) VerificationResponse {
	resp := VerificationResponse{}
	if result == nil {
		return resp
	}
	if v := result.Voucher; v != nil {
		resp.VoucherID = v.ID
		resp.VoucherCode = v.Code
		resp.VoucherType = string(v.Type)
		resp.FaceValue = v.FaceValue.StringFixed(2)
	}
	if rec := result.Verification; rec != nil {
		resp.VerificationID = rec.ID
		resp.VerifiedAt = rec.VerifiedAt
	}
	if s := result.Settlement; s != nil {
		resp.SettlementID = s.ID
		resp.SettlementStatus = string(s.Status)
		resp.GrossAmount = s.GrossAmount.StringFixed(2)
		resp.FeeAmount = s.FeeAmount.StringFixed(2)
		resp.PayoutAmount = s.PayoutAmount.StringFixed(2)
	}
	return resp
}
