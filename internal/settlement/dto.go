package settlement

import (
	"github.com/angelmondragon/loyaltyhub-backend/pkg/db/models"
	"github.com/google/uuid"
)

// VerifyInput is an in-store redemption scan.
type VerifyInput struct {
	VoucherCode string
	MerchantID  uuid.UUID
	BranchID    *uuid.UUID
	OperatorID  *uuid.UUID
}

// VerificationResult is returned to the till once the redemption commits.
// Settlement is still pending when the payout has not run yet.
type VerificationResult struct {
	Voucher      *models.Voucher
	Verification *models.VerificationRecord
	Settlement   *models.SettlementRecord
}

// RetryResult summarises one retry sweep.
type RetryResult struct {
	Attempted int
	Settled   int
	Failed    int
	Skipped   int
}
