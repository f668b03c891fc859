package vouchers

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/loyaltyhub-backend/internal/activities"
	dbpkg "github.com/angelmondragon/loyaltyhub-backend/pkg/db"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/db/models"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/loyaltyhub-backend/pkg/errors"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/identifiers"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/statemachine"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const maxCodeAttempts = 5

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// ActivityReader loads the activity a system grant is issued against.
type ActivityReader interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Activity, error)
}

// IssueInput describes a voucher to mint. OrderID is nil for system grants.
type IssueInput struct {
	OrderID    *uuid.UUID
	UserID     uuid.UUID
	MerchantID uuid.UUID
	ActivityID uuid.UUID
	Type       enums.ActivityType
	FaceValue  decimal.Decimal
	Validity   time.Duration
}

// GrantInput is an operator request to grant a voucher outside the purchase flow.
type GrantInput struct {
	UserID     uuid.UUID
	ActivityID uuid.UUID
}

// Service issues, refunds and expires vouchers.
type Service interface {
	Issue(ctx context.Context, tx *gorm.DB, input IssueInput) (*models.Voucher, error)
	IssueSystemVoucher(ctx context.Context, input GrantInput) (*models.Voucher, error)
	RefundByOrder(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) error
	ExpireStale(ctx context.Context) (int64, error)
}

type service struct {
	repo       Repository
	tx         txRunner
	activities ActivityReader
	newCode    func() (string, error)
	now        func() time.Time
}

// NewService builds the voucher service.
func NewService(repo Repository, tx txRunner, activityReader ActivityReader) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("vouchers repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if activityReader == nil {
		return nil, fmt.Errorf("activity reader required")
	}
	return &service{
		repo:       repo,
		tx:         tx,
		activities: activityReader,
		newCode:    identifiers.VoucherCode,
		now:        time.Now,
	}, nil
}

// Issue mints a voucher inside the caller's transaction. A code collision is
// retried with a fresh code under a savepoint so the outer transaction stays usable.
func (s *service) Issue(ctx context.Context, tx *gorm.DB, input IssueInput) (*models.Voucher, error) {
	if input.UserID == uuid.Nil || input.MerchantID == uuid.Nil || input.ActivityID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "voucher owner, merchant and activity are required")
	}
	if input.Validity <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "voucher validity must be positive")
	}
	if input.FaceValue.IsNegative() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "voucher face value must not be negative")
	}

	now := s.now().UTC()
	voucher := &models.Voucher{
		OrderID:    input.OrderID,
		UserID:     input.UserID,
		MerchantID: input.MerchantID,
		ActivityID: input.ActivityID,
		Type:       input.Type,
		FaceValue:  input.FaceValue.Round(2),
		Status:     enums.VoucherStatusUnused,
		ValidFrom:  now,
		ValidUntil: now.Add(input.Validity),
	}

	for attempt := 1; attempt <= maxCodeAttempts; attempt++ {
		code, err := s.newCode()
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "generate voucher code")
		}
		voucher.ID = uuid.Nil
		voucher.Code = code

		err = s.insert(ctx, tx, voucher)
		if err == nil {
			return voucher, nil
		}
		if isCodeCollision(err) {
			continue
		}
		if dbpkg.IsUniqueViolation(err, "ux_vouchers_order_id") || dbpkg.IsUniqueViolation(err, "vouchers.order_id") {
			return nil, pkgerrors.Wrap(pkgerrors.CodeConflict, err, "voucher already issued for order")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create voucher")
	}
	return nil, pkgerrors.New(pkgerrors.CodeInternal, "could not allocate a unique voucher code")
}

func (s *service) insert(ctx context.Context, tx *gorm.DB, voucher *models.Voucher) error {
	if tx == nil {
		return s.repo.Create(ctx, voucher)
	}
	return tx.Transaction(func(savepoint *gorm.DB) error {
		return s.repo.WithTx(savepoint).Create(ctx, voucher)
	})
}

func isCodeCollision(err error) bool {
	return dbpkg.IsUniqueViolation(err, "ux_vouchers_code") || dbpkg.IsUniqueViolation(err, "vouchers.code")
}

// IssueSystemVoucher grants a voucher with the activity's list value. Grants
// do not draw on the activity's sellable stock.
func (s *service) IssueSystemVoucher(ctx context.Context, input GrantInput) (*models.Voucher, error) {
	if input.UserID == uuid.Nil || input.ActivityID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id and activity id are required")
	}
	activity, err := s.activities.FindByID(ctx, input.ActivityID)
	if err != nil {
		return nil, err
	}
	if activity.Status != enums.ActivityStatusActive {
		return nil, pkgerrors.StateConflict(statemachine.ReasonActivityNotActive, "activity is not active")
	}
	pricing, err := activities.ParsePricing(activity.Type, activity.PricingConfig)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "stored pricing config is invalid")
	}

	var voucher *models.Voucher
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var issueErr error
		voucher, issueErr = s.Issue(ctx, tx, IssueInput{
			UserID:     input.UserID,
			MerchantID: activity.MerchantID,
			ActivityID: activity.ID,
			Type:       activity.Type,
			FaceValue:  pricing.ListPrice(),
			Validity:   pricing.Validity(),
		})
		return issueErr
	})
	if err != nil {
		return nil, err
	}
	return voucher, nil
}

// RefundByOrder moves the order's unused voucher to refunded. A missing
// voucher is fine; a redeemed one is a conflict.
func (s *service) RefundByOrder(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) error {
	repo := s.repo.WithTx(tx)
	moved, err := repo.MarkRefundedByOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if moved {
		return nil
	}
	voucher, err := repo.FindByOrderID(ctx, orderID)
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
			return nil
		}
		return err
	}
	if voucher.Status == enums.VoucherStatusRefunded {
		return nil
	}
	return statemachine.Voucher.Validate(voucher.Status, enums.VoucherStatusRefunded, refundReason(voucher.Status))
}

func refundReason(status enums.VoucherStatus) string {
	if status == enums.VoucherStatusExpired {
		return statemachine.ReasonVoucherExpired
	}
	return statemachine.ReasonVoucherAlreadyUsed
}

func (s *service) ExpireStale(ctx context.Context) (int64, error) {
	return s.repo.ExpireStale(ctx, s.now().UTC())
}
