package vouchers

import (
	"context"
	"errors"
	"time"

	"github.com/angelmondragon/loyaltyhub-backend/pkg/db/models"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/loyaltyhub-backend/pkg/errors"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// UsageInput records where and by whom a voucher was redeemed.
type UsageInput struct {
	BranchID   *uuid.UUID
	OperatorID *uuid.UUID
	UsedAt     time.Time
}

// Repository defines persistence operations for vouchers. Status changes are
// conditional updates and report whether the row moved.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, voucher *models.Voucher) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Voucher, error)
	FindByCode(ctx context.Context, code string) (*models.Voucher, error)
	FindByOrderID(ctx context.Context, orderID uuid.UUID) (*models.Voucher, error)
	MarkUsed(ctx context.Context, id uuid.UUID, usage UsageInput) (bool, error)
	MarkExpired(ctx context.Context, id uuid.UUID) (bool, error)
	MarkRefundedByOrder(ctx context.Context, orderID uuid.UUID) (bool, error)
	ExpireStale(ctx context.Context, now time.Time) (int64, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a voucher repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, voucher *models.Voucher) error {
	return r.db.WithContext(ctx).Create(voucher).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Voucher, error) {
	return r.findOne(ctx, "id = ?", id)
}

func (r *repository) FindByCode(ctx context.Context, code string) (*models.Voucher, error) {
	return r.findOne(ctx, "code = ?", code)
}

func (r *repository) FindByOrderID(ctx context.Context, orderID uuid.UUID) (*models.Voucher, error) {
	return r.findOne(ctx, "order_id = ?", orderID)
}

func (r *repository) findOne(ctx context.Context, query string, arg any) (*models.Voucher, error) {
	var voucher models.Voucher
	err := r.db.WithContext(ctx).Where(query, arg).First(&voucher).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "voucher not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load voucher")
	}
	return &voucher, nil
}

func (r *repository) MarkUsed(ctx context.Context, id uuid.UUID, usage UsageInput) (bool, error) {
	return r.transition(r.db.WithContext(ctx).Where("id = ?", id), map[string]any{
		"status":           enums.VoucherStatusUsed,
		"used_at":          usage.UsedAt,
		"used_branch_id":   usage.BranchID,
		"used_operator_id": usage.OperatorID,
	})
}

func (r *repository) MarkExpired(ctx context.Context, id uuid.UUID) (bool, error) {
	return r.transition(r.db.WithContext(ctx).Where("id = ?", id), map[string]any{
		"status": enums.VoucherStatusExpired,
	})
}

func (r *repository) MarkRefundedByOrder(ctx context.Context, orderID uuid.UUID) (bool, error) {
	return r.transition(r.db.WithContext(ctx).Where("order_id = ?", orderID), map[string]any{
		"status": enums.VoucherStatusRefunded,
	})
}

// ExpireStale flips every unused voucher whose window closed before now.
func (r *repository) ExpireStale(ctx context.Context, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Voucher{}).
		Where("status = ? AND valid_until < ?", enums.VoucherStatusUnused, now).
		Update("status", enums.VoucherStatusExpired)
	if res.Error != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeInternal, res.Error, "expire stale vouchers")
	}
	return res.RowsAffected, nil
}

// transition only moves vouchers that are still unused.
func (r *repository) transition(scope *gorm.DB, updates map[string]any) (bool, error) {
	res := scope.
		Model(&models.Voucher{}).
		Where("status = ?", enums.VoucherStatusUnused).
		Updates(updates)
	if res.Error != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeInternal, res.Error, "update voucher status")
	}
	return res.RowsAffected > 0, nil
}
