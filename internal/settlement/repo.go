package settlement

import (
	"context"
	"errors"
	"time"

	"github.com/angelmondragon/loyaltyhub-backend/pkg/db/models"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/loyaltyhub-backend/pkg/errors"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/statemachine"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Repository persists verification audit rows and settlement records.
// Verification rows are insert-only.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateVerification(ctx context.Context, record *models.VerificationRecord) error
	CreateSettlement(ctx context.Context, record *models.SettlementRecord) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.SettlementRecord, error)
	FindByVoucherID(ctx context.Context, voucherID uuid.UUID) (*models.SettlementRecord, error)
	ListRetryable(ctx context.Context, maxRetries, limit int) ([]models.SettlementRecord, error)
	MarkSettled(ctx context.Context, id uuid.UUID, settledAt time.Time) (bool, error)
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) (bool, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) CreateVerification(ctx context.Context, record *models.VerificationRecord) error {
	return r.db.WithContext(ctx).Create(record).Error
}

func (r *repository) CreateSettlement(ctx context.Context, record *models.SettlementRecord) error {
	return r.db.WithContext(ctx).Create(record).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.SettlementRecord, error) {
	return r.findOne(ctx, "id = ?", id)
}

func (r *repository) FindByVoucherID(ctx context.Context, voucherID uuid.UUID) (*models.SettlementRecord, error) {
	return r.findOne(ctx, "voucher_id = ?", voucherID)
}

func (r *repository) findOne(ctx context.Context, query string, arg any) (*models.SettlementRecord, error) {
	var record models.SettlementRecord
	if err := r.db.WithContext(ctx).Where(query, arg).First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "settlement record not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load settlement record")
	}
	return &record, nil
}

// ListRetryable returns failed records that have been attempted fewer than
// maxRetries times, oldest first.
func (r *repository) ListRetryable(ctx context.Context, maxRetries, limit int) ([]models.SettlementRecord, error) {
	var rows []models.SettlementRecord
	query := r.db.WithContext(ctx).
		Where("status = ? AND retry_count < ?", enums.SettlementStatusFailed, maxRetries).
		Order("updated_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&rows).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list retryable settlements")
	}
	return rows, nil
}

func (r *repository) MarkSettled(ctx context.Context, id uuid.UUID, settledAt time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.SettlementRecord{}).
		Where("id = ? AND status IN ?", id, statemachine.Settlement.Sources(enums.SettlementStatusSettled)).
		Updates(map[string]any{
			"status":     enums.SettlementStatusSettled,
			"settled_at": settledAt,
			"last_error": nil,
		})
	if res.Error != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeInternal, res.Error, "mark settlement settled")
	}
	return res.RowsAffected > 0, nil
}

// MarkFailed records a failed attempt and bumps retry_count.
func (r *repository) MarkFailed(ctx context.Context, id uuid.UUID, reason string) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.SettlementRecord{}).
		Where("id = ? AND status IN ?", id, statemachine.Settlement.Sources(enums.SettlementStatusFailed)).
		Updates(map[string]any{
			"status":      enums.SettlementStatusFailed,
			"retry_count": gorm.Expr("retry_count + 1"),
			"last_error":  reason,
		})
	if res.Error != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeInternal, res.Error, "mark settlement failed")
	}
	return res.RowsAffected > 0, nil
}
