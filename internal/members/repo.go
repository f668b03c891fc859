package members

import (
	"context"
	"errors"
	"time"

	"github.com/angelmondragon/loyaltyhub-backend/pkg/db/models"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/enums"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Repository reads and resets member dormancy snapshots.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindSnapshot(ctx context.Context, userID, merchantID uuid.UUID) (*models.MemberSnapshot, error)
	UpdateDormancyLevel(ctx context.Context, userID, merchantID uuid.UUID, level enums.DormancyLevel, visitedAt time.Time) (bool, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a member snapshot repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// FindSnapshot returns nil without error when the member has no snapshot.
func (r *repository) FindSnapshot(ctx context.Context, userID, merchantID uuid.UUID) (*models.MemberSnapshot, error) {
	var snapshot models.MemberSnapshot
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND merchant_id = ?", userID, merchantID).
		First(&snapshot).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &snapshot, nil
}

func (r *repository) UpdateDormancyLevel(ctx context.Context, userID, merchantID uuid.UUID, level enums.DormancyLevel, visitedAt time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.MemberSnapshot{}).
		Where("user_id = ? AND merchant_id = ?", userID, merchantID).
		Updates(map[string]any{
			"dormancy_level": level,
			"last_visit_at":  visitedAt,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
