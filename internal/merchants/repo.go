package merchants

import (
	"context"
	"errors"

	"github.com/angelmondragon/loyaltyhub-backend/pkg/db/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Repository reads merchant profiles owned by the merchant console.
type Repository interface {
	FindProfile(ctx context.Context, merchantID uuid.UUID) (*models.MerchantProfile, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a merchant profile repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

// FindProfile returns nil without error when the merchant has no profile row.
func (r *repository) FindProfile(ctx context.Context, merchantID uuid.UUID) (*models.MerchantProfile, error) {
	var profile models.MerchantProfile
	err := r.db.WithContext(ctx).Where("merchant_id = ?", merchantID).First(&profile).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &profile, nil
}
