package members

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/loyaltyhub-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/loyaltyhub-backend/pkg/errors"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Service is the member snapshot lookup used for eligibility and re-engagement.
type Service interface {
	GetDormancyLevel(ctx context.Context, userID, merchantID uuid.UUID) (enums.DormancyLevel, bool, error)
	ResetDormancy(ctx context.Context, tx *gorm.DB, userID, merchantID uuid.UUID) error
}

type service struct {
	repo Repository
	now  func() time.Time
}

// NewService builds the member snapshot service.
func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("members repository required")
	}
	return &service{repo: repo, now: time.Now}, nil
}

// GetDormancyLevel reports found=false when the member pipeline has not
// produced a snapshot for this user and merchant.
func (s *service) GetDormancyLevel(ctx context.Context, userID, merchantID uuid.UUID) (enums.DormancyLevel, bool, error) {
	snapshot, err := s.repo.FindSnapshot(ctx, userID, merchantID)
	if err != nil {
		return "", false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load member snapshot")
	}
	if snapshot == nil {
		return "", false, nil
	}
	return snapshot.DormancyLevel, true, nil
}

// ResetDormancy marks the member active again after a redemption. Members
// without a snapshot are left alone; the pipeline creates them on its next run.
func (s *service) ResetDormancy(ctx context.Context, tx *gorm.DB, userID, merchantID uuid.UUID) error {
	if _, err := s.repo.WithTx(tx).UpdateDormancyLevel(ctx, userID, merchantID, enums.DormancyLevelActive, s.now().UTC()); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "reset dormancy level")
	}
	return nil
}
