package merchants

import (
	"context"
	"fmt"
	"strings"

	pkgerrors "github.com/angelmondragon/loyaltyhub-backend/pkg/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Service is the merchant profile lookup consulted at verification and payout time.
type Service interface {
	GetFeeRate(ctx context.Context, merchantID uuid.UUID) (decimal.Decimal, error)
	GetPayoutAccount(ctx context.Context, merchantID uuid.UUID) (string, error)
}

type service struct {
	repo        Repository
	defaultRate decimal.Decimal
}

// NewService builds the lookup. defaultRate applies to merchants whose
// profile carries no fee rate.
func NewService(repo Repository, defaultRate decimal.Decimal) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("merchants repository required")
	}
	if defaultRate.IsNegative() || defaultRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("default fee rate must be within [0, 1)")
	}
	return &service{repo: repo, defaultRate: defaultRate}, nil
}

func (s *service) GetFeeRate(ctx context.Context, merchantID uuid.UUID) (decimal.Decimal, error) {
	profile, err := s.repo.FindProfile(ctx, merchantID)
	if err != nil {
		return decimal.Zero, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load merchant profile")
	}
	if profile == nil || !profile.FeeRate.Valid {
		return s.defaultRate, nil
	}
	rate := profile.FeeRate.Decimal
	if rate.IsNegative() || rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return decimal.Zero, pkgerrors.New(pkgerrors.CodeInternal, fmt.Sprintf("merchant %s has out of range fee rate %s", merchantID, rate))
	}
	return rate, nil
}

func (s *service) GetPayoutAccount(ctx context.Context, merchantID uuid.UUID) (string, error) {
	profile, err := s.repo.FindProfile(ctx, merchantID)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load merchant profile")
	}
	if profile == nil {
		return "", pkgerrors.New(pkgerrors.CodeNotFound, "merchant profile not found")
	}
	account := strings.TrimSpace(profile.PayoutAccount)
	if account == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "merchant has no payout account configured")
	}
	return account, nil
}
