package activities

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/loyaltyhub-backend/pkg/db/models"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/loyaltyhub-backend/pkg/errors"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/statemachine"
	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// MemberLookup resolves a user's dormancy level at a merchant.
type MemberLookup interface {
	GetDormancyLevel(ctx context.Context, userID, merchantID uuid.UUID) (enums.DormancyLevel, bool, error)
}

// Service exposes activity creation and purchase gating.
type Service interface {
	Create(ctx context.Context, input CreateInput) (*models.Activity, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Activity, error)
	CheckPurchasable(ctx context.Context, activity *models.Activity, userID uuid.UUID) (Pricing, error)
}

// CreateInput carries an activity definition from the admin console.
type CreateInput struct {
	MerchantID       uuid.UUID
	Name             string
	Type             enums.ActivityType
	Status           enums.ActivityStatus
	Stock            *int64
	StartAt          time.Time
	EndAt            time.Time
	PricingConfig    json.RawMessage
	TargetMemberType enums.MemberTargeting
}

type service struct {
	repo    Repository
	members MemberLookup
	now     func() time.Time
}

// NewService builds the activity service.
func NewService(repo Repository, members MemberLookup) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("activities repository required")
	}
	if members == nil {
		return nil, fmt.Errorf("member lookup required")
	}
	return &service{repo: repo, members: members, now: time.Now}, nil
}

func (s *service) Create(ctx context.Context, input CreateInput) (*models.Activity, error) {
	if input.MerchantID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "merchant id is required")
	}
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "name is required")
	}
	if !input.Type.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid activity type")
	}
	status := input.Status
	if status == "" {
		status = enums.ActivityStatusDraft
	}
	if !status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid activity status")
	}
	targeting := input.TargetMemberType
	if targeting == "" {
		targeting = enums.MemberTargetingAll
	}
	if !targeting.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid target member type")
	}
	if input.StartAt.IsZero() || !input.EndAt.After(input.StartAt) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "end_at must be after start_at")
	}
	if _, err := ParsePricing(input.Type, input.PricingConfig); err != nil {
		return nil, err
	}

	activity := &models.Activity{
		MerchantID:       input.MerchantID,
		Name:             name,
		Type:             input.Type,
		Status:           status,
		Stock:            input.Stock,
		StartAt:          input.StartAt.UTC(),
		EndAt:            input.EndAt.UTC(),
		PricingConfig:    datatypes.JSON(input.PricingConfig),
		TargetMemberType: targeting,
	}
	if err := s.repo.Create(ctx, activity); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create activity")
	}
	return activity, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.Activity, error) {
	return s.repo.FindByID(ctx, id)
}

// CheckPurchasable verifies the activity is active, inside its time window
// and open to the user, and returns its parsed pricing.
func (s *service) CheckPurchasable(ctx context.Context, activity *models.Activity, userID uuid.UUID) (Pricing, error) {
	if activity == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "activity not found")
	}
	if activity.Status != enums.ActivityStatusActive {
		return nil, pkgerrors.StateConflict(statemachine.ReasonActivityNotActive, "activity is not active")
	}
	now := s.now()
	if now.Before(activity.StartAt) || now.After(activity.EndAt) {
		return nil, pkgerrors.StateConflict(statemachine.ReasonActivityNotActive, "activity is outside its sale window")
	}
	if err := s.checkTargeting(ctx, activity, userID); err != nil {
		return nil, err
	}
	pricing, err := ParsePricing(activity.Type, activity.PricingConfig)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "stored pricing config is invalid")
	}
	return pricing, nil
}

func (s *service) checkTargeting(ctx context.Context, activity *models.Activity, userID uuid.UUID) error {
	targeting := activity.TargetMemberType
	if targeting == "" || targeting == enums.MemberTargetingAll {
		return nil
	}
	level, found, err := s.members.GetDormancyLevel(ctx, userID, activity.MerchantID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "member snapshot lookup failed")
	}
	var want enums.DormancyLevel
	switch targeting {
	case enums.MemberTargetingActive:
		want = enums.DormancyLevelActive
	case enums.MemberTargetingDormant:
		want = enums.DormancyLevelDormant
	default:
		return pkgerrors.New(pkgerrors.CodeInternal, fmt.Sprintf("unknown member targeting %q", targeting))
	}
	if !found || level != want {
		return pkgerrors.New(pkgerrors.CodeForbidden, fmt.Sprintf("activity is limited to %s members", targeting))
	}
	return nil
}
