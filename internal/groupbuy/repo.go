package groupbuy

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

// Repository defines persistence operations for group orders and their
// participants. Status writes are conditional and report whether the row moved.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateGroup(ctx context.Context, group *models.GroupOrder) error
	AddParticipant(ctx context.Context, participant *models.GroupParticipant) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.GroupOrder, error)
	FindWithParticipants(ctx context.Context, id uuid.UUID) (*models.GroupOrder, error)
	FindParticipant(ctx context.Context, groupID, userID uuid.UUID) (*models.GroupParticipant, error)
	ListParticipants(ctx context.Context, groupID uuid.UUID) ([]models.GroupParticipant, error)
	HasFormingGroup(ctx context.Context, activityID, initiatorID uuid.UUID) (bool, error)
	ListExpiredForming(ctx context.Context, now time.Time, limit int) ([]models.GroupOrder, error)
	AddMember(ctx context.Context, id uuid.UUID, expectedMembers int, completes bool, now time.Time) (bool, error)
	MarkFailed(ctx context.Context, id uuid.UUID, now time.Time) (bool, error)
	MarkCancelled(ctx context.Context, id uuid.UUID, now time.Time) (bool, error)
	SetParticipantOrder(ctx context.Context, participantID, orderID uuid.UUID) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a group-buy repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) CreateGroup(ctx context.Context, group *models.GroupOrder) error {
	return r.db.WithContext(ctx).Omit("Participants").Create(group).Error
}

func (r *repository) AddParticipant(ctx context.Context, participant *models.GroupParticipant) error {
	return r.db.WithContext(ctx).Create(participant).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.GroupOrder, error) {
	var group models.GroupOrder
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&group).Error; err != nil {
		return nil, notFoundOr(err, "group order not found", "load group order")
	}
	return &group, nil
}

func (r *repository) FindWithParticipants(ctx context.Context, id uuid.UUID) (*models.GroupOrder, error) {
	var group models.GroupOrder
	err := r.db.WithContext(ctx).
		Preload("Participants", func(db *gorm.DB) *gorm.DB {
			return db.Order("joined_at ASC").Order("is_initiator DESC").Order("id ASC")
		}).
		Where("id = ?", id).
		First(&group).Error
	if err != nil {
		return nil, notFoundOr(err, "group order not found", "load group order")
	}
	return &group, nil
}

func (r *repository) FindParticipant(ctx context.Context, groupID, userID uuid.UUID) (*models.GroupParticipant, error) {
	var participant models.GroupParticipant
	err := r.db.WithContext(ctx).
		Where("group_order_id = ? AND user_id = ?", groupID, userID).
		First(&participant).Error
	if err != nil {
		return nil, notFoundOr(err, "participant not found", "load participant")
	}
	return &participant, nil
}

func (r *repository) ListParticipants(ctx context.Context, groupID uuid.UUID) ([]models.GroupParticipant, error) {
	var rows []models.GroupParticipant
	err := r.db.WithContext(ctx).
		Where("group_order_id = ?", groupID).
		Order("joined_at ASC").
		Order("is_initiator DESC").
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list participants")
	}
	return rows, nil
}

func (r *repository) HasFormingGroup(ctx context.Context, activityID, initiatorID uuid.UUID) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.GroupOrder{}).
		Where("activity_id = ? AND initiator_user_id = ? AND status = ?", activityID, initiatorID, enums.GroupOrderStatusForming).
		Count(&count).Error
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "check forming groups")
	}
	return count > 0, nil
}

func (r *repository) ListExpiredForming(ctx context.Context, now time.Time, limit int) ([]models.GroupOrder, error) {
	var rows []models.GroupOrder
	query := r.db.WithContext(ctx).
		Where("status = ? AND expire_at < ?", enums.GroupOrderStatusForming, now).
		Order("expire_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&rows).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list expired groups")
	}
	return rows, nil
}

// AddMember bumps current_members from expectedMembers by one. When completes
// is set the same statement moves the group to succeeded.
func (r *repository) AddMember(ctx context.Context, id uuid.UUID, expectedMembers int, completes bool, now time.Time) (bool, error) {
	updates := map[string]any{
		"current_members": gorm.Expr("current_members + 1"),
	}
	if completes {
		updates["status"] = enums.GroupOrderStatusSucceeded
		updates["completed_at"] = now
	}
	res := r.db.WithContext(ctx).
		Model(&models.GroupOrder{}).
		Where("id = ? AND status = ? AND current_members = ? AND current_members < required_members",
			id, enums.GroupOrderStatusForming, expectedMembers).
		Updates(updates)
	if res.Error != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeInternal, res.Error, "add group member")
	}
	return res.RowsAffected > 0, nil
}

func (r *repository) MarkFailed(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	return r.transition(r.db.WithContext(ctx).Where("id = ?", id), enums.GroupOrderStatusFailed, now)
}

// MarkCancelled only succeeds while the initiator is the sole member.
func (r *repository) MarkCancelled(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	return r.transition(r.db.WithContext(ctx).Where("id = ? AND current_members = 1", id), enums.GroupOrderStatusCancelled, now)
}

func (r *repository) transition(scope *gorm.DB, to enums.GroupOrderStatus, now time.Time) (bool, error) {
	res := scope.
		Model(&models.GroupOrder{}).
		Where("status IN ?", statemachine.GroupOrder.Sources(to)).
		Updates(map[string]any{
			"status":       to,
			"completed_at": now,
		})
	if res.Error != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeInternal, res.Error, "update group status")
	}
	return res.RowsAffected > 0, nil
}

func (r *repository) SetParticipantOrder(ctx context.Context, participantID, orderID uuid.UUID) error {
	err := r.db.WithContext(ctx).
		Model(&models.GroupParticipant{}).
		Where("id = ?", participantID).
		Update("order_id", orderID).Error
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "link participant order")
	}
	return nil
}

func notFoundOr(err error, notFound, internal string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, notFound)
	}
	return pkgerrors.Wrap(pkgerrors.CodeInternal, err, internal)
}
