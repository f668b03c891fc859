package orders

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

// Repository defines persistence operations for orders. Mark* methods are
// conditional on the current status and report whether the row moved.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, order *models.Order) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindByNumber(ctx context.Context, orderNumber string) (*models.Order, error)
	ListByGroup(ctx context.Context, groupOrderID uuid.UUID) ([]models.Order, error)
	ListExpiredPending(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error)
	MarkPaid(ctx context.Context, id uuid.UUID, gatewayTxnID string, paidAt time.Time) (bool, error)
	MarkClosed(ctx context.Context, id uuid.UUID, closedAt time.Time) (bool, error)
	MarkRefunded(ctx context.Context, id uuid.UUID, refundedAt time.Time) (bool, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds an order repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, order *models.Order) error {
	return r.db.WithContext(ctx).Create(order).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	return r.findOne(ctx, "id = ?", id)
}

func (r *repository) FindByNumber(ctx context.Context, orderNumber string) (*models.Order, error) {
	return r.findOne(ctx, "order_number = ?", orderNumber)
}

func (r *repository) findOne(ctx context.Context, query string, arg any) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).Where(query, arg).First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load order")
	}
	return &order, nil
}

func (r *repository) ListByGroup(ctx context.Context, groupOrderID uuid.UUID) ([]models.Order, error) {
	var rows []models.Order
	err := r.db.WithContext(ctx).
		Where("group_order_id = ?", groupOrderID).
		Order("created_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list group orders")
	}
	return rows, nil
}

func (r *repository) ListExpiredPending(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error) {
	var rows []models.Order
	query := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", enums.OrderStatusPending, cutoff).
		Order("created_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&rows).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list expired pending orders")
	}
	return rows, nil
}

func (r *repository) MarkPaid(ctx context.Context, id uuid.UUID, gatewayTxnID string, paidAt time.Time) (bool, error) {
	updates := map[string]any{
		"status":  enums.OrderStatusPaid,
		"paid_at": paidAt,
	}
	if gatewayTxnID != "" {
		updates["gateway_txn_id"] = gatewayTxnID
	}
	return r.transition(ctx, id, enums.OrderStatusPaid, updates)
}

func (r *repository) MarkClosed(ctx context.Context, id uuid.UUID, closedAt time.Time) (bool, error) {
	return r.transition(ctx, id, enums.OrderStatusClosed, map[string]any{
		"status":    enums.OrderStatusClosed,
		"closed_at": closedAt,
	})
}

func (r *repository) MarkRefunded(ctx context.Context, id uuid.UUID, refundedAt time.Time) (bool, error) {
	return r.transition(ctx, id, enums.OrderStatusRefunded, map[string]any{
		"status":      enums.OrderStatusRefunded,
		"refunded_at": refundedAt,
	})
}

// transition updates the row only while its status is a legal source for to.
func (r *repository) transition(ctx context.Context, id uuid.UUID, to enums.OrderStatus, updates map[string]any) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND status IN ?", id, statemachine.Order.Sources(to)).
		Updates(updates)
	if res.Error != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeInternal, res.Error, "update order status")
	}
	return res.RowsAffected > 0, nil
}
