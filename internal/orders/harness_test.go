package orders

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/angelmondragon/loyaltyhub-backend/internal/activities"
	"github.com/angelmondragon/loyaltyhub-backend/internal/members"
	"github.com/angelmondragon/loyaltyhub-backend/internal/vouchers"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/config"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/db/models"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/enums"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/logger"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/outbox"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/payments"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/stock"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/stock/stocktest"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type dbTxRunner struct {
	db *gorm.DB
}

func (r dbTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}

type sequenceNumbers struct {
	n atomic.Int64
}

func (s *sequenceNumbers) OrderNumber() string {
	return fmt.Sprintf("LH%020d", s.n.Add(1))
}

type fakeGateway struct {
	mu             sync.Mutex
	createCalls    int
	refundCalls    int
	lastRefund     payments.RefundRequest
	createErr      error
	refundErr      error
	refundRejected bool
}

func (g *fakeGateway) CreatePayment(_ context.Context, req payments.PaymentRequest) (*payments.PrepayParams, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.createCalls++
	if g.createErr != nil {
		return nil, g.createErr
	}
	return &payments.PrepayParams{PrepayID: "wx-" + req.OrderNumber, SignType: "RSA"}, nil
}

func (g *fakeGateway) Refund(_ context.Context, req payments.RefundRequest) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.refundCalls++
	g.lastRefund = req
	if g.refundErr != nil {
		return false, g.refundErr
	}
	return !g.refundRejected, nil
}

func (g *fakeGateway) Payout(context.Context, payments.PayoutRequest) (bool, error) {
	return true, nil
}

type harness struct {
	db      *gorm.DB
	svc     *service
	stock   *stocktest.Store
	gateway *fakeGateway
	now     time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dsn := fmt.Sprintf("file:orders_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	// sqlite serialises writers; one connection keeps concurrent tests from
	// failing on table locks while the ledger still sees real contention.
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(
		&models.Activity{},
		&models.Order{},
		&models.Voucher{},
		&models.OutboxEvent{},
		&models.MemberSnapshot{},
	))

	logg := logger.New(logger.Options{ServiceName: "orders-test", Output: io.Discard})
	txRunner := dbTxRunner{db: db}
	activityRepo := activities.NewRepository(db)
	memberSvc, err := members.NewService(members.NewRepository(db))
	require.NoError(t, err)
	activitySvc, err := activities.NewService(activityRepo, memberSvc)
	require.NoError(t, err)
	voucherSvc, err := vouchers.NewService(vouchers.NewRepository(db), txRunner, activityRepo)
	require.NoError(t, err)
	store := stocktest.New()
	ledger, err := stock.NewLedger(store)
	require.NoError(t, err)
	gateway := &fakeGateway{}

	svc, err := NewService(ServiceParams{
		Repo:       NewRepository(db),
		Tx:         txRunner,
		Outbox:     outbox.NewService(outbox.NewRepository(db), logg),
		Activities: activitySvc,
		SoldCounts: activityRepo,
		Ledger:     ledger,
		Vouchers:   voucherSvc,
		Gateway:    gateway,
		Numbers:    &sequenceNumbers{},
		Logger:     logg,
		Config:     config.OrdersConfig{PendingTimeout: 15 * time.Minute, SweepBatchSize: 50},
	})
	require.NoError(t, err)

	h := &harness{db: db, svc: svc.(*service), stock: store, gateway: gateway, now: time.Now().UTC()}
	h.svc.now = func() time.Time { return h.now }
	return h
}

func (h *harness) seedActivity(t *testing.T, typ enums.ActivityType, stockCap *int64, pricing string) *models.Activity {
	t.Helper()
	activity := &models.Activity{
		MerchantID:       uuid.New(),
		Name:             "Weekend brunch",
		Type:             typ,
		Status:           enums.ActivityStatusActive,
		Stock:            stockCap,
		StartAt:          time.Now().UTC().Add(-time.Hour),
		EndAt:            time.Now().UTC().Add(24 * time.Hour),
		PricingConfig:    []byte(pricing),
		TargetMemberType: enums.MemberTargetingAll,
	}
	require.NoError(t, h.db.Create(activity).Error)
	return activity
}

func (h *harness) voucherActivity(t *testing.T, limit int64) *models.Activity {
	return h.seedActivity(t, enums.ActivityTypeVoucher, &limit, `{"selling_price":"80","face_value":"100","valid_days":30}`)
}

func (h *harness) ledgerCount(t *testing.T, activityID uuid.UUID) int64 {
	t.Helper()
	count, ok := h.stock.Count(activityID.String())
	require.True(t, ok, "ledger counter not seeded")
	return count
}

func (h *harness) countRows(t *testing.T, model any, query string, args ...any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, h.db.Model(model).Where(query, args...).Count(&n).Error)
	return n
}

func (h *harness) reloadOrder(t *testing.T, id uuid.UUID) *models.Order {
	t.Helper()
	order, err := h.svc.repo.FindByID(context.Background(), id)
	require.NoError(t, err)
	return order
}

func (h *harness) reloadActivity(t *testing.T, id uuid.UUID) *models.Activity {
	t.Helper()
	var activity models.Activity
	require.NoError(t, h.db.First(&activity, "id = ?", id).Error)
	return &activity
}
