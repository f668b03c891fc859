package groupbuy

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/angelmondragon/loyaltyhub-backend/internal/activities"
	"github.com/angelmondragon/loyaltyhub-backend/internal/members"
	"github.com/angelmondragon/loyaltyhub-backend/internal/orders"
	"github.com/angelmondragon/loyaltyhub-backend/internal/vouchers"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/config"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/db/models"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/enums"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/identifiers"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/locks"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/logger"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/outbox"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/payments"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/stock"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/stock/stocktest"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
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

// memLocks emulates SET NX and the owner-checked release script.
type memLocks struct {
	mu   sync.Mutex
	held map[string]string
}

func newMemLocks() *memLocks {
	return &memLocks{held: map[string]string{}}
}

func (m *memLocks) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.held[key]; ok {
		return false, nil
	}
	m.held[key] = fmt.Sprint(value)
	return true, nil
}

func (m *memLocks) RunScript(_ context.Context, _ *redis.Script, keys []string, args ...any) (any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.held[keys[0]] == fmt.Sprint(args[0]) {
		delete(m.held, keys[0])
		return int64(1), nil
	}
	return int64(0), nil
}

func (m *memLocks) LockKey(scope, id string) string {
	return "lock:" + scope + ":" + id
}

// hold pins a lock as if another worker owned it.
func (m *memLocks) hold(scope, id string) {
	m.mu.Lock()
	m.held[m.LockKey(scope, id)] = "someone-else"
	m.mu.Unlock()
}

type fakeGateway struct {
	mu          sync.Mutex
	createCalls int
}

func (g *fakeGateway) CreatePayment(_ context.Context, req payments.PaymentRequest) (*payments.PrepayParams, error) {
	g.mu.Lock()
	g.createCalls++
	g.mu.Unlock()
	return &payments.PrepayParams{PrepayID: "wx-" + req.OrderNumber}, nil
}

func (g *fakeGateway) Refund(context.Context, payments.RefundRequest) (bool, error) {
	return true, nil
}

func (g *fakeGateway) Payout(context.Context, payments.PayoutRequest) (bool, error) {
	return true, nil
}

type harness struct {
	db      *gorm.DB
	svc     *service
	orders  orders.Service
	stock   *stocktest.Store
	locks   *memLocks
	gateway *fakeGateway
	now     time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dsn := fmt.Sprintf("file:groupbuy_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(
		&models.Activity{},
		&models.Order{},
		&models.Voucher{},
		&models.GroupOrder{},
		&models.GroupParticipant{},
		&models.OutboxEvent{},
		&models.MemberSnapshot{},
	))

	logg := logger.New(logger.Options{ServiceName: "groupbuy-test", Output: io.Discard})
	txRunner := dbTxRunner{db: db}
	ids, err := identifiers.NewGenerator(identifiers.Options{NodeID: 1, OrderPrefix: "LH", GroupSalt: "test"})
	require.NoError(t, err)
	outboxSvc := outbox.NewService(outbox.NewRepository(db), logg)

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

	orderSvc, err := orders.NewService(orders.ServiceParams{
		Repo:       orders.NewRepository(db),
		Tx:         txRunner,
		Outbox:     outboxSvc,
		Activities: activitySvc,
		SoldCounts: activityRepo,
		Ledger:     ledger,
		Vouchers:   voucherSvc,
		Gateway:    gateway,
		Numbers:    ids,
		Logger:     logg,
		Config:     config.OrdersConfig{PendingTimeout: 15 * time.Minute},
	})
	require.NoError(t, err)

	lockStore := newMemLocks()
	lockSvc, err := locks.NewService(lockStore, time.Minute)
	require.NoError(t, err)

	svc, err := NewService(ServiceParams{
		Repo:       NewRepository(db),
		Tx:         txRunner,
		Outbox:     outboxSvc,
		Activities: activitySvc,
		Orders:     orderSvc,
		Locks:      lockSvc,
		Numbers:    ids,
		Logger:     logg,
		Config:     config.GroupBuyConfig{AutoRefund: true, SweepBatchSize: 20},
	})
	require.NoError(t, err)

	h := &harness{
		db:      db,
		svc:     svc.(*service),
		orders:  orderSvc,
		stock:   store,
		locks:   lockStore,
		gateway: gateway,
		now:     time.Now().UTC(),
	}
	h.svc.now = func() time.Time { return h.now }
	return h
}

func (h *harness) groupActivity(t *testing.T, limit *int64, required int) *models.Activity {
	t.Helper()
	activity := &models.Activity{
		MerchantID:       uuid.New(),
		Name:             "Hotpot for three",
		Type:             enums.ActivityTypeGroupBuy,
		Status:           enums.ActivityStatusActive,
		Stock:            limit,
		StartAt:          h.now.Add(-time.Hour),
		EndAt:            h.now.Add(48 * time.Hour),
		PricingConfig:    []byte(fmt.Sprintf(`{"group_price":"59.9","original_price":"99","required_members":%d,"expire_minutes":60,"valid_days":14}`, required)),
		TargetMemberType: enums.MemberTargetingAll,
	}
	require.NoError(t, h.db.Create(activity).Error)
	return activity
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

func (h *harness) reloadGroup(t *testing.T, id uuid.UUID) *models.GroupOrder {
	t.Helper()
	group, err := h.svc.repo.FindWithParticipants(context.Background(), id)
	require.NoError(t, err)
	return group
}

func int64Ptr(v int64) *int64 { return &v }
