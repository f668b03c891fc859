package settlement

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/angelmondragon/loyaltyhub-backend/internal/activities"
	"github.com/angelmondragon/loyaltyhub-backend/internal/groupbuy"
	"github.com/angelmondragon/loyaltyhub-backend/internal/members"
	"github.com/angelmondragon/loyaltyhub-backend/internal/merchants"
	"github.com/angelmondragon/loyaltyhub-backend/internal/orders"
	"github.com/angelmondragon/loyaltyhub-backend/internal/vouchers"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/config"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/db/models"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/enums"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/locks"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/logger"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/outbox"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/payments"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
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

type memLocks struct {
	mu   sync.Mutex
	held map[string]string
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

type fakeGateway struct {
	mu       sync.Mutex
	calls    []payments.PayoutRequest
	err      error
	rejected bool
}

func (g *fakeGateway) CreatePayment(context.Context, payments.PaymentRequest) (*payments.PrepayParams, error) {
	return &payments.PrepayParams{}, nil
}

func (g *fakeGateway) Refund(context.Context, payments.RefundRequest) (bool, error) {
	return true, nil
}

func (g *fakeGateway) Payout(_ context.Context, req payments.PayoutRequest) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, req)
	if g.err != nil {
		return false, g.err
	}
	return !g.rejected, nil
}

func (g *fakeGateway) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

type countingMetrics struct {
	mu      sync.Mutex
	payouts map[string]int
}

func (m *countingMetrics) IncPayout(outcome string) {
	m.mu.Lock()
	m.payouts[outcome]++
	m.mu.Unlock()
}

type harness struct {
	db      *gorm.DB
	svc     *service
	gateway *fakeGateway
	metrics *countingMetrics
	now     time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dsn := fmt.Sprintf("file:settlement_%s?mode=memory&cache=shared", uuid.NewString())
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
		&models.VerificationRecord{},
		&models.SettlementRecord{},
		&models.OutboxEvent{},
		&models.MemberSnapshot{},
		&models.MerchantProfile{},
	))

	logg := logger.New(logger.Options{ServiceName: "settlement-test", Output: io.Discard})
	merchantSvc, err := merchants.NewService(merchants.NewRepository(db), decimal.RequireFromString("0.006"))
	require.NoError(t, err)
	memberSvc, err := members.NewService(members.NewRepository(db))
	require.NoError(t, err)
	lockSvc, err := locks.NewService(&memLocks{held: map[string]string{}}, time.Minute)
	require.NoError(t, err)
	gateway := &fakeGateway{}
	counter := &countingMetrics{payouts: map[string]int{}}

	svc, err := NewService(ServiceParams{
		Repo:       NewRepository(db),
		Tx:         dbTxRunner{db: db},
		Outbox:     outbox.NewService(outbox.NewRepository(db), logg),
		Vouchers:   vouchers.NewRepository(db),
		Orders:     orders.NewRepository(db),
		Groups:     groupbuy.NewRepository(db),
		Activities: activities.NewRepository(db),
		Merchants:  merchantSvc,
		Members:    memberSvc,
		Gateway:    gateway,
		Locks:      lockSvc,
		Metrics:    counter,
		Logger:     logg,
		Config: config.SettlementConfig{
			MaxRetries:       3,
			RetryBatchSize:   10,
			RetryConcurrency: 2,
			PayoutTimeout:    time.Second,
		},
	})
	require.NoError(t, err)

	h := &harness{db: db, svc: svc.(*service), gateway: gateway, metrics: counter, now: time.Now().UTC()}
	h.svc.now = func() time.Time { return h.now }
	return h
}

func (h *harness) seedMerchant(t *testing.T, rate string, account string) uuid.UUID {
	t.Helper()
	profile := models.MerchantProfile{
		MerchantID:    uuid.New(),
		Name:          "Noodle Bar",
		PayoutAccount: account,
	}
	if rate != "" {
		profile.FeeRate = decimal.NewNullDecimal(decimal.RequireFromString(rate))
	}
	require.NoError(t, h.db.Create(&profile).Error)
	return profile.MerchantID
}

func (h *harness) seedActivity(t *testing.T, merchantID uuid.UUID, targeting enums.MemberTargeting) *models.Activity {
	t.Helper()
	activity := &models.Activity{
		MerchantID:       merchantID,
		Name:             "Lunch set",
		Type:             enums.ActivityTypeVoucher,
		Status:           enums.ActivityStatusActive,
		StartAt:          h.now.Add(-24 * time.Hour),
		EndAt:            h.now.Add(24 * time.Hour),
		PricingConfig:    []byte(`{"selling_price":"80","face_value":"100","valid_days":30}`),
		TargetMemberType: targeting,
	}
	require.NoError(t, h.db.Create(activity).Error)
	return activity
}

type voucherSeed struct {
	payAmount string
	groupID   *uuid.UUID
	noOrder   bool
	status    enums.VoucherStatus
	validTo   time.Time
	targeting enums.MemberTargeting
}

// seedVoucher writes an activity, a paid order and its voucher for merchantID.
func (h *harness) seedVoucher(t *testing.T, merchantID uuid.UUID, seed voucherSeed) *models.Voucher {
	t.Helper()
	if seed.targeting == "" {
		seed.targeting = enums.MemberTargetingAll
	}
	if seed.status == "" {
		seed.status = enums.VoucherStatusUnused
	}
	if seed.validTo.IsZero() {
		seed.validTo = h.now.Add(72 * time.Hour)
	}
	if seed.payAmount == "" {
		seed.payAmount = "80"
	}
	activity := h.seedActivity(t, merchantID, seed.targeting)
	userID := uuid.New()
	voucher := &models.Voucher{
		Code:       strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:12],
		UserID:     userID,
		MerchantID: merchantID,
		ActivityID: activity.ID,
		Type:       activity.Type,
		FaceValue:  decimal.RequireFromString(seed.payAmount),
		Status:     seed.status,
		ValidFrom:  h.now.Add(-time.Hour),
		ValidUntil: seed.validTo,
	}
	if !seed.noOrder {
		txn := "wx-txn-" + uuid.NewString()[:8]
		paidAt := h.now.Add(-time.Hour)
		order := &models.Order{
			OrderNumber:  "LH" + uuid.NewString()[:12],
			UserID:       userID,
			MerchantID:   merchantID,
			ActivityID:   activity.ID,
			Type:         activity.Type,
			Quantity:     1,
			OrderAmount:  decimal.NewFromInt(100),
			PayAmount:    decimal.RequireFromString(seed.payAmount),
			Status:       enums.OrderStatusPaid,
			GroupOrderID: seed.groupID,
			GatewayTxnID: &txn,
			PaidAt:       &paidAt,
		}
		require.NoError(t, h.db.Create(order).Error)
		voucher.OrderID = &order.ID
	}
	require.NoError(t, h.db.Create(voucher).Error)
	return voucher
}

func (h *harness) seedSettlement(t *testing.T, merchantID uuid.UUID, status enums.SettlementStatus, retries int) *models.SettlementRecord {
	t.Helper()
	voucher := h.seedVoucher(t, merchantID, voucherSeed{status: enums.VoucherStatusUsed})
	var order models.Order
	require.NoError(t, h.db.First(&order, "id = ?", *voucher.OrderID).Error)
	fee, payout := SplitFee(order.PayAmount, decimal.RequireFromString("0.05"))
	record := &models.SettlementRecord{
		OrderNumber:  &order.OrderNumber,
		VoucherID:    voucher.ID,
		MerchantID:   merchantID,
		GrossAmount:  order.PayAmount,
		FeeRate:      decimal.RequireFromString("0.05"),
		FeeAmount:    fee,
		PayoutAmount: payout,
		Status:       status,
		RetryCount:   retries,
	}
	require.NoError(t, h.db.Create(record).Error)
	return record
}

func (h *harness) reloadSettlement(t *testing.T, id uuid.UUID) *models.SettlementRecord {
	t.Helper()
	record, err := h.svc.repo.FindByID(context.Background(), id)
	require.NoError(t, err)
	return record
}

func (h *harness) countRows(t *testing.T, model any, query string, args ...any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, h.db.Model(model).Where(query, args...).Count(&n).Error)
	return n
}
