package routes

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	internalorders "github.com/angelmondragon/loyaltyhub-backend/internal/orders"
	wechatpaywebhook "github.com/angelmondragon/loyaltyhub-backend/internal/webhooks/wechatpay"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/auth"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/config"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/db/models"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/loyaltyhub-backend/pkg/errors"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/payments"
)

type stubPinger struct{}

func (stubPinger) Ping(context.Context) error {
	return nil
}

type memRedis struct {
	data map[string]string
}

func newMemRedis() *memRedis {
	return &memRedis{data: map[string]string{}}
}

func (m *memRedis) Get(_ context.Context, key string) (string, error) {
	if v, ok := m.data[key]; ok {
		return v, nil
	}
	return "", goredis.Nil
}

func (m *memRedis) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	if _, ok := m.data[key]; ok {
		return false, nil
	}
	m.data[key] = fmt.Sprint(value)
	return true, nil
}

func (m *memRedis) Del(_ context.Context, keys ...string) error {
	for _, key := range keys {
		delete(m.data, key)
	}
	return nil
}

func (m *memRedis) IdempotencyKey(scope, id string) string {
	return "lh:idempotency:" + scope + ":" + id
}

func (m *memRedis) Ping(context.Context) error {
	return nil
}

type stubOrderService struct {
	calls int
}

func (s *stubOrderService) CreateOrder(ctx context.Context, input internalorders.CreateOrderInput) (*models.Order, error) {
	s.calls++
	return &models.Order{
		ID:          uuid.New(),
		OrderNumber: "20260601120000000001",
		UserID:      input.UserID,
		ActivityID:  input.ActivityID,
		Type:        enums.ActivityTypeVoucher,
		Quantity:    input.Quantity,
		OrderAmount: decimal.NewFromInt(100),
		PayAmount:   decimal.NewFromInt(90),
		Status:      enums.OrderStatusPending,
	}, nil
}

func (s *stubOrderService) RequestPayment(ctx context.Context, input internalorders.RequestPaymentInput) (*internalorders.PaymentResult, error) {
	return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
}

func (s *stubOrderService) CancelOrder(ctx context.Context, orderID, userID uuid.UUID) (*models.Order, error) {
	return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
}

type rejectingParser struct{}

func (rejectingParser) ParseCallback(ctx context.Context, r *http.Request) (*payments.Callback, error) {
	return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "signature mismatch")
}

type stubNotifyService struct {
	calls int
}

func (s *stubNotifyService) HandleCallback(context.Context, *payments.Callback) error {
	s.calls++
	return nil
}

func testConfig() *config.Config {
	return &config.Config{
		App: config.AppConfig{Env: "dev", CORSOrigins: []string{"http://localhost:3000"}},
		JWT: config.JWTConfig{Secret: "router-secret", Issuer: "loyaltyhub"},
	}
}

func bearer(t *testing.T, cfg *config.Config, role enums.ActorRole) string {
	t.Helper()
	payload := auth.AccessTokenPayload{UserID: uuid.New(), Role: role, JTI: uuid.NewString()}
	if role == enums.ActorRoleMerchant {
		merchantID := uuid.New()
		payload.MerchantID = &merchantID
	}
	token, err := auth.MintAccessToken(cfg.JWT, time.Now(), time.Hour, payload)
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return "Bearer " + token
}

func newTestRouter(t *testing.T, orders *stubOrderService) (http.Handler, *config.Config) {
	t.Helper()
	router, cfg, _ := newTestRouterWithNotify(t, orders)
	return router, cfg
}

func newTestRouterWithNotify(t *testing.T, orders *stubOrderService) (http.Handler, *config.Config, *stubNotifyService) {
	t.Helper()
	cfg := testConfig()
	store := newMemRedis()
	guard, err := wechatpaywebhook.NewIdempotencyGuard(store, time.Hour, "wechatpay")
	if err != nil {
		t.Fatalf("guard: %v", err)
	}
	notify := &stubNotifyService{}
	return NewRouter(cfg, nil, stubPinger{}, store, Services{
		Orders:        orders,
		PaymentNotify: notify,
		NotifyParser:  rejectingParser{},
		NotifyGuard:   guard,
	}), cfg, notify
}

func TestHealthRoutes(t *testing.T) {
	router, _ := newTestRouter(t, &stubOrderService{})
	for _, path := range []string{"/health/live", "/health/ready"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200 got %d", path, rec.Code)
		}
	}
}

func TestMetricsRoute(t *testing.T) {
	router, _ := newTestRouter(t, &stubOrderService{})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
}

func TestAPIRequiresToken(t *testing.T) {
	router, _ := newTestRouter(t, &stubOrderService{})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/orders", strings.NewReader(`{}`)))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", rec.Code)
	}
}

func TestCreateOrderReplaysWithIdempotencyKey(t *testing.T) {
	orders := &stubOrderService{}
	router, cfg := newTestRouter(t, orders)
	token := bearer(t, cfg, enums.ActorRoleMember)
	body := `{"activity_id":"` + uuid.NewString() + `","quantity":1}`

	var first string
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/orders", strings.NewReader(body))
		req.Header.Set("Authorization", token)
		req.Header.Set("Idempotency-Key", "order-create-1")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code != http.StatusCreated {
			t.Fatalf("attempt %d: expected 201 got %d (%s)", i, rec.Code, rec.Body.String())
		}
		if i == 0 {
			first = rec.Body.String()
		} else if rec.Body.String() != first {
			t.Fatalf("expected replayed body")
		}
	}
	if orders.calls != 1 {
		t.Fatalf("expected service called once, got %d", orders.calls)
	}
}

func TestRoleGates(t *testing.T) {
	router, cfg := newTestRouter(t, &stubOrderService{})
	cases := []struct {
		role enums.ActorRole
		path string
	}{
		{role: enums.ActorRoleMember, path: "/api/admin/activities"},
		{role: enums.ActorRoleMember, path: "/api/merchant/verifications"},
		{role: enums.ActorRoleMerchant, path: "/api/orders"},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodPost, tc.path, strings.NewReader(`{}`))
		req.Header.Set("Authorization", bearer(t, cfg, tc.role))
		req.Header.Set("Idempotency-Key", uuid.NewString())
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code != http.StatusForbidden {
			t.Fatalf("%s as %s: expected 403 got %d", tc.path, tc.role, rec.Code)
		}
	}
}

func TestWechatPayNotifyIsPublic(t *testing.T) {
	router, _, notify := newTestRouterWithNotify(t, &stubOrderService{})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhooks/wechatpay/notify", strings.NewReader(`{}`)))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected signature failure status 401 got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"code":"FAIL"`) {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}
	if notify.calls != 0 {
		t.Fatalf("rejected notification reached the service")
	}
}
