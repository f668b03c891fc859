package groups

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/loyaltyhub-backend/api/middleware"
	"github.com/angelmondragon/loyaltyhub-backend/internal/groupbuy"
	internalorders "github.com/angelmondragon/loyaltyhub-backend/internal/orders"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/db/models"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/loyaltyhub-backend/pkg/errors"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/statemachine"
)

type stubGroupService struct {
	initiate func(ctx context.Context, input groupbuy.InitiateGroupInput) (*models.GroupOrder, error)
	join     func(ctx context.Context, groupID, userID uuid.UUID) (*groupbuy.JoinResult, error)
	cancel   func(ctx context.Context, groupID, userID uuid.UUID) (*models.GroupOrder, error)
	pay      func(ctx context.Context, input groupbuy.GroupPaymentInput) (*groupbuy.GroupPaymentResult, error)
	get      func(ctx context.Context, groupID uuid.UUID) (*models.GroupOrder, error)
}

func (s *stubGroupService) InitiateGroup(ctx context.Context, input groupbuy.InitiateGroupInput) (*models.GroupOrder, error) {
	return s.initiate(ctx, input)
}

func (s *stubGroupService) JoinGroup(ctx context.Context, groupID, userID uuid.UUID) (*groupbuy.JoinResult, error) {
	return s.join(ctx, groupID, userID)
}

func (s *stubGroupService) CancelGroup(ctx context.Context, groupID, userID uuid.UUID) (*models.GroupOrder, error) {
	return s.cancel(ctx, groupID, userID)
}

func (s *stubGroupService) RequestGroupPayment(ctx context.Context, input groupbuy.GroupPaymentInput) (*groupbuy.GroupPaymentResult, error) {
	return s.pay(ctx, input)
}

func (s *stubGroupService) GetGroup(ctx context.Context, groupID uuid.UUID) (*models.GroupOrder, error) {
	return s.get(ctx, groupID)
}

func newRouter(svc GroupService) http.Handler {
	r := chi.NewRouter()
	r.Post("/api/groups", Initiate(svc, nil))
	r.Get("/api/groups/{groupID}", Get(svc, nil))
	r.Post("/api/groups/{groupID}/join", Join(svc, nil))
	r.Post("/api/groups/{groupID}/cancel", Cancel(svc, nil))
	r.Post("/api/groups/{groupID}/pay", Pay(svc, nil))
	return r
}

func authedRequest(method, url, body string, userID uuid.UUID) *http.Request {
	req := httptest.NewRequest(method, url, strings.NewReader(body))
	return req.WithContext(middleware.WithUserID(req.Context(), userID.String()))
}

func formingGroup(id uuid.UUID, members int) *models.GroupOrder {
	return &models.GroupOrder{
		ID:              id,
		GroupNumber:     "g7Xk2Q",
		RequiredMembers: 3,
		CurrentMembers:  members,
		Status:          enums.GroupOrderStatusForming,
		ExpireAt:        time.Now().Add(time.Hour),
	}
}

func TestInitiateGroup(t *testing.T) {
	userID := uuid.New()
	activityID := uuid.New()
	svc := &stubGroupService{initiate: func(ctx context.Context, input groupbuy.InitiateGroupInput) (*models.GroupOrder, error) {
		if input.UserID != userID || input.ActivityID != activityID {
			t.Fatalf("unexpected input %+v", input)
		}
		return formingGroup(uuid.New(), 1), nil
	}}

	rec := httptest.NewRecorder()
	newRouter(svc).ServeHTTP(rec, authedRequest(http.MethodPost, "/api/groups", `{"activity_id":"`+activityID.String()+`"}`, userID))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d (%s)", rec.Code, rec.Body.String())
	}
	var body struct {
		Data GroupResponse `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Data.CurrentMembers != 1 || body.Data.Status != "forming" {
		t.Fatalf("unexpected response %+v", body.Data)
	}
}

func TestJoinGroupFullReturnsStateConflict(t *testing.T) {
	groupID := uuid.New()
	svc := &stubGroupService{join: func(ctx context.Context, id, userID uuid.UUID) (*groupbuy.JoinResult, error) {
		return nil, pkgerrors.StateConflict(statemachine.ReasonGroupFull, "group is full")
	}}

	rec := httptest.NewRecorder()
	newRouter(svc).ServeHTTP(rec, authedRequest(http.MethodPost, "/api/groups/"+groupID.String()+"/join", "", uuid.New()))
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), statemachine.ReasonGroupFull) {
		t.Fatalf("expected reason in body, got %s", rec.Body.String())
	}
}

func TestJoinGroupBusyReturns429(t *testing.T) {
	svc := &stubGroupService{join: func(context.Context, uuid.UUID, uuid.UUID) (*groupbuy.JoinResult, error) {
		return nil, pkgerrors.New(pkgerrors.CodeTooFrequent, "group busy")
	}}
	rec := httptest.NewRecorder()
	newRouter(svc).ServeHTTP(rec, authedRequest(http.MethodPost, "/api/groups/"+uuid.NewString()+"/join", "", uuid.New()))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 got %d", rec.Code)
	}
}

func TestGetGroupIncludesParticipants(t *testing.T) {
	groupID := uuid.New()
	group := formingGroup(groupID, 2)
	group.Participants = []models.GroupParticipant{{UserID: uuid.New(), IsInitiator: true}, {UserID: uuid.New()}}
	svc := &stubGroupService{get: func(ctx context.Context, id uuid.UUID) (*models.GroupOrder, error) {
		return group, nil
	}}

	rec := httptest.NewRecorder()
	newRouter(svc).ServeHTTP(rec, authedRequest(http.MethodGet, "/api/groups/"+groupID.String(), "", uuid.New()))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
	var body struct {
		Data GroupResponse `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Data.Participants) != 2 || !body.Data.Participants[0].IsInitiator {
		t.Fatalf("unexpected participants %+v", body.Data.Participants)
	}
}

func TestCancelAndPay(t *testing.T) {
	userID := uuid.New()
	groupID := uuid.New()
	svc := &stubGroupService{
		cancel: func(ctx context.Context, id, uid uuid.UUID) (*models.GroupOrder, error) {
			g := formingGroup(id, 1)
			g.Status = enums.GroupOrderStatusCancelled
			return g, nil
		},
		pay: func(ctx context.Context, input groupbuy.GroupPaymentInput) (*groupbuy.GroupPaymentResult, error) {
			if input.GroupOrderID != groupID || input.PayerRef != "openid" || input.UserID != userID {
				t.Fatalf("unexpected input %+v", input)
			}
			return &groupbuy.GroupPaymentResult{Payment: &internalorders.PaymentResult{Order: &models.Order{OrderNumber: "LH9"}}}, nil
		},
	}

	rec := httptest.NewRecorder()
	newRouter(svc).ServeHTTP(rec, authedRequest(http.MethodPost, "/api/groups/"+groupID.String()+"/cancel", "", userID))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"cancelled"`) {
		t.Fatalf("unexpected cancel response %d %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	newRouter(svc).ServeHTTP(rec, authedRequest(http.MethodPost, "/api/groups/"+groupID.String()+"/pay", `{"payer_ref":"openid"}`, userID))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "LH9") {
		t.Fatalf("unexpected pay response %d %s", rec.Code, rec.Body.String())
	}
}
