package payments

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/angelmondragon/loyaltyhub-backend/pkg/db/models"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/loyaltyhub-backend/pkg/errors"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/logger"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/outbox"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/outbox/idempotency"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/statemachine"
	"github.com/google/uuid"
)

type memStore struct {
	mu   sync.Mutex
	keys map[string]string
}

func (s *memStore) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.keys[key], nil
}

func (s *memStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keys[key]; ok {
		return false, nil
	}
	s.keys[key] = "1"
	return true, nil
}

func (s *memStore) IdempotencyKey(scope, id string) string {
	return "lh:idempotency:" + scope + ":" + id
}

func (s *memStore) Del(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		delete(s.keys, key)
	}
	return nil
}

type stubRefunds struct {
	calls  []uuid.UUID
	refund func(orderID uuid.UUID) error
}

func (s *stubRefunds) RefundOrder(_ context.Context, orderID uuid.UUID, _ string) error {
	s.calls = append(s.calls, orderID)
	if s.refund != nil {
		return s.refund(orderID)
	}
	return nil
}

type stubPayouts struct {
	calls  int
	payout func(id uuid.UUID) (*models.SettlementRecord, error)
}

func (s *stubPayouts) ExecutePayout(_ context.Context, id uuid.UUID) (*models.SettlementRecord, error) {
	s.calls++
	if s.payout != nil {
		return s.payout(id)
	}
	return &models.SettlementRecord{ID: id, Status: enums.SettlementStatusSettled}, nil
}

func newTestConsumer(t *testing.T, refunds *stubRefunds, payouts *stubPayouts) *Consumer {
	t.Helper()
	manager, err := idempotency.NewManager(&memStore{keys: map[string]string{}}, time.Hour)
	if err != nil {
		t.Fatalf("idempotency manager: %v", err)
	}
	return &Consumer{
		refunds:     refunds,
		payouts:     payouts,
		idempotency: manager,
		logg:        logger.New(logger.Options{ServiceName: "payments-test", Output: io.Discard}),
	}
}

func message(t *testing.T, eventType enums.OutboxEventType, eventID uuid.UUID, data any) (map[string]string, []byte) {
	t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	body, err := json.Marshal(outbox.PayloadEnvelope{Version: 1, EventID: eventID.String(), OccurredAt: time.Now(), Data: raw})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return map[string]string{"event_type": string(eventType)}, body
}

func TestConsumerRefundsOnce(t *testing.T) {
	refunds := &stubRefunds{}
	c := newTestConsumer(t, refunds, &stubPayouts{})
	orderID := uuid.New()
	attrs, body := message(t, enums.EventOrderRefundRequested, uuid.New(), payloads.OrderRefundRequestedEvent{OrderID: orderID, Reason: "group buy did not form"})

	if res := c.process(context.Background(), "m1", attrs, body); !res.ack {
		t.Fatalf("expected ack, got %+v", res)
	}
	if res := c.process(context.Background(), "m1", attrs, body); !res.ack {
		t.Fatalf("expected ack on redelivery, got %+v", res)
	}
	if len(refunds.calls) != 1 || refunds.calls[0] != orderID {
		t.Fatalf("expected one refund for %s, got %v", orderID, refunds.calls)
	}
}

func TestConsumerRetriesTransientRefundFailure(t *testing.T) {
	attempts := 0
	refunds := &stubRefunds{refund: func(uuid.UUID) error {
		attempts++
		if attempts == 1 {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, errors.New("gateway timeout"), "refund")
		}
		return nil
	}}
	c := newTestConsumer(t, refunds, &stubPayouts{})
	attrs, body := message(t, enums.EventOrderRefundRequested, uuid.New(), payloads.OrderRefundRequestedEvent{OrderID: uuid.New()})

	if res := c.process(context.Background(), "m1", attrs, body); !res.nack {
		t.Fatalf("expected nack on dependency failure, got %+v", res)
	}
	if res := c.process(context.Background(), "m1", attrs, body); !res.ack {
		t.Fatalf("expected ack after retry, got %+v", res)
	}
	if attempts != 2 {
		t.Fatalf("expected two attempts, got %d", attempts)
	}
}

func TestConsumerDropsStateConflicts(t *testing.T) {
	refunds := &stubRefunds{refund: func(uuid.UUID) error {
		return pkgerrors.StateConflict(statemachine.ReasonOrderNotPaid, "order is closed")
	}}
	c := newTestConsumer(t, refunds, &stubPayouts{})
	attrs, body := message(t, enums.EventOrderRefundRequested, uuid.New(), payloads.OrderRefundRequestedEvent{OrderID: uuid.New()})

	if res := c.process(context.Background(), "m1", attrs, body); !res.ack {
		t.Fatalf("expected ack for non-retryable failure, got %+v", res)
	}
}

func TestConsumerExecutesPayout(t *testing.T) {
	payouts := &stubPayouts{}
	c := newTestConsumer(t, &stubRefunds{}, payouts)
	attrs, body := message(t, enums.EventSettlementPayoutRequested, uuid.New(), payloads.SettlementPayoutRequestedEvent{SettlementID: uuid.New()})

	if res := c.process(context.Background(), "m1", attrs, body); !res.ack {
		t.Fatalf("expected ack, got %+v", res)
	}
	if payouts.calls != 1 {
		t.Fatalf("expected one payout, got %d", payouts.calls)
	}
}

func TestConsumerRequeuesBusyPayout(t *testing.T) {
	payouts := &stubPayouts{payout: func(uuid.UUID) (*models.SettlementRecord, error) {
		return nil, pkgerrors.New(pkgerrors.CodeTooFrequent, "settlement_payout busy")
	}}
	c := newTestConsumer(t, &stubRefunds{}, payouts)
	attrs, body := message(t, enums.EventSettlementPayoutRequested, uuid.New(), payloads.SettlementPayoutRequestedEvent{SettlementID: uuid.New()})

	if res := c.process(context.Background(), "m1", attrs, body); !res.nack {
		t.Fatalf("expected nack, got %+v", res)
	}
	if res := c.process(context.Background(), "m1", attrs, body); !res.nack {
		t.Fatalf("expected the retry to run again, got %+v", res)
	}
	if payouts.calls != 2 {
		t.Fatalf("expected two attempts, got %d", payouts.calls)
	}
}

func TestConsumerSkipsOtherEvents(t *testing.T) {
	refunds := &stubRefunds{}
	c := newTestConsumer(t, refunds, &stubPayouts{})
	attrs, body := message(t, enums.EventOrderPaid, uuid.New(), payloads.OrderPaidEvent{})

	if res := c.process(context.Background(), "m1", attrs, body); !res.ack {
		t.Fatalf("expected ack, got %+v", res)
	}
	if len(refunds.calls) != 0 {
		t.Fatalf("expected no refunds")
	}
}

func TestConsumerAcksMalformedEnvelope(t *testing.T) {
	c := newTestConsumer(t, &stubRefunds{}, &stubPayouts{})
	attrs := map[string]string{"event_type": string(enums.EventOrderRefundRequested)}
	if res := c.process(context.Background(), "m1", attrs, []byte("{not json")); !res.ack {
		t.Fatalf("expected ack, got %+v", res)
	}
}
