package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestSettlementMetricsCountsByOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewSettlementMetrics(reg)
	m.IncPayout(PayoutSettled)
	m.IncPayout(PayoutFailed)
	m.IncPayout(PayoutFailed)
	m.IncReservation(ReservationInsufficient)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	if got, err := fetchCounterValue(mfs, "loyaltyhub_settlement_payout_attempts_total", "outcome", PayoutFailed); err != nil || got != 2 {
		t.Fatalf("expected failed=2, got %f (%v)", got, err)
	}
	if got, err := fetchCounterValue(mfs, "loyaltyhub_settlement_payout_attempts_total", "outcome", PayoutSettled); err != nil || got != 1 {
		t.Fatalf("expected settled=1, got %f (%v)", got, err)
	}
	if got, err := fetchCounterValue(mfs, "loyaltyhub_stock_reservations_total", "outcome", ReservationInsufficient); err != nil || got != 1 {
		t.Fatalf("expected insufficient=1, got %f (%v)", got, err)
	}
}

func TestOutboxMetricsLabelsByEventAndOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewOutboxMetrics(reg)
	m.Inc("settlement_payout_requested", OutboxPublished)
	m.Inc("settlement_payout_requested", OutboxPublished)
	m.Inc("order_paid", OutboxDeadLettered)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	if got, err := fetchCounterValue(mfs, "loyaltyhub_outbox_dispatch_total", "outcome", OutboxPublished); err != nil || got != 2 {
		t.Fatalf("expected published=2, got %f (%v)", got, err)
	}
	if got, err := fetchCounterValue(mfs, "loyaltyhub_outbox_dispatch_total", "event_type", "order_paid"); err != nil || got != 1 {
		t.Fatalf("expected order_paid=1, got %f (%v)", got, err)
	}
}

func TestNilOutboxMetricsIsSafe(t *testing.T) {
	var m *OutboxMetrics
	m.Inc("order_paid", OutboxRetried)
	NewOutboxMetrics(nil).Inc("order_paid", OutboxRetried)
}
