package metrics

import "github.com/prometheus/client_golang/prometheus"

// Payout outcomes.
const (
	PayoutSettled  = "settled"
	PayoutFailed   = "failed"
	PayoutRejected = "rejected"
	PayoutSkipped  = "skipped"
)

// Stock reservation outcomes.
const (
	ReservationGranted      = "granted"
	ReservationInsufficient = "insufficient"
	ReservationReleased     = "released"
)

// SettlementMetrics tracks money movement and stock gating.
type SettlementMetrics struct {
	payouts      *prometheus.CounterVec
	reservations *prometheus.CounterVec
}

// NewSettlementMetrics registers payout and reservation counters.
func NewSettlementMetrics(reg prometheus.Registerer) *SettlementMetrics {
	if reg == nil {
		return &SettlementMetrics{}
	}
	payouts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "settlement_payout_attempts_total",
		Help:      "Payout attempts by outcome.",
	}, []string{"outcome"})
	reservations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stock_reservations_total",
		Help:      "Stock ledger operations by outcome.",
	}, []string{"outcome"})
	reg.MustRegister(payouts, reservations)
	return &SettlementMetrics{payouts: payouts, reservations: reservations}
}

func (m *SettlementMetrics) IncPayout(outcome string) {
	if m == nil || m.payouts == nil {
		return
	}
	m.payouts.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func (m *SettlementMetrics) IncReservation(outcome string) {
	if m == nil || m.reservations == nil {
		return
	}
	m.reservations.WithLabelValues(normalizeLabel(outcome)).Inc()
}
