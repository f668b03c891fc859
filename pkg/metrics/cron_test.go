package metrics

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestCronJobMetricsRecordsOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewCronJobMetrics(reg)
	m.now = func() time.Time { return time.Unix(1_740_000_000, 0) }
	job := "close-expired-orders"

	m.Ran(job, 250*time.Millisecond, nil)
	m.Ran(job, time.Second, errors.New("db down"))
	m.NotRun(job, CronSkipped)
	m.NotRun(job, CronSkipped)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for outcome, want := range map[string]float64{CronCompleted: 1, CronFailed: 1, CronSkipped: 2} {
		got, err := fetchCounterValue(mfs, "loyaltyhub_cron_runs_total", "outcome", outcome)
		if err != nil || got != want {
			t.Fatalf("%s: expected %v got %v (%v)", outcome, want, got, err)
		}
	}
	if got, err := fetchHistogramSum(mfs, "loyaltyhub_cron_run_duration_seconds", "job", job); err != nil || got != 1.25 {
		t.Fatalf("expected duration sum 1.25, got %v (%v)", got, err)
	}
	last := findMetricFamily(mfs, "loyaltyhub_cron_last_success_timestamp_seconds")
	if last == nil || last.GetMetric()[0].GetGauge().GetValue() != 1_740_000_000 {
		t.Fatalf("unexpected last success gauge %+v", last)
	}
}

func TestFailedRunDoesNotAdvanceLastSuccess(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewCronJobMetrics(reg)
	m.Ran("voucher-expiry", time.Millisecond, errors.New("boom"))

	mfs, _ := reg.Gather()
	if findMetricFamily(mfs, "loyaltyhub_cron_last_success_timestamp_seconds") != nil {
		t.Fatal("gauge should stay unset until a run completes")
	}
}

func TestNilMetricsAreNoops(t *testing.T) {
	cron := NewCronJobMetrics(nil)
	cron.Ran("x", time.Second, nil)
	cron.NotRun("x", CronSkipped)
	unregistered := NewSettlementMetrics(nil)
	unregistered.IncPayout(PayoutSettled)
	unregistered.IncReservation(ReservationGranted)
	var outbox *OutboxMetrics
	outbox.Inc("order_paid", OutboxPublished)
}

func fetchCounterValue(mfs []*dto.MetricFamily, name, label, value string) (float64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return 0, fmt.Errorf("metric %q not found", name)
	}
	for _, metric := range mf.GetMetric() {
		if matchesLabel(metric.GetLabel(), label, value) {
			return metric.GetCounter().GetValue(), nil
		}
	}
	return 0, fmt.Errorf("metric %q missing label %s=%s", name, label, value)
}

func fetchHistogramSum(mfs []*dto.MetricFamily, name, label, value string) (float64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return 0, fmt.Errorf("metric %q not found", name)
	}
	for _, metric := range mf.GetMetric() {
		if matchesLabel(metric.GetLabel(), label, value) {
			return metric.GetHistogram().GetSampleSum(), nil
		}
	}
	return 0, fmt.Errorf("histogram %q missing label %s=%s", name, label, value)
}

func findMetricFamily(mfs []*dto.MetricFamily, name string) *dto.MetricFamily {
	for _, mf := range mfs {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func matchesLabel(labels []*dto.LabelPair, name, value string) bool {
	for _, label := range labels {
		if label.GetName() == name && label.GetValue() == value {
			return true
		}
	}
	return false
}
