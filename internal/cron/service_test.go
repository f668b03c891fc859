package cron

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/angelmondragon/loyaltyhub-backend/pkg/logger"
)

type testJob struct {
	name string
	err  error
	runs int
}

func (t *testJob) Name() string { return t.name }

func (t *testJob) Run(context.Context) error {
	t.runs++
	return t.err
}

type fakeLock struct {
	held     bool
	released int
}

func (f *fakeLock) Acquire(context.Context) (bool, error) { return !f.held, nil }
func (f *fakeLock) Release(context.Context) error          { f.released++; return nil }

type fakeLocker struct {
	locks map[string]*fakeLock
}

func (f *fakeLocker) ForJob(name string) Lock {
	if lock, ok := f.locks[name]; ok {
		return lock
	}
	lock := &fakeLock{}
	f.locks[name] = lock
	return lock
}

func newTestService(t *testing.T, reg *Registry, locker Locker) *Service {
	t.Helper()
	svc, err := NewService(ServiceParams{
		Logger:   logger.New(logger.Options{ServiceName: "cron-test", Output: io.Discard}),
		Registry: reg,
		Locker:   locker,
	})
	if err != nil {
		t.Fatalf("construct service: %v", err)
	}
	return svc
}

func TestRunDueContinuesAfterFailure(t *testing.T) {
	reg := NewRegistry()
	failing := &testJob{name: "settlement-retry", err: errors.New("boom")}
	ok := &testJob{name: "voucher-expiry"}
	reg.Register(failing, time.Minute)
	reg.Register(ok, time.Minute)
	locker := &fakeLocker{locks: map[string]*fakeLock{}}

	newTestService(t, reg, locker).runDue(context.Background())

	if failing.runs != 1 || ok.runs != 1 {
		t.Fatalf("expected both jobs to run once, got %d and %d", failing.runs, ok.runs)
	}
	if locker.locks["voucher-expiry"].released != 1 {
		t.Fatal("expected lock released after run")
	}
}

func TestRunDueSkipsJobLockedElsewhere(t *testing.T) {
	reg := NewRegistry()
	held := &testJob{name: "expired-groups"}
	free := &testJob{name: "close-expired-orders"}
	reg.Register(held, time.Minute)
	reg.Register(free, time.Minute)
	locker := &fakeLocker{locks: map[string]*fakeLock{"expired-groups": {held: true}}}

	newTestService(t, reg, locker).runDue(context.Background())

	if held.runs != 0 {
		t.Fatalf("expected locked job skipped, ran %d", held.runs)
	}
	if free.runs != 1 {
		t.Fatalf("expected free job to run, ran %d", free.runs)
	}
	if locker.locks["expired-groups"].released != 0 {
		t.Fatal("a lock that was never acquired must not be released")
	}
}

func TestRunDueHonoursCadence(t *testing.T) {
	reg := NewRegistry()
	job := &testJob{name: "outbox-retention"}
	reg.Register(job, time.Hour)
	svc := newTestService(t, reg, &fakeLocker{locks: map[string]*fakeLock{}})

	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }
	svc.runDue(context.Background())
	now = now.Add(10 * time.Minute)
	svc.runDue(context.Background())
	if job.runs != 1 {
		t.Fatalf("expected one run inside the cadence, got %d", job.runs)
	}
	now = now.Add(time.Hour)
	svc.runDue(context.Background())
	if job.runs != 2 {
		t.Fatalf("expected second run after cadence, got %d", job.runs)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	svc := newTestService(t, NewRegistry(), &fakeLocker{locks: map[string]*fakeLock{}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := svc.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
