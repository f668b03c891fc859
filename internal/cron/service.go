package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/loyaltyhub-backend/pkg/logger"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/metrics"
)

const defaultTick = time.Minute

// Locker hands out one distributed lock per job so several cron workers
// can split the sweeps between them.
type Locker interface {
	ForJob(name string) Lock
}

type ServiceParams struct {
	Logger   *logger.Logger
	Registry *Registry
	Locker   Locker
	Metrics  *metrics.CronJobMetrics
	Tick     time.Duration
}

// Service wakes up every tick and runs the jobs that are due.
type Service struct {
	logg     *logger.Logger
	registry *Registry
	locker   Locker
	metrics  *metrics.CronJobMetrics
	tick     time.Duration
	now      func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Locker == nil {
		return nil, fmt.Errorf("locker required")
	}
	registry := params.Registry
	if registry == nil {
		registry = NewRegistry()
	}
	tick := params.Tick
	if tick <= 0 {
		tick = defaultTick
	}
	return &Service{
		logg:     params.Logger,
		registry: registry,
		locker:   params.Locker,
		metrics:  params.Metrics,
		tick:     tick,
		now:      time.Now,
	}, nil
}

// Run blocks until ctx is canceled.
func (s *Service) Run(ctx context.Context) error {
	s.runDue(ctx)
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "cron.stopped")
			return ctx.Err()
		case <-ticker.C:
			s.runDue(ctx)
		}
	}
}

func (s *Service) runDue(ctx context.Context) {
	now := s.now()
	for _, entry := range s.registry.dueAt(now) {
		// the cadence advances even when another worker holds the lock
		entry.lastRun = now
		s.runLocked(ctx, entry.job)
	}
}

func (s *Service) runLocked(ctx context.Context, job Job) {
	jobCtx := s.logg.WithField(ctx, "job", job.Name())
	lock := s.locker.ForJob(job.Name())

	acquired, err := lock.Acquire(jobCtx)
	if err != nil {
		s.logg.Error(jobCtx, "cron.lock.failed", err)
		s.metrics.NotRun(job.Name(), metrics.CronLockError)
		return
	}
	if !acquired {
		s.logg.Debug(jobCtx, "cron.job.skipped")
		s.metrics.NotRun(job.Name(), metrics.CronSkipped)
		return
	}
	defer func() {
		if err := lock.Release(jobCtx); err != nil {
			s.logg.Warn(s.logg.WithField(jobCtx, "error", err.Error()), "cron.lock.release_failed")
		}
	}()

	start := time.Now()
	err = job.Run(jobCtx)
	elapsed := time.Since(start)
	s.metrics.Ran(job.Name(), elapsed, err)

	jobCtx = s.logg.WithField(jobCtx, "duration_ms", elapsed.Milliseconds())
	if err != nil {
		s.logg.Error(jobCtx, "cron.job.failed", err)
		return
	}
	s.logg.Info(jobCtx, "cron.job.completed")
}
