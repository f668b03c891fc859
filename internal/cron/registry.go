package cron

import (
	"context"
	"time"
)

// Job is one scheduled sweep.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

type scheduled struct {
	job     Job
	every   time.Duration
	lastRun time.Time
}

func (s *scheduled) due(now time.Time) bool {
	return s.lastRun.IsZero() || !now.Before(s.lastRun.Add(s.every))
}

// Registry holds jobs with their cadence. A job is due on the first tick and
// then once per cadence.
type Registry struct {
	entries []*scheduled
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a job. A non-positive cadence makes the job run every tick.
func (r *Registry) Register(job Job, every time.Duration) {
	if job == nil {
		return
	}
	r.entries = append(r.entries, &scheduled{job: job, every: every})
}

// Names lists registered jobs in registration order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.entries))
	for _, e := range r.entries {
		names = append(names, e.job.Name())
	}
	return names
}

func (r *Registry) dueAt(now time.Time) []*scheduled {
	var out []*scheduled
	for _, e := range r.entries {
		if e.due(now) {
			out = append(out, e)
		}
	}
	return out
}
