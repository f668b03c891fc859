package cron

import (
	"context"
	"errors"
	"time"

	"github.com/angelmondragon/loyaltyhub-backend/pkg/locks"
)

const (
	lockScope      = "cron"
	defaultLockTTL = 10 * time.Minute
)

// Lock coordinates exclusive cron runs.
type Lock interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

type leaseProvider interface {
	TryAcquire(ctx context.Context, scope, id string, ttl time.Duration) (*locks.Lease, error)
}

// LeaseLock implements Lock on top of the shared lock service so cron cycles
// use the same owner-token release as the engines.
type LeaseLock struct {
	locks leaseProvider
	name  string
	ttl   time.Duration
	lease *locks.Lease
}

// NewLeaseLock constructs a lock named after the worker.
func NewLeaseLock(provider leaseProvider, name string, ttl time.Duration) (*LeaseLock, error) {
	if provider == nil {
		return nil, errors.New("lock service required for cron lock")
	}
	if name == "" {
		return nil, errors.New("lock name is required")
	}
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &LeaseLock{locks: provider, name: name, ttl: ttl}, nil
}

// Acquire tries to own the lock for the configured TTL.
func (l *LeaseLock) Acquire(ctx context.Context) (bool, error) {
	lease, err := l.locks.TryAcquire(ctx, lockScope, l.name, l.ttl)
	if err != nil {
		return false, err
	}
	if lease == nil {
		return false, nil
	}
	l.lease = lease
	return true, nil
}

// Release frees the lock only if this instance still owns it.
func (l *LeaseLock) Release(ctx context.Context) error {
	lease := l.lease
	l.lease = nil
	return lease.Release(ctx)
}

// LeaseLocker issues a LeaseLock per job, namespaced by environment.
type LeaseLocker struct {
	locks  leaseProvider
	prefix string
	ttl    time.Duration
}

func NewLeaseLocker(provider leaseProvider, env string, ttl time.Duration) (*LeaseLocker, error) {
	if provider == nil {
		return nil, errors.New("lock service required for cron lock")
	}
	if env == "" {
		env = "local"
	}
	return &LeaseLocker{locks: provider, prefix: env, ttl: ttl}, nil
}

func (l *LeaseLocker) ForJob(name string) Lock {
	lock, err := NewLeaseLock(l.locks, l.prefix+":"+name, l.ttl)
	if err != nil {
		return failedLock{err: err}
	}
	return lock
}

type failedLock struct{ err error }

func (f failedLock) Acquire(context.Context) (bool, error) { return false, f.err }
func (f failedLock) Release(context.Context) error         { return nil }
