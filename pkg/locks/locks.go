package locks

import (
	"context"
	"errors"
	"fmt"
	"time"

	pkgerrors "github.com/angelmondragon/loyaltyhub-backend/pkg/errors"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const defaultTTL = 30 * time.Second

// releaseScript deletes the key only while the caller still owns it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

type store interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	RunScript(ctx context.Context, script *redis.Script, keys []string, args ...any) (any, error)
	LockKey(scope, id string) string
}

// Service hands out TTL-bounded mutual-exclusion leases keyed by scope and id.
type Service struct {
	store store
	ttl   time.Duration
}

// NewService builds a lock service. A non-positive ttl falls back to 30s.
func NewService(client store, ttl time.Duration) (*Service, error) {
	if client == nil {
		return nil, errors.New("redis client required for locks")
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Service{store: client, ttl: ttl}, nil
}

// TTL returns the lease duration used when none is given.
func (s *Service) TTL() time.Duration { return s.ttl }

// TryAcquire attempts to take the lock once. A nil lease with a nil error
// means another holder owns it.
func (s *Service) TryAcquire(ctx context.Context, scope, id string, ttl time.Duration) (*Lease, error) {
	if scope == "" {
		return nil, errors.New("lock scope is required")
	}
	if ttl <= 0 {
		ttl = s.ttl
	}
	key := s.store.LockKey(scope, id)
	owner := uuid.NewString()
	ok, err := s.store.SetNX(ctx, key, owner, ttl)
	if err != nil {
		return nil, fmt.Errorf("setnx %s: %w", key, err)
	}
	if !ok {
		return nil, nil
	}
	return &Lease{store: s.store, key: key, owner: owner}, nil
}

// Acquire takes the lock or fails fast with CodeTooFrequent.
func (s *Service) Acquire(ctx context.Context, scope, id string) (*Lease, error) {
	lease, err := s.TryAcquire(ctx, scope, id, 0)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "acquire lock")
	}
	if lease == nil {
		return nil, pkgerrors.New(pkgerrors.CodeTooFrequent, fmt.Sprintf("%s %s is busy", scope, id))
	}
	return lease, nil
}

// Lease is a held lock.
type Lease struct {
	store store
	key   string
	owner string
}

func (l *Lease) Key() string { return l.key }

// Release frees the lock only if the owner token still matches. An expired
// lease that was taken over by someone else is left untouched.
func (l *Lease) Release(ctx context.Context) error {
	if l == nil || l.owner == "" {
		return nil
	}
	if _, err := l.store.RunScript(context.WithoutCancel(ctx), releaseScript, []string{l.key}, l.owner); err != nil {
		return fmt.Errorf("release lock %s: %w", l.key, err)
	}
	l.owner = ""
	return nil
}
