package stock

import (
	"context"
	"errors"
	"fmt"
	"sync"

	pkgerrors "github.com/angelmondragon/loyaltyhub-backend/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// reserveScript seeds the counter on first touch (ARGV[2]) and decrements by
// ARGV[1] only when enough units remain. Returns -1 on shortage.
var reserveScript = redis.NewScript(`
local current = redis.call("GET", KEYS[1])
if not current then
  redis.call("SET", KEYS[1], ARGV[2])
  current = ARGV[2]
end
local qty = tonumber(ARGV[1])
if tonumber(current) < qty then
  return -1
end
return redis.call("DECRBY", KEYS[1], qty)
`)

// releaseScript puts units back. A missing counter is left alone: the next
// reservation reseeds from the database, which never counted the units.
var releaseScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
  return -1
end
return redis.call("INCRBY", KEYS[1], tonumber(ARGV[1]))
`)

type scriptRunner interface {
	RunScript(ctx context.Context, script *redis.Script, keys []string, args ...any) (any, error)
	StockKey(activityID string) string
}

// Ledger is the shared per-activity counter that gates every stock reservation.
type Ledger struct {
	store scriptRunner
}

// NewLedger builds a ledger over the redis script runner.
func NewLedger(store scriptRunner) (*Ledger, error) {
	if store == nil {
		return nil, errors.New("stock ledger requires a redis client")
	}
	return &Ledger{store: store}, nil
}

// Reserve atomically takes quantity units for the activity. seed is the value
// used when the counter does not exist yet (stock minus sold count).
func (l *Ledger) Reserve(ctx context.Context, activityID string, quantity, seed int64) (*Reservation, error) {
	if activityID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "activity id is required")
	}
	if quantity <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
	}
	if seed < 0 {
		seed = 0
	}
	raw, err := l.store.RunScript(ctx, reserveScript, []string{l.store.StockKey(activityID)}, quantity, seed)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reserve stock")
	}
	remaining, err := toInt64(raw)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "reserve stock")
	}
	if remaining < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeInsufficientStock, "insufficient stock").
			WithDetails(map[string]any{"activityId": activityID, "requested": quantity})
	}
	return &Reservation{ledger: l, activityID: activityID, quantity: quantity, remaining: remaining}, nil
}

// Release returns quantity units to the activity counter.
func (l *Ledger) Release(ctx context.Context, activityID string, quantity int64) error {
	if activityID == "" || quantity <= 0 {
		return nil
	}
	if _, err := l.store.RunScript(ctx, releaseScript, []string{l.store.StockKey(activityID)}, quantity); err != nil {
		return fmt.Errorf("release stock for %s: %w", activityID, err)
	}
	return nil
}

// Reservation is a held block of units. It must end with Commit or Release;
// ReleaseUnlessCommitted is meant to be deferred right after Reserve.
type Reservation struct {
	ledger     *Ledger
	activityID string
	quantity   int64
	remaining  int64

	mu       sync.Mutex
	finished bool
}

func (r *Reservation) ActivityID() string { return r.activityID }
func (r *Reservation) Quantity() int64    { return r.quantity }
func (r *Reservation) Remaining() int64   { return r.remaining }

// Commit hands ownership of the units to a persisted record.
func (r *Reservation) Commit() {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.finished = true
	r.mu.Unlock()
}

// Release gives the units back. Safe to call more than once.
func (r *Reservation) Release(ctx context.Context) error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finished {
		return nil
	}
	// the caller's request may already be canceled; the units still go back
	if err := r.ledger.Release(context.WithoutCancel(ctx), r.activityID, r.quantity); err != nil {
		return err
	}
	r.finished = true
	return nil
}

// ReleaseUnlessCommitted releases the reservation if Commit was never reached.
func (r *Reservation) ReleaseUnlessCommitted(ctx context.Context, onErr func(error)) {
	if err := r.Release(ctx); err != nil && onErr != nil {
		onErr(err)
	}
}

func toInt64(value any) (int64, error) {
	switch v := value.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case nil:
		return 0, errors.New("empty script result")
	default:
		return 0, fmt.Errorf("unexpected script result %T", value)
	}
}
