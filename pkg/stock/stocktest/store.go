// Package stocktest provides an in-memory counter store for exercising a
// stock.Ledger without redis.
package stocktest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Store mirrors the ledger's reserve and release scripts over a map.
type Store struct {
	mu       sync.Mutex
	counters map[string]int64
	err      error
}

func New() *Store {
	return &Store{counters: map[string]int64{}}
}

func (s *Store) StockKey(activityID string) string {
	return "stock:" + activityID
}

// Fail makes every subsequent script call return err. Pass nil to recover.
func (s *Store) Fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// Count returns the counter for an activity and whether it has been seeded.
func (s *Store) Count(activityID string) (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.counters[s.StockKey(activityID)]
	return v, ok
}

// Seed sets the counter directly.
func (s *Store) Seed(activityID string, remaining int64) {
	s.mu.Lock()
	s.counters[s.StockKey(activityID)] = remaining
	s.mu.Unlock()
}

// RunScript treats a two-argument call as a reservation (qty, seed) and a
// one-argument call as a release (qty).
func (s *Store) RunScript(_ context.Context, _ *redis.Script, keys []string, args ...any) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	if len(keys) != 1 {
		return nil, errors.New("stocktest: expected one key")
	}
	key := keys[0]
	switch len(args) {
	case 2:
		qty, seed := toInt64(args[0]), toInt64(args[1])
		current, ok := s.counters[key]
		if !ok {
			current = seed
		}
		if current < qty {
			s.counters[key] = current
			return int64(-1), nil
		}
		s.counters[key] = current - qty
		return current - qty, nil
	case 1:
		current, ok := s.counters[key]
		if !ok {
			return int64(-1), nil
		}
		s.counters[key] = current + toInt64(args[0])
		return s.counters[key], nil
	default:
		return nil, fmt.Errorf("stocktest: unexpected %d script args", len(args))
	}
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	default:
		return 0
	}
}
