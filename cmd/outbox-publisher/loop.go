package main

import (
	"context"
	"math/rand"
	"sync"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"

	"github.com/angelmondragon/loyaltyhub-backend/pkg/logger"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/outbox/registry"
)

const (
	maxBackoff   = 10 * time.Second
	jitterWindow = 250 * time.Millisecond
)

// pollLoop drains the outbox back to back, idles when empty and backs off
// exponentially on batch errors.
type pollLoop struct {
	dispatch func(ctx context.Context) (int, error)
	idle     time.Duration
	logg     *logger.Logger
	jitter   func(time.Duration) time.Duration
}

func (l *pollLoop) Run(ctx context.Context) error {
	backoff := l.idle
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		claimed, err := l.dispatch(ctx)
		var wait time.Duration
		switch {
		case err != nil:
			l.logg.Error(ctx, "outbox.batch_failed", err)
			backoff = min(backoff*2, maxBackoff)
			wait = backoff
		case claimed > 0:
			backoff = l.idle
			continue
		default:
			backoff = l.idle
			wait = l.idle
		}
		if err := sleepCtx(ctx, l.jitter(wait)); err != nil {
			return err
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

var (
	jitterMu  sync.Mutex
	jitterRNG = rand.New(rand.NewSource(time.Now().UnixNano()))
)

func withJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	jitterMu.Lock()
	defer jitterMu.Unlock()
	return d + time.Duration(jitterRNG.Int63n(int64(jitterWindow)))
}

type publisherSource interface {
	Publisher(name string) *gcppubsub.Publisher
}

// topicPublishers caches one Pub/Sub publisher per topic.
type topicPublishers struct {
	source publisherSource
	mu     sync.Mutex
	byName map[string]*gcppubsub.Publisher
}

func newTopicPublishers(source publisherSource) *topicPublishers {
	return &topicPublishers{source: source, byName: map[string]*gcppubsub.Publisher{}}
}

func (t *topicPublishers) Publish(ctx context.Context, topic string, msg *gcppubsub.Message) error {
	pub := t.get(topic)
	if pub == nil {
		return registry.NewNonRetryableError(&missingTopicError{topic: topic})
	}
	_, err := pub.Publish(ctx, msg).Get(ctx)
	return err
}

func (t *topicPublishers) get(topic string) *gcppubsub.Publisher {
	t.mu.Lock()
	defer t.mu.Unlock()
	if pub, ok := t.byName[topic]; ok {
		return pub
	}
	pub := t.source.Publisher(topic)
	if pub != nil {
		t.byName[topic] = pub
	}
	return pub
}

// Stop flushes pending messages on every cached publisher.
func (t *topicPublishers) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, pub := range t.byName {
		pub.Stop()
	}
}

type missingTopicError struct{ topic string }

func (e *missingTopicError) Error() string { return "publisher not configured for topic " + e.topic }
