package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/loyaltyhub-backend/pkg/db/models"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/enums"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/logger"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/metrics"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/outbox/registry"
)

const defaultPublishTimeout = 15 * time.Second

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxRows interface {
	FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error
	MarkFailedTx(tx *gorm.DB, id uuid.UUID, cause error) error
	MarkTerminalTx(tx *gorm.DB, id uuid.UUID, cause error, terminalAttempts int) error
}

type deadLetters interface {
	InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error
}

type eventResolver interface {
	Resolve(models.OutboxEvent) (*registry.ResolvedEvent, error)
}

type topicPublisher interface {
	Publish(ctx context.Context, topic string, msg *gcppubsub.Message) error
}

type dispatchMetrics interface {
	Inc(eventType, outcome string)
}

// dispatcher moves one batch of outbox rows onto Pub/Sub. Rows that can never
// be delivered are copied to the DLQ and pinned at the attempt ceiling.
type dispatcher struct {
	tx             txRunner
	rows           outboxRows
	dlq            deadLetters
	resolver       eventResolver
	publisher      topicPublisher
	metrics        dispatchMetrics
	logg           *logger.Logger
	batchSize      int
	maxAttempts    int
	publishTimeout time.Duration
	now            func() time.Time
}

// dispatchBatch returns how many rows were claimed. Zero means the outbox is
// drained.
func (d *dispatcher) dispatchBatch(ctx context.Context) (int, error) {
	claimed := 0
	err := d.tx.WithTx(ctx, func(tx *gorm.DB) error {
		rows, err := d.rows.FetchUnpublishedForPublish(tx, d.batchSize, d.maxAttempts)
		if err != nil {
			return fmt.Errorf("claim outbox rows: %w", err)
		}
		claimed = len(rows)
		for _, row := range rows {
			if err := d.dispatchOne(ctx, tx, row); err != nil {
				return err
			}
		}
		return nil
	})
	return claimed, err
}

func (d *dispatcher) dispatchOne(ctx context.Context, tx *gorm.DB, row models.OutboxEvent) error {
	logCtx := d.logg.WithFields(ctx, map[string]any{
		"outbox_id":     row.ID.String(),
		"event_type":    string(row.EventType),
		"aggregate_id":  row.AggregateID.String(),
		"attempt_count": row.AttemptCount,
	})

	resolved, err := d.resolver.Resolve(row)
	if err != nil {
		return d.deadLetter(logCtx, tx, row, enums.OutboxDLQReasonNonRetryable, err)
	}
	logCtx = d.logg.WithField(logCtx, "topic", resolved.Descriptor.Topic)

	pubErr := d.publish(ctx, row, resolved)
	var nonRetryable registry.NonRetryableError
	switch {
	case pubErr == nil:
		if err := d.rows.MarkPublishedTx(tx, row.ID); err != nil {
			return fmt.Errorf("mark published %s: %w", row.ID, err)
		}
		d.metrics.Inc(string(row.EventType), metrics.OutboxPublished)
		d.logg.Debug(logCtx, "outbox.published")
		return nil
	case errors.As(pubErr, &nonRetryable):
		return d.deadLetter(logCtx, tx, row, enums.OutboxDLQReasonNonRetryable, pubErr)
	case row.AttemptCount+1 >= d.maxAttempts:
		return d.deadLetter(logCtx, tx, row, enums.OutboxDLQReasonMaxAttempts, fmt.Errorf("attempt %d: %w", row.AttemptCount+1, pubErr))
	}

	if err := d.rows.MarkFailedTx(tx, row.ID, pubErr); err != nil {
		return fmt.Errorf("mark failed %s: %w", row.ID, err)
	}
	d.metrics.Inc(string(row.EventType), metrics.OutboxRetried)
	d.logg.Warn(d.logg.WithField(logCtx, "error", pubErr.Error()), "outbox.publish_failed")
	return nil
}

func (d *dispatcher) publish(ctx context.Context, row models.OutboxEvent, resolved *registry.ResolvedEvent) error {
	publishCtx, cancel := context.WithTimeout(ctx, d.publishTimeout)
	defer cancel()
	return d.publisher.Publish(publishCtx, resolved.Descriptor.Topic, &gcppubsub.Message{
		Data: row.Payload,
		Attributes: map[string]string{
			"event_id":       resolved.Envelope.EventID,
			"event_type":     string(row.EventType),
			"aggregate_type": string(row.AggregateType),
			"aggregate_id":   row.AggregateID.String(),
			"occurred_at":    resolved.Envelope.OccurredAt.UTC().Format(time.RFC3339Nano),
		},
	})
}

func (d *dispatcher) deadLetter(logCtx context.Context, tx *gorm.DB, row models.OutboxEvent, reason enums.OutboxDLQErrorReason, cause error) error {
	msg := cause.Error()
	entry := models.OutboxDLQ{
		EventID:       row.ID,
		EventType:     row.EventType,
		AggregateType: row.AggregateType,
		AggregateID:   row.AggregateID,
		Payload:       row.Payload,
		ErrorReason:   reason,
		ErrorMessage:  &msg,
		AttemptCount:  row.AttemptCount,
		FailedAt:      d.now().UTC(),
	}
	if err := d.dlq.InsertTx(tx, entry); err != nil {
		return fmt.Errorf("insert dlq %s: %w", row.ID, err)
	}
	if err := d.rows.MarkTerminalTx(tx, row.ID, cause, d.maxAttempts); err != nil {
		return fmt.Errorf("mark terminal %s: %w", row.ID, err)
	}
	d.metrics.Inc(string(row.EventType), metrics.OutboxDeadLettered)
	d.logg.Error(d.logg.WithField(logCtx, "dlq_reason", string(reason)), "outbox.dead_lettered", cause)
	return nil
}
