package payments

import (
	"context"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/db/models"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/loyaltyhub-backend/pkg/errors"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/logger"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/outbox"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/outbox/idempotency"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/outbox/payloads"
	"github.com/google/uuid"
)

const consumerName = "payments-worker"

type refundExecutor interface {
	RefundOrder(ctx context.Context, orderID uuid.UUID, reason string) error
}

type payoutExecutor interface {
	ExecutePayout(ctx context.Context, settlementID uuid.UUID) (*models.SettlementRecord, error)
}

// Consumer executes refunds and payouts requested through the outbox.
type Consumer struct {
	refunds      refundExecutor
	payouts      payoutExecutor
	subscription *pubsub.Subscriber
	idempotency  *idempotency.Manager
	logg         *logger.Logger
}

// NewConsumer builds the payments consumer.
func NewConsumer(refunds refundExecutor, payouts payoutExecutor, subscription *pubsub.Subscriber, manager *idempotency.Manager, logg *logger.Logger) (*Consumer, error) {
	if refunds == nil {
		return nil, fmt.Errorf("refund executor required")
	}
	if payouts == nil {
		return nil, fmt.Errorf("payout executor required")
	}
	if subscription == nil {
		return nil, fmt.Errorf("payments subscription required")
	}
	if manager == nil {
		return nil, fmt.Errorf("idempotency manager required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Consumer{
		refunds:      refunds,
		payouts:      payouts,
		subscription: subscription,
		idempotency:  manager,
		logg:         logg,
	}, nil
}

// Run starts the consumer loop until the context is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		result := c.process(ctx, msg.ID, msg.Attributes, msg.Data)
		if result.nack {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

type processResult struct {
	ack  bool
	nack bool
}

func (c *Consumer) process(ctx context.Context, messageID string, attrs map[string]string, data []byte) processResult {
	eventType := enums.OutboxEventType(attrs["event_type"])
	logCtx := c.logg.WithFields(ctx, map[string]any{
		"message_id": messageID,
		"event_type": string(eventType),
	})

	if eventType != enums.EventOrderRefundRequested && eventType != enums.EventSettlementPayoutRequested {
		c.logg.Info(logCtx, "skipping non-payment event")
		return processResult{ack: true}
	}

	envelope, err := outbox.DecodeEnvelope(data)
	if err != nil {
		c.logg.Error(logCtx, "dropping undecodable payment event", err)
		return processResult{ack: true}
	}
	eventID := envelope.ID()
	logCtx = c.logg.WithField(logCtx, "event_id", envelope.EventID)

	claimed, err := c.idempotency.Claim(ctx, consumerName, eventID)
	if err != nil {
		c.logg.Error(logCtx, "idempotency check failed", err)
		return processResult{nack: true}
	}
	if !claimed {
		c.logg.Info(logCtx, "event already processed")
		return processResult{ack: true}
	}

	switch eventType {
	case enums.EventOrderRefundRequested:
		err = c.handleRefund(ctx, logCtx, envelope)
	case enums.EventSettlementPayoutRequested:
		err = c.handlePayout(ctx, logCtx, envelope)
	}
	if err == nil {
		return processResult{ack: true}
	}
	if !retryable(err) {
		c.logg.Warn(logCtx, fmt.Sprintf("dropping payment event: %v", err))
		return processResult{ack: true}
	}
	c.logg.Error(logCtx, "payment event failed", err)
	_ = c.idempotency.Release(ctx, consumerName, eventID)
	return processResult{nack: true}
}

func (c *Consumer) handleRefund(ctx, logCtx context.Context, envelope outbox.PayloadEnvelope) error {
	var payload payloads.OrderRefundRequestedEvent
	if err := envelope.DecodeData(&payload); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "parse refund payload")
	}
	if payload.OrderID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "refund payload missing order id")
	}
	logCtx = c.logg.WithField(logCtx, "order_number", payload.OrderNumber)
	if err := c.refunds.RefundOrder(ctx, payload.OrderID, payload.Reason); err != nil {
		return err
	}
	c.logg.Info(logCtx, "order refunded")
	return nil
}

func (c *Consumer) handlePayout(ctx, logCtx context.Context, envelope outbox.PayloadEnvelope) error {
	var payload payloads.SettlementPayoutRequestedEvent
	if err := envelope.DecodeData(&payload); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "parse payout payload")
	}
	if payload.SettlementID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "payout payload missing settlement id")
	}
	record, err := c.payouts.ExecutePayout(ctx, payload.SettlementID)
	if err != nil {
		return err
	}
	logCtx = c.logg.WithFields(logCtx, map[string]any{
		"settlement_id": record.ID.String(),
		"status":        string(record.Status),
	})
	c.logg.Info(logCtx, "payout processed")
	return nil
}

// retryable treats untyped errors as transient and defers to the code
// metadata otherwise.
func retryable(err error) bool {
	typed := pkgerrors.As(err)
	if typed == nil {
		return true
	}
	return typed.Retryable()
}
