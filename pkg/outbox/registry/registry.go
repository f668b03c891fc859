// Package registry routes outbox rows to Pub/Sub topics and decodes their
// typed payloads before publishing.
package registry

import (
	"errors"
	"fmt"

	"github.com/angelmondragon/loyaltyhub-backend/pkg/config"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/db/models"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/enums"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/outbox"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/outbox/payloads"
	"github.com/google/uuid"
)

type route int

const (
	routeDomain route = iota
	routePayments
)

// catalog lists every publishable event. Money movement is routed to the
// payments topic so the worker subscription never sees read-model traffic.
var catalog = []struct {
	event     enums.OutboxEventType
	aggregate enums.OutboxAggregateType
	route     route
	payload   func() any
}{
	{enums.EventOrderPaid, enums.AggregateOrder, routeDomain, func() any { return &payloads.OrderPaidEvent{} }},
	{enums.EventOrderClosed, enums.AggregateOrder, routeDomain, func() any { return &payloads.OrderClosedEvent{} }},
	{enums.EventVoucherVerified, enums.AggregateVoucher, routeDomain, func() any { return &payloads.VoucherVerifiedEvent{} }},
	{enums.EventGroupStatusChanged, enums.AggregateGroupOrder, routeDomain, func() any { return &payloads.GroupStatusChangedEvent{} }},
	{enums.EventOrderRefundRequested, enums.AggregateOrder, routePayments, func() any { return &payloads.OrderRefundRequestedEvent{} }},
	{enums.EventSettlementPayoutRequested, enums.AggregateSettlement, routePayments, func() any { return &payloads.SettlementPayoutRequestedEvent{} }},
}

type EventDescriptor struct {
	EventType      enums.OutboxEventType
	AggregateType  enums.OutboxAggregateType
	Topic          string
	PayloadFactory func() any
}

// ResolvedEvent is an outbox row that is safe to publish.
type ResolvedEvent struct {
	Descriptor EventDescriptor
	Envelope   outbox.PayloadEnvelope
	Payload    any
}

type EventRegistry struct {
	entries map[enums.OutboxEventType]EventDescriptor
}

// NonRetryableError marks a row the dispatcher must dead-letter instead of
// retrying.
type NonRetryableError struct {
	Err error
}

func NewNonRetryableError(err error) NonRetryableError {
	return NonRetryableError{Err: err}
}

func (e NonRetryableError) Error() string {
	if e.Err == nil {
		return "non-retryable error"
	}
	return e.Err.Error()
}

func (e NonRetryableError) Unwrap() error { return e.Err }

func NewEventRegistry(cfg config.PubSubConfig) (*EventRegistry, error) {
	topics := map[route]string{
		routeDomain:   cfg.DomainTopic,
		routePayments: cfg.PaymentsTopic,
	}
	if topics[routeDomain] == "" {
		return nil, errors.New("domain topic is required")
	}
	if topics[routePayments] == "" {
		return nil, errors.New("payments topic is required")
	}

	entries := make(map[enums.OutboxEventType]EventDescriptor, len(catalog))
	for _, c := range catalog {
		entries[c.event] = EventDescriptor{
			EventType:      c.event,
			AggregateType:  c.aggregate,
			Topic:          topics[c.route],
			PayloadFactory: c.payload,
		}
	}
	return &EventRegistry{entries: entries}, nil
}

// Resolve checks the row against its descriptor and decodes the payload.
// Every failure is non-retryable.
func (r *EventRegistry) Resolve(event models.OutboxEvent) (*ResolvedEvent, error) {
	desc, ok := r.entries[event.EventType]
	switch {
	case !ok:
		return nil, NewNonRetryableError(fmt.Errorf("unsupported event type %s", event.EventType))
	case desc.AggregateType != event.AggregateType:
		return nil, NewNonRetryableError(fmt.Errorf("%s: aggregate %s, want %s", event.EventType, event.AggregateType, desc.AggregateType))
	case event.AggregateID == uuid.Nil:
		return nil, NewNonRetryableError(fmt.Errorf("%s: missing aggregate_id", event.EventType))
	}

	envelope, err := outbox.DecodeEnvelope(event.Payload)
	if err != nil {
		return nil, NewNonRetryableError(fmt.Errorf("%s: %w", event.EventType, err))
	}
	payload := desc.PayloadFactory()
	if err := envelope.DecodeData(payload); err != nil {
		return nil, NewNonRetryableError(fmt.Errorf("%s: %w", event.EventType, err))
	}
	return &ResolvedEvent{Descriptor: desc, Envelope: envelope, Payload: payload}, nil
}
