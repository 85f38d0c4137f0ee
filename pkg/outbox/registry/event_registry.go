// Package registry maps settlement outbox rows to their Pub/Sub topic and
// typed payload, on the publishing side (EventRegistry) and the consuming
// side (Decoders).
package registry

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/angelmondragon/bazari-settlement/pkg/config"
	"github.com/angelmondragon/bazari-settlement/pkg/db/models"
	"github.com/angelmondragon/bazari-settlement/pkg/enums"
	"github.com/angelmondragon/bazari-settlement/pkg/outbox"
	"github.com/angelmondragon/bazari-settlement/pkg/outbox/payloads"
)

// EventDescriptor is the routing and schema of one event type.
type EventDescriptor struct {
	EventType      enums.OutboxEventType
	AggregateType  enums.OutboxAggregateType
	Topic          string
	PayloadFactory func() any
}

// ResolvedEvent is a validated outbox row with its decoded payload.
type ResolvedEvent struct {
	Descriptor EventDescriptor
	Envelope   outbox.PayloadEnvelope
	Payload    any
}

// EventRegistry resolves outbox rows for the relay.
type EventRegistry struct {
	byType map[enums.OutboxEventType]EventDescriptor
	topics []string
}

var payloadSchemas = map[enums.OutboxEventType]func() any{
	enums.EventOrderCreated:       func() any { return &payloads.OrderCreatedEvent{} },
	enums.EventOrderCompleted:     func() any { return &payloads.OrderCompletedEvent{} },
	enums.EventDeliveryRequested:  func() any { return &payloads.DeliveryRequestedEvent{} },
	enums.EventOrderStatusChanged: func() any { return &payloads.OrderStatusChangedEvent{} },
}

// NewEventRegistry routes every settlement event to the settlement topic,
// where the hooks worker subscribes. An event type without a payload schema
// is a build error.
func NewEventRegistry(cfg config.PubSubConfig) (*EventRegistry, error) {
	if cfg.SettlementTopic == "" {
		return nil, errors.New("settlement topic is required")
	}
	reg := &EventRegistry{
		byType: make(map[enums.OutboxEventType]EventDescriptor, len(payloadSchemas)),
		topics: []string{cfg.SettlementTopic},
	}
	for _, eventType := range enums.OutboxEventTypes() {
		factory, ok := payloadSchemas[eventType]
		if !ok {
			return nil, fmt.Errorf("no payload schema for event type %s", eventType)
		}
		reg.byType[eventType] = EventDescriptor{
			EventType:      eventType,
			AggregateType:  eventType.Aggregate(),
			Topic:          cfg.SettlementTopic,
			PayloadFactory: factory,
		}
	}
	return reg, nil
}

// Topics lists the topics the relay publishes to.
func (r *EventRegistry) Topics() []string {
	return append([]string(nil), r.topics...)
}

// Resolve checks the row against its descriptor and decodes the payload.
// Every failure is non-retryable.
func (r *EventRegistry) Resolve(event models.OutboxEvent) (*ResolvedEvent, error) {
	resolved, err := r.resolve(event)
	if err != nil {
		return nil, NewNonRetryableError(err)
	}
	return resolved, nil
}

func (r *EventRegistry) resolve(event models.OutboxEvent) (*ResolvedEvent, error) {
	desc, ok := r.byType[event.EventType]
	switch {
	case !ok:
		return nil, fmt.Errorf("unsupported event type %s", event.EventType)
	case desc.AggregateType != event.AggregateType:
		return nil, fmt.Errorf("aggregate mismatch: expected %s got %s", desc.AggregateType, event.AggregateType)
	case event.AggregateID == uuid.Nil:
		return nil, errors.New("missing aggregate_id")
	}

	envelope, err := outbox.DecodeEnvelope(event.Payload)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", event.EventType, err)
	}
	payload := desc.PayloadFactory()
	if err := json.Unmarshal(envelope.Data, payload); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", event.EventType, err)
	}
	return &ResolvedEvent{Descriptor: desc, Envelope: envelope, Payload: payload}, nil
}
