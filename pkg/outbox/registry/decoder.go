package registry

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/angelmondragon/bazari-settlement/pkg/enums"
	"github.com/angelmondragon/bazari-settlement/pkg/outbox/payloads"
)

type decoderFunc func(payload json.RawMessage) (any, error)

type registryKey struct {
	eventType enums.OutboxEventType
	version   int
}

// DecoderRegistry stores versioned payload decoders for consumers.
type DecoderRegistry struct {
	mtx      sync.RWMutex
	registry map[registryKey]decoderFunc
}

// NewDecoderRegistry builds an empty decoder registry.
func NewDecoderRegistry() *DecoderRegistry {
	return &DecoderRegistry{registry: make(map[registryKey]decoderFunc)}
}

// NewSettlementDecoders registers v1 decoders for every settlement payload.
func NewSettlementDecoders() *DecoderRegistry {
	reg := NewDecoderRegistry()
	reg.Register(enums.EventOrderCreated, 1, decodeInto(func() any { return &payloads.OrderCreatedEvent{} }))
	reg.Register(enums.EventOrderCompleted, 1, decodeInto(func() any { return &payloads.OrderCompletedEvent{} }))
	reg.Register(enums.EventDeliveryRequested, 1, decodeInto(func() any { return &payloads.DeliveryRequestedEvent{} }))
	reg.Register(enums.EventOrderStatusChanged, 1, decodeInto(func() any { return &payloads.OrderStatusChangedEvent{} }))
	return reg
}

func decodeInto(factory func() any) decoderFunc {
	return func(payload json.RawMessage) (any, error) {
		target := factory()
		if err := json.Unmarshal(payload, target); err != nil {
			return nil, err
		}
		return target, nil
	}
}

// Register stores a decoder for the given event type and version.
func (r *DecoderRegistry) Register(eventType enums.OutboxEventType, version int, decoder decoderFunc) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.registry[registryKey{eventType: eventType, version: version}] = decoder
}

// Decode runs the decoder registered for the event type and version.
func (r *DecoderRegistry) Decode(eventType enums.OutboxEventType, version int, payload json.RawMessage) (any, error) {
	r.mtx.RLock()
	decoder, ok := r.registry[registryKey{eventType: eventType, version: version}]
	r.mtx.RUnlock()
	if !ok {
		return nil, fmt.Errorf("decoder not registered for %s@v%d", eventType, version)
	}
	return decoder(payload)
}
