package enums

import "fmt"

// OutboxAggregateType names the entity an outbox event is about.
type OutboxAggregateType string

const (
	AggregateOrder           OutboxAggregateType = "order"
	AggregateCheckoutSession OutboxAggregateType = "checkout_session"
)

func (a OutboxAggregateType) IsValid() bool {
	switch a {
	case AggregateOrder, AggregateCheckoutSession:
		return true
	}
	return false
}

func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	if a := OutboxAggregateType(value); a.IsValid() {
		return a, nil
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType is the kind of settlement event relayed to subscribers.
type OutboxEventType string

const (
	EventOrderCreated       OutboxEventType = "order_created"
	EventOrderCompleted     OutboxEventType = "order_completed"
	EventDeliveryRequested  OutboxEventType = "delivery_requested"
	EventOrderStatusChanged OutboxEventType = "order_status_changed"
)

// OutboxEventTypes lists every event type in declaration order.
func OutboxEventTypes() []OutboxEventType {
	return []OutboxEventType{
		EventOrderCreated,
		EventOrderCompleted,
		EventDeliveryRequested,
		EventOrderStatusChanged,
	}
}

func (e OutboxEventType) IsValid() bool {
	return e.Aggregate() != ""
}

// Aggregate returns the aggregate type every event of this kind refers to,
// or "" for an unknown event type.
func (e OutboxEventType) Aggregate() OutboxAggregateType {
	switch e {
	case EventOrderCreated, EventOrderCompleted, EventDeliveryRequested, EventOrderStatusChanged:
		return AggregateOrder
	}
	return ""
}

func ParseOutboxEventType(value string) (OutboxEventType, error) {
	if e := OutboxEventType(value); e.IsValid() {
		return e, nil
	}
	return "", fmt.Errorf("invalid event type %q", value)
}
