package hooks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/angelmondragon/bazari-settlement/pkg/enums"
	"github.com/angelmondragon/bazari-settlement/pkg/logger"
	"github.com/angelmondragon/bazari-settlement/pkg/outbox"
	"github.com/angelmondragon/bazari-settlement/pkg/outbox/idempotency"
	"github.com/google/uuid"
	"go.uber.org/multierr"
)

// ConsumerName scopes processed-event keys for the hooks worker.
const ConsumerName = "settlement-hooks"

type decoder interface {
	Decode(eventType enums.OutboxEventType, version int, payload json.RawMessage) (any, error)
}

type dispatcher interface {
	Dispatch(ctx context.Context, payload any) error
}

type processedGuard interface {
	Claim(ctx context.Context, consumer string, eventID uuid.UUID) (idempotency.State, error)
	Complete(ctx context.Context, consumer string, eventID uuid.UUID) error
	Release(ctx context.Context, consumer string, eventID uuid.UUID) error
}

// ConsumerParams wires the hooks consumer.
type ConsumerParams struct {
	Subscription *pubsub.Subscriber
	Decoders     decoder
	Dispatcher   dispatcher
	Guard        processedGuard
	Logger       *logger.Logger
}

// Consumer receives settlement events and runs their side-effect hooks.
// Hook failures never touch order state; they are nacked for redelivery.
type Consumer struct {
	subscription *pubsub.Subscriber
	decoders     decoder
	dispatcher   dispatcher
	guard        processedGuard
	logg         *logger.Logger
}

// NewConsumer builds a hooks consumer.
func NewConsumer(params ConsumerParams) (*Consumer, error) {
	if params.Subscription == nil {
		return nil, fmt.Errorf("settlement subscription required")
	}
	if params.Decoders == nil {
		return nil, fmt.Errorf("decoder registry required")
	}
	if params.Dispatcher == nil {
		return nil, fmt.Errorf("hook dispatcher required")
	}
	if params.Guard == nil {
		return nil, fmt.Errorf("idempotency manager required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Consumer{
		subscription: params.Subscription,
		decoders:     params.Decoders,
		dispatcher:   params.Dispatcher,
		guard:        params.Guard,
		logg:         params.Logger,
	}, nil
}

// Run starts the receive loop until the context is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		if c.process(ctx, msg.ID, msg.Attributes, msg.Data).nack {
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
		"event_type": eventType,
	})

	if !eventType.IsValid() {
		c.logg.Warn(logCtx, "skipping unknown event type")
		return processResult{ack: true}
	}

	envelope, err := outbox.DecodeEnvelope(data)
	if err != nil {
		c.logg.Error(logCtx, "failed to decode envelope", err)
		return processResult{ack: true}
	}
	eventID, err := uuid.Parse(envelope.EventID)
	if err != nil {
		c.logg.Error(logCtx, "invalid event id", err)
		return processResult{ack: true}
	}
	logCtx = c.logg.WithField(logCtx, "event_id", eventID.String())

	payload, err := c.decoders.Decode(eventType, envelope.Version, envelope.Data)
	if err != nil {
		c.logg.Error(logCtx, "failed to decode payload", err)
		return processResult{ack: true}
	}

	state, err := c.guard.Claim(ctx, ConsumerName, eventID)
	if err != nil {
		c.logg.Error(logCtx, "idempotency check failed", err)
		return processResult{nack: true}
	}
	switch state {
	case idempotency.Done:
		c.logg.Info(logCtx, "event already processed")
		return processResult{ack: true}
	case idempotency.InFlight:
		c.logg.Info(logCtx, "event claimed by another delivery")
		return processResult{nack: true}
	}

	if err := c.dispatcher.Dispatch(logCtx, payload); err != nil {
		if !retryable(err) {
			c.logg.Error(logCtx, "hook rejected event, dropping", err)
			return processResult{ack: true}
		}
		c.logg.Error(logCtx, "hook failed, requesting redelivery", err)
		if relErr := c.guard.Release(ctx, ConsumerName, eventID); relErr != nil {
			c.logg.Error(logCtx, "failed to release processed marker", relErr)
		}
		return processResult{nack: true}
	}

	if err := c.guard.Complete(ctx, ConsumerName, eventID); err != nil {
		// the lease expires on its own; a redelivery would rerun the hooks
		c.logg.Error(logCtx, "failed to store processed marker", err)
	}
	c.logg.Info(logCtx, "hooks completed")
	return processResult{ack: true}
}

// retryable is false only when every failure is a 4xx other than 429.
func retryable(err error) bool {
	for _, e := range multierr.Errors(err) {
		var statusErr *StatusError
		if !errors.As(e, &statusErr) || statusErr.Retryable() {
			return true
		}
	}
	return false
}
