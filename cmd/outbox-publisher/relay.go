package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"gorm.io/gorm"

	"github.com/angelmondragon/bazari-settlement/pkg/db/models"
	"github.com/angelmondragon/bazari-settlement/pkg/enums"
	"github.com/angelmondragon/bazari-settlement/pkg/outbox/registry"
)

var errUnroutable = errors.New("no publisher for topic")

// inflight is one claimed row between hand-off to Pub/Sub and its ack.
// Exactly one of result and err is set.
type inflight struct {
	event  models.OutboxEvent
	logCtx context.Context
	result publishResult
	err    error
}

// processBatch relays one claimed batch in two passes: every row is handed
// to its publisher first so the client can batch them, then the acks are
// awaited and recorded in claim order. It reports whether any rows were
// claimed; one failing row never stops the others.
func (s *Service) processBatch(ctx context.Context) (bool, error) {
	claimed := false
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		events, err := s.repo.FetchUnpublishedForPublish(tx, s.batchSize, s.maxAttempts)
		if err != nil {
			return err
		}
		claimed = len(events) > 0

		publishCtx, cancel := context.WithTimeout(ctx, defaultPublishTimeout)
		defer cancel()
		pending := make([]inflight, 0, len(events))
		for _, event := range events {
			pending = append(pending, s.dispatch(ctx, publishCtx, event))
		}
		for _, p := range pending {
			if err := s.settle(publishCtx, tx, p); err != nil {
				return err
			}
		}
		return nil
	})
	return claimed, err
}

func (s *Service) dispatch(ctx, publishCtx context.Context, event models.OutboxEvent) inflight {
	p := inflight{
		event: event,
		logCtx: s.logg.WithFields(ctx, map[string]any{
			"outbox_id":     event.ID.String(),
			"event_type":    event.EventType,
			"order_id":      event.AggregateID.String(),
			"attempt_count": event.AttemptCount,
		}),
	}

	resolved, err := s.registry.Resolve(event)
	if err != nil {
		var nonRetry registry.NonRetryableError
		if !errors.As(err, &nonRetry) {
			err = registry.NewNonRetryableError(err)
		}
		p.err = err
		return p
	}
	topic := resolved.Descriptor.Topic
	p.logCtx = s.logg.WithFields(p.logCtx, map[string]any{
		"event_id": resolved.Envelope.EventID,
		"topic":    topic,
	})

	pub := s.publisherFor(topic)
	if pub == nil {
		p.err = registry.NewNonRetryableError(fmt.Errorf("%w %s", errUnroutable, topic))
		return p
	}
	if p.result = pub.Publish(publishCtx, messageFor(event, resolved)); p.result == nil {
		p.err = registry.NewNonRetryableError(fmt.Errorf("publisher returned nil for topic %s", topic))
	}
	return p
}

// messageFor carries the stored envelope as data; attributes let
// subscribers filter without decoding it.
func messageFor(event models.OutboxEvent, resolved *registry.ResolvedEvent) *gcppubsub.Message {
	eventID := resolved.Envelope.EventID
	if eventID == "" {
		eventID = event.ID.String()
	}
	return &gcppubsub.Message{
		Data: event.Payload,
		Attributes: map[string]string{
			"event_id":       eventID,
			"event_type":     string(event.EventType),
			"aggregate_type": string(event.AggregateType),
			"aggregate_id":   event.AggregateID.String(),
			"created_at":     event.CreatedAt.UTC().Format(time.RFC3339Nano),
		},
	}
}

// settle waits for the ack, if any, and records the row's fate.
func (s *Service) settle(publishCtx context.Context, tx *gorm.DB, p inflight) error {
	cause := p.err
	if cause == nil {
		_, cause = p.result.Get(publishCtx)
	}
	event := p.event
	eventType := string(event.EventType)

	if cause == nil {
		if err := s.repo.MarkPublishedTx(tx, event.ID); err != nil {
			return fmt.Errorf("mark published %s: %w", event.ID, err)
		}
		s.metrics.IncPublished(eventType)
		s.logg.Info(p.logCtx, "outbox event published")
		return nil
	}

	if reason, terminal := s.terminalReason(event, cause); terminal {
		if reason == enums.OutboxDLQReasonMaxAttempts {
			cause = fmt.Errorf("max publish attempts reached: %w", cause)
		}
		return s.deadLetter(p.logCtx, tx, event, reason, cause)
	}

	s.logg.Warn(s.logg.WithField(p.logCtx, "error", cause.Error()), "outbox publish failed")
	s.metrics.IncFailed(eventType)
	if err := s.repo.MarkFailedTx(tx, event.ID, cause); err != nil {
		return fmt.Errorf("mark failure %s: %w", event.ID, err)
	}
	return nil
}

// terminalReason decides whether a failed row leaves the relay for good.
func (s *Service) terminalReason(event models.OutboxEvent, cause error) (enums.OutboxDLQErrorReason, bool) {
	var nonRetry registry.NonRetryableError
	switch {
	case errors.Is(cause, errUnroutable):
		return enums.OutboxDLQReasonUnroutable, true
	case errors.As(cause, &nonRetry):
		return enums.OutboxDLQReasonNonRetryable, true
	case event.AttemptCount+1 >= s.maxAttempts:
		return enums.OutboxDLQReasonMaxAttempts, true
	default:
		return "", false
	}
}

func (s *Service) deadLetter(ctx context.Context, tx *gorm.DB, event models.OutboxEvent, reason enums.OutboxDLQErrorReason, cause error) error {
	s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
		"error_reason": reason,
		"error":        cause.Error(),
	}), "outbox event will not be retried")

	if err := s.dlq.InsertTx(tx, event.DeadLetter(reason, cause, s.now().UTC())); err != nil {
		return fmt.Errorf("insert dlq %s: %w", event.ID, err)
	}
	if err := s.repo.MarkTerminalTx(tx, event.ID, cause, s.maxAttempts); err != nil {
		return fmt.Errorf("mark terminal %s: %w", event.ID, err)
	}
	s.metrics.IncDeadLettered(string(event.EventType), string(reason))
	return nil
}
