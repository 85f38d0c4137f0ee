package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/bazari-settlement/pkg/db/models"
	"github.com/angelmondragon/bazari-settlement/pkg/enums"
	"github.com/angelmondragon/bazari-settlement/pkg/logger"
)

// DomainEvent is what settlement code hands to Emit. AggregateType may be
// left empty; it defaults to the event type's aggregate.
type DomainEvent struct {
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	AggregateID   uuid.UUID
	Actor         *ActorRef
	Data          any
	Version       int
	OccurredAt    time.Time
}

// Emitter writes domain events inside the caller's transaction.
type Emitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event DomainEvent) error
}

type Service struct {
	repo *Repository
	logg *logger.Logger
	now  func() time.Time
}

func NewService(repo *Repository, logg *logger.Logger) *Service {
	return &Service{repo: repo, logg: logg, now: time.Now}
}

// Emit serializes event into a versioned envelope and inserts the outbox row
// through tx. The row ID doubles as the envelope's event ID so subscribers
// can dedupe on it.
func (s *Service) Emit(ctx context.Context, tx *gorm.DB, event DomainEvent) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	row, err := s.buildRow(event)
	if err != nil {
		return err
	}
	if err := s.repo.Insert(tx, row); err != nil {
		return fmt.Errorf("insert outbox %s: %w", row.EventType, err)
	}
	if s.logg != nil {
		s.logg.Info(s.logg.WithFields(ctx, map[string]any{
			"event_id":       row.ID.String(),
			"event_type":     row.EventType,
			"aggregate_id":   row.AggregateID.String(),
			"aggregate_type": row.AggregateType,
		}), "outbox event queued")
	}
	return nil
}

func (s *Service) buildRow(event DomainEvent) (models.OutboxEvent, error) {
	expected := event.EventType.Aggregate()
	if expected == "" {
		return models.OutboxEvent{}, fmt.Errorf("unknown outbox event type %q", event.EventType)
	}
	if event.AggregateType == "" {
		event.AggregateType = expected
	}
	if event.AggregateType != expected {
		return models.OutboxEvent{}, fmt.Errorf("%s belongs to %s, not %s", event.EventType, expected, event.AggregateType)
	}
	if event.AggregateID == uuid.Nil {
		return models.OutboxEvent{}, fmt.Errorf("%s: aggregate id required", event.EventType)
	}

	data, err := json.Marshal(event.Data)
	if err != nil {
		return models.OutboxEvent{}, fmt.Errorf("encode %s data: %w", event.EventType, err)
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = s.now()
	}
	if event.Version == 0 {
		event.Version = EnvelopeVersion
	}

	id := uuid.New()
	payload, err := json.Marshal(PayloadEnvelope{
		Version:    event.Version,
		EventID:    id.String(),
		OccurredAt: event.OccurredAt.UTC(),
		Actor:      event.Actor,
		Data:       data,
	})
	if err != nil {
		return models.OutboxEvent{}, fmt.Errorf("encode %s envelope: %w", event.EventType, err)
	}
	return models.OutboxEvent{
		ID:            id,
		EventType:     event.EventType,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		Payload:       payload,
	}, nil
}
