package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/bazari-settlement/pkg/config"
	"github.com/angelmondragon/bazari-settlement/pkg/db/models"
	"github.com/angelmondragon/bazari-settlement/pkg/enums"
	"github.com/angelmondragon/bazari-settlement/pkg/logger"
	"github.com/angelmondragon/bazari-settlement/pkg/outbox"
	"github.com/angelmondragon/bazari-settlement/pkg/outbox/registry"
)

const settlementTopic = "bazari-settlement"

// rowState is what the relay did to one outbox row.
type rowState string

const (
	rowUntouched  rowState = ""
	rowPublished  rowState = "published"
	rowFailed     rowState = "failed"
	rowTerminated rowState = "terminal"
)

func TestRelayOutcomes(t *testing.T) {
	transient := errors.New("deadline exceeded")
	cases := []struct {
		name        string
		attempts    int
		maxAttempts int
		resolveErr  error
		publishErr  error
		noPublisher bool
		wantRow     rowState
		wantReason  enums.OutboxDLQErrorReason
		wantMessage string
	}{
		{name: "published", wantRow: rowPublished},
		{name: "transient failure is retried", publishErr: transient, wantRow: rowFailed},
		{
			name:        "last attempt dead-letters",
			attempts:    2,
			maxAttempts: 3,
			publishErr:  transient,
			wantRow:     rowTerminated,
			wantReason:  enums.OutboxDLQReasonMaxAttempts,
			wantMessage: "max publish attempts reached",
		},
		{
			name:        "bad payload dead-letters at once",
			resolveErr:  registry.NewNonRetryableError(errors.New("unknown version 9")),
			wantRow:     rowTerminated,
			wantReason:  enums.OutboxDLQReasonNonRetryable,
			wantMessage: "unknown version 9",
		},
		{
			name:        "missing publisher is unroutable",
			noPublisher: true,
			wantRow:     rowTerminated,
			wantReason:  enums.OutboxDLQReasonUnroutable,
			wantMessage: "no publisher for topic",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			event := newOutboxRow(t, enums.EventOrderCompleted)
			event.AttemptCount = tc.attempts
			h := newHarness(t, tc.maxAttempts, event)
			h.registry.err = tc.resolveErr
			if tc.publishErr != nil {
				h.pub.errs = []error{tc.publishErr}
			}
			if tc.noPublisher {
				h.svc.publisherFactory = func(string) publisher { return nil }
			}

			processed, err := h.svc.processBatch(context.Background())
			if err != nil {
				t.Fatalf("processBatch: %v", err)
			}
			if !processed {
				t.Fatal("expected the batch to report work")
			}
			if got := h.repo.state[event.ID]; got != tc.wantRow {
				t.Fatalf("row state = %q, want %q", got, tc.wantRow)
			}

			if tc.wantReason == "" {
				if len(h.dlq.entries) != 0 {
					t.Fatalf("unexpected dlq entries: %d", len(h.dlq.entries))
				}
				return
			}
			if len(h.dlq.entries) != 1 {
				t.Fatalf("expected one dlq entry, got %d", len(h.dlq.entries))
			}
			entry := h.dlq.entries[0]
			if entry.EventID != event.ID || entry.ErrorReason != tc.wantReason {
				t.Fatalf("dlq entry = %s/%s, want %s/%s", entry.EventID, entry.ErrorReason, event.ID, tc.wantReason)
			}
			if !bytes.Equal(entry.Payload, event.Payload) {
				t.Fatal("dlq entry must keep the original payload")
			}
			if !strings.Contains(entry.Message(), tc.wantMessage) {
				t.Fatalf("dlq message %q does not mention %q", entry.Message(), tc.wantMessage)
			}
			if h.repo.terminalAt[event.ID] != h.svc.maxAttempts {
				t.Fatalf("terminal attempts = %d, want %d", h.repo.terminalAt[event.ID], h.svc.maxAttempts)
			}
		})
	}
}

func TestProcessBatchKeepsGoingAfterOneFailure(t *testing.T) {
	first := newOutboxRow(t, enums.EventOrderCreated)
	second := newOutboxRow(t, enums.EventOrderCreated)
	h := newHarness(t, 0, first, second)
	h.pub.errs = []error{errors.New("unavailable"), nil}

	if _, err := h.svc.processBatch(context.Background()); err != nil {
		t.Fatalf("processBatch: %v", err)
	}
	if h.repo.state[first.ID] != rowFailed || h.repo.state[second.ID] != rowPublished {
		t.Fatalf("unexpected row states: first=%q second=%q", h.repo.state[first.ID], h.repo.state[second.ID])
	}
}

// journalPublisher records when each message is handed off and when its
// ack is read.
type journalPublisher struct {
	journal []string
}

func (p *journalPublisher) Publish(_ context.Context, msg *gcppubsub.Message) publishResult {
	id := msg.Attributes["event_id"]
	p.journal = append(p.journal, "publish "+id)
	return journalResult{id: id, p: p}
}

type journalResult struct {
	id string
	p  *journalPublisher
}

func (r journalResult) Get(context.Context) (string, error) {
	r.p.journal = append(r.p.journal, "ack "+r.id)
	return r.id, nil
}

func TestProcessBatchHandsOffEveryRowBeforeAwaitingAcks(t *testing.T) {
	first := newOutboxRow(t, enums.EventOrderCreated)
	second := newOutboxRow(t, enums.EventOrderCreated)
	h := newHarness(t, 0, first, second)
	pub := &journalPublisher{}
	h.svc.publisherFactory = func(string) publisher { return pub }

	if _, err := h.svc.processBatch(context.Background()); err != nil {
		t.Fatalf("processBatch: %v", err)
	}
	want := []string{
		"publish " + first.ID.String(),
		"publish " + second.ID.String(),
		"ack " + first.ID.String(),
		"ack " + second.ID.String(),
	}
	if strings.Join(pub.journal, ",") != strings.Join(want, ",") {
		t.Fatalf("journal = %v, want %v", pub.journal, want)
	}
	if h.repo.state[first.ID] != rowPublished || h.repo.state[second.ID] != rowPublished {
		t.Fatal("both rows should be published")
	}
}

func TestProcessBatchReportsIdlePoll(t *testing.T) {
	h := newHarness(t, 0)
	processed, err := h.svc.processBatch(context.Background())
	if err != nil || processed {
		t.Fatalf("empty poll = (%v, %v), want (false, nil)", processed, err)
	}
}

func TestPublishCarriesEnvelopeAttributes(t *testing.T) {
	event := newOutboxRow(t, enums.EventDeliveryRequested)
	h := newHarness(t, 0, event)

	if _, err := h.svc.processBatch(context.Background()); err != nil {
		t.Fatalf("processBatch: %v", err)
	}
	if len(h.pub.sent) != 1 {
		t.Fatalf("expected one message, got %d", len(h.pub.sent))
	}
	msg := h.pub.sent[0]
	want := map[string]string{
		"event_id":       event.ID.String(),
		"event_type":     string(enums.EventDeliveryRequested),
		"aggregate_type": string(enums.AggregateOrder),
		"aggregate_id":   event.AggregateID.String(),
		"created_at":     event.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	for key, value := range want {
		if msg.Attributes[key] != value {
			t.Fatalf("attribute %s = %q, want %q", key, msg.Attributes[key], value)
		}
	}
	if !bytes.Equal(msg.Data, event.Payload) {
		t.Fatal("message data must be the stored envelope")
	}
}

func TestPublisherIsCachedPerTopic(t *testing.T) {
	h := newHarness(t, 0, newOutboxRow(t, enums.EventOrderCreated), newOutboxRow(t, enums.EventOrderCompleted))
	built := map[string]int{}
	h.svc.publisherFactory = func(topic string) publisher {
		built[topic]++
		return h.pub
	}

	if _, err := h.svc.processBatch(context.Background()); err != nil {
		t.Fatalf("processBatch: %v", err)
	}
	if built[settlementTopic] != 1 || len(built) != 1 {
		t.Fatalf("expected one publisher for %s, got %v", settlementTopic, built)
	}
}

func TestRunStopsOnFailedPing(t *testing.T) {
	h := newHarness(t, 0)
	h.svc.pubsub = &stubPubSub{pingErr: errors.New("topic not found")}

	err := h.svc.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "pubsub ping failed") {
		t.Fatalf("expected pubsub ping failure, got %v", err)
	}
}

func TestRunReturnsOnCancel(t *testing.T) {
	h := newHarness(t, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := h.svc.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestNewServiceAppliesDefaults(t *testing.T) {
	h := newHarness(t, 0)
	svc, err := NewService(ServiceParams{
		Config:        &config.Config{},
		Logger:        h.svc.logg,
		DB:            stubDB{},
		PubSub:        &stubPubSub{},
		Repository:    h.repo,
		Registry:      h.registry,
		DLQRepository: h.dlq,
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	if svc.batchSize != defaultBatchSize || svc.maxAttempts != defaultMaxAttempts {
		t.Fatalf("defaults not applied: batch=%d attempts=%d", svc.batchSize, svc.maxAttempts)
	}
	if svc.pollInterval != defaultPollMs*time.Millisecond {
		t.Fatalf("poll interval = %s", svc.pollInterval)
	}

	if _, err := NewService(ServiceParams{Config: &config.Config{}}); err == nil {
		t.Fatal("expected missing logger to be rejected")
	}
}

type harness struct {
	svc      *Service
	repo     *memOutbox
	pub      *scriptedPublisher
	registry *stubRegistry
	dlq      *memDLQ
}

func newHarness(t *testing.T, maxAttempts int, events ...models.OutboxEvent) *harness {
	t.Helper()
	h := &harness{
		repo:     newMemOutbox(events...),
		pub:      &scriptedPublisher{},
		registry: &stubRegistry{},
		dlq:      &memDLQ{},
	}
	svc, err := NewService(ServiceParams{
		Config: &config.Config{Outbox: config.OutboxConfig{
			BatchSize:      10,
			PollIntervalMS: 50,
			MaxAttempts:    maxAttempts,
		}},
		Logger:           logger.New(logger.Options{ServiceName: "outbox-publisher-test", Output: io.Discard}),
		DB:               stubDB{},
		PubSub:           &stubPubSub{},
		Repository:       h.repo,
		Registry:         h.registry,
		PublisherFactory: func(string) publisher { return h.pub },
		DLQRepository:    h.dlq,
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	h.svc = svc
	return h
}

func newOutboxRow(t *testing.T, eventType enums.OutboxEventType) models.OutboxEvent {
	t.Helper()
	id := uuid.New()
	envelope, err := json.Marshal(outbox.PayloadEnvelope{
		Version:    1,
		EventID:    id.String(),
		OccurredAt: time.Now().UTC(),
		Data:       json.RawMessage(`{}`),
	})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return models.OutboxEvent{
		ID:            id,
		EventType:     eventType,
		AggregateType: enums.AggregateOrder,
		AggregateID:   uuid.New(),
		Payload:       envelope,
		CreatedAt:     time.Now().Add(-time.Second),
	}
}

type memOutbox struct {
	events     []models.OutboxEvent
	state      map[uuid.UUID]rowState
	terminalAt map[uuid.UUID]int
}

func newMemOutbox(events ...models.OutboxEvent) *memOutbox {
	return &memOutbox{
		events:     events,
		state:      map[uuid.UUID]rowState{},
		terminalAt: map[uuid.UUID]int{},
	}
}

func (m *memOutbox) FetchUnpublishedForPublish(_ *gorm.DB, limit, _ int) ([]models.OutboxEvent, error) {
	var out []models.OutboxEvent
	for _, event := range m.events {
		if m.state[event.ID] == rowUntouched && len(out) < limit {
			out = append(out, event)
		}
	}
	return out, nil
}

func (m *memOutbox) MarkPublishedTx(_ *gorm.DB, id uuid.UUID) error {
	m.state[id] = rowPublished
	return nil
}

func (m *memOutbox) MarkFailedTx(_ *gorm.DB, id uuid.UUID, _ error) error {
	m.state[id] = rowFailed
	return nil
}

func (m *memOutbox) MarkTerminalTx(_ *gorm.DB, id uuid.UUID, _ error, terminalAttempts int) error {
	m.state[id] = rowTerminated
	m.terminalAt[id] = terminalAttempts
	return nil
}

type memDLQ struct {
	entries []models.OutboxDLQ
}

func (m *memDLQ) InsertTx(_ *gorm.DB, entry models.OutboxDLQ) error {
	m.entries = append(m.entries, entry)
	return nil
}

type stubDB struct{}

func (stubDB) Ping(context.Context) error { return nil }

func (stubDB) WithTx(_ context.Context, fn func(*gorm.DB) error) error { return fn(nil) }

type stubPubSub struct {
	pingErr error
}

func (s *stubPubSub) Ping(context.Context) error { return s.pingErr }

func (s *stubPubSub) Publisher(string) *gcppubsub.Publisher { return nil }

// scriptedPublisher answers each Publish with the next queued error; an
// exhausted queue means success.
type scriptedPublisher struct {
	errs []error
	sent []*gcppubsub.Message
}

func (p *scriptedPublisher) Publish(_ context.Context, msg *gcppubsub.Message) publishResult {
	p.sent = append(p.sent, msg)
	var err error
	if len(p.errs) > 0 {
		err, p.errs = p.errs[0], p.errs[1:]
	}
	return settledResult{err: err}
}

type settledResult struct {
	err error
}

func (r settledResult) Get(context.Context) (string, error) {
	if r.err != nil {
		return "", r.err
	}
	return "server-id", nil
}

type stubRegistry struct {
	err error
}

func (s *stubRegistry) Resolve(event models.OutboxEvent) (*registry.ResolvedEvent, error) {
	if s.err != nil {
		return nil, s.err
	}
	envelope, err := outbox.DecodeEnvelope(event.Payload)
	if err != nil {
		return nil, err
	}
	return &registry.ResolvedEvent{
		Descriptor: registry.EventDescriptor{Topic: settlementTopic, AggregateType: event.AggregateType},
		Envelope:   envelope,
	}, nil
}
