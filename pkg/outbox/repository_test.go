package outbox

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/bazari-settlement/pkg/db/models"
	"github.com/angelmondragon/bazari-settlement/pkg/enums"
)

const outboxSchema = `
CREATE TABLE outbox_events (
  id TEXT PRIMARY KEY,
  event_type TEXT NOT NULL,
  aggregate_type TEXT NOT NULL,
  aggregate_id TEXT NOT NULL,
  payload TEXT NOT NULL,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  last_error TEXT,
  published_at DATETIME,
  created_at DATETIME
);
CREATE TABLE outbox_dlq (
  id TEXT PRIMARY KEY,
  event_id TEXT NOT NULL,
  event_type TEXT NOT NULL,
  aggregate_type TEXT NOT NULL,
  aggregate_id TEXT NOT NULL,
  payload_json TEXT NOT NULL,
  error_reason TEXT NOT NULL,
  error_message TEXT,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  failed_at DATETIME,
  created_at DATETIME
);`

func openOutboxDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file:"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	for _, stmt := range strings.Split(outboxSchema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		require.NoError(t, conn.Exec(stmt).Error)
	}
	return conn
}

func seedEvent(t *testing.T, conn *gorm.DB, createdAt time.Time) models.OutboxEvent {
	t.Helper()
	event := models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     enums.EventOrderCreated,
		AggregateType: enums.AggregateOrder,
		AggregateID:   uuid.New(),
		Payload:       []byte(`{"version":1,"data":{}}`),
		CreatedAt:     createdAt,
	}
	require.NoError(t, NewRepository(conn).Insert(conn, event))
	return event
}

func TestRepositoryRelayLifecycle(t *testing.T) {
	conn := openOutboxDB(t)
	repo := NewRepository(conn)
	base := time.Now().UTC().Add(-time.Hour)

	first := seedEvent(t, conn, base)
	second := seedEvent(t, conn, base.Add(time.Minute))

	rows, err := repo.FetchUnpublishedForPublish(conn, 10, 3)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, first.ID, rows[0].ID)

	require.NoError(t, repo.MarkFailedTx(conn, second.ID, errors.New(strings.Repeat("x", 2000))))
	var failed models.OutboxEvent
	require.NoError(t, conn.First(&failed, "id = ?", second.ID).Error)
	require.Equal(t, 1, failed.AttemptCount)
	require.Len(t, *failed.LastError, maxLastErrorLen)

	require.NoError(t, repo.MarkTerminalTx(conn, second.ID, errors.New("gave up"), 3))
	require.NoError(t, repo.MarkPublishedTx(conn, first.ID))

	rows, err = repo.FetchUnpublishedForPublish(conn, 10, 3)
	require.NoError(t, err)
	require.Empty(t, rows)

	var published models.OutboxEvent
	require.NoError(t, conn.First(&published, "id = ?", first.ID).Error)
	require.True(t, published.Published())

	deleted, err := repo.DeletePublishedBefore(context.Background(), time.Now().UTC().Add(time.Hour))
	require.NoError(t, err)
	require.EqualValues(t, 1, deleted)
}

func TestDLQRepositoryInsertAndPrune(t *testing.T) {
	conn := openOutboxDB(t)
	dlq := NewDLQRepository(conn)
	event := models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     enums.EventOrderCreated,
		AggregateType: enums.AggregateOrder,
		AggregateID:   uuid.New(),
		Payload:       []byte(`{}`),
		AttemptCount:  2,
	}

	bad := event.DeadLetter("exploded", errors.New("boom"), time.Now().UTC())
	require.Error(t, dlq.InsertTx(conn, bad))

	old := event.DeadLetter(enums.OutboxDLQReasonMaxAttempts, errors.New(strings.Repeat("y", 2000)), time.Now().UTC().Add(-48*time.Hour))
	require.NoError(t, dlq.InsertTx(conn, old))
	recent := event.DeadLetter(enums.OutboxDLQReasonUnroutable, nil, time.Now().UTC())
	require.NoError(t, dlq.InsertTx(conn, recent))

	var stored []models.OutboxDLQ
	require.NoError(t, conn.Order("failed_at ASC").Find(&stored).Error)
	require.Len(t, stored, 2)
	require.Len(t, stored[0].Message(), maxLastErrorLen)
	require.Equal(t, 2, stored[0].AttemptCount)
	require.Empty(t, stored[1].Message())

	deleted, err := dlq.DeleteFailedBefore(context.Background(), time.Now().UTC().Add(-24*time.Hour))
	require.NoError(t, err)
	require.EqualValues(t, 1, deleted)
}

func TestRepositoryMarkUnknownEvent(t *testing.T) {
	conn := openOutboxDB(t)
	repo := NewRepository(conn)

	err := repo.MarkPublishedTx(conn, uuid.New())
	require.ErrorIs(t, err, ErrEventMissing)
	require.ErrorIs(t, repo.MarkFailedTx(nil, uuid.New(), errors.New("x")), errTxRequired)
}

func TestDeletePublishedBeforeSpansChunks(t *testing.T) {
	conn := openOutboxDB(t)
	repo := NewRepository(conn)
	publishedAt := time.Now().UTC().Add(-2 * time.Hour)

	events := make([]models.OutboxEvent, 0, pruneChunk+7)
	for range pruneChunk + 7 {
		events = append(events, models.OutboxEvent{
			ID:            uuid.New(),
			EventType:     enums.EventOrderCreated,
			AggregateType: enums.AggregateOrder,
			AggregateID:   uuid.New(),
			Payload:       []byte(`{}`),
			PublishedAt:   &publishedAt,
			CreatedAt:     publishedAt,
		})
	}
	require.NoError(t, conn.CreateInBatches(events, 100).Error)
	pending := seedEvent(t, conn, publishedAt)

	deleted, err := repo.DeletePublishedBefore(context.Background(), time.Now().UTC())
	require.NoError(t, err)
	require.EqualValues(t, pruneChunk+7, deleted)

	var left []models.OutboxEvent
	require.NoError(t, conn.Find(&left).Error)
	require.Len(t, left, 1)
	require.Equal(t, pending.ID, left[0].ID)
}
