package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/bazari-settlement/pkg/db/models"
)

const (
	maxLastErrorLen = 1024
	pruneChunk      = 500
)

var (
	errTxRequired = errors.New("transaction required")
	// ErrEventMissing is returned when a relay update matched no row.
	ErrEventMissing = errors.New("outbox event not found")
)

// Repository owns outbox_events: inserts from the order transactions, the
// relay's claim-and-mark cycle, and retention.
type Repository struct {
	db  *gorm.DB
	now func() time.Time
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db, now: time.Now}
}

// Insert writes event inside the caller's transaction.
func (r *Repository) Insert(tx *gorm.DB, event models.OutboxEvent) error {
	if tx == nil {
		return errTxRequired
	}
	return tx.Create(&event).Error
}

// FetchUnpublishedForPublish claims the oldest unpublished rows still under
// the attempt ceiling. On Postgres the rows stay locked until tx ends and
// rows locked by another relay are skipped.
func (r *Repository) FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error) {
	if tx == nil {
		return nil, errTxRequired
	}
	query := tx.Where("published_at IS NULL AND attempt_count < ?", maxAttempts).
		Order("created_at ASC").
		Order("id ASC").
		Limit(limit)
	if tx.Dialector != nil && tx.Dialector.Name() == "postgres" {
		query = query.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
	}
	var rows []models.OutboxEvent
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("claim outbox batch: %w", err)
	}
	return rows, nil
}

func (r *Repository) MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error {
	return r.update(tx, id, map[string]any{"published_at": r.now().UTC()})
}

// MarkFailedTx records a retryable failure and spends one attempt.
func (r *Repository) MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error {
	return r.update(tx, id, map[string]any{
		"last_error":    truncate(err.Error()),
		"attempt_count": gorm.Expr("attempt_count + 1"),
	})
}

// MarkTerminalTx pins the attempt count at the ceiling so the row is never
// claimed again.
func (r *Repository) MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error {
	return r.update(tx, id, map[string]any{
		"last_error":    truncate(err.Error()),
		"attempt_count": terminalAttempts,
	})
}

func (r *Repository) update(tx *gorm.DB, id uuid.UUID, fields map[string]any) error {
	if tx == nil {
		return errTxRequired
	}
	res := tx.Model(&models.OutboxEvent{}).Where("id = ?", id).Updates(fields)
	switch {
	case res.Error != nil:
		return res.Error
	case res.RowsAffected == 0:
		return fmt.Errorf("%w: %s", ErrEventMissing, id)
	}
	return nil
}

// DeletePublishedBefore removes rows published before cutoff.
func (r *Repository) DeletePublishedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return pruneBefore(ctx, r.db, &models.OutboxEvent{}, "published_at", cutoff)
}

// pruneBefore deletes rows whose column is older than cutoff in chunks of
// pruneChunk so retention never holds one long lock. column must be a
// trusted identifier.
func pruneBefore(ctx context.Context, db *gorm.DB, model any, column string, cutoff time.Time) (int64, error) {
	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		chunk := db.Model(model).Select("id").Where(column+" < ?", cutoff).Limit(pruneChunk)
		res := db.WithContext(ctx).Where("id IN (?)", chunk).Delete(model)
		if res.Error != nil {
			return total, res.Error
		}
		total += res.RowsAffected
		if res.RowsAffected < pruneChunk {
			return total, nil
		}
	}
}

func truncate(message string) string {
	if len(message) <= maxLastErrorLen {
		return message
	}
	return message[:maxLastErrorLen]
}
