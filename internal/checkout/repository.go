package checkout

import (
	"context"
	"errors"
	"time"

	"github.com/angelmondragon/bazari-settlement/pkg/amount"
	"github.com/angelmondragon/bazari-settlement/pkg/db/models"
	"github.com/angelmondragon/bazari-settlement/pkg/enums"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrSessionConflict is returned when a conditional session update matched no row.
var ErrSessionConflict = errors.New("checkout session status changed concurrently")

// Repository persists checkout sessions. Member orders live in the orders repository.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, session *models.CheckoutSession) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.CheckoutSession, error)
	UpdateTotal(ctx context.Context, id uuid.UUID, total amount.BaseUnits) error
	TransitionStatus(ctx context.Context, id uuid.UUID, from []enums.CheckoutSessionStatus, to enums.CheckoutSessionStatus, updates map[string]any) error
	ExpirePending(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a checkout session repository.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, session *models.CheckoutSession) error {
	if session.ID == uuid.Nil {
		session.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Omit("Orders").Create(session).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.CheckoutSession, error) {
	var session models.CheckoutSession
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&session).Error; err != nil {
		return nil, err
	}
	return &session, nil
}

func (r *repository) UpdateTotal(ctx context.Context, id uuid.UUID, total amount.BaseUnits) error {
	return r.db.WithContext(ctx).
		Model(&models.CheckoutSession{}).
		Where("id = ?", id).
		Updates(map[string]any{"total_bzr": total, "updated_at": time.Now().UTC()}).Error
}

func (r *repository) TransitionStatus(ctx context.Context, id uuid.UUID, from []enums.CheckoutSessionStatus, to enums.CheckoutSessionStatus, updates map[string]any) error {
	values := map[string]any{}
	for k, v := range updates {
		values[k] = v
	}
	values["status"] = to
	values["updated_at"] = time.Now().UTC()

	res := r.db.WithContext(ctx).
		Model(&models.CheckoutSession{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(values)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrSessionConflict
	}
	return nil
}

// ExpirePending flips overdue PENDING sessions to EXPIRED and returns their ids.
func (r *repository) ExpirePending(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).
		Model(&models.CheckoutSession{}).
		Where("status = ? AND expires_at <= ?", enums.CheckoutSessionPending, now).
		Order("expires_at ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	if err != nil || len(ids) == 0 {
		return nil, err
	}
	err = r.db.WithContext(ctx).
		Model(&models.CheckoutSession{}).
		Where("id IN ? AND status = ?", ids, enums.CheckoutSessionPending).
		Updates(map[string]any{"status": enums.CheckoutSessionExpired, "updated_at": now}).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}
