package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/bazari-settlement/pkg/db"
	"github.com/angelmondragon/bazari-settlement/pkg/db/models"
	"github.com/angelmondragon/bazari-settlement/pkg/enums"
	"github.com/angelmondragon/bazari-settlement/pkg/pagination"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const maxErrorLength = 1024

type repository struct {
	db *gorm.DB
}

// NewRepository builds an orders repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) CreateOrder(ctx context.Context, order *models.Order) error {
	if order.ID == uuid.Nil {
		order.ID = uuid.New()
	}
	for i := range order.Items {
		if order.Items[i].ID == uuid.Nil {
			order.Items[i].ID = uuid.New()
		}
		order.Items[i].OrderID = order.ID
	}
	return r.db.WithContext(ctx).Create(order).Error
}

func (r *repository) FindOrder(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) FindOrderWithItems(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC") }).
		Where("id = ?", id).
		First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) FindOrdersBySession(ctx context.Context, sessionID uuid.UUID) ([]models.Order, error) {
	var orders []models.Order
	err := r.db.WithContext(ctx).
		Preload("Items").
		Where("checkout_session_id = ?", sessionID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&orders).Error
	if err != nil {
		return nil, err
	}
	return orders, nil
}

func (r *repository) ListOrdersByParticipant(ctx context.Context, wallet string, filters ListFilters, params pagination.Params) (pagination.Page[models.Order], error) {
	query := r.db.WithContext(ctx).Model(&models.Order{})
	switch strings.ToLower(filters.Role) {
	case "buyer":
		query = query.Where("buyer_address = ?", wallet)
	case "seller":
		query = query.Where("seller_address = ?", wallet)
	default:
		query = query.Where("buyer_address = ? OR seller_address = ?", wallet, wallet)
	}
	if len(filters.Statuses) > 0 {
		query = query.Where("status IN ?", filters.Statuses)
	}

	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return pagination.Page[models.Order]{}, err
	}
	if cursor != nil {
		query = query.Where("(created_at < ?) OR (created_at = ? AND id < ?)", cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
	}

	var rows []models.Order
	err = query.
		Order("created_at DESC").
		Order("id DESC").
		Limit(pagination.LimitWithBuffer(params.Limit)).
		Find(&rows).Error
	if err != nil {
		return pagination.Page[models.Order]{}, err
	}
	return pagination.Trim(rows, params.Limit, func(o models.Order) pagination.Cursor {
		return pagination.Cursor{CreatedAt: o.CreatedAt, ID: o.ID}
	}), nil
}

func (r *repository) ListOrdersByStatus(ctx context.Context, statuses []enums.OrderStatus, limit int) ([]models.Order, error) {
	var rows []models.Order
	err := r.db.WithContext(ctx).
		Where("status IN ?", statuses).
		Order("updated_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// ListRetryableChainFailures returns BLOCKCHAIN_FAILED orders with retries
// left, plus PENDING_BLOCKCHAIN orders untouched since stalledBefore.
func (r *repository) ListRetryableChainFailures(ctx context.Context, maxRetries int, stalledBefore time.Time, limit int) ([]models.Order, error) {
	var rows []models.Order
	err := r.db.WithContext(ctx).
		Where("blockchain_retries < ?", maxRetries).
		Where("status = ? OR (status = ? AND updated_at < ?)",
			enums.OrderStatusBlockchainFailed, enums.OrderStatusPendingBlockchain, stalledBefore.UTC()).
		Order("updated_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// ListOrdersWithPendingFunds returns CREATED orders whose lock was submitted
// but not yet observed, either flagged on the order or through a
// FUNDS_PENDING intent.
func (r *repository) ListOrdersWithPendingFunds(ctx context.Context, limit int) ([]models.Order, error) {
	var rows []models.Order
	err := r.db.WithContext(ctx).
		Where("status = ?", enums.OrderStatusCreated).
		Where("chain_order_id IS NOT NULL").
		Where("lock_submitted_at IS NOT NULL OR EXISTS (SELECT 1 FROM payment_intents pi WHERE pi.order_id = orders.id AND pi.status = ?)",
			enums.PaymentIntentFundsPending).
		Order("updated_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// TransitionStatus is the serialization point for settlement actions: the
// update only applies while the row is still in one of the from statuses.
func (r *repository) TransitionStatus(ctx context.Context, id uuid.UUID, from []enums.OrderStatus, to enums.OrderStatus, updates map[string]any) error {
	values := map[string]any{}
	for k, v := range updates {
		values[k] = v
	}
	values["status"] = to
	values["updated_at"] = time.Now().UTC()

	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(values)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStatusConflict
	}
	return nil
}

func (r *repository) SetChainOrderID(ctx context.Context, id uuid.UUID, chainOrderID int64, txHash string) error {
	values := map[string]any{
		"chain_order_id": chainOrderID,
		"updated_at":     time.Now().UTC(),
	}
	if txHash != "" {
		values["chain_tx_hash"] = txHash
	}
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND chain_order_id IS NULL", id).
		Updates(values)
	if res.Error != nil {
		if db.IsUniqueViolation(res.Error, "") {
			return fmt.Errorf("%w: %d", ErrChainIDTaken, chainOrderID)
		}
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrChainIDAlreadySet
	}
	return nil
}

// MarkLockSubmitted flags the CREATED orders among ids as having a lock
// extrinsic in flight. Orders in any other status are skipped.
func (r *repository) MarkLockSubmitted(ctx context.Context, ids []uuid.UUID, txHash string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	values := map[string]any{
		"lock_submitted_at": at.UTC(),
		"updated_at":        time.Now().UTC(),
	}
	if txHash != "" {
		values["lock_tx_hash"] = txHash
	}
	return r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id IN ? AND status = ?", ids, enums.OrderStatusCreated).
		Updates(values).Error
}

func (r *repository) RecordChainFailure(ctx context.Context, id uuid.UUID, from []enums.OrderStatus, message string) error {
	if len(message) > maxErrorLength {
		message = message[:maxErrorLength]
	}
	return r.TransitionStatus(ctx, id, from, enums.OrderStatusBlockchainFailed, map[string]any{
		"blockchain_retries":    gorm.Expr("blockchain_retries + 1"),
		"last_blockchain_error": message,
	})
}

func (r *repository) CreatePaymentIntent(ctx context.Context, intent *models.PaymentIntent) error {
	if intent.ID == uuid.Nil {
		intent.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(intent).Error
}

// LatestPaymentIntent returns the active intent, gorm.ErrRecordNotFound when none exists.
func (r *repository) LatestPaymentIntent(ctx context.Context, orderID uuid.UUID) (*models.PaymentIntent, error) {
	var intent models.PaymentIntent
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at DESC").
		Order("id DESC").
		First(&intent).Error
	if err != nil {
		return nil, err
	}
	return &intent, nil
}

func (r *repository) UpdatePaymentIntent(ctx context.Context, id uuid.UUID, updates map[string]any) error {
	values := map[string]any{"updated_at": time.Now().UTC()}
	for k, v := range updates {
		values[k] = v
	}
	return r.db.WithContext(ctx).Model(&models.PaymentIntent{}).Where("id = ?", id).Updates(values).Error
}

func (r *repository) AppendEscrowLog(ctx context.Context, entry *models.EscrowLog) error {
	if entry == nil {
		return errors.New("escrow log entry required")
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *repository) ListEscrowLogs(ctx context.Context, orderID uuid.UUID) ([]models.EscrowLog, error) {
	var logs []models.EscrowLog
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&logs).Error
	return logs, err
}
