package orders

import (
	"context"
	"errors"
	"time"

	"github.com/angelmondragon/bazari-settlement/pkg/db/models"
	"github.com/angelmondragon/bazari-settlement/pkg/enums"
	"github.com/angelmondragon/bazari-settlement/pkg/pagination"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	// ErrStatusConflict is returned when a conditional status update matched no row.
	ErrStatusConflict = errors.New("order status changed concurrently")
	// ErrChainIDAlreadySet guards the set-once chain order id.
	ErrChainIDAlreadySet = errors.New("chain order id already set")
	// ErrChainIDTaken means another order already claimed the chain order id.
	ErrChainIDTaken = errors.New("chain order id bound to another order")
)

// Repository persists the order aggregate: orders, items, payment intents and
// the escrow audit log. Escrow logs are append-only; there is no update path.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	CreateOrder(ctx context.Context, order *models.Order) error
	FindOrder(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindOrderWithItems(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindOrdersBySession(ctx context.Context, sessionID uuid.UUID) ([]models.Order, error)
	ListOrdersByParticipant(ctx context.Context, wallet string, filters ListFilters, params pagination.Params) (pagination.Page[models.Order], error)
	ListOrdersByStatus(ctx context.Context, statuses []enums.OrderStatus, limit int) ([]models.Order, error)
	ListRetryableChainFailures(ctx context.Context, maxRetries int, stalledBefore time.Time, limit int) ([]models.Order, error)
	ListOrdersWithPendingFunds(ctx context.Context, limit int) ([]models.Order, error)

	TransitionStatus(ctx context.Context, id uuid.UUID, from []enums.OrderStatus, to enums.OrderStatus, updates map[string]any) error
	SetChainOrderID(ctx context.Context, id uuid.UUID, chainOrderID int64, txHash string) error
	RecordChainFailure(ctx context.Context, id uuid.UUID, from []enums.OrderStatus, message string) error
	MarkLockSubmitted(ctx context.Context, ids []uuid.UUID, txHash string, at time.Time) error

	CreatePaymentIntent(ctx context.Context, intent *models.PaymentIntent) error
	LatestPaymentIntent(ctx context.Context, orderID uuid.UUID) (*models.PaymentIntent, error)
	UpdatePaymentIntent(ctx context.Context, id uuid.UUID, updates map[string]any) error

	AppendEscrowLog(ctx context.Context, entry *models.EscrowLog) error
	ListEscrowLogs(ctx context.Context, orderID uuid.UUID) ([]models.EscrowLog, error)
}

// ListFilters narrows a participant's order listing.
type ListFilters struct {
	// Role is "buyer", "seller" or empty for both.
	Role     string
	Statuses []enums.OrderStatus
}
