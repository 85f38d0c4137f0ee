package cron

import (
	"context"
	"fmt"

	"github.com/angelmondragon/bazari-settlement/internal/orders"
	"github.com/angelmondragon/bazari-settlement/pkg/db/models"
	"github.com/angelmondragon/bazari-settlement/pkg/enums"
	"github.com/angelmondragon/bazari-settlement/pkg/logger"
	"github.com/google/uuid"
	"go.uber.org/multierr"
)

// reconcileStatuses are the local states whose chain escrow can still move
// without a request from this service.
var reconcileStatuses = []enums.OrderStatus{
	enums.OrderStatusEscrowed,
	enums.OrderStatusShipped,
	enums.OrderStatusTimeout,
	enums.OrderStatusCancelled,
}

type reconcileReader interface {
	ListOrdersWithPendingFunds(ctx context.Context, limit int) ([]models.Order, error)
	ListOrdersByStatus(ctx context.Context, statuses []enums.OrderStatus, limit int) ([]models.Order, error)
}

type reconciler interface {
	ReconcileOrder(ctx context.Context, orderID uuid.UUID) (*orders.OrderView, bool, error)
}

// EscrowReconcileJobParams configure the chain reconciliation job.
type EscrowReconcileJobParams struct {
	Logger     *logger.Logger
	Orders     reconcileReader
	Settlement reconciler
	BatchSize  int
}

// NewEscrowReconcileJob projects chain escrow state onto orders whose funds
// are pending or held.
func NewEscrowReconcileJob(params EscrowReconcileJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if params.Settlement == nil {
		return nil, fmt.Errorf("settlement service required")
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	return &escrowReconcileJob{
		logg:       params.Logger,
		orders:     params.Orders,
		settlement: params.Settlement,
		batch:      batch,
	}, nil
}

type escrowReconcileJob struct {
	logg       *logger.Logger
	orders     reconcileReader
	settlement reconciler
	batch      int
}

func (j *escrowReconcileJob) Name() string { return "escrow-reconcile" }

func (j *escrowReconcileJob) Run(ctx context.Context) (int, error) {
	pending, err := j.orders.ListOrdersWithPendingFunds(ctx, j.batch)
	if err != nil {
		return 0, fmt.Errorf("list pending-funds orders: %w", err)
	}
	held, err := j.orders.ListOrdersByStatus(ctx, reconcileStatuses, j.batch)
	if err != nil {
		return 0, fmt.Errorf("list held orders: %w", err)
	}

	seen := make(map[uuid.UUID]struct{}, len(pending)+len(held))
	var errs error
	changed := 0
	for _, order := range append(pending, held...) {
		if _, dup := seen[order.ID]; dup {
			continue
		}
		seen[order.ID] = struct{}{}
		if !order.HasChainID() {
			continue
		}

		view, moved, err := j.settlement.ReconcileOrder(ctx, order.ID)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("order %s: %w", order.ID, err))
			continue
		}
		if moved {
			changed++
			logCtx := j.logg.WithOrderID(ctx, order.ID.String())
			logCtx = j.logg.WithFields(logCtx, map[string]any{
				"from": order.Status,
				"to":   view.Status,
			})
			j.logg.Info(logCtx, "order reconciled from chain")
		}
	}
	j.logg.Debug(j.logg.WithField(ctx, "checked", len(seen)), "escrow reconcile pass complete")
	return changed, errs
}
