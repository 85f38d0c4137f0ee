package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/bazari-settlement/internal/orders"
	"github.com/angelmondragon/bazari-settlement/pkg/db/models"
	"github.com/angelmondragon/bazari-settlement/pkg/logger"
	"github.com/google/uuid"
	"go.uber.org/multierr"
)

const (
	defaultBatchSize    = 100
	defaultMaxRetries   = 5
	defaultPendingGrace = 5 * time.Minute
)

type chainFailureReader interface {
	ListRetryableChainFailures(ctx context.Context, maxRetries int, stalledBefore time.Time, limit int) ([]models.Order, error)
}

type chainRegistrar interface {
	RetryChainRegistration(ctx context.Context, orderID uuid.UUID) (*orders.OrderView, error)
}

// ChainRetryJobParams configure the registration retry job.
type ChainRetryJobParams struct {
	Logger     *logger.Logger
	Orders     chainFailureReader
	Settlement chainRegistrar
	MaxRetries int
	BatchSize  int
	// PendingGrace is how long a PENDING_BLOCKCHAIN order may sit before
	// its registration counts as abandoned.
	PendingGrace time.Duration
	Clock        func() time.Time
}

// NewChainRetryJob re-registers BLOCKCHAIN_FAILED orders that still have
// retries left, and PENDING_BLOCKCHAIN orders stalled past the grace period.
func NewChainRetryJob(params ChainRetryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if params.Settlement == nil {
		return nil, fmt.Errorf("settlement service required")
	}
	maxRetries := params.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	grace := params.PendingGrace
	if grace <= 0 {
		grace = defaultPendingGrace
	}
	clock := params.Clock
	if clock == nil {
		clock = time.Now
	}
	return &chainRetryJob{
		logg:       params.Logger,
		orders:     params.Orders,
		settlement: params.Settlement,
		maxRetries: maxRetries,
		batch:      batch,
		grace:      grace,
		now:        clock,
	}, nil
}

type chainRetryJob struct {
	logg       *logger.Logger
	orders     chainFailureReader
	settlement chainRegistrar
	maxRetries int
	batch      int
	grace      time.Duration
	now        func() time.Time
}

func (j *chainRetryJob) Name() string { return "chain-retry" }

func (j *chainRetryJob) Run(ctx context.Context) (int, error) {
	failed, err := j.orders.ListRetryableChainFailures(ctx, j.maxRetries, j.now().Add(-j.grace), j.batch)
	if err != nil {
		return 0, fmt.Errorf("list chain failures: %w", err)
	}

	var errs error
	registered := 0
	for _, order := range failed {
		view, err := j.settlement.RetryChainRegistration(ctx, order.ID)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("order %s: %w", order.ID, err))
			continue
		}
		if view != nil && view.ChainOrderID != nil {
			registered++
		}
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"candidates": len(failed),
		"registered": registered,
	})
	j.logg.Debug(logCtx, "chain retry pass complete")
	return registered, errs
}
