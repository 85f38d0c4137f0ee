package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/bazari-settlement/pkg/logger"
)

const (
	defaultOutboxRetention = 30 * 24 * time.Hour
	defaultDLQRetention    = 90 * 24 * time.Hour
)

type OutboxRetentionJobParams struct {
	Logger     *logger.Logger
	Repository outboxRetentionRepo
	Retention  time.Duration
	// DLQ is optional; dead letters are kept forever without it.
	DLQ          dlqRetentionRepo
	DLQRetention time.Duration
}

type outboxRetentionRepo interface {
	DeletePublishedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type dlqRetentionRepo interface {
	DeleteFailedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// NewOutboxRetentionJob deletes published outbox rows older than the
// retention window and dead letters older than the DLQ window. Unpublished
// rows are never touched.
func NewOutboxRetentionJob(params OutboxRetentionJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Repository == nil {
		return nil, fmt.Errorf("outbox repository required")
	}
	retention := params.Retention
	if retention <= 0 {
		retention = defaultOutboxRetention
	}
	dlqRetention := params.DLQRetention
	if dlqRetention <= 0 {
		dlqRetention = defaultDLQRetention
	}
	return &outboxRetentionJob{
		logg:         params.Logger,
		repo:         params.Repository,
		dlq:          params.DLQ,
		retention:    retention,
		dlqRetention: dlqRetention,
		now:          time.Now,
	}, nil
}

type outboxRetentionJob struct {
	logg         *logger.Logger
	repo         outboxRetentionRepo
	dlq          dlqRetentionRepo
	retention    time.Duration
	dlqRetention time.Duration
	now          func() time.Time
}

func (j *outboxRetentionJob) Name() string { return "outbox-retention" }

func (j *outboxRetentionJob) Run(ctx context.Context) (int, error) {
	now := j.now().UTC()
	cutoff := now.Add(-j.retention)
	deleted, err := j.repo.DeletePublishedBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("outbox retention: %w", err)
	}

	var dlqDeleted int64
	if j.dlq != nil {
		dlqDeleted, err = j.dlq.DeleteFailedBefore(ctx, now.Add(-j.dlqRetention))
		if err != nil {
			return int(deleted), fmt.Errorf("dlq retention: %w", err)
		}
	}

	if deleted+dlqDeleted > 0 {
		logCtx := j.logg.WithFields(ctx, map[string]any{
			"cutoff":           cutoff,
			"rows_deleted":     deleted,
			"dlq_rows_deleted": dlqDeleted,
		})
		j.logg.Info(logCtx, "outbox retention cleanup complete")
	}
	return int(deleted + dlqDeleted), nil
}
