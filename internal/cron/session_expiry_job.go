package cron

import (
	"context"
	"fmt"

	"github.com/angelmondragon/bazari-settlement/pkg/logger"
)

type sessionExpirer interface {
	ExpireStale(ctx context.Context, limit int) (int, error)
}

// SessionExpiryJobParams configure the checkout session sweep.
type SessionExpiryJobParams struct {
	Logger    *logger.Logger
	Sessions  sessionExpirer
	BatchSize int
}

// NewSessionExpiryJob flips overdue PENDING checkout sessions to EXPIRED.
// Member orders are left alone.
func NewSessionExpiryJob(params SessionExpiryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Sessions == nil {
		return nil, fmt.Errorf("checkout service required")
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	return &sessionExpiryJob{logg: params.Logger, sessions: params.Sessions, batch: batch}, nil
}

type sessionExpiryJob struct {
	logg     *logger.Logger
	sessions sessionExpirer
	batch    int
}

func (j *sessionExpiryJob) Name() string { return "session-expiry" }

func (j *sessionExpiryJob) Run(ctx context.Context) (int, error) {
	expired, err := j.sessions.ExpireStale(ctx, j.batch)
	if err != nil {
		return 0, fmt.Errorf("expire sessions: %w", err)
	}
	return expired, nil
}
