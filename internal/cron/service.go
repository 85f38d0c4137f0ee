package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/bazari-settlement/pkg/logger"
	"github.com/angelmondragon/bazari-settlement/pkg/metrics"
)

const defaultInterval = time.Minute

// ServiceParams configure the cron service. Registry may be nil for an
// empty cycle; Metrics may be nil.
type ServiceParams struct {
	Logger     *logger.Logger
	Registry   *Registry
	Lock       Lock
	Metrics    *metrics.CronJobMetrics
	Interval   time.Duration
	JobTimeout time.Duration
}

// Service runs the settlement housekeeping jobs on a fixed cadence. Only the
// instance holding the lock runs a cycle.
type Service struct {
	logg       *logger.Logger
	jobs       *Registry
	lock       Lock
	stats      *metrics.CronJobMetrics
	every      time.Duration
	jobTimeout time.Duration
}

func NewService(params ServiceParams) (*Service, error) {
	switch {
	case params.Logger == nil:
		return nil, errors.New("logger required")
	case params.Lock == nil:
		return nil, errors.New("lock required")
	}
	svc := &Service{
		logg:       params.Logger,
		jobs:       params.Registry,
		lock:       params.Lock,
		stats:      params.Metrics,
		every:      params.Interval,
		jobTimeout: params.JobTimeout,
	}
	if svc.jobs == nil {
		svc.jobs = &Registry{}
	}
	if svc.every <= 0 {
		svc.every = defaultInterval
	}
	return svc, nil
}

// Run runs a cycle immediately, then once per interval until ctx ends.
// Cycle errors are logged and never stop the loop.
func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.every)
	defer ticker.Stop()
	for {
		if err := s.RunOnce(ctx); err != nil {
			s.logg.Error(ctx, "cron cycle failed", err)
		}
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "cron service stopping")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce runs every registered job once under the lock. A failing job does
// not stop the ones after it; a lost lock ends the cycle.
func (s *Service) RunOnce(ctx context.Context) error {
	held, err := s.lock.Acquire(ctx)
	switch {
	case err != nil:
		return fmt.Errorf("acquire cron lock: %w", err)
	case !held:
		s.stats.IncSkipped(metrics.SkipLockHeld)
		s.logg.Debug(ctx, "cron lock held elsewhere, skipping cycle")
		return nil
	}
	defer func() {
		if err := s.lock.Release(ctx); err != nil {
			s.logg.Error(ctx, "cron lock release failed", err)
		}
	}()

	var failed []string
	for _, job := range s.jobs.Jobs() {
		if err := s.runJob(ctx, job); err != nil {
			failed = append(failed, job.Name())
		}
		if err := s.lock.Refresh(ctx); err != nil {
			if !errors.Is(err, ErrLockLost) {
				s.logg.Error(ctx, "cron lock refresh failed", err)
				continue
			}
			s.stats.IncSkipped(metrics.SkipLockLost)
			s.logg.Warn(s.logg.WithField(ctx, "after_job", job.Name()), "cron lock lost, ending cycle early")
			return nil
		}
	}
	if len(failed) > 0 {
		s.logg.Warn(s.logg.WithField(ctx, "failed_jobs", failed), "cron cycle finished with failures")
	} else {
		s.logg.Debug(ctx, "cron cycle finished")
	}
	return nil
}

// runJob runs one job under the per-job deadline and records the outcome.
func (s *Service) runJob(ctx context.Context, job Job) error {
	jobCtx := s.logg.WithFields(ctx, map[string]any{
		"job":   job.Name(),
		"event": "cron.job",
	})
	if s.jobTimeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(jobCtx, s.jobTimeout)
		defer cancel()
	}

	began := time.Now()
	processed, err := job.Run(jobCtx)
	took := time.Since(began)
	s.stats.ObserveRun(job.Name(), took, processed, err)

	logCtx := s.logg.WithFields(jobCtx, map[string]any{
		"duration_ms": took.Milliseconds(),
		"processed":   processed,
	})
	switch {
	case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		s.logg.Error(logCtx, "cron job exceeded its deadline", err)
	case err != nil:
		s.logg.Error(logCtx, "cron job failed", err)
	case processed > 0:
		s.logg.Info(logCtx, "cron job completed")
	}
	return err
}
