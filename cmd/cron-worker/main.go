package main

import (
	"context"
	"errors"
	"flag"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/bazari-settlement/internal/bootstrap"
	"github.com/angelmondragon/bazari-settlement/internal/cron"
	"github.com/angelmondragon/bazari-settlement/pkg/config"
	"github.com/angelmondragon/bazari-settlement/pkg/logger"
	"github.com/angelmondragon/bazari-settlement/pkg/metrics"
)

func main() {
	once := flag.Bool("once", false, "run a single cycle and exit")
	only := flag.String("jobs", "", "comma-separated job names to run (default all)")
	flag.Parse()

	proc := bootstrap.Start("cron-worker")
	defer proc.Close()
	cfg, logg := proc.Config, proc.Logger

	dbClient := proc.Database(context.Background())
	redisClient := proc.Redis(context.Background())
	settlement := proc.Settlement(dbClient, prometheus.DefaultRegisterer)

	registry, err := buildRegistry(cfg, logg, settlement)
	proc.Must("failed to build cron jobs", err)
	registry, err = registry.Select(strings.Split(*only, ","))
	proc.Must("invalid -jobs selection", err)

	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey("cron-worker"), 0)
	proc.Must("failed to create cron lock", err)

	service, err := cron.NewService(cron.ServiceParams{
		Logger:     logg,
		Registry:   registry,
		Lock:       lock,
		Metrics:    metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Interval:   cfg.Cron.Interval,
		JobTimeout: cfg.Cron.JobTimeout,
	})
	proc.Must("failed to create cron service", err)

	ctx, stop := proc.SignalContext(map[string]any{"jobs": len(registry.Jobs())})
	defer stop()

	if *once {
		if err := service.RunOnce(ctx); err != nil {
			stop()
			proc.Fatal("cron cycle failed", err)
		}
		return
	}

	go func() {
		if err := metrics.Serve(ctx, cfg.Service.MetricsAddr, prometheus.DefaultGatherer); err != nil {
			logg.Error(ctx, "metrics listener stopped", err)
		}
	}()
	logg.Info(ctx, "starting cron worker")
	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		stop()
		proc.Fatal("cron worker stopped unexpectedly", err)
	}
	logg.Info(ctx, "cron worker shutting down gracefully")
}

func buildRegistry(cfg *config.Config, logg *logger.Logger, s *bootstrap.Settlement) (*cron.Registry, error) {
	chainRetry, err := cron.NewChainRetryJob(cron.ChainRetryJobParams{
		Logger:       logg,
		Orders:       s.OrderRepo,
		Settlement:   s.Orders,
		MaxRetries:   cfg.Chain.MaxRetries,
		BatchSize:    cfg.Cron.BatchSize,
		PendingGrace: cfg.Chain.RegistrationGrace,
	})
	if err != nil {
		return nil, err
	}
	reconcile, err := cron.NewEscrowReconcileJob(cron.EscrowReconcileJobParams{
		Logger:     logg,
		Orders:     s.OrderRepo,
		Settlement: s.Orders,
		BatchSize:  cfg.Cron.BatchSize,
	})
	if err != nil {
		return nil, err
	}
	sessions, err := cron.NewSessionExpiryJob(cron.SessionExpiryJobParams{
		Logger:    logg,
		Sessions:  s.Checkout,
		BatchSize: cfg.Cron.BatchSize,
	})
	if err != nil {
		return nil, err
	}
	retention, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:       logg,
		Repository:   s.Outbox,
		Retention:    cfg.Outbox.Retention,
		DLQ:          s.DLQ,
		DLQRetention: cfg.Outbox.DLQRetention,
	})
	if err != nil {
		return nil, err
	}
	return cron.NewRegistry(chainRetry, reconcile, sessions, retention)
}
