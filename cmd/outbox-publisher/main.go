package main

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/bazari-settlement/internal/bootstrap"
	"github.com/angelmondragon/bazari-settlement/pkg/metrics"
	"github.com/angelmondragon/bazari-settlement/pkg/outbox"
	"github.com/angelmondragon/bazari-settlement/pkg/outbox/registry"
	"github.com/angelmondragon/bazari-settlement/pkg/pubsub"
)

func main() {
	proc := bootstrap.Start("outbox-publisher")
	defer proc.Close()
	cfg, logg := proc.Config, proc.Logger

	dbClient := proc.Database(context.Background())
	pubsubClient := proc.PubSub(context.Background(), pubsub.ModePublish)

	eventRegistry, err := registry.NewEventRegistry(cfg.PubSub)
	proc.Must("failed to build event registry", err)

	service, err := NewService(ServiceParams{
		Config:        cfg,
		Logger:        logg,
		DB:            dbClient,
		PubSub:        pubsubClient,
		Repository:    outbox.NewRepository(dbClient.DB()),
		Registry:      eventRegistry,
		DLQRepository: outbox.NewDLQRepository(dbClient.DB()),
		Metrics:       metrics.NewOutboxMetrics(prometheus.DefaultRegisterer),
	})
	proc.Must("failed to create outbox publisher", err)

	ctx, stop := proc.SignalContext(map[string]any{"topics": eventRegistry.Topics()})
	defer stop()
	logg.Info(ctx, "starting outbox publisher")

	if err := run(ctx, service, cfg.Service.MetricsAddr); err != nil {
		stop()
		proc.Fatal("outbox publisher stopped unexpectedly", err)
	}
	logg.Info(ctx, "outbox publisher shutting down gracefully")
}

// run drives the relay loop and the metrics listener until ctx ends or either
// fails. Cancellation is a clean exit.
func run(ctx context.Context, service *Service, metricsAddr string) error {
	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return service.Run(ctx)
	})
	group.Go(func() error {
		return metrics.Serve(ctx, metricsAddr, prometheus.DefaultGatherer)
	})
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
