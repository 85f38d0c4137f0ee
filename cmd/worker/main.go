package main

import (
	"context"
	"errors"

	"github.com/angelmondragon/bazari-settlement/internal/bootstrap"
	"github.com/angelmondragon/bazari-settlement/internal/hooks"
	"github.com/angelmondragon/bazari-settlement/pkg/outbox/idempotency"
	"github.com/angelmondragon/bazari-settlement/pkg/outbox/registry"
	"github.com/angelmondragon/bazari-settlement/pkg/pubsub"
)

func main() {
	proc := bootstrap.Start("worker")
	defer proc.Close()
	cfg, logg := proc.Config, proc.Logger

	redisClient := proc.Redis(context.Background())
	pubsubClient := proc.PubSub(context.Background(), pubsub.ModeSubscribe)

	guard, err := idempotency.NewManager(redisClient, cfg.Eventing.OutboxIdempotencyTTL, cfg.Eventing.ClaimLease)
	proc.Must("failed to create idempotency manager", err)

	dispatcher, err := hooks.NewDispatcher(hooks.NewClient(cfg.Hooks, nil), logg)
	proc.Must("failed to create hook dispatcher", err)

	consumer, err := hooks.NewConsumer(hooks.ConsumerParams{
		Subscription: pubsubClient.SettlementSubscription(),
		Decoders:     registry.NewSettlementDecoders(),
		Dispatcher:   dispatcher,
		Guard:        guard,
		Logger:       logg,
	})
	proc.Must("failed to create hooks consumer", err)

	service, err := NewService(ServiceParams{
		Config:   cfg,
		Logger:   logg,
		Redis:    redisClient,
		PubSub:   pubsubClient,
		Consumer: consumer,
	})
	proc.Must("failed to create worker service", err)

	ctx, stop := proc.SignalContext(nil)
	defer stop()
	logg.Info(ctx, "starting hooks worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		stop()
		proc.Fatal("worker stopped unexpectedly", err)
	}
	logg.Info(ctx, "worker shutting down gracefully")
}
