package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/bazari-settlement/api/routes"
	"github.com/angelmondragon/bazari-settlement/internal/bootstrap"
	"github.com/angelmondragon/bazari-settlement/internal/escrows"
	"github.com/angelmondragon/bazari-settlement/internal/idempotency"
	"github.com/angelmondragon/bazari-settlement/internal/shipping"
	"github.com/angelmondragon/bazari-settlement/pkg/env"
)

const shutdownTimeout = 15 * time.Second

func main() {
	proc := bootstrap.Start("api")
	defer proc.Close()
	cfg, logg := proc.Config, proc.Logger

	dbClient := proc.Database(context.Background())
	redisClient := proc.Redis(context.Background())

	idempotencyStore, err := idempotency.NewStore(cfg.Idempotency, redisClient)
	proc.Must("failed to create idempotency store", err)

	settlement := proc.Settlement(dbClient, prometheus.DefaultRegisterer)
	escrowService, err := escrows.NewService(escrows.ServiceParams{
		Orders:       settlement.Orders,
		Scanner:      settlement.OrderRepo,
		Chain:        settlement.Gateway,
		Logger:       logg,
		UrgentBlocks: cfg.Escrow.UrgentBlocks,
	})
	proc.Must("failed to create escrow service", err)

	addr := ":" + env.Get("PORT", cfg.App.Port)
	ctx, stop := proc.SignalContext(map[string]any{"addr": addr})
	defer stop()

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(routes.Params{
			Config:      cfg,
			Logger:      logg,
			DB:          dbClient,
			Redis:       redisClient,
			RateLimits:  redisClient,
			Idempotency: idempotencyStore,
			Metrics:     settlement.Metrics,
			Orders:      settlement.Orders,
			Checkout:    settlement.Checkout,
			Escrows:     escrowService,
			Shipping:    shipping.NewService(settlement.Resolver),
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logg.Info(ctx, "starting api server")
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			stop()
			proc.Fatal("api server stopped unexpectedly", err)
		}
	case <-ctx.Done():
		logg.Info(ctx, "api server shutting down gracefully")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(ctx, "api server shutdown failed", err)
		}
	}
}
