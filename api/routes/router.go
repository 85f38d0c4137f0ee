package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/bazari-settlement/api/controllers"
	checkoutcontrollers "github.com/angelmondragon/bazari-settlement/api/controllers/checkout"
	escrowcontrollers "github.com/angelmondragon/bazari-settlement/api/controllers/escrows"
	ordercontrollers "github.com/angelmondragon/bazari-settlement/api/controllers/orders"
	"github.com/angelmondragon/bazari-settlement/api/middleware"
	checkoutsvc "github.com/angelmondragon/bazari-settlement/internal/checkout"
	"github.com/angelmondragon/bazari-settlement/internal/escrows"
	"github.com/angelmondragon/bazari-settlement/internal/idempotency"
	"github.com/angelmondragon/bazari-settlement/internal/orders"
	"github.com/angelmondragon/bazari-settlement/pkg/config"
	"github.com/angelmondragon/bazari-settlement/pkg/logger"
	"github.com/angelmondragon/bazari-settlement/pkg/metrics"
)

type rateLimitStore interface {
	IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

// Params carries everything the HTTP surface needs.
type Params struct {
	Config     *config.Config
	Logger     *logger.Logger
	DB         controllers.Pinger
	Redis      controllers.Pinger
	RateLimits rateLimitStore

	Idempotency idempotency.Store
	Metrics     *metrics.SettlementMetrics
	Gatherer    prometheus.Gatherer

	Orders   orders.Service
	Checkout checkoutsvc.Service
	Escrows  escrows.Service
	Shipping controllers.ShippingEstimator
}

func NewRouter(p Params) http.Handler {
	cfg := p.Config
	logg := p.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.Recoverer(logg),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	gatherer := p.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	idem := middleware.Idempotency(p.Idempotency, cfg.Idempotency.TTL, cfg.IdempotencyLease(), p.Metrics, logg)
	chainLimit := middleware.RateLimit(
		middleware.NewRateLimitPolicy("chain", cfg.App.RateLimitWindow, cfg.App.RateLimitPerWindow),
		p.RateLimits,
		logg,
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, map[string]controllers.Pinger{
			"database": p.DB,
			"redis":    p.Redis,
		}))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/orders/{orderId}", ordercontrollers.Detail(p.Orders, logg))
		r.Post("/shipping/estimate", controllers.ShippingEstimate(p.Shipping, logg))

		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(cfg.JWT, logg))

			r.With(idem).Post("/orders", ordercontrollers.Create(p.Orders, logg))
			r.Get("/orders", ordercontrollers.List(p.Orders, logg))
			r.Get("/orders/{orderId}/escrow", ordercontrollers.Escrow(p.Escrows, logg))
			r.Post("/orders/{orderId}/ship", ordercontrollers.Ship(p.Orders, logg))
			r.Post("/orders/{orderId}/dispute", ordercontrollers.Dispute(p.Orders, logg))
			r.Post("/orders/{orderId}/cancel", ordercontrollers.Cancel(p.Orders, logg))

			r.With(middleware.RequireActor(logg, middleware.BoundWallet), idem).Post("/checkout/batch", checkoutcontrollers.CreateBatch(p.Checkout, logg))
			r.Get("/checkout/sessions/{sessionId}", checkoutcontrollers.Session(p.Checkout, logg))

			r.Get("/escrows/active", escrowcontrollers.Active(p.Escrows, logg))

			r.Group(func(r chi.Router) {
				r.Use(chainLimit)

				r.Post("/orders/{orderId}/payment-intents", ordercontrollers.CreatePaymentIntent(p.Orders, logg))
				r.Post("/orders/{orderId}/lock/prepare", ordercontrollers.PrepareLock(p.Orders, logg))
				r.With(idem).Post("/orders/{orderId}/lock/confirm", ordercontrollers.ConfirmLock(p.Orders, logg))
				r.Post("/orders/{orderId}/release/prepare", ordercontrollers.PrepareRelease(p.Orders, logg))
				r.Post("/orders/{orderId}/release/confirm", ordercontrollers.ConfirmRelease(p.Orders, logg))
				r.With(middleware.RequireOperator(logg), idem).Post("/orders/{orderId}/release/direct", ordercontrollers.DirectRelease(p.Orders, logg))
				r.Post("/orders/{orderId}/refund/prepare", ordercontrollers.PrepareRefund(p.Orders, logg))
				r.Post("/orders/{orderId}/refund/confirm", ordercontrollers.ConfirmRefund(p.Orders, logg))

				r.Post("/checkout/sessions/{sessionId}/lock/prepare", checkoutcontrollers.PrepareLock(p.Checkout, logg))
				r.With(idem).Post("/checkout/sessions/{sessionId}/lock/confirm", checkoutcontrollers.ConfirmLock(p.Checkout, logg))
				r.Post("/checkout/sessions/{sessionId}/release/prepare", checkoutcontrollers.PrepareRelease(p.Checkout, logg))
				r.Post("/checkout/sessions/{sessionId}/release/confirm", checkoutcontrollers.ConfirmRelease(p.Checkout, logg))

				r.Get("/escrows/urgent", escrowcontrollers.Urgent(p.Escrows, logg))
			})
		})
	})

	return r
}
