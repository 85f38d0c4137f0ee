package bootstrap

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/bazari-settlement/internal/catalog"
	"github.com/angelmondragon/bazari-settlement/internal/chain"
	"github.com/angelmondragon/bazari-settlement/internal/checkout"
	"github.com/angelmondragon/bazari-settlement/internal/orders"
	"github.com/angelmondragon/bazari-settlement/pkg/db"
	"github.com/angelmondragon/bazari-settlement/pkg/metrics"
	"github.com/angelmondragon/bazari-settlement/pkg/outbox"
)

// Settlement is the order and checkout graph shared by the api and the cron
// worker, bound to one database and one chain gateway.
type Settlement struct {
	Gateway    *chain.Gateway
	Resolver   *catalog.Resolver
	OrderRepo  orders.Repository
	Orders     orders.Service
	Checkout   checkout.Service
	Outbox     *outbox.Repository
	DLQ        *outbox.DLQRepository
	Metrics    *metrics.SettlementMetrics
	ChainStats *metrics.ChainMetrics
}

// Settlement wires the chain gateway and the order services on dbClient,
// registering their metrics on reg. Any failure ends the process.
func (p *Process) Settlement(dbClient *db.Client, reg prometheus.Registerer) *Settlement {
	cfg := p.Config
	s := &Settlement{
		Metrics:    metrics.NewSettlementMetrics(reg),
		ChainStats: metrics.NewChainMetrics(reg),
	}

	rpc, err := chain.NewRPCClient(cfg.Chain, chain.WithMetrics(s.ChainStats))
	p.Must("failed to create chain client", err)
	s.Gateway, err = chain.NewGateway(rpc, cfg.Chain, s.ChainStats)
	p.Must("failed to create chain gateway", err)

	conn := dbClient.DB()
	s.OrderRepo = orders.NewRepository(conn)
	s.Resolver = catalog.NewResolver(catalog.NewRepository(conn))
	s.Outbox = outbox.NewRepository(conn)
	s.DLQ = outbox.NewDLQRepository(conn)

	s.Orders, err = orders.NewService(orders.ServiceParams{
		Tx:       dbClient,
		Repo:     s.OrderRepo,
		Resolver: s.Resolver,
		Chain:    s.Gateway,
		Outbox:   outbox.NewService(s.Outbox, p.Logger),
		Logger:   p.Logger,
		Metrics:  s.Metrics,
		Config: orders.Config{
			FeeBasisPoints:     cfg.Escrow.FeeBasisPoints,
			MaxSellersPerOrder: cfg.Escrow.MaxSellersPerOrder,
			EscrowAccount:      cfg.Chain.EscrowAccount,
		},
	})
	p.Must("failed to create order service", err)

	s.Checkout, err = checkout.NewService(checkout.ServiceParams{
		Tx:         dbClient,
		Sessions:   checkout.NewRepository(conn),
		Orders:     s.OrderRepo,
		Placer:     s.Orders,
		Resolver:   s.Resolver,
		Chain:      s.Gateway,
		Logger:     p.Logger,
		SessionTTL: cfg.Escrow.SessionTTL,
	})
	p.Must("failed to create checkout service", err)
	return s
}
