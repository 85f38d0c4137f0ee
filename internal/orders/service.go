package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/bazari-settlement/internal/catalog"
	"github.com/angelmondragon/bazari-settlement/internal/chain"
	"github.com/angelmondragon/bazari-settlement/pkg/amount"
	"github.com/angelmondragon/bazari-settlement/pkg/auth"
	"github.com/angelmondragon/bazari-settlement/pkg/db/models"
	"github.com/angelmondragon/bazari-settlement/pkg/enums"
	pkgerrors "github.com/angelmondragon/bazari-settlement/pkg/errors"
	"github.com/angelmondragon/bazari-settlement/pkg/logger"
	"github.com/angelmondragon/bazari-settlement/pkg/metrics"
	"github.com/angelmondragon/bazari-settlement/pkg/outbox"
	"github.com/angelmondragon/bazari-settlement/pkg/outbox/payloads"
	"github.com/angelmondragon/bazari-settlement/pkg/pagination"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// BatchCheckoutPath is where multi-seller carts are redirected.
const BatchCheckoutPath = "/api/v1/checkout/batch"

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type itemResolver interface {
	Resolve(ctx context.Context, refs []catalog.ItemRef) ([]catalog.SellerGroup, error)
}

// ChainGateway is the subset of the escrow chain boundary the orchestrator drives.
type ChainGateway interface {
	RegisterOrder(ctx context.Context, reg chain.Registration) (int64, chain.Submission, error)
	GetEscrow(ctx context.Context, chainOrderID int64) (*chain.EscrowRecord, error)
	GetDispute(ctx context.Context, chainOrderID int64) (*chain.DisputeRecord, error)
	IsCouncilMember(ctx context.Context, wallet string) (bool, error)
	BuildLockCall(ctx context.Context, chainOrderID int64, amt amount.BaseUnits) (chain.UnsignedCall, error)
	BuildReleaseCall(ctx context.Context, chainOrderID int64) (chain.UnsignedCall, error)
	BuildRefundCall(ctx context.Context, chainOrderID int64) (chain.UnsignedCall, error)
	SubmitRelease(ctx context.Context, chainOrderID int64) (chain.Submission, error)
	WaitForInclusion(ctx context.Context, txHash string) (chain.TxStatus, error)
}

// Service is the order settlement orchestrator. Every state change goes
// through a conditional update so concurrent actions on one order serialize.
type Service interface {
	CreateOrder(ctx context.Context, actor auth.Actor, input CreateOrderInput) (*OrderView, error)
	Place(ctx context.Context, tx *gorm.DB, actor auth.Actor, p Placement) ([]models.Order, error)
	RegisterOnChain(ctx context.Context, orders []models.Order) []models.Order
	RetryChainRegistration(ctx context.Context, orderID uuid.UUID) (*OrderView, error)

	CreatePaymentIntent(ctx context.Context, actor auth.Actor, orderID uuid.UUID) (*PaymentIntentView, error)
	PrepareLock(ctx context.Context, actor auth.Actor, orderID uuid.UUID) (*PreparedCall, error)
	ConfirmLock(ctx context.Context, actor auth.Actor, orderID uuid.UUID, input ConfirmInput) (*SettlementResult, error)
	Ship(ctx context.Context, actor auth.Actor, orderID uuid.UUID, input ShipInput) (*OrderView, error)
	PrepareRelease(ctx context.Context, actor auth.Actor, orderID uuid.UUID) (*PreparedCall, error)
	ConfirmRelease(ctx context.Context, actor auth.Actor, orderID uuid.UUID, input ConfirmInput) (*SettlementResult, error)
	DirectRelease(ctx context.Context, actor auth.Actor, orderID uuid.UUID) (*SettlementResult, error)
	PrepareRefund(ctx context.Context, actor auth.Actor, orderID uuid.UUID) (*PreparedCall, error)
	ConfirmRefund(ctx context.Context, actor auth.Actor, orderID uuid.UUID, input ConfirmInput) (*SettlementResult, error)
	MarkDispute(ctx context.Context, actor auth.Actor, orderID uuid.UUID, input DisputeInput) (*OrderView, error)
	Cancel(ctx context.Context, actor auth.Actor, orderID uuid.UUID, input CancelInput) (*OrderView, error)

	SyncFromChain(ctx context.Context, orderID uuid.UUID, txHash string, source enums.EscrowActionSource) (*SettlementResult, error)
	ReconcileOrder(ctx context.Context, orderID uuid.UUID) (*OrderView, bool, error)

	GetOrder(ctx context.Context, orderID uuid.UUID) (*OrderView, error)
	ListOrders(ctx context.Context, actor auth.Actor, filters ListFilters, params pagination.Params) (pagination.Page[OrderView], error)
	ListEscrowLogs(ctx context.Context, actor auth.Actor, orderID uuid.UUID) ([]EscrowLogView, error)
}

// Config holds the settlement knobs read from the environment.
type Config struct {
	FeeBasisPoints     int64
	MaxSellersPerOrder int
	EscrowAccount      string
}

// ServiceParams wires the orchestrator's collaborators.
type ServiceParams struct {
	Tx       txRunner
	Repo     Repository
	Resolver itemResolver
	Chain    ChainGateway
	Outbox   outbox.Emitter
	Logger   *logger.Logger
	Metrics  *metrics.SettlementMetrics
	Config   Config
	Clock    func() time.Time
}

type service struct {
	tx       txRunner
	repo     Repository
	resolver itemResolver
	chain    ChainGateway
	outbox   outbox.Emitter
	logg     *logger.Logger
	metrics  *metrics.SettlementMetrics
	cfg      Config
	now      func() time.Time
}

// NewService builds the settlement orchestrator.
func NewService(p ServiceParams) (Service, error) {
	if p.Tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if p.Repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if p.Resolver == nil {
		return nil, fmt.Errorf("item resolver required")
	}
	if p.Chain == nil {
		return nil, fmt.Errorf("chain gateway required")
	}
	if p.Outbox == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	if p.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if p.Config.EscrowAccount == "" {
		return nil, fmt.Errorf("escrow account required")
	}
	if p.Config.MaxSellersPerOrder <= 0 {
		p.Config.MaxSellersPerOrder = 1
	}
	if p.Config.FeeBasisPoints < 0 || p.Config.FeeBasisPoints > 10_000 {
		return nil, fmt.Errorf("fee basis points out of range: %d", p.Config.FeeBasisPoints)
	}
	clock := p.Clock
	if clock == nil {
		clock = time.Now
	}
	return &service{
		tx:       p.Tx,
		repo:     p.Repo,
		resolver: p.Resolver,
		chain:    p.Chain,
		outbox:   p.Outbox,
		logg:     p.Logger,
		metrics:  p.Metrics,
		cfg:      p.Config,
		now:      func() time.Time { return clock().UTC() },
	}, nil
}

func (s *service) loadOrder(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	order, err := s.repo.FindOrder(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	return order, nil
}

func requireWallet(actor auth.Actor) error {
	if !actor.Authenticated() {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required")
	}
	if !actor.HasWallet() {
		return pkgerrors.New(pkgerrors.CodeForbidden, "wallet address required")
	}
	return nil
}

func requireBuyer(actor auth.Actor, order *models.Order) error {
	if err := requireWallet(actor); err != nil {
		return err
	}
	if actor.Wallet != order.BuyerAddress {
		return pkgerrors.New(pkgerrors.CodeForbidden, "only the buyer can perform this action")
	}
	return nil
}

func requireSeller(actor auth.Actor, order *models.Order) error {
	if err := requireWallet(actor); err != nil {
		return err
	}
	if actor.Wallet != order.SellerAddress {
		return pkgerrors.New(pkgerrors.CodeForbidden, "only the seller can perform this action")
	}
	return nil
}

func requireParticipant(actor auth.Actor, order *models.Order) error {
	if err := requireWallet(actor); err != nil {
		return err
	}
	if !order.IsParticipant(actor.Wallet) {
		return pkgerrors.New(pkgerrors.CodeForbidden, "only the buyer or seller can perform this action")
	}
	return nil
}

func requireStatus(order *models.Order, allowed ...enums.OrderStatus) error {
	if containsStatus(allowed, order.Status) {
		return nil
	}
	return pkgerrors.StateConflict(fmt.Sprintf("order is %s", order.Status), order.Status)
}

func requireChainID(order *models.Order) (int64, error) {
	if !order.HasChainID() {
		return 0, pkgerrors.StateConflict("order is not registered on-chain", order.Status)
	}
	return *order.ChainOrderID, nil
}

// chainError maps gateway failures to API errors.
func chainError(err error, msg string) error {
	switch {
	case chain.IsUnavailable(err):
		return pkgerrors.Wrap(pkgerrors.CodeChainUnavailable, err, msg)
	case chain.IsRejected(err):
		var rejected *chain.RejectedError
		details := map[string]any{}
		if errors.As(err, &rejected) && rejected.Reason != "" {
			details["reason"] = rejected.Reason
		}
		return pkgerrors.Wrap(pkgerrors.CodeChainRejected, err, msg).WithDetails(details)
	default:
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, msg)
	}
}

// readEscrow fetches the chain mirror and requires it to exist.
func (s *service) readEscrow(ctx context.Context, order *models.Order) (*chain.EscrowRecord, error) {
	chainID, err := requireChainID(order)
	if err != nil {
		return nil, err
	}
	record, err := s.chain.GetEscrow(ctx, chainID)
	if err != nil {
		return nil, chainError(err, "read escrow")
	}
	return record, nil
}

func newEscrowLog(orderID uuid.UUID, kind enums.EscrowLogKind, payload map[string]any) (*models.EscrowLog, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &models.EscrowLog{ID: uuid.New(), OrderID: orderID, Kind: kind, Payload: raw}, nil
}

func actorRef(actor auth.Actor) *outbox.ActorRef {
	if !actor.Authenticated() {
		return nil
	}
	return &outbox.ActorRef{SubjectID: actor.SubjectID, Wallet: actor.Wallet, Role: string(actor.Role)}
}

// transition describes one conditional status change and everything that
// commits with it.
type transition struct {
	to      enums.OrderStatus
	from    []enums.OrderStatus
	updates map[string]any
	source  enums.EscrowActionSource
	log     *models.EscrowLog
	// backfill is appended ahead of log for a step the chain already took.
	backfill *models.EscrowLog
	actor    auth.Actor
	// within runs inside the transaction after the status update.
	within func(ctx context.Context, tx *gorm.DB, repo Repository) error
}

// apply performs t against order. On a lost race the current status is
// re-read and returned as a state conflict.
func (s *service) apply(ctx context.Context, order *models.Order, t transition) (*models.Order, error) {
	from := t.from
	if len(from) == 0 {
		from = []enums.OrderStatus{order.Status}
	}
	if !containsStatus(from, order.Status) {
		return nil, pkgerrors.StateConflict(fmt.Sprintf("cannot move order from %s to %s", order.Status, t.to), order.Status)
	}

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.TransitionStatus(ctx, order.ID, from, t.to, t.updates); err != nil {
			return err
		}
		for _, entry := range []*models.EscrowLog{t.backfill, t.log} {
			if entry == nil {
				continue
			}
			if err := repo.AppendEscrowLog(ctx, entry); err != nil {
				return err
			}
		}
		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderStatusChanged,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         actorRef(t.actor),
			Data: payloads.OrderStatusChangedEvent{
				OrderID: order.ID,
				From:    order.Status,
				To:      t.to,
				Source:  t.source,
			},
		}); err != nil {
			return err
		}
		if t.within != nil {
			return t.within(ctx, tx, repo)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrStatusConflict) {
			current, loadErr := s.repo.FindOrder(ctx, order.ID)
			if loadErr != nil {
				return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, loadErr, "reload order")
			}
			return nil, pkgerrors.StateConflict(fmt.Sprintf("order is %s", current.Status), current.Status)
		}
		if pkgerrors.As(err) != nil {
			return nil, err
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "apply order transition")
	}

	s.metrics.IncTransition(string(order.Status), string(t.to))
	ctx = s.logg.WithFields(ctx, map[string]any{
		"order_id": order.ID.String(),
		"from":     order.Status,
		"to":       t.to,
		"source":   t.source,
	})
	s.logg.Info(ctx, "order transitioned")

	updated, err := s.repo.FindOrder(ctx, order.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload order")
	}
	return updated, nil
}

func (s *service) GetOrder(ctx context.Context, orderID uuid.UUID) (*OrderView, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	order, err := s.repo.FindOrderWithItems(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	view := NewOrderView(*order)
	return &view, nil
}

func (s *service) ListOrders(ctx context.Context, actor auth.Actor, filters ListFilters, params pagination.Params) (pagination.Page[OrderView], error) {
	if err := requireWallet(actor); err != nil {
		return pagination.Page[OrderView]{}, err
	}
	for _, st := range filters.Statuses {
		if !st.IsValid() {
			return pagination.Page[OrderView]{}, pkgerrors.New(pkgerrors.CodeValidation, "invalid status filter").
				WithDetails(map[string]any{"status": st})
		}
	}
	switch filters.Role {
	case "", "buyer", "seller":
	default:
		return pagination.Page[OrderView]{}, pkgerrors.New(pkgerrors.CodeValidation, "role must be buyer or seller")
	}

	if _, err := pagination.ParseCursor(params.Cursor); err != nil {
		return pagination.Page[OrderView]{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}

	page, err := s.repo.ListOrdersByParticipant(ctx, actor.Wallet, filters, params)
	if err != nil {
		return pagination.Page[OrderView]{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list orders")
	}
	out := pagination.Page[OrderView]{NextCursor: page.NextCursor, Items: make([]OrderView, 0, len(page.Items))}
	for _, o := range page.Items {
		out.Items = append(out.Items, NewOrderView(o))
	}
	return out, nil
}

func (s *service) ListEscrowLogs(ctx context.Context, actor auth.Actor, orderID uuid.UUID) ([]EscrowLogView, error) {
	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !actor.Role.CanOperate() {
		if err := requireParticipant(actor, order); err != nil {
			return nil, err
		}
	}
	logs, err := s.repo.ListEscrowLogs(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list escrow logs")
	}
	out := make([]EscrowLogView, 0, len(logs))
	for _, l := range logs {
		out = append(out, EscrowLogView{ID: l.ID, Kind: l.Kind, Payload: l.Payload, CreatedAt: l.CreatedAt})
	}
	return out, nil
}
