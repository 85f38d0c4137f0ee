package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/bazari-settlement/internal/catalog"
	"github.com/angelmondragon/bazari-settlement/internal/chain"
	"github.com/angelmondragon/bazari-settlement/internal/orders"
	"github.com/angelmondragon/bazari-settlement/pkg/amount"
	"github.com/angelmondragon/bazari-settlement/pkg/auth"
	"github.com/angelmondragon/bazari-settlement/pkg/db/models"
	"github.com/angelmondragon/bazari-settlement/pkg/enums"
	pkgerrors "github.com/angelmondragon/bazari-settlement/pkg/errors"
	"github.com/angelmondragon/bazari-settlement/pkg/logger"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

const defaultConfirmConcurrency = 4

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type itemResolver interface {
	Resolve(ctx context.Context, refs []catalog.ItemRef) ([]catalog.SellerGroup, error)
}

type sessionOrders interface {
	FindOrdersBySession(ctx context.Context, sessionID uuid.UUID) ([]models.Order, error)
	MarkLockSubmitted(ctx context.Context, ids []uuid.UUID, txHash string, at time.Time) error
}

type orderPlacer interface {
	Place(ctx context.Context, tx *gorm.DB, actor auth.Actor, p orders.Placement) ([]models.Order, error)
	RegisterOnChain(ctx context.Context, list []models.Order) []models.Order
	SyncFromChain(ctx context.Context, orderID uuid.UUID, txHash string, source enums.EscrowActionSource) (*orders.SettlementResult, error)
}

// ChainGateway is the part of the escrow boundary used to build and verify batches.
type ChainGateway interface {
	GetEscrow(ctx context.Context, chainOrderID int64) (*chain.EscrowRecord, error)
	GetDispute(ctx context.Context, chainOrderID int64) (*chain.DisputeRecord, error)
	BuildLockCall(ctx context.Context, chainOrderID int64, amt amount.BaseUnits) (chain.UnsignedCall, error)
	BuildReleaseCall(ctx context.Context, chainOrderID int64) (chain.UnsignedCall, error)
	BuildBatchCall(ctx context.Context, calls []chain.UnsignedCall) (chain.UnsignedCall, error)
	WaitForInclusion(ctx context.Context, txHash string) (chain.TxStatus, error)
}

// Service coordinates multi-seller checkout sessions. Preparation is
// all-or-nothing; confirmation checks every member order independently.
type Service interface {
	CreateSession(ctx context.Context, actor auth.Actor, input CreateSessionInput) (*SessionView, error)
	GetSession(ctx context.Context, actor auth.Actor, id uuid.UUID) (*SessionView, error)
	PrepareBatchLock(ctx context.Context, actor auth.Actor, id uuid.UUID) (*BatchCall, error)
	ConfirmBatchLock(ctx context.Context, actor auth.Actor, id uuid.UUID, input ConfirmBatchInput) (*BatchResult, error)
	PrepareBatchRelease(ctx context.Context, actor auth.Actor, id uuid.UUID) (*BatchCall, error)
	ConfirmBatchRelease(ctx context.Context, actor auth.Actor, id uuid.UUID, input ConfirmBatchInput) (*BatchResult, error)
	ExpireStale(ctx context.Context, limit int) (int, error)
}

// ServiceParams wires the coordinator.
type ServiceParams struct {
	Tx                 txRunner
	Sessions           Repository
	Orders             sessionOrders
	Placer             orderPlacer
	Resolver           itemResolver
	Chain              ChainGateway
	Logger             *logger.Logger
	SessionTTL         time.Duration
	ConfirmConcurrency int
	Clock              func() time.Time
}

type service struct {
	tx          txRunner
	sessions    Repository
	orders      sessionOrders
	placer      orderPlacer
	resolver    itemResolver
	chain       ChainGateway
	logg        *logger.Logger
	ttl         time.Duration
	concurrency int
	now         func() time.Time
}

// NewService builds the batch checkout coordinator.
func NewService(p ServiceParams) (Service, error) {
	if p.Tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if p.Sessions == nil {
		return nil, fmt.Errorf("session repository required")
	}
	if p.Orders == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if p.Placer == nil {
		return nil, fmt.Errorf("order service required")
	}
	if p.Resolver == nil {
		return nil, fmt.Errorf("item resolver required")
	}
	if p.Chain == nil {
		return nil, fmt.Errorf("chain gateway required")
	}
	if p.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if p.SessionTTL <= 0 {
		p.SessionTTL = 30 * time.Minute
	}
	if p.ConfirmConcurrency <= 0 {
		p.ConfirmConcurrency = defaultConfirmConcurrency
	}
	clock := p.Clock
	if clock == nil {
		clock = time.Now
	}
	return &service{
		tx:          p.Tx,
		sessions:    p.Sessions,
		orders:      p.Orders,
		placer:      p.Placer,
		resolver:    p.Resolver,
		chain:       p.Chain,
		logg:        p.Logger,
		ttl:         p.SessionTTL,
		concurrency: p.ConfirmConcurrency,
		now:         func() time.Time { return clock().UTC() },
	}, nil
}

// CreateSession places one order per seller under a new PENDING session and
// registers each order on-chain.
func (s *service) CreateSession(ctx context.Context, actor auth.Actor, input CreateSessionInput) (*SessionView, error) {
	if !actor.Authenticated() {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required")
	}
	if !actor.HasWallet() {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "wallet address required")
	}
	groups, err := s.resolver.Resolve(ctx, input.Items)
	if err != nil {
		return nil, err
	}

	now := s.now()
	session := models.CheckoutSession{
		ID:           uuid.New(),
		BuyerAddress: actor.Wallet,
		Status:       enums.CheckoutSessionPending,
		ExpiresAt:    now.Add(s.ttl),
	}
	var placed []models.Order
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.sessions.WithTx(tx)
		if err := repo.Create(ctx, &session); err != nil {
			return err
		}
		sessionID := session.ID
		var err error
		placed, err = s.placer.Place(ctx, tx, actor, orders.Placement{
			Groups:          groups,
			ShippingAddress: input.ShippingAddress,
			ShippingOptions: input.ShippingOptions,
			SessionID:       &sessionID,
		})
		if err != nil {
			return err
		}
		totals := make([]amount.BaseUnits, 0, len(placed))
		for _, o := range placed {
			totals = append(totals, o.TotalBzr)
		}
		total, err := amount.Sum(totals...)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "session total out of range")
		}
		session.TotalBzr = total
		return repo.UpdateTotal(ctx, session.ID, total)
	})
	if err != nil {
		if pkgerrors.As(err) != nil {
			return nil, err
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create checkout session")
	}

	s.placer.RegisterOnChain(ctx, placed)
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"session_id":  session.ID.String(),
		"order_count": len(placed),
	}), "checkout session created")

	return s.view(ctx, session.ID)
}

// GetSession returns the buyer's session, applying expiry on read.
func (s *service) GetSession(ctx context.Context, actor auth.Actor, id uuid.UUID) (*SessionView, error) {
	session, err := s.loadForBuyer(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if _, err := s.expireIfDue(ctx, session); err != nil {
		return nil, err
	}
	return s.view(ctx, session.ID)
}

// PrepareBatchLock builds one utility.batchAll wrapping a lock per order.
// Any member failing its checks rejects the whole batch.
func (s *service) PrepareBatchLock(ctx context.Context, actor auth.Actor, id uuid.UUID) (*BatchCall, error) {
	session, err := s.loadForBuyer(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	expired, err := s.expireIfDue(ctx, session)
	if err != nil {
		return nil, err
	}
	if expired {
		return nil, pkgerrors.StateConflict("checkout session expired", enums.CheckoutSessionExpired)
	}
	if session.Status != enums.CheckoutSessionPending {
		return nil, pkgerrors.StateConflict(fmt.Sprintf("checkout session is %s", session.Status), session.Status)
	}

	members, err := s.members(ctx, session.ID)
	if err != nil {
		return nil, err
	}
	var problems []OrderOutcome
	for _, o := range members {
		reason, err := s.lockProblem(ctx, o)
		if err != nil {
			return nil, err
		}
		if reason != "" {
			problems = append(problems, OrderOutcome{OrderID: o.ID, Status: o.Status, Error: reason})
		}
	}
	if len(problems) > 0 {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "checkout session is not ready to lock").
			WithDetails(map[string]any{"currentStatus": session.Status, "orders": problems})
	}

	calls := make([]chain.UnsignedCall, 0, len(members))
	out := &BatchCall{SessionID: session.ID, TotalBzr: session.TotalBzr, Signer: session.BuyerAddress}
	for _, o := range members {
		call, err := s.chain.BuildLockCall(ctx, *o.ChainOrderID, o.TotalBzr)
		if err != nil {
			return nil, chainError(err, "build lock call")
		}
		calls = append(calls, call)
		out.Members = append(out.Members, BatchMember{OrderID: o.ID, ChainOrderID: *o.ChainOrderID, AmountBzr: o.TotalBzr})
	}
	batch, err := s.chain.BuildBatchCall(ctx, calls)
	if err != nil {
		return nil, chainError(err, "build batch call")
	}
	out.Call = batch
	return out, nil
}

func (s *service) lockProblem(ctx context.Context, o models.Order) (string, error) {
	if o.Status != enums.OrderStatusCreated {
		return fmt.Sprintf("order is %s", o.Status), nil
	}
	if !o.HasChainID() {
		return "order is not registered on-chain", nil
	}
	record, err := s.chain.GetEscrow(ctx, *o.ChainOrderID)
	if err != nil {
		return "", chainError(err, "read escrow")
	}
	if record != nil {
		return "escrow already exists on-chain", nil
	}
	return "", nil
}

// ConfirmBatchLock verifies every member order against the chain. The
// session becomes PAID only when all of them are escrowed.
func (s *service) ConfirmBatchLock(ctx context.Context, actor auth.Actor, id uuid.UUID, input ConfirmBatchInput) (*BatchResult, error) {
	txHash := strings.TrimSpace(input.TxHash)
	if txHash == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "txHash is required")
	}
	session, err := s.loadForBuyer(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	switch session.Status {
	case enums.CheckoutSessionPending, enums.CheckoutSessionFailed, enums.CheckoutSessionPaid:
	default:
		return nil, pkgerrors.StateConflict(fmt.Sprintf("checkout session is %s", session.Status), session.Status)
	}
	if err := s.sessions.TransitionStatus(ctx, session.ID,
		[]enums.CheckoutSessionStatus{session.Status}, session.Status,
		map[string]any{"batch_tx_hash": txHash},
	); err != nil && !errors.Is(err, ErrSessionConflict) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record batch tx hash")
	}
	members, err := s.members(ctx, session.ID)
	if err != nil {
		return nil, err
	}
	if err := s.markLockSubmitted(ctx, members, txHash); err != nil {
		return nil, err
	}

	if _, err := s.chain.WaitForInclusion(ctx, txHash); err != nil {
		if chain.IsRejected(err) {
			if err := s.settleSession(ctx, session, false); err != nil {
				return nil, err
			}
			return nil, chainError(err, "batch lock rejected")
		}
		s.logg.Warn(s.logg.WithField(ctx, "session_id", session.ID.String()), "batch lock inclusion unconfirmed")
	}

	outcomes := s.fanOut(ctx, members, txHash, func(o models.Order) bool {
		return o.Status.HoldsFunds() || o.Status == enums.OrderStatusReleased
	}, enums.OrderStatusEscrowed)

	result := &BatchResult{TxHash: txHash}
	for _, oc := range outcomes {
		if oc.Error == "" {
			result.Confirmed = append(result.Confirmed, oc)
		} else {
			result.Failed = append(result.Failed, oc)
		}
	}
	if err := s.settleSession(ctx, session, len(result.Failed) == 0); err != nil {
		return nil, err
	}

	view, err := s.view(ctx, session.ID)
	if err != nil {
		return nil, err
	}
	result.Session = *view
	return result, nil
}

// markLockSubmitted flags every member still waiting for its lock so the
// reconciliation job picks up the ones this request cannot confirm.
func (s *service) markLockSubmitted(ctx context.Context, members []models.Order, txHash string) error {
	ids := make([]uuid.UUID, 0, len(members))
	for _, o := range members {
		if o.Status == enums.OrderStatusCreated {
			ids = append(ids, o.ID)
		}
	}
	if err := s.orders.MarkLockSubmitted(ctx, ids, txHash, s.now()); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record lock submission")
	}
	return nil
}

// PrepareBatchRelease builds one batch of release calls for a PAID session.
func (s *service) PrepareBatchRelease(ctx context.Context, actor auth.Actor, id uuid.UUID) (*BatchCall, error) {
	session, err := s.loadForBuyer(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if session.Status != enums.CheckoutSessionPaid {
		return nil, pkgerrors.StateConflict(fmt.Sprintf("checkout session is %s", session.Status), session.Status)
	}
	members, err := s.members(ctx, session.ID)
	if err != nil {
		return nil, err
	}

	var problems []OrderOutcome
	for _, o := range members {
		reason, err := s.releaseProblem(ctx, o)
		if err != nil {
			return nil, err
		}
		if reason != "" {
			problems = append(problems, OrderOutcome{OrderID: o.ID, Status: o.Status, Error: reason})
		}
	}
	if len(problems) > 0 {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "checkout session is not ready to release").
			WithDetails(map[string]any{"currentStatus": session.Status, "orders": problems})
	}

	calls := make([]chain.UnsignedCall, 0, len(members))
	out := &BatchCall{SessionID: session.ID, TotalBzr: session.TotalBzr, Signer: session.BuyerAddress}
	for _, o := range members {
		call, err := s.chain.BuildReleaseCall(ctx, *o.ChainOrderID)
		if err != nil {
			return nil, chainError(err, "build release call")
		}
		calls = append(calls, call)
		out.Members = append(out.Members, BatchMember{OrderID: o.ID, ChainOrderID: *o.ChainOrderID, AmountBzr: o.TotalBzr})
	}
	batch, err := s.chain.BuildBatchCall(ctx, calls)
	if err != nil {
		return nil, chainError(err, "build batch call")
	}
	out.Call = batch
	return out, nil
}

func (s *service) releaseProblem(ctx context.Context, o models.Order) (string, error) {
	if !o.Status.HoldsFunds() {
		return fmt.Sprintf("order is %s", o.Status), nil
	}
	if !o.HasChainID() {
		return "order is not registered on-chain", nil
	}
	record, err := s.chain.GetEscrow(ctx, *o.ChainOrderID)
	if err != nil {
		return "", chainError(err, "read escrow")
	}
	if record == nil || record.Status != chain.EscrowLocked {
		return "escrow is not locked", nil
	}
	dispute, err := s.chain.GetDispute(ctx, *o.ChainOrderID)
	if err != nil {
		return "", chainError(err, "read dispute")
	}
	if dispute.Unresolved() {
		return "order has an open dispute", nil
	}
	return "", nil
}

// ConfirmBatchRelease verifies each member release independently. The
// session status is not changed.
func (s *service) ConfirmBatchRelease(ctx context.Context, actor auth.Actor, id uuid.UUID, input ConfirmBatchInput) (*BatchResult, error) {
	txHash := strings.TrimSpace(input.TxHash)
	if txHash == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "txHash is required")
	}
	session, err := s.loadForBuyer(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if session.Status != enums.CheckoutSessionPaid {
		return nil, pkgerrors.StateConflict(fmt.Sprintf("checkout session is %s", session.Status), session.Status)
	}
	if _, err := s.chain.WaitForInclusion(ctx, txHash); err != nil {
		if chain.IsRejected(err) {
			return nil, chainError(err, "batch release rejected")
		}
		s.logg.Warn(s.logg.WithField(ctx, "session_id", session.ID.String()), "batch release inclusion unconfirmed")
	}

	members, err := s.members(ctx, session.ID)
	if err != nil {
		return nil, err
	}
	outcomes := s.fanOut(ctx, members, txHash, func(o models.Order) bool {
		return o.Status == enums.OrderStatusReleased
	}, enums.OrderStatusReleased)

	result := &BatchResult{TxHash: txHash}
	for _, oc := range outcomes {
		if oc.Error == "" {
			result.Confirmed = append(result.Confirmed, oc)
		} else {
			result.Failed = append(result.Failed, oc)
		}
	}
	view, err := s.view(ctx, session.ID)
	if err != nil {
		return nil, err
	}
	result.Session = *view
	return result, nil
}

// fanOut syncs every member from the chain with bounded concurrency. A
// member error is recorded in its outcome and never cancels its siblings.
func (s *service) fanOut(ctx context.Context, members []models.Order, txHash string, done func(models.Order) bool, want enums.OrderStatus) []OrderOutcome {
	outcomes := make([]OrderOutcome, len(members))
	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i, member := range members {
		g.Go(func() error {
			outcome := OrderOutcome{OrderID: member.ID, Status: member.Status}
			if done(member) {
				outcomes[i] = outcome
				return nil
			}
			res, err := s.placer.SyncFromChain(ctx, member.ID, txHash, enums.EscrowSourceUserSigned)
			switch {
			case err != nil:
				outcome.Error = err.Error()
				s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
					"order_id": member.ID.String(),
					"error":    err.Error(),
				}), "batch member confirmation failed")
			case res.Order.Status != want:
				outcome.Status = res.Order.Status
				outcome.Error = fmt.Sprintf("escrow not settled: order is %s", res.Order.Status)
			default:
				outcome.Status = res.Order.Status
			}
			outcomes[i] = outcome
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

func (s *service) settleSession(ctx context.Context, session *models.CheckoutSession, allConfirmed bool) error {
	target := enums.CheckoutSessionFailed
	if allConfirmed {
		target = enums.CheckoutSessionPaid
	}
	if session.Status == target {
		return nil
	}
	err := s.sessions.TransitionStatus(ctx, session.ID,
		[]enums.CheckoutSessionStatus{enums.CheckoutSessionPending, enums.CheckoutSessionFailed},
		target, nil)
	if err != nil && !errors.Is(err, ErrSessionConflict) {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update checkout session")
	}
	return nil
}

// ExpireStale flips overdue PENDING sessions to EXPIRED.
func (s *service) ExpireStale(ctx context.Context, limit int) (int, error) {
	ids, err := s.sessions.ExpirePending(ctx, s.now(), limit)
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

func (s *service) expireIfDue(ctx context.Context, session *models.CheckoutSession) (bool, error) {
	if !session.IsExpired(s.now()) {
		return false, nil
	}
	err := s.sessions.TransitionStatus(ctx, session.ID,
		[]enums.CheckoutSessionStatus{enums.CheckoutSessionPending},
		enums.CheckoutSessionExpired, nil)
	if err != nil && !errors.Is(err, ErrSessionConflict) {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "expire checkout session")
	}
	session.Status = enums.CheckoutSessionExpired
	return true, nil
}

func (s *service) loadForBuyer(ctx context.Context, actor auth.Actor, id uuid.UUID) (*models.CheckoutSession, error) {
	if !actor.Authenticated() {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required")
	}
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "session id is required")
	}
	session, err := s.sessions.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "checkout session not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load checkout session")
	}
	if !actor.HasWallet() || actor.Wallet != session.BuyerAddress {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only the buyer can access this session")
	}
	return session, nil
}

func (s *service) members(ctx context.Context, sessionID uuid.UUID) ([]models.Order, error) {
	list, err := s.orders.FindOrdersBySession(ctx, sessionID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load session orders")
	}
	if len(list) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "checkout session has no orders")
	}
	return list, nil
}

func (s *service) view(ctx context.Context, id uuid.UUID) (*SessionView, error) {
	session, err := s.sessions.FindByID(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load checkout session")
	}
	members, err := s.orders.FindOrdersBySession(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load session orders")
	}
	v := newSessionView(*session, members)
	return &v, nil
}

func chainError(err error, msg string) error {
	switch {
	case chain.IsUnavailable(err):
		return pkgerrors.Wrap(pkgerrors.CodeChainUnavailable, err, msg)
	case chain.IsRejected(err):
		return pkgerrors.Wrap(pkgerrors.CodeChainRejected, err, msg)
	default:
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, msg)
	}
}
