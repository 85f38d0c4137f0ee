// Package escrows serves read models over funded orders: the caller's active
// escrows, the council's urgent auto-release sweep and a per-order detail
// joining local state with the chain mirror.
package escrows

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/angelmondragon/bazari-settlement/internal/chain"
	"github.com/angelmondragon/bazari-settlement/internal/orders"
	"github.com/angelmondragon/bazari-settlement/internal/timeline"
	"github.com/angelmondragon/bazari-settlement/pkg/auth"
	"github.com/angelmondragon/bazari-settlement/pkg/db/models"
	"github.com/angelmondragon/bazari-settlement/pkg/enums"
	pkgerrors "github.com/angelmondragon/bazari-settlement/pkg/errors"
	"github.com/angelmondragon/bazari-settlement/pkg/logger"
	"github.com/angelmondragon/bazari-settlement/pkg/pagination"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const (
	defaultScanLimit   = 500
	scanConcurrency    = 8
	councilOnlyMessage = "DAO members only."
)

var fundedStatuses = []enums.OrderStatus{enums.OrderStatusEscrowed, enums.OrderStatusShipped}

type orderQueries interface {
	GetOrder(ctx context.Context, orderID uuid.UUID) (*orders.OrderView, error)
	ListOrders(ctx context.Context, actor auth.Actor, filters orders.ListFilters, params pagination.Params) (pagination.Page[orders.OrderView], error)
	ListEscrowLogs(ctx context.Context, actor auth.Actor, orderID uuid.UUID) ([]orders.EscrowLogView, error)
}

type fundedScanner interface {
	ListOrdersByStatus(ctx context.Context, statuses []enums.OrderStatus, limit int) ([]models.Order, error)
}

// ChainReader is the read side of the escrow chain boundary.
type ChainReader interface {
	GetEscrow(ctx context.Context, chainOrderID int64) (*chain.EscrowRecord, error)
	GetDispute(ctx context.Context, chainOrderID int64) (*chain.DisputeRecord, error)
	IsCouncilMember(ctx context.Context, wallet string) (bool, error)
	CurrentBlock(ctx context.Context) (int64, error)
}

type Service interface {
	ListActive(ctx context.Context, actor auth.Actor, params pagination.Params) (pagination.Page[ActiveEscrow], error)
	ListUrgent(ctx context.Context, actor auth.Actor) ([]UrgentEscrow, error)
	Detail(ctx context.Context, actor auth.Actor, orderID uuid.UUID) (*Detail, error)
}

type ServiceParams struct {
	Orders       orderQueries
	Scanner      fundedScanner
	Chain        ChainReader
	Logger       *logger.Logger
	UrgentBlocks int64
	ScanLimit    int
	Clock        func() time.Time
}

type service struct {
	orders    orderQueries
	scanner   fundedScanner
	chain     ChainReader
	logg      *logger.Logger
	threshold int64
	scanLimit int
	now       func() time.Time
}

func NewService(p ServiceParams) (Service, error) {
	if p.Orders == nil {
		return nil, fmt.Errorf("order service required")
	}
	if p.Scanner == nil {
		return nil, fmt.Errorf("order scanner required")
	}
	if p.Chain == nil {
		return nil, fmt.Errorf("chain reader required")
	}
	if p.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if p.UrgentBlocks <= 0 {
		p.UrgentBlocks = timeline.BlocksPerDay
	}
	if p.ScanLimit <= 0 {
		p.ScanLimit = defaultScanLimit
	}
	clock := p.Clock
	if clock == nil {
		clock = time.Now
	}
	return &service{
		orders:    p.Orders,
		scanner:   p.Scanner,
		chain:     p.Chain,
		logg:      p.Logger,
		threshold: p.UrgentBlocks,
		scanLimit: p.ScanLimit,
		now:       func() time.Time { return clock().UTC() },
	}, nil
}

// ListActive returns the caller's ESCROWED and SHIPPED orders with their
// auto-release projection.
func (s *service) ListActive(ctx context.Context, actor auth.Actor, params pagination.Params) (pagination.Page[ActiveEscrow], error) {
	page, err := s.orders.ListOrders(ctx, actor, orders.ListFilters{Statuses: fundedStatuses}, params)
	if err != nil {
		return pagination.Page[ActiveEscrow]{}, err
	}
	now := s.now()
	out := pagination.Page[ActiveEscrow]{NextCursor: page.NextCursor, Items: make([]ActiveEscrow, 0, len(page.Items))}
	for _, o := range page.Items {
		item := ActiveEscrow{
			Order:             o,
			Role:              "seller",
			AutoReleaseBlocks: o.AutoReleaseBlocks,
			AutoReleaseAt:     o.AutoReleaseAt,
		}
		if o.BuyerAddress == actor.Wallet {
			item.Role = "buyer"
		}
		if o.AutoReleaseAt != nil {
			days := daysUntil(now, *o.AutoReleaseAt)
			item.DaysUntilRelease = &days
		}
		out.Items = append(out.Items, item)
	}
	return out, nil
}

// ListUrgent scans funded orders and keeps locked escrows whose auto-release
// is due within the urgent threshold, soonest first. Council members only.
func (s *service) ListUrgent(ctx context.Context, actor auth.Actor) ([]UrgentEscrow, error) {
	if err := s.requireCouncil(ctx, actor); err != nil {
		return nil, err
	}
	current, err := s.chain.CurrentBlock(ctx)
	if err != nil {
		return nil, chainError(err, "read current block")
	}
	funded, err := s.scanner.ListOrdersByStatus(ctx, fundedStatuses, s.scanLimit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list funded orders")
	}

	now := s.now()
	found := make([]*UrgentEscrow, len(funded))
	var g errgroup.Group
	g.SetLimit(scanConcurrency)
	for i, o := range funded {
		if !o.HasChainID() {
			continue
		}
		g.Go(func() error {
			record, err := s.chain.GetEscrow(ctx, *o.ChainOrderID)
			if err != nil {
				s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
					"order_id": o.ID.String(),
					"error":    err.Error(),
				}), "urgent sweep skipped order")
				return nil
			}
			if record == nil || record.Status != chain.EscrowLocked {
				return nil
			}
			remaining := timeline.BlocksUntilRelease(record.LockedAt, timeline.EffectiveBlocks(o.AutoReleaseBlocks), current)
			if !timeline.IsUrgent(remaining, s.threshold) {
				return nil
			}
			found[i] = &UrgentEscrow{
				OrderID:            o.ID,
				ChainOrderID:       *o.ChainOrderID,
				BuyerAddress:       o.BuyerAddress,
				SellerAddress:      o.SellerAddress,
				Status:             o.Status,
				AmountBzr:          record.AmountLocked,
				LockedAtBlock:      record.LockedAt,
				BlocksUntilRelease: remaining,
				EstimatedReleaseAt: timeline.EstimatedReleaseAt(remaining, now),
			}
			return nil
		})
	}
	_ = g.Wait()

	out := make([]UrgentEscrow, 0)
	for _, u := range found {
		if u != nil {
			out = append(out, *u)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].BlocksUntilRelease < out[j].BlocksUntilRelease
	})
	return out, nil
}

// Detail returns local state for a participant or operator, enriched with the
// chain mirror when the node answers.
func (s *service) Detail(ctx context.Context, actor auth.Actor, orderID uuid.UUID) (*Detail, error) {
	logs, err := s.orders.ListEscrowLogs(ctx, actor, orderID)
	if err != nil {
		return nil, err
	}
	order, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	out := &Detail{Order: *order, Logs: logs}
	if order.ChainOrderID == nil {
		return out, nil
	}

	chainID := *order.ChainOrderID
	record, err := s.chain.GetEscrow(ctx, chainID)
	if err != nil {
		s.logChainMiss(ctx, orderID, err)
		return out, nil
	}
	dispute, err := s.chain.GetDispute(ctx, chainID)
	if err != nil {
		s.logChainMiss(ctx, orderID, err)
		return out, nil
	}
	out.ChainAvailable = true
	out.Escrow = newChainEscrow(record)
	out.Dispute = newChainDispute(dispute)

	if record == nil || record.Status != chain.EscrowLocked {
		return out, nil
	}
	current, err := s.chain.CurrentBlock(ctx)
	if err != nil {
		s.logChainMiss(ctx, orderID, err)
		return out, nil
	}
	remaining := timeline.BlocksUntilRelease(record.LockedAt, order.AutoReleaseBlocks, current)
	releaseAt := timeline.EstimatedReleaseAt(remaining, s.now())
	out.CurrentBlock = &current
	out.BlocksUntilRelease = &remaining
	out.EstimatedReleaseAt = &releaseAt
	return out, nil
}

func (s *service) requireCouncil(ctx context.Context, actor auth.Actor) error {
	if !actor.Authenticated() {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required")
	}
	if !actor.HasWallet() {
		return pkgerrors.New(pkgerrors.CodeForbidden, councilOnlyMessage)
	}
	ok, err := s.chain.IsCouncilMember(ctx, actor.Wallet)
	if err != nil {
		return chainError(err, "read council membership")
	}
	if !ok {
		return pkgerrors.New(pkgerrors.CodeForbidden, councilOnlyMessage)
	}
	return nil
}

func (s *service) logChainMiss(ctx context.Context, orderID uuid.UUID, err error) {
	s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
		"order_id": orderID.String(),
		"error":    err.Error(),
	}), "escrow detail served without chain mirror")
}

func daysUntil(now, at time.Time) int {
	if !at.After(now) {
		return 0
	}
	return int((at.Sub(now) + 24*time.Hour - 1) / (24 * time.Hour))
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
