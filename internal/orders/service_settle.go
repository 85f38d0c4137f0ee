package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/bazari-settlement/internal/chain"
	"github.com/angelmondragon/bazari-settlement/pkg/amount"
	"github.com/angelmondragon/bazari-settlement/pkg/auth"
	"github.com/angelmondragon/bazari-settlement/pkg/db/models"
	"github.com/angelmondragon/bazari-settlement/pkg/enums"
	pkgerrors "github.com/angelmondragon/bazari-settlement/pkg/errors"
	"github.com/angelmondragon/bazari-settlement/pkg/outbox"
	"github.com/angelmondragon/bazari-settlement/pkg/outbox/payloads"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// PrepareLock returns the unsigned lockFunds call for the buyer to sign.
func (s *service) PrepareLock(ctx context.Context, actor auth.Actor, orderID uuid.UUID) (*PreparedCall, error) {
	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := requireBuyer(actor, order); err != nil {
		return nil, err
	}
	if err := requireStatus(order, enums.OrderStatusCreated); err != nil {
		return nil, err
	}
	chainID, err := requireChainID(order)
	if err != nil {
		return nil, err
	}

	record, err := s.chain.GetEscrow(ctx, chainID)
	if err != nil {
		return nil, chainError(err, "read escrow")
	}
	if record != nil {
		return nil, pkgerrors.StateConflict("escrow already exists on-chain", record.Status)
	}

	call, err := s.chain.BuildLockCall(ctx, chainID, order.TotalBzr)
	if err != nil {
		return nil, chainError(err, "build lock call")
	}
	prepared := newPreparedCall(*order, call, order.BuyerAddress)
	total := order.TotalBzr
	prepared.AmountBzr = &total
	return &prepared, nil
}

// ConfirmLock records the buyer's lock transaction and advances the order
// once the chain shows the escrow Locked. The submission is stored on the
// order first, so when the wait times out or the chain cannot be read the
// reconciliation job keeps checking it.
func (s *service) ConfirmLock(ctx context.Context, actor auth.Actor, orderID uuid.UUID, input ConfirmInput) (*SettlementResult, error) {
	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := requireBuyer(actor, order); err != nil {
		return nil, err
	}
	if order.Status == enums.OrderStatusEscrowed {
		view := NewOrderView(*order)
		return &SettlementResult{Order: view, TxHash: input.TxHash}, nil
	}
	if err := requireStatus(order, enums.OrderStatusCreated); err != nil {
		return nil, err
	}
	if _, err := requireChainID(order); err != nil {
		return nil, err
	}

	txHash := strings.TrimSpace(input.TxHash)
	if err := s.markFundsPending(ctx, order.ID, txHash); err != nil {
		return nil, err
	}
	if txHash != "" {
		if _, err := s.chain.WaitForInclusion(ctx, txHash); err != nil {
			return nil, chainError(err, "wait for lock inclusion")
		}
	}
	return s.settleFromChain(ctx, order, actor, txHash, enums.EscrowSourceUserSigned, enums.OrderStatusEscrowed)
}

func (s *service) markFundsPending(ctx context.Context, orderID uuid.UUID, txHash string) error {
	if err := s.repo.MarkLockSubmitted(ctx, []uuid.UUID{orderID}, txHash, s.now()); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record lock submission")
	}
	intent, err := s.repo.LatestPaymentIntent(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment intent")
	}
	updates := map[string]any{"status": enums.PaymentIntentFundsPending}
	if txHash != "" {
		updates["tx_hash_in"] = txHash
	}
	if err := s.repo.UpdatePaymentIntent(ctx, intent.ID, updates); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update payment intent")
	}
	return nil
}

// PrepareRelease returns the unsigned releaseFunds call for the buyer.
func (s *service) PrepareRelease(ctx context.Context, actor auth.Actor, orderID uuid.UUID) (*PreparedCall, error) {
	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := requireBuyer(actor, order); err != nil {
		return nil, err
	}
	if err := requireStatus(order, enums.OrderStatusEscrowed, enums.OrderStatusShipped); err != nil {
		return nil, err
	}
	record, err := s.readEscrow(ctx, order)
	if err != nil {
		return nil, err
	}
	if record == nil || record.Status != chain.EscrowLocked {
		return nil, pkgerrors.StateConflict("escrow is not locked", escrowStatusOf(record))
	}
	dispute, err := s.chain.GetDispute(ctx, record.OrderID)
	if err != nil {
		return nil, chainError(err, "read dispute")
	}
	if dispute.Unresolved() {
		return nil, pkgerrors.StateConflict("order has an open dispute", dispute.Status)
	}

	call, err := s.chain.BuildReleaseCall(ctx, record.OrderID)
	if err != nil {
		return nil, chainError(err, "build release call")
	}
	entry, err := newEscrowLog(order.ID, enums.EscrowLogReleaseRequest, map[string]any{
		"requestedBy": actor.Wallet,
		"callHash":    call.CallHash,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode escrow log")
	}
	if err := s.repo.AppendEscrowLog(ctx, entry); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append escrow log")
	}
	prepared := newPreparedCall(*order, call, order.BuyerAddress)
	return &prepared, nil
}

// ConfirmRelease completes a buyer-signed release once the chain shows it.
func (s *service) ConfirmRelease(ctx context.Context, actor auth.Actor, orderID uuid.UUID, input ConfirmInput) (*SettlementResult, error) {
	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := requireBuyer(actor, order); err != nil {
		return nil, err
	}
	if err := requireStatus(order, enums.OrderStatusEscrowed, enums.OrderStatusShipped); err != nil {
		return nil, err
	}
	txHash := strings.TrimSpace(input.TxHash)
	if txHash != "" {
		if _, err := s.chain.WaitForInclusion(ctx, txHash); err != nil {
			return nil, chainError(err, "wait for release inclusion")
		}
	}
	return s.settleFromChain(ctx, order, actor, txHash, enums.EscrowSourceUserSigned, enums.OrderStatusReleased)
}

// DirectRelease lets an operator release funds with the server key. Once the
// extrinsic is accepted the order advances even if the chain mirror cannot
// be read back; such releases are recorded with the manual source.
func (s *service) DirectRelease(ctx context.Context, actor auth.Actor, orderID uuid.UUID) (*SettlementResult, error) {
	if !actor.Authenticated() {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required")
	}
	if !actor.Role.CanOperate() {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "operator role required")
	}
	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := requireStatus(order, enums.OrderStatusEscrowed, enums.OrderStatusShipped); err != nil {
		return nil, err
	}
	chainID, err := requireChainID(order)
	if err != nil {
		return nil, err
	}

	sub, err := s.chain.SubmitRelease(ctx, chainID)
	if err != nil {
		return nil, chainError(err, "submit release")
	}
	if sub.TxHash != "" {
		if _, err := s.chain.WaitForInclusion(ctx, sub.TxHash); err != nil {
			if chain.IsRejected(err) {
				return nil, chainError(err, "release rejected")
			}
			s.logg.Warn(s.logg.WithOrderID(ctx, order.ID.String()), "release inclusion unconfirmed")
		}
	}

	source := enums.EscrowSourceOperatorSigned
	record, err := s.chain.GetEscrow(ctx, chainID)
	if err != nil || record == nil || record.Status != chain.EscrowReleased {
		source = enums.EscrowSourceManual
		record = nil
	}
	return s.completeRelease(ctx, order, actor, record, sub.TxHash, source)
}

// PrepareRefund returns the unsigned refund call. Only council members may
// refund.
func (s *service) PrepareRefund(ctx context.Context, actor auth.Actor, orderID uuid.UUID) (*PreparedCall, error) {
	if err := requireWallet(actor); err != nil {
		return nil, err
	}
	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := s.requireCouncil(ctx, actor); err != nil {
		return nil, err
	}
	record, err := s.readEscrow(ctx, order)
	if err != nil {
		return nil, err
	}
	if record == nil || (record.Status != chain.EscrowLocked && record.Status != chain.EscrowDisputed) {
		return nil, pkgerrors.StateConflict("escrow cannot be refunded", escrowStatusOf(record))
	}

	call, err := s.chain.BuildRefundCall(ctx, record.OrderID)
	if err != nil {
		return nil, chainError(err, "build refund call")
	}
	entry, err := newEscrowLog(order.ID, enums.EscrowLogRefundRequest, map[string]any{
		"requestedBy": actor.Wallet,
		"callHash":    call.CallHash,
		"chainStatus": record.Status,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode escrow log")
	}
	if err := s.repo.AppendEscrowLog(ctx, entry); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append escrow log")
	}
	prepared := newPreparedCall(*order, call, actor.Wallet)
	return &prepared, nil
}

// ConfirmRefund completes a council refund once the chain shows it.
func (s *service) ConfirmRefund(ctx context.Context, actor auth.Actor, orderID uuid.UUID, input ConfirmInput) (*SettlementResult, error) {
	if !actor.Authenticated() {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required")
	}
	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !actor.Role.CanOperate() {
		if err := s.requireCouncil(ctx, actor); err != nil {
			return nil, err
		}
	}
	txHash := strings.TrimSpace(input.TxHash)
	if txHash != "" {
		if _, err := s.chain.WaitForInclusion(ctx, txHash); err != nil {
			return nil, chainError(err, "wait for refund inclusion")
		}
	}
	source := enums.EscrowSourceUserSigned
	if actor.Role.CanOperate() {
		source = enums.EscrowSourceBackendAssist
	}
	return s.settleFromChain(ctx, order, actor, txHash, source, enums.OrderStatusRefunded)
}

func (s *service) requireCouncil(ctx context.Context, actor auth.Actor) error {
	if !actor.HasWallet() {
		return pkgerrors.New(pkgerrors.CodeForbidden, "DAO members only.")
	}
	member, err := s.chain.IsCouncilMember(ctx, actor.Wallet)
	if err != nil {
		return chainError(err, "read council membership")
	}
	if !member {
		return pkgerrors.New(pkgerrors.CodeForbidden, "DAO members only.")
	}
	return nil
}

// SyncFromChain projects the current escrow state onto the order. It backs
// the batch confirmations, which verify one shared extrinsic per order.
func (s *service) SyncFromChain(ctx context.Context, orderID uuid.UUID, txHash string, source enums.EscrowActionSource) (*SettlementResult, error) {
	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	record, err := s.readEscrow(ctx, order)
	if err != nil {
		return nil, err
	}
	updated, result, err := s.project(ctx, order, auth.Actor{}, record, txHash, source)
	if err != nil {
		return nil, err
	}
	if result != nil {
		return result, nil
	}
	return &SettlementResult{Order: NewOrderView(*updated), Source: source, TxHash: txHash}, nil
}

// ReconcileOrder applies the chain mirror to an order outside any request.
func (s *service) ReconcileOrder(ctx context.Context, orderID uuid.UUID) (*OrderView, bool, error) {
	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return nil, false, err
	}
	if !order.HasChainID() {
		view := NewOrderView(*order)
		return &view, false, nil
	}
	record, err := s.readEscrow(ctx, order)
	if err != nil {
		return nil, false, err
	}
	before := order.Status
	updated, _, err := s.project(ctx, order, auth.Actor{}, record, "", enums.EscrowSourceReconciliation)
	if err != nil {
		return nil, false, err
	}
	view := NewOrderView(*updated)
	return &view, updated.Status != before, nil
}

// settleFromChain reads the escrow and requires the projection to land on want.
func (s *service) settleFromChain(ctx context.Context, order *models.Order, actor auth.Actor, txHash string, source enums.EscrowActionSource, want enums.OrderStatus) (*SettlementResult, error) {
	record, err := s.readEscrow(ctx, order)
	if err != nil {
		return nil, err
	}
	target, ok := Reconcile(order.Status, record)
	if !ok || target != want {
		return nil, pkgerrors.StateConflict(
			fmt.Sprintf("chain escrow is %s, expected %s", escrowStatusOf(record), want),
			order.Status,
		)
	}
	updated, result, err := s.project(ctx, order, actor, record, txHash, source)
	if err != nil {
		return nil, err
	}
	if result != nil {
		return result, nil
	}
	return &SettlementResult{Order: NewOrderView(*updated), Source: source, TxHash: txHash}, nil
}

// project applies Reconcile(order, record) with the audit entry, intent
// update and events belonging to the target status.
func (s *service) project(ctx context.Context, order *models.Order, actor auth.Actor, record *chain.EscrowRecord, txHash string, source enums.EscrowActionSource) (*models.Order, *SettlementResult, error) {
	target, ok := Reconcile(order.Status, record)
	if !ok {
		return order, nil, nil
	}

	switch target {
	case enums.OrderStatusReleased:
		res, err := s.completeRelease(ctx, order, actor, record, txHash, source)
		if err != nil {
			return nil, nil, err
		}
		updated, err := s.repo.FindOrder(ctx, order.ID)
		if err != nil {
			return nil, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload order")
		}
		return updated, res, nil
	case enums.OrderStatusEscrowed:
		entry, err := newEscrowLog(order.ID, enums.EscrowLogLock, map[string]any{
			"amount": record.AmountLocked,
			"txHash": txHash,
			"source": source,
		})
		if err != nil {
			return nil, nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode escrow log")
		}
		if record.AmountLocked != order.TotalBzr {
			s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
				"order_id": order.ID.String(),
				"locked":   record.AmountLocked.String(),
				"total":    order.TotalBzr.String(),
			}), "locked amount differs from order total")
		}
		updated, err := s.apply(ctx, order, transition{
			to:     target,
			source: source,
			log:    entry,
			actor:  actor,
			within: intentUpdate(order.ID, enums.PaymentIntentFundsReceived, "tx_hash_in", txHash),
		})
		return updated, nil, err
	case enums.OrderStatusRefunded:
		entry, err := newEscrowLog(order.ID, enums.EscrowLogRefund, map[string]any{
			"amount":  record.AmountLocked,
			"partial": record.Status == chain.EscrowPartialRefund,
			"txHash":  txHash,
			"source":  source,
		})
		if err != nil {
			return nil, nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode escrow log")
		}
		backfill, err := skippedLock(order, record, source)
		if err != nil {
			return nil, nil, err
		}
		updated, err := s.apply(ctx, order, transition{
			to:       target,
			source:   source,
			log:      entry,
			backfill: backfill,
			actor:    actor,
			updates:  map[string]any{"completed_at": s.now()},
			within:   intentUpdate(order.ID, enums.PaymentIntentRefunded, "tx_hash_refund", txHash),
		})
		return updated, nil, err
	case enums.OrderStatusTimeout:
		entry, err := newEscrowLog(order.ID, enums.EscrowLogDispute, map[string]any{
			"chainStatus": record.Status,
			"source":      source,
		})
		if err != nil {
			return nil, nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode escrow log")
		}
		updated, err := s.apply(ctx, order, transition{to: target, source: source, log: entry, actor: actor})
		return updated, nil, err
	}
	return order, nil, nil
}

// completeRelease moves the order to RELEASED, logs the fee split and emits
// order_completed. A nil record means the release was not read back.
func (s *service) completeRelease(ctx context.Context, order *models.Order, actor auth.Actor, record *chain.EscrowRecord, txHash string, source enums.EscrowActionSource) (*SettlementResult, error) {
	gross := order.TotalBzr
	if record != nil && record.AmountLocked > 0 {
		gross = record.AmountLocked
	}
	fee, net, err := amount.FeeSplit(gross, s.cfg.FeeBasisPoints)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "compute fee split")
	}
	entry, err := newEscrowLog(order.ID, enums.EscrowLogRelease, map[string]any{
		"gross":  gross,
		"fee":    fee,
		"net":    net,
		"feeBps": s.cfg.FeeBasisPoints,
		"txHash": txHash,
		"source": source,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode escrow log")
	}

	backfill, err := skippedLock(order, record, source)
	if err != nil {
		return nil, err
	}

	updateIntent := intentUpdate(order.ID, enums.PaymentIntentReleased, "tx_hash_release", txHash)
	updated, err := s.apply(ctx, order, transition{
		to:       enums.OrderStatusReleased,
		source:   source,
		log:      entry,
		backfill: backfill,
		actor:    actor,
		updates:  map[string]any{"completed_at": s.now()},
		within: func(ctx context.Context, tx *gorm.DB, repo Repository) error {
			if err := updateIntent(ctx, tx, repo); err != nil {
				return err
			}
			return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventOrderCompleted,
				AggregateType: enums.AggregateOrder,
				AggregateID:   order.ID,
				Actor:         actorRef(actor),
				Data: payloads.OrderCompletedEvent{
					OrderID:       order.ID,
					BuyerAddress:  order.BuyerAddress,
					SellerAddress: order.SellerAddress,
					SellerID:      order.SellerID,
					GrossBzr:      gross,
					FeeBzr:        fee,
					NetBzr:        net,
					Source:        source,
				},
			})
		},
	})
	if err != nil {
		return nil, err
	}
	return &SettlementResult{
		Order:  NewOrderView(*updated),
		Source: source,
		TxHash: txHash,
		FeeBzr: &fee,
		NetBzr: &net,
	}, nil
}

// skippedLock returns the LOCK entry for an order that settles straight from
// CREATED, or nil when the lock was already recorded.
func skippedLock(order *models.Order, record *chain.EscrowRecord, source enums.EscrowActionSource) (*models.EscrowLog, error) {
	if order.Status != enums.OrderStatusCreated {
		return nil, nil
	}
	locked := order.TotalBzr
	if record != nil && record.AmountLocked > 0 {
		locked = record.AmountLocked
	}
	entry, err := newEscrowLog(order.ID, enums.EscrowLogLock, map[string]any{
		"amount":   locked,
		"source":   source,
		"inferred": true,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode escrow log")
	}
	// sorts ahead of the settlement entry written in the same transaction
	entry.CreatedAt = time.Now().Add(-time.Millisecond)
	return entry, nil
}

// intentUpdate moves the active payment intent, if any, to status.
func intentUpdate(orderID uuid.UUID, status enums.PaymentIntentStatus, hashColumn, txHash string) func(context.Context, *gorm.DB, Repository) error {
	return func(ctx context.Context, _ *gorm.DB, repo Repository) error {
		intent, err := repo.LatestPaymentIntent(ctx, orderID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}
		updates := map[string]any{"status": status}
		if txHash != "" {
			updates[hashColumn] = txHash
		}
		return repo.UpdatePaymentIntent(ctx, intent.ID, updates)
	}
}

func escrowStatusOf(record *chain.EscrowRecord) string {
	if record == nil {
		return "absent"
	}
	return string(record.Status)
}
