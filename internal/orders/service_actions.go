package orders

import (
	"context"
	"strings"

	"github.com/angelmondragon/bazari-settlement/pkg/auth"
	"github.com/angelmondragon/bazari-settlement/pkg/enums"
	pkgerrors "github.com/angelmondragon/bazari-settlement/pkg/errors"
	"github.com/google/uuid"
)

const (
	recommendCouncilRefund = "council_refund"
	recommendNone          = "none"
)

// Ship marks an escrowed order as shipped by its seller.
func (s *service) Ship(ctx context.Context, actor auth.Actor, orderID uuid.UUID, input ShipInput) (*OrderView, error) {
	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := requireSeller(actor, order); err != nil {
		return nil, err
	}
	if err := requireStatus(order, enums.OrderStatusEscrowed); err != nil {
		return nil, err
	}

	now := s.now()
	updates := map[string]any{"shipped_at": now}
	payload := map[string]any{"shippedBy": actor.Wallet}
	if input.TrackingCode != nil {
		if code := strings.TrimSpace(*input.TrackingCode); code != "" {
			updates["tracking_code"] = code
			payload["trackingCode"] = code
		}
	}
	entry, err := newEscrowLog(order.ID, enums.EscrowLogShipped, payload)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode escrow log")
	}

	updated, err := s.apply(ctx, order, transition{
		to:      enums.OrderStatusShipped,
		updates: updates,
		source:  enums.EscrowSourceUserSigned,
		log:     entry,
		actor:   actor,
	})
	if err != nil {
		return nil, err
	}
	view := NewOrderView(*updated)
	return &view, nil
}

// MarkDispute moves a funded order to TIMEOUT while a dispute is handled
// off this service. Funds only move again through chain reconciliation.
func (s *service) MarkDispute(ctx context.Context, actor auth.Actor, orderID uuid.UUID, input DisputeInput) (*OrderView, error) {
	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := requireParticipant(actor, order); err != nil {
		return nil, err
	}
	if err := requireStatus(order, enums.OrderStatusEscrowed, enums.OrderStatusShipped); err != nil {
		return nil, err
	}
	reason := strings.TrimSpace(input.Reason)
	if reason == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "dispute reason is required")
	}

	entry, err := newEscrowLog(order.ID, enums.EscrowLogDispute, map[string]any{
		"openedBy": actor.Wallet,
		"role":     participantRole(actor.Wallet, order.BuyerAddress),
		"reason":   reason,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode escrow log")
	}
	updated, err := s.apply(ctx, order, transition{
		to:     enums.OrderStatusTimeout,
		source: enums.EscrowSourceUserSigned,
		log:    entry,
		actor:  actor,
	})
	if err != nil {
		return nil, err
	}
	view := NewOrderView(*updated)
	return &view, nil
}

// Cancel stops a non-terminal order. When funds are already locked the
// audit entry recommends a council refund; the chain escrow is untouched.
// The update only applies from the status the audit entry describes.
func (s *service) Cancel(ctx context.Context, actor auth.Actor, orderID uuid.UUID, input CancelInput) (*OrderView, error) {
	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := requireParticipant(actor, order); err != nil {
		return nil, err
	}
	if !containsStatus(sourcesFor(enums.OrderStatusCancelled), order.Status) {
		return nil, pkgerrors.StateConflict("order can no longer be cancelled", order.Status)
	}

	recommendation := recommendNone
	if order.Status.HoldsFunds() {
		recommendation = recommendCouncilRefund
	}
	payload := map[string]any{
		"cancelledBy":    actor.Wallet,
		"role":           participantRole(actor.Wallet, order.BuyerAddress),
		"previousStatus": order.Status,
		"recommendation": recommendation,
	}
	if reason := strings.TrimSpace(input.Reason); reason != "" {
		payload["reason"] = reason
	}
	entry, err := newEscrowLog(order.ID, enums.EscrowLogRefundRequest, payload)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode escrow log")
	}

	updated, err := s.apply(ctx, order, transition{
		to:     enums.OrderStatusCancelled,
		from:   []enums.OrderStatus{order.Status},
		source: enums.EscrowSourceUserSigned,
		log:    entry,
		actor:  actor,
	})
	if err != nil {
		return nil, err
	}
	view := NewOrderView(*updated)
	return &view, nil
}

func participantRole(wallet, buyer string) string {
	if wallet == buyer {
		return "buyer"
	}
	return "seller"
}
