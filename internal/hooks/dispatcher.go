package hooks

import (
	"context"
	"errors"
	"fmt"

	"github.com/angelmondragon/bazari-settlement/pkg/logger"
	"github.com/angelmondragon/bazari-settlement/pkg/outbox/payloads"
	"go.uber.org/multierr"
)

// Collaborators is the set of downstream services the dispatcher calls.
type Collaborators interface {
	SyncReputation(ctx context.Context, sellerID string) error
	AfterOrderCreated(ctx context.Context, event RewardEvent) error
	AfterOrderCompleted(ctx context.Context, event RewardEvent) error
	ResolveAccount(ctx context.Context, wallet string) (string, error)
	CreateDeliveryRequest(ctx context.Context, request DeliveryRequest) error
}

// Dispatcher maps decoded settlement payloads onto collaborator calls.
type Dispatcher struct {
	collab Collaborators
	logg   *logger.Logger
}

// NewDispatcher builds a dispatcher.
func NewDispatcher(collab Collaborators, logg *logger.Logger) (*Dispatcher, error) {
	if collab == nil {
		return nil, errors.New("hook collaborators required")
	}
	if logg == nil {
		return nil, errors.New("logger required")
	}
	return &Dispatcher{collab: collab, logg: logg}, nil
}

// Dispatch runs the hooks for one payload. Unknown payloads are ignored.
func (d *Dispatcher) Dispatch(ctx context.Context, payload any) error {
	switch event := payload.(type) {
	case *payloads.OrderCreatedEvent:
		return d.orderCreated(ctx, event)
	case *payloads.OrderCompletedEvent:
		return d.orderCompleted(ctx, event)
	case *payloads.DeliveryRequestedEvent:
		return d.deliveryRequested(ctx, event)
	default:
		return nil
	}
}

func (d *Dispatcher) orderCreated(ctx context.Context, event *payloads.OrderCreatedEvent) error {
	ctx = d.logg.WithOrderID(ctx, event.OrderID.String())
	accountID, ok, err := d.buyerAccount(ctx, event.BuyerAddress)
	if err != nil || !ok {
		return err
	}
	if err := d.collab.AfterOrderCreated(ctx, RewardEvent{
		AccountID: accountID,
		OrderID:   event.OrderID,
		AmountBzr: event.TotalBzr,
	}); err != nil {
		return fmt.Errorf("reward after order created: %w", err)
	}
	return nil
}

// orderCompleted runs both completion hooks even when one fails.
func (d *Dispatcher) orderCompleted(ctx context.Context, event *payloads.OrderCompletedEvent) error {
	ctx = d.logg.WithOrderID(ctx, event.OrderID.String())

	var errs error
	if event.SellerID != "" {
		if err := d.collab.SyncReputation(ctx, event.SellerID); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("reputation sync: %w", err))
		}
	}

	accountID, ok, err := d.buyerAccount(ctx, event.BuyerAddress)
	switch {
	case err != nil:
		errs = multierr.Append(errs, err)
	case ok:
		if err := d.collab.AfterOrderCompleted(ctx, RewardEvent{
			AccountID: accountID,
			OrderID:   event.OrderID,
			AmountBzr: event.GrossBzr,
		}); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("reward after order completed: %w", err))
		}
	}
	return errs
}

func (d *Dispatcher) deliveryRequested(ctx context.Context, event *payloads.DeliveryRequestedEvent) error {
	if err := d.collab.CreateDeliveryRequest(ctx, DeliveryRequest{
		OrderID:         event.OrderID,
		SellerID:        event.SellerID,
		SellerAddress:   event.SellerAddress,
		BuyerAddress:    event.BuyerAddress,
		ShippingAddress: event.ShippingAddress,
		ShippingMethod:  event.ShippingMethod,
		ItemCount:       event.ItemCount,
	}); err != nil {
		return fmt.Errorf("create delivery request: %w", err)
	}
	return nil
}

func (d *Dispatcher) buyerAccount(ctx context.Context, wallet string) (string, bool, error) {
	if wallet == "" {
		return "", false, nil
	}
	accountID, err := d.collab.ResolveAccount(ctx, wallet)
	if errors.Is(err, ErrAccountNotFound) {
		d.logg.Info(d.logg.WithWallet(ctx, wallet), "buyer has no rewards account, skipping")
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("resolve buyer account: %w", err)
	}
	return accountID, true, nil
}
