package orders

import (
	"context"
	"errors"
	"fmt"

	"github.com/angelmondragon/bazari-settlement/internal/chain"
	"github.com/angelmondragon/bazari-settlement/internal/shipping"
	"github.com/angelmondragon/bazari-settlement/internal/timeline"
	"github.com/angelmondragon/bazari-settlement/pkg/auth"
	"github.com/angelmondragon/bazari-settlement/pkg/db/models"
	"github.com/angelmondragon/bazari-settlement/pkg/enums"
	pkgerrors "github.com/angelmondragon/bazari-settlement/pkg/errors"
	"github.com/angelmondragon/bazari-settlement/pkg/outbox"
	"github.com/angelmondragon/bazari-settlement/pkg/outbox/payloads"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// CreateOrder persists a single-seller order and registers it on-chain. A
// failed registration leaves the order BLOCKCHAIN_FAILED for the retry job;
// the request itself still succeeds once the order is stored.
func (s *service) CreateOrder(ctx context.Context, actor auth.Actor, input CreateOrderInput) (*OrderView, error) {
	if err := requireWallet(actor); err != nil {
		return nil, err
	}

	groups, err := s.resolver.Resolve(ctx, input.Items)
	if err != nil {
		return nil, err
	}
	if len(groups) > s.cfg.MaxSellersPerOrder {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "items from multiple sellers require batch checkout").
			WithDetails(map[string]any{
				"redirect":    BatchCheckoutPath,
				"sellerCount": len(groups),
			})
	}

	options := map[string]string{}
	if input.ShippingOptionID != "" {
		for _, g := range groups {
			options[g.SellerID] = input.ShippingOptionID
		}
	}

	var created []models.Order
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		created, err = s.Place(ctx, tx, actor, Placement{
			Groups:          groups,
			ShippingAddress: input.ShippingAddress,
			ShippingOptions: options,
		})
		return err
	})
	if err != nil {
		if pkgerrors.As(err) != nil {
			return nil, err
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create order")
	}

	registered := s.RegisterOnChain(ctx, created)
	order, err := s.repo.FindOrderWithItems(ctx, registered[0].ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload order")
	}
	view := NewOrderView(*order)
	return &view, nil
}

// Place builds and stores one PENDING_BLOCKCHAIN order per seller group inside
// tx, together with the order_created and delivery_requested events.
func (s *service) Place(ctx context.Context, tx *gorm.DB, actor auth.Actor, p Placement) ([]models.Order, error) {
	if tx == nil {
		return nil, fmt.Errorf("transaction required")
	}
	if err := requireWallet(actor); err != nil {
		return nil, err
	}
	if len(p.Groups) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one item is required")
	}
	if p.ShippingAddress != nil {
		if err := p.ShippingAddress.Validate(); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid shipping address")
		}
	}

	repo := s.repo.WithTx(tx)
	now := s.now()
	out := make([]models.Order, 0, len(p.Groups))
	for _, group := range p.Groups {
		if group.SellerAddress == actor.Wallet {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "buyer cannot purchase own listing").
				WithDetails(map[string]any{"sellerId": group.SellerID})
		}
		opts, err := shipping.OptionsFor(group)
		if err != nil {
			return nil, err
		}
		opt, err := shipping.Select(opts, p.ShippingOptions[group.SellerID])
		if err != nil {
			return nil, err
		}
		total, err := group.Subtotal.Add(opt.FeeBzr)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "order total out of range")
		}

		days := opt.EstimatedDays
		method := opt.Method
		optionID := opt.ID
		tl := timeline.Calculate(&days, &method, now)
		blocks := tl.AutoReleaseBlocks
		releaseAt := tl.AutoReleaseAt

		order := models.Order{
			ID:                    uuid.New(),
			BuyerAddress:          actor.Wallet,
			SellerAddress:         group.SellerAddress,
			SellerID:              group.SellerID,
			SubtotalBzr:           group.Subtotal,
			ShippingBzr:           opt.FeeBzr,
			TotalBzr:              total,
			Status:                enums.OrderStatusPendingBlockchain,
			ShippingAddress:       p.ShippingAddress,
			ShippingOptionID:      &optionID,
			ShippingMethod:        &method,
			EstimatedDeliveryDays: tl.DeliveryDays,
			AutoReleaseBlocks:     &blocks,
			AutoReleaseAt:         &releaseAt,
			CheckoutSessionID:     p.SessionID,
		}
		for _, item := range group.Items {
			order.Items = append(order.Items, models.OrderItem{
				ID:           uuid.New(),
				ListingID:    item.Listing.ID,
				Kind:         item.Listing.Kind,
				Quantity:     item.Quantity,
				UnitPriceBzr: item.Listing.PriceBzr,
				Title:        item.Listing.Title,
				LineTotalBzr: item.LineTotal,
			})
		}

		if err := repo.CreateOrder(ctx, &order); err != nil {
			return nil, err
		}
		if err := s.emitCreated(ctx, tx, actor, order); err != nil {
			return nil, err
		}
		out = append(out, order)
	}
	return out, nil
}

func (s *service) emitCreated(ctx context.Context, tx *gorm.DB, actor auth.Actor, order models.Order) error {
	if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventOrderCreated,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Actor:         actorRef(actor),
		Data: payloads.OrderCreatedEvent{
			OrderID:           order.ID,
			BuyerAddress:      order.BuyerAddress,
			SellerAddress:     order.SellerAddress,
			SellerID:          order.SellerID,
			TotalBzr:          order.TotalBzr,
			CheckoutSessionID: order.CheckoutSessionID,
		},
	}); err != nil {
		return err
	}
	if order.ShippingAddress == nil {
		return nil
	}
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventDeliveryRequested,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Actor:         actorRef(actor),
		Data: payloads.DeliveryRequestedEvent{
			OrderID:         order.ID,
			SellerID:        order.SellerID,
			SellerAddress:   order.SellerAddress,
			BuyerAddress:    order.BuyerAddress,
			ShippingAddress: *order.ShippingAddress,
			ShippingMethod:  order.ShippingMethod,
			ItemCount:       len(order.Items),
		},
	})
}

// RegisterOnChain registers every order and returns them with their new
// status. Failures are recorded on the order and never returned.
func (s *service) RegisterOnChain(ctx context.Context, orders []models.Order) []models.Order {
	out := make([]models.Order, 0, len(orders))
	for _, order := range orders {
		updated, err := s.register(ctx, order)
		if err != nil {
			s.logg.Error(s.logg.WithOrderID(ctx, order.ID.String()), "chain registration failed", err)
			out = append(out, order)
			continue
		}
		out = append(out, *updated)
	}
	return out
}

func (s *service) register(ctx context.Context, order models.Order) (*models.Order, error) {
	from := []enums.OrderStatus{enums.OrderStatusPendingBlockchain, enums.OrderStatusBlockchainFailed}
	if !containsStatus(from, order.Status) {
		return nil, pkgerrors.StateConflict(fmt.Sprintf("order is %s", order.Status), order.Status)
	}

	updated, err := s.activate(ctx, &order, from)
	if err != nil {
		s.recordChainFailure(ctx, order, from, err)
		return nil, err
	}
	return updated, nil
}

// activate binds a chain order id, registering first when none is stored,
// and moves the order to CREATED.
func (s *service) activate(ctx context.Context, order *models.Order, from []enums.OrderStatus) (*models.Order, error) {
	if !order.HasChainID() {
		chainID, sub, err := s.chain.RegisterOrder(ctx, chain.Registration{
			OrderID:           order.ID,
			Buyer:             order.BuyerAddress,
			Seller:            order.SellerAddress,
			Amount:            order.TotalBzr,
			AutoReleaseBlocks: timeline.EffectiveBlocks(order.AutoReleaseBlocks),
		})
		if err != nil {
			return nil, err
		}
		err = s.repo.SetChainOrderID(ctx, order.ID, chainID, sub.TxHash)
		switch {
		case errors.Is(err, ErrChainIDAlreadySet):
			// another attempt bound the order first; keep its id
			current, loadErr := s.repo.FindOrder(ctx, order.ID)
			if loadErr != nil {
				return nil, loadErr
			}
			order.ChainOrderID = current.ChainOrderID
		case err != nil:
			return nil, err
		default:
			order.ChainOrderID = &chainID
		}
	}

	return s.apply(ctx, order, transition{
		to:     enums.OrderStatusCreated,
		from:   from,
		source: enums.EscrowSourceOperatorSigned,
		updates: map[string]any{
			"last_blockchain_error": nil,
		},
	})
}

// recordChainFailure leaves the order BLOCKCHAIN_FAILED with its retry
// counter bumped. An order that already moved on is left alone.
func (s *service) recordChainFailure(ctx context.Context, order models.Order, from []enums.OrderStatus, cause error) {
	err := s.repo.RecordChainFailure(ctx, order.ID, from, cause.Error())
	switch {
	case errors.Is(err, ErrStatusConflict):
	case err != nil:
		s.logg.Error(s.logg.WithOrderID(ctx, order.ID.String()), "record chain failure", err)
	case order.Status != enums.OrderStatusBlockchainFailed:
		s.metrics.IncTransition(string(order.Status), string(enums.OrderStatusBlockchainFailed))
	}
}

// RetryChainRegistration re-attempts registration of a BLOCKCHAIN_FAILED
// order, or of a PENDING_BLOCKCHAIN one whose first attempt never finished.
// An order that already holds a chain id only needs the transition.
func (s *service) RetryChainRegistration(ctx context.Context, orderID uuid.UUID) (*OrderView, error) {
	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := requireStatus(order, enums.OrderStatusBlockchainFailed, enums.OrderStatusPendingBlockchain); err != nil {
		return nil, err
	}
	updated, err := s.register(ctx, *order)
	if err != nil {
		if pkgerrors.As(err) != nil {
			return nil, err
		}
		return nil, chainError(err, "register order")
	}
	view := NewOrderView(*updated)
	return &view, nil
}

// CreatePaymentIntent opens a funding attempt for the order total.
func (s *service) CreatePaymentIntent(ctx context.Context, actor auth.Actor, orderID uuid.UUID) (*PaymentIntentView, error) {
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

	intent := models.PaymentIntent{
		ID:            uuid.New(),
		OrderID:       order.ID,
		AmountBzr:     order.TotalBzr,
		EscrowAddress: s.cfg.EscrowAccount,
		Status:        enums.PaymentIntentAwaitingFunds,
	}
	if err := s.repo.CreatePaymentIntent(ctx, &intent); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create payment intent")
	}
	view := NewPaymentIntentView(intent)
	return &view, nil
}
