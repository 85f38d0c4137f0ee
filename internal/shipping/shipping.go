// Package shipping quotes per-seller shipping options from the listing snapshot.
package shipping

import (
	"context"
	"strings"

	"github.com/angelmondragon/bazari-settlement/internal/catalog"
	"github.com/angelmondragon/bazari-settlement/internal/timeline"
	"github.com/angelmondragon/bazari-settlement/pkg/amount"
	"github.com/angelmondragon/bazari-settlement/pkg/enums"
	pkgerrors "github.com/angelmondragon/bazari-settlement/pkg/errors"
	"github.com/angelmondragon/bazari-settlement/pkg/types"
)

const (
	OptionStandard = "standard"
	OptionExpress  = "express"
	OptionPickup   = "pickup"
	OptionDigital  = "digital"

	expressFeeMultiplier = 2
)

// Option is one way a seller can deliver a group of items.
type Option struct {
	ID            string               `json:"id"`
	Method        enums.ShippingMethod `json:"method"`
	FeeBzr        amount.BaseUnits     `json:"feeBzr"`
	EstimatedDays int                  `json:"estimatedDays"`
}

// Quote lists the options offered by one seller.
type Quote struct {
	SellerID      string           `json:"sellerId"`
	SellerAddress string           `json:"sellerAddress"`
	SubtotalBzr   amount.BaseUnits `json:"subtotalBzr"`
	Options       []Option         `json:"options"`
}

type resolver interface {
	Resolve(ctx context.Context, refs []catalog.ItemRef) ([]catalog.SellerGroup, error)
}

// Service answers the public shipping estimate.
type Service struct {
	resolver resolver
}

// NewService builds the estimate service.
func NewService(r resolver) *Service {
	return &Service{resolver: r}
}

// Estimate quotes every seller represented in refs. The address is optional
// and only validated when present.
func (s *Service) Estimate(ctx context.Context, refs []catalog.ItemRef, address *types.ShippingAddress) ([]Quote, error) {
	if address != nil {
		if err := address.Validate(); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid shipping address")
		}
	}
	groups, err := s.resolver.Resolve(ctx, refs)
	if err != nil {
		return nil, err
	}
	quotes := make([]Quote, 0, len(groups))
	for _, g := range groups {
		opts, err := OptionsFor(g)
		if err != nil {
			return nil, err
		}
		quotes = append(quotes, Quote{
			SellerID:      g.SellerID,
			SellerAddress: g.SellerAddress,
			SubtotalBzr:   g.Subtotal,
			Options:       opts,
		})
	}
	return quotes, nil
}

// OptionsFor derives the options for one seller group. The first option is
// the default. Shipping is a flat fee per seller: the highest listing fee
// among the physical items.
//
//   - services only: digital, free
//   - every physical listing marked PICKUP: pickup, free
//   - otherwise: standard and express (double fee, half the days)
func OptionsFor(g catalog.SellerGroup) ([]Option, error) {
	var (
		physical int
		pickup   int
		fee      amount.BaseUnits
		maxDays  int
		hasDays  bool
	)
	for _, item := range g.Items {
		l := item.Listing
		if l.EstimatedDeliveryDays != nil && *l.EstimatedDeliveryDays > 0 {
			hasDays = true
			if *l.EstimatedDeliveryDays > maxDays {
				maxDays = *l.EstimatedDeliveryDays
			}
		}
		if l.Kind == enums.ListingKindService {
			continue
		}
		physical++
		if l.ShippingMethod != nil && *l.ShippingMethod == enums.ShippingMethodPickup {
			pickup++
		}
		if l.ShippingFeeBzr > fee {
			fee = l.ShippingFeeBzr
		}
	}
	if !hasDays {
		maxDays = timeline.DefaultDeliveryDays
	}

	switch {
	case physical == 0:
		return []Option{{ID: OptionDigital, Method: enums.ShippingMethodDigital, EstimatedDays: maxDays}}, nil
	case pickup == physical:
		return []Option{{ID: OptionPickup, Method: enums.ShippingMethodPickup, EstimatedDays: maxDays}}, nil
	}

	express, err := fee.Mul(expressFeeMultiplier)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "shipping fee out of range")
	}
	expressDays := (maxDays + 1) / 2
	if expressDays < 1 {
		expressDays = 1
	}
	return []Option{
		{ID: OptionStandard, Method: enums.ShippingMethodStandard, FeeBzr: fee, EstimatedDays: maxDays},
		{ID: OptionExpress, Method: enums.ShippingMethodExpress, FeeBzr: express, EstimatedDays: expressDays},
	}, nil
}

// Select picks the option with the given id, or the default when id is empty.
func Select(options []Option, id string) (Option, error) {
	id = strings.ToLower(strings.TrimSpace(id))
	if len(options) == 0 {
		return Option{}, pkgerrors.New(pkgerrors.CodeValidation, "no shipping options available")
	}
	if id == "" {
		return options[0], nil
	}
	for _, opt := range options {
		if opt.ID == id {
			return opt, nil
		}
	}
	ids := make([]string, 0, len(options))
	for _, opt := range options {
		ids = append(ids, opt.ID)
	}
	return Option{}, pkgerrors.New(pkgerrors.CodeValidation, "unknown shipping option").
		WithDetails(map[string]any{"shippingOptionId": id, "available": ids})
}
