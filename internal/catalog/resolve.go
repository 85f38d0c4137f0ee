package catalog

import (
	"context"
	"sort"

	"github.com/angelmondragon/bazari-settlement/pkg/amount"
	"github.com/angelmondragon/bazari-settlement/pkg/db/models"
	pkgerrors "github.com/angelmondragon/bazari-settlement/pkg/errors"
	"github.com/google/uuid"
)

// ItemRef is one requested line: a listing and a quantity.
type ItemRef struct {
	ListingID uuid.UUID `json:"listingId" validate:"required"`
	Quantity  int       `json:"qty" validate:"required,min=1,max=1000"`
}

// ResolvedItem pairs a requested line with its listing snapshot and line total.
type ResolvedItem struct {
	Listing   models.Listing
	Quantity  int
	LineTotal amount.BaseUnits
}

// SellerGroup is every resolved line sold by one seller.
type SellerGroup struct {
	SellerID      string
	SellerAddress string
	Items         []ResolvedItem
	Subtotal      amount.BaseUnits
}

// Resolver turns item references into seller-grouped snapshots.
type Resolver struct {
	repo Repository
}

// NewResolver builds a resolver over repo.
func NewResolver(repo Repository) *Resolver {
	return &Resolver{repo: repo}
}

// Resolve loads every listing, rejects unknown or inactive ones, and groups
// the lines by seller. Groups are ordered by first appearance in refs.
func (r *Resolver) Resolve(ctx context.Context, refs []ItemRef) ([]SellerGroup, error) {
	if len(refs) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one item is required")
	}

	ids := make([]uuid.UUID, 0, len(refs))
	for _, ref := range refs {
		if ref.ListingID == uuid.Nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "listing id is required")
		}
		if ref.Quantity <= 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive").
				WithDetails(map[string]any{"listingId": ref.ListingID})
		}
		ids = append(ids, ref.ListingID)
	}

	listings, err := r.repo.FindByIDs(ctx, ids)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load listings")
	}

	var missing []string
	for _, id := range ids {
		if l, ok := listings[id]; !ok || !l.Active {
			missing = append(missing, id.String())
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "listing not available").
			WithDetails(map[string]any{"listingIds": missing})
	}

	index := map[string]int{}
	var groups []SellerGroup
	for _, ref := range refs {
		listing := listings[ref.ListingID]
		line, err := listing.PriceBzr.Mul(int64(ref.Quantity))
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "line total out of range")
		}
		pos, ok := index[listing.SellerID]
		if !ok {
			pos = len(groups)
			index[listing.SellerID] = pos
			groups = append(groups, SellerGroup{SellerID: listing.SellerID, SellerAddress: listing.SellerAddress})
		}
		g := &groups[pos]
		g.Items = append(g.Items, ResolvedItem{Listing: listing, Quantity: ref.Quantity, LineTotal: line})
		if g.Subtotal, err = g.Subtotal.Add(line); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "subtotal out of range")
		}
	}
	return groups, nil
}
