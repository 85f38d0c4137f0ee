package controllers

import (
	"context"
	"net/http"

	"github.com/angelmondragon/bazari-settlement/api/responses"
	"github.com/angelmondragon/bazari-settlement/api/validators"
	"github.com/angelmondragon/bazari-settlement/internal/catalog"
	"github.com/angelmondragon/bazari-settlement/internal/shipping"
	"github.com/angelmondragon/bazari-settlement/pkg/logger"
	"github.com/angelmondragon/bazari-settlement/pkg/types"
)

// ShippingEstimator quotes shipping per seller.
type ShippingEstimator interface {
	Estimate(ctx context.Context, refs []catalog.ItemRef, address *types.ShippingAddress) ([]shipping.Quote, error)
}

type shippingEstimateRequest struct {
	Items           []catalog.ItemRef      `json:"items" validate:"required,min=1,dive"`
	ShippingAddress *types.ShippingAddress `json:"shippingAddress,omitempty"`
}

// ShippingEstimate is public: it only reads listing snapshots.
func ShippingEstimate(svc ShippingEstimator, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req shippingEstimateRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		quotes, err := svc.Estimate(r.Context(), req.Items, req.ShippingAddress)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"quotes": quotes})
	}
}
