package escrows

import (
	"net/http"

	"github.com/angelmondragon/bazari-settlement/api/middleware"
	"github.com/angelmondragon/bazari-settlement/api/responses"
	"github.com/angelmondragon/bazari-settlement/api/validators"
	internalescrows "github.com/angelmondragon/bazari-settlement/internal/escrows"
	"github.com/angelmondragon/bazari-settlement/pkg/logger"
)

// Active lists the caller's funded orders with their auto-release estimate.
func Active(svc internalescrows.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		params, err := validators.ParsePagination(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		page, err := svc.ListActive(r.Context(), middleware.ActorFrom(r), params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, page)
	}
}

// Urgent lists escrows close to auto-release. Council members only.
func Urgent(svc internalescrows.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		items, err := svc.ListUrgent(r.Context(), middleware.ActorFrom(r))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if items == nil {
			items = []internalescrows.UrgentEscrow{}
		}
		responses.WriteSuccess(w, items)
	}
}
