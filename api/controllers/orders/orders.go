package orders

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/bazari-settlement/api/middleware"
	"github.com/angelmondragon/bazari-settlement/api/responses"
	"github.com/angelmondragon/bazari-settlement/api/validators"
	"github.com/angelmondragon/bazari-settlement/internal/escrows"
	internalorders "github.com/angelmondragon/bazari-settlement/internal/orders"
	"github.com/angelmondragon/bazari-settlement/pkg/auth"
	pkgerrors "github.com/angelmondragon/bazari-settlement/pkg/errors"
	"github.com/angelmondragon/bazari-settlement/pkg/logger"
)

// Create places one order per seller for the caller.
func Create(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var input internalorders.CreateOrderInput
		if err := validators.DecodeJSONBody(r, &input); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		view, err := svc.CreateOrder(r.Context(), middleware.ActorFrom(r), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, view)
	}
}

// List pages through the caller's orders as buyer, seller, or both.
func List(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		params, err := validators.ParsePagination(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		role, err := validators.ParseQueryEnum(r, "role", "buyer", "seller")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		statuses, err := validators.ParseOrderStatuses(r, "status")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		page, err := svc.ListOrders(r.Context(), middleware.ActorFrom(r),
			internalorders.ListFilters{Role: role, Statuses: statuses},
			params,
		)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, page)
	}
}

// Detail returns one order with its items. The route is public.
func Detail(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := validators.ParseUUIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		view, err := svc.GetOrder(r.Context(), orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, view)
	}
}

// CreatePaymentIntent opens a funding attempt for the order total.
func CreatePaymentIntent(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return orderAction(logg, http.StatusCreated, func(ctx context.Context, actor auth.Actor, orderID uuid.UUID, _ *http.Request) (any, error) {
		return svc.CreatePaymentIntent(ctx, actor, orderID)
	})
}

// PrepareLock returns the unsigned lock call for the buyer to sign.
func PrepareLock(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return orderAction(logg, http.StatusOK, func(ctx context.Context, actor auth.Actor, orderID uuid.UUID, _ *http.Request) (any, error) {
		return svc.PrepareLock(ctx, actor, orderID)
	})
}

// ConfirmLock verifies the chain escrow is funded and moves the order to ESCROWED.
func ConfirmLock(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return confirmAction(logg, svc.ConfirmLock)
}

// Ship records the seller's shipment.
func Ship(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return orderAction(logg, http.StatusOK, func(ctx context.Context, actor auth.Actor, orderID uuid.UUID, r *http.Request) (any, error) {
		var input internalorders.ShipInput
		if err := validators.DecodeOptionalJSONBody(r, &input); err != nil {
			return nil, err
		}
		return svc.Ship(ctx, actor, orderID, input)
	})
}

// PrepareRelease returns the unsigned release call for the buyer to sign.
func PrepareRelease(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return orderAction(logg, http.StatusOK, func(ctx context.Context, actor auth.Actor, orderID uuid.UUID, _ *http.Request) (any, error) {
		return svc.PrepareRelease(ctx, actor, orderID)
	})
}

// ConfirmRelease verifies the chain release and completes the order.
func ConfirmRelease(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return confirmAction(logg, svc.ConfirmRelease)
}

// DirectRelease submits the release with the operator key.
func DirectRelease(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return orderAction(logg, http.StatusOK, func(ctx context.Context, actor auth.Actor, orderID uuid.UUID, _ *http.Request) (any, error) {
		return svc.DirectRelease(ctx, actor, orderID)
	})
}

// PrepareRefund returns the unsigned refund call for a council member.
func PrepareRefund(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return orderAction(logg, http.StatusOK, func(ctx context.Context, actor auth.Actor, orderID uuid.UUID, _ *http.Request) (any, error) {
		return svc.PrepareRefund(ctx, actor, orderID)
	})
}

// ConfirmRefund verifies the chain refund and closes the order.
func ConfirmRefund(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return confirmAction(logg, svc.ConfirmRefund)
}

// Dispute moves a funded order to TIMEOUT with the party's reason.
func Dispute(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return orderAction(logg, http.StatusOK, func(ctx context.Context, actor auth.Actor, orderID uuid.UUID, r *http.Request) (any, error) {
		var input internalorders.DisputeInput
		if err := validators.DecodeJSONBody(r, &input); err != nil {
			return nil, err
		}
		return svc.MarkDispute(ctx, actor, orderID, input)
	})
}

// Cancel stops a non-terminal order.
func Cancel(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return orderAction(logg, http.StatusOK, func(ctx context.Context, actor auth.Actor, orderID uuid.UUID, r *http.Request) (any, error) {
		var input internalorders.CancelInput
		if err := validators.DecodeOptionalJSONBody(r, &input); err != nil {
			return nil, err
		}
		return svc.Cancel(ctx, actor, orderID, input)
	})
}

// Escrow returns the chain mirror and timeline projection of an order.
func Escrow(svc escrows.Service, logg *logger.Logger) http.HandlerFunc {
	return orderAction(logg, http.StatusOK, func(ctx context.Context, actor auth.Actor, orderID uuid.UUID, _ *http.Request) (any, error) {
		return svc.Detail(ctx, actor, orderID)
	})
}

type actionFunc func(ctx context.Context, actor auth.Actor, orderID uuid.UUID, r *http.Request) (any, error)

func orderAction(logg *logger.Logger, status int, fn actionFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := validators.ParseUUIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		ctx := logg.WithOrderID(r.Context(), orderID.String())
		out, err := fn(ctx, middleware.ActorFrom(r), orderID, r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if out == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "empty result"))
			return
		}
		responses.WriteSuccessStatus(w, status, out)
	}
}

type confirmFunc func(ctx context.Context, actor auth.Actor, orderID uuid.UUID, input internalorders.ConfirmInput) (*internalorders.SettlementResult, error)

func confirmAction(logg *logger.Logger, fn confirmFunc) http.HandlerFunc {
	return orderAction(logg, http.StatusOK, func(ctx context.Context, actor auth.Actor, orderID uuid.UUID, r *http.Request) (any, error) {
		var input internalorders.ConfirmInput
		if err := validators.DecodeOptionalJSONBody(r, &input); err != nil {
			return nil, err
		}
		return fn(ctx, actor, orderID, input)
	})
}
