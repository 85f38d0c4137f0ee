package checkout

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/bazari-settlement/api/middleware"
	"github.com/angelmondragon/bazari-settlement/api/responses"
	"github.com/angelmondragon/bazari-settlement/api/validators"
	checkoutsvc "github.com/angelmondragon/bazari-settlement/internal/checkout"
	"github.com/angelmondragon/bazari-settlement/pkg/auth"
	"github.com/angelmondragon/bazari-settlement/pkg/logger"
)

// CreateBatch opens a checkout session with one order per seller.
func CreateBatch(svc checkoutsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var input checkoutsvc.CreateSessionInput
		if err := validators.DecodeJSONBody(r, &input); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		view, err := svc.CreateSession(r.Context(), middleware.ActorFrom(r), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, view)
	}
}

// Session returns a session with its member orders.
func Session(svc checkoutsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return sessionAction(logg, func(ctx context.Context, actor auth.Actor, id uuid.UUID, _ *http.Request) (any, error) {
		return svc.GetSession(ctx, actor, id)
	})
}

// PrepareLock returns the batched lock call for every member order.
func PrepareLock(svc checkoutsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return sessionAction(logg, func(ctx context.Context, actor auth.Actor, id uuid.UUID, _ *http.Request) (any, error) {
		return svc.PrepareBatchLock(ctx, actor, id)
	})
}

// ConfirmLock checks every member escrow after the batch was submitted.
func ConfirmLock(svc checkoutsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return sessionAction(logg, func(ctx context.Context, actor auth.Actor, id uuid.UUID, r *http.Request) (any, error) {
		var input checkoutsvc.ConfirmBatchInput
		if err := validators.DecodeJSONBody(r, &input); err != nil {
			return nil, err
		}
		return svc.ConfirmBatchLock(ctx, actor, id, input)
	})
}

// PrepareRelease returns the batched release call for every shipped order.
func PrepareRelease(svc checkoutsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return sessionAction(logg, func(ctx context.Context, actor auth.Actor, id uuid.UUID, _ *http.Request) (any, error) {
		return svc.PrepareBatchRelease(ctx, actor, id)
	})
}

// ConfirmRelease checks every member release after the batch was submitted.
func ConfirmRelease(svc checkoutsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return sessionAction(logg, func(ctx context.Context, actor auth.Actor, id uuid.UUID, r *http.Request) (any, error) {
		var input checkoutsvc.ConfirmBatchInput
		if err := validators.DecodeJSONBody(r, &input); err != nil {
			return nil, err
		}
		return svc.ConfirmBatchRelease(ctx, actor, id, input)
	})
}

type sessionFunc func(ctx context.Context, actor auth.Actor, id uuid.UUID, r *http.Request) (any, error)

func sessionAction(logg *logger.Logger, fn sessionFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := validators.ParseUUIDParam(r, "sessionId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		ctx := logg.WithField(r.Context(), "checkout_session_id", id.String())
		out, err := fn(ctx, middleware.ActorFrom(r), id, r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, out)
	}
}
