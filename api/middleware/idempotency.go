package middleware

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/angelmondragon/bazari-settlement/api/responses"
	"github.com/angelmondragon/bazari-settlement/internal/idempotency"
	pkgerrors "github.com/angelmondragon/bazari-settlement/pkg/errors"
	"github.com/angelmondragon/bazari-settlement/pkg/logger"
	"github.com/angelmondragon/bazari-settlement/pkg/metrics"
)

const (
	idempotencyHeader = "Idempotency-Key"
	replayedHeader    = "Idempotent-Replayed"
	maxIdempotencyKey = 128
)

// idempotentCall is one keyed request moving through the guard.
type idempotentCall struct {
	store idempotency.Store
	key   string
	hash  string
	lease time.Duration
}

// Idempotency replays the first stored response for a repeated
// Idempotency-Key. Keys are scoped to the caller, method and path.
//
// A request reserves its key before the handler runs, so a concurrent
// duplicate gets 409 with Retry-After instead of executing twice. Reusing a
// key with a different body is rejected. Server errors release the key so
// it can be retried. Requests without a key pass through.
//
// The reservation is held for lease and refreshed while the handler runs, so
// a slow request keeps its key until it settles.
func Idempotency(store idempotency.Store, ttl, lease time.Duration, m *metrics.SettlementMetrics, logg *logger.Logger) func(http.Handler) http.Handler {
	if lease <= 0 {
		lease = idempotency.DefaultLease
	}
	return func(next http.Handler) http.Handler {
		if store == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			clientKey := strings.TrimSpace(r.Header.Get(idempotencyHeader))
			switch {
			case clientKey == "":
				next.ServeHTTP(w, r)
				return
			case len(clientKey) > maxIdempotencyKey:
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "Idempotency-Key is too long"))
				return
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request"))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))
			call := idempotentCall{
				store: store,
				key:   store.Key(requestScope(r), clientKey),
				hash:  idempotency.HashBody(body),
				lease: lease,
			}

			if handled := call.answerFromStore(w, r, m, logg); handled {
				return
			}
			won, err := store.Reserve(ctx, call.key, call.hash, call.lease)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reserve idempotency key"))
				return
			}
			if !won {
				// lost the race to a duplicate that arrived in between
				if !call.answerFromStore(w, r, m, logg) {
					writeInProgress(ctx, w, logg)
				}
				return
			}
			call.run(next, w, r, ttl, logg)
		})
	}
}

// answerFromStore replies from an existing record. It reports false when
// the key is free.
func (c idempotentCall) answerFromStore(w http.ResponseWriter, r *http.Request, m *metrics.SettlementMetrics, logg *logger.Logger) bool {
	ctx := r.Context()
	stored, err := c.store.Get(ctx, c.key)
	switch {
	case err != nil:
		responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check idempotency"))
	case stored == nil:
		return false
	case !stored.Matches(c.hash):
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key reused with different request body"))
	case stored.Pending:
		writeInProgress(ctx, w, logg)
	default:
		m.IncReplay(routePattern(r))
		if stored.ContentType != "" {
			w.Header().Set("Content-Type", stored.ContentType)
		}
		w.Header().Set(replayedHeader, "true")
		w.WriteHeader(stored.Status)
		_, _ = w.Write(stored.Body)
	}
	return true
}

// run executes the handler while holding the reservation and settles the
// key afterwards. A panic releases the key before it propagates.
func (c idempotentCall) run(next http.Handler, w http.ResponseWriter, r *http.Request, ttl time.Duration, logg *logger.Logger) {
	ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
	var captured bytes.Buffer
	ww.Tee(&captured)

	stop := c.keepAlive(r.Context(), logg)
	settled := false
	defer func() {
		stop()
		if !settled {
			c.release(r.Context(), logg)
		}
	}()
	next.ServeHTTP(ww, r)
	stop()

	status := ww.Status()
	if status == 0 {
		status = http.StatusOK
	}
	if status >= http.StatusInternalServerError {
		return
	}
	settled = true
	err := c.store.Complete(r.Context(), c.key, idempotency.Record{
		Status:      status,
		Body:        captured.Bytes(),
		ContentType: ww.Header().Get("Content-Type"),
		RequestHash: c.hash,
	}, ttl)
	if err != nil && logg != nil {
		logg.Error(r.Context(), "persist idempotency record", err)
	}
}

// keepAlive refreshes the reservation every third of the lease until the
// returned stop func is called. Stop is safe to call more than once.
func (c idempotentCall) keepAlive(ctx context.Context, logg *logger.Logger) func() {
	interval := c.lease / 3
	if interval <= 0 {
		interval = c.lease
	}
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				held, err := c.store.Extend(ctx, c.key, c.hash, c.lease)
				switch {
				case err != nil:
					if logg != nil {
						logg.Error(ctx, "extend idempotency reservation", err)
					}
				case !held:
					if logg != nil {
						logg.Warn(ctx, "idempotency reservation lapsed before the request finished")
					}
					return
				}
			}
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}
}

func (c idempotentCall) release(ctx context.Context, logg *logger.Logger) {
	if err := c.store.Release(context.WithoutCancel(ctx), c.key); err != nil && logg != nil {
		logg.Error(ctx, "release idempotency key", err)
	}
}

func writeInProgress(ctx context.Context, w http.ResponseWriter, logg *logger.Logger) {
	w.Header().Set("Retry-After", "1")
	responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeIdempotency, "a request with this idempotency key is still in progress"))
}

func requestScope(r *http.Request) string {
	return strings.Join([]string{ActorFrom(r).SubjectID, r.Method, r.URL.Path}, "|")
}

func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if pattern := rc.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return r.URL.Path
}
