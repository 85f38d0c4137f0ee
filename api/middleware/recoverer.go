package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/angelmondragon/bazari-settlement/api/responses"
	pkgerrors "github.com/angelmondragon/bazari-settlement/pkg/errors"
	"github.com/angelmondragon/bazari-settlement/pkg/logger"
)

// Recoverer turns a handler panic into a 500 envelope. When the handler had
// already started its response only the log line is written.
// http.ErrAbortHandler is re-raised so net/http can abort the connection.
func Recoverer(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				cause := fmt.Errorf("panic: %v", rec)
				ctx := r.Context()
				if logg != nil {
					ctx = logg.WithFields(ctx, map[string]any{
						"route":           routePattern(r),
						"response_status": ww.Status(),
						"stack":           string(debug.Stack()),
					})
					logg.Error(ctx, "http.panic_recovered", cause)
				}
				if ww.Status() != 0 {
					return
				}
				responses.WriteError(ctx, nil, ww, pkgerrors.Wrap(pkgerrors.CodeInternal, cause, "recovered handler panic"))
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
