package middleware

import (
	"net/http"

	"github.com/angelmondragon/bazari-settlement/api/responses"
	pkgAuth "github.com/angelmondragon/bazari-settlement/pkg/auth"
	pkgerrors "github.com/angelmondragon/bazari-settlement/pkg/errors"
	"github.com/angelmondragon/bazari-settlement/pkg/logger"
)

// ActorRule rejects an authenticated actor by returning a typed error.
type ActorRule func(actor pkgAuth.Actor) error

// OperatorRole admits operator and admin actors.
func OperatorRole(actor pkgAuth.Actor) error {
	if !actor.Role.CanOperate() {
		return pkgerrors.New(pkgerrors.CodeForbidden, "operator role required")
	}
	return nil
}

// BoundWallet admits actors whose token carries a wallet address.
func BoundWallet(actor pkgAuth.Actor) error {
	if !actor.HasWallet() {
		return pkgerrors.New(pkgerrors.CodeForbidden, "wallet address required")
	}
	return nil
}

// RequireActor runs rules in order against the actor set by Auth and stops at
// the first rejection.
func RequireActor(logg *logger.Logger, rules ...ActorRule) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor := ActorFrom(r)
			for _, rule := range rules {
				if err := rule(actor); err != nil {
					responses.WriteError(r.Context(), logg, w, err)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireOperator is RequireActor with OperatorRole.
func RequireOperator(logg *logger.Logger) func(http.Handler) http.Handler {
	return RequireActor(logg, OperatorRole)
}
