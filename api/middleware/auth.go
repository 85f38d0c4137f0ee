package middleware

import (
	"net/http"
	"strings"

	"github.com/angelmondragon/bazari-settlement/api/responses"
	pkgAuth "github.com/angelmondragon/bazari-settlement/pkg/auth"
	"github.com/angelmondragon/bazari-settlement/pkg/config"
	pkgerrors "github.com/angelmondragon/bazari-settlement/pkg/errors"
	"github.com/angelmondragon/bazari-settlement/pkg/logger"
)

const bearerPrefix = "bearer "

// Auth validates the access token on every request and stores the resulting
// actor in the context. Log lines downstream carry the actor's identity.
func Auth(cfg config.JWTConfig, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}
			claims, err := pkgAuth.ParseAccessToken(cfg, token)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid token"))
				return
			}

			actor := pkgAuth.ActorFromClaims(claims)
			ctx := pkgAuth.WithActor(r.Context(), actor)
			if logg != nil {
				ctx = logg.WithFields(ctx, actorLogFields(actor))
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// bearerToken reads the Authorization header. The "Bearer" scheme is
// optional; a bare token is accepted.
func bearerToken(r *http.Request) (string, bool) {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.EqualFold(raw, strings.TrimSpace(bearerPrefix)) {
		return "", false
	}
	if len(raw) >= len(bearerPrefix) && strings.EqualFold(raw[:len(bearerPrefix)], bearerPrefix) {
		raw = strings.TrimSpace(raw[len(bearerPrefix):])
	}
	return raw, raw != ""
}

func actorLogFields(actor pkgAuth.Actor) map[string]any {
	fields := map[string]any{
		"user_id":    actor.SubjectID,
		"actor_role": string(actor.Role),
	}
	if actor.HasWallet() {
		fields["wallet"] = actor.Wallet
	}
	return fields
}

// ActorFrom returns the actor stored by Auth, or the zero Actor on public routes.
func ActorFrom(r *http.Request) pkgAuth.Actor {
	actor, _ := pkgAuth.ActorFromContext(r.Context())
	return actor
}
