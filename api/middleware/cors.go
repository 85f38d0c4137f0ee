package middleware

import (
	"net/http"
	"slices"

	"github.com/go-chi/cors"
)

var (
	defaultCORSOrigins = []string{"http://localhost:3000"}

	corsAllowedHeaders = []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key", requestIDHeader}
	corsExposedHeaders = []string{requestIDHeader, "Idempotent-Replayed", "Retry-After"}
)

// CORS applies the storefront origin policy. A "*" entry opens the API to any
// origin and turns credentials off, since browsers reject that combination.
func CORS(origins []string) func(http.Handler) http.Handler {
	if len(origins) == 0 {
		origins = defaultCORSOrigins
	}
	wildcard := slices.Contains(origins, "*")
	if wildcard {
		origins = []string{"*"}
	}
	return cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   corsAllowedHeaders,
		ExposedHeaders:   corsExposedHeaders,
		AllowCredentials: !wildcard,
		MaxAge:           300,
	}).Handler
}
