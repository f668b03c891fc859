package middleware

import (
	"net/http"

	"github.com/go-chi/cors"
)

// CORS lets the member H5 pages and the merchant console call the API from
// their configured origins. The API only exposes GET and POST routes.
func CORS(origins []string) func(http.Handler) http.Handler {
	policy := cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{
			"Accept",
			"Authorization",
			"Content-Type",
			idempotencyHeader,
			requestIDHeader,
		},
		ExposedHeaders:   []string{requestIDHeader, "Idempotent-Replayed"},
		AllowCredentials: true,
		MaxAge:           600,
	}
	return cors.Handler(policy)
}
