// Package middleware provides HTTP middleware for the USBA API.
package middleware

import (
	"net/http"

	"github.com/ashureev/usba/internal/identity"
	"github.com/go-chi/cors"
)

// CORS returns middleware that handles CORS headers. Credentials are only
// allowed for explicit origins; a "*" entry never gets them.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	explicit := false
	for _, o := range allowedOrigins {
		if o != "*" {
			explicit = true
			break
		}
	}

	return cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", identity.TabHeaderName},
		AllowCredentials: explicit,
		MaxAge:           60 * 15,
	})
}

// Origins returns the CORS allow list for a frontend URL. An empty URL
// (development) allows any origin without credentials.
func Origins(frontendURL string) []string {
	if frontendURL == "" {
		return []string{"*"}
	}
	return []string{frontendURL}
}
