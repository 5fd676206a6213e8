package middleware

import (
	"net/http"
	"strings"

	"parkngo/backend/libs/token"
)

// InternalAuth requires a valid Bearer token on payment-control endpoints.
// Callers are other services (the metering engine, operator tooling), not end
// users.
func InternalAuth(tokens *token.Service) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "missing authorization header", http.StatusUnauthorized)
				return
			}
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				http.Error(w, "invalid authorization header", http.StatusUnauthorized)
				return
			}
			if _, err := tokens.Validate(strings.TrimSpace(parts[1])); err != nil {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			next(w, r)
		}
	}
}
