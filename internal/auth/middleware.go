package auth

import (
	"context"
	"net/http"
	"strings"
)

type contextKey string

const TokenContextKey contextKey = "token"

func writeStatus(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}` + "\n"))
}

// Middleware resolves a bearer token into the request context. Requests
// without an Authorization header pass through unauthenticated.
func (s *Service) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.Enabled() {
			next.ServeHTTP(w, r)
			return
		}
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			next.ServeHTTP(w, r)
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			writeStatus(w, http.StatusUnauthorized, "invalid authorization header")
			return
		}

		token, err := s.Authenticate(parts[1])
		if err != nil {
			writeStatus(w, http.StatusUnauthorized, "invalid token")
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), TokenContextKey, token)))
	})
}

// RequirePermission rejects requests whose token may not perform act on obj.
// It is a no-op while the service is disabled.
func (s *Service) RequirePermission(obj, act string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.Enabled() {
			next(w, r)
			return
		}
		token, ok := r.Context().Value(TokenContextKey).(*Token)
		if !ok {
			writeStatus(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		allowed, err := s.Enforce(token.Name, obj, act)
		if err != nil {
			writeStatus(w, http.StatusInternalServerError, "internal server error")
			return
		}
		if !allowed {
			writeStatus(w, http.StatusForbidden, "forbidden")
			return
		}

		next(w, r)
	}
}
