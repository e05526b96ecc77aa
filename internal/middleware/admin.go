package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"wallet/internal/auth"
	"wallet/internal/ledger"
)

type AdminChecker interface {
	RequireAdmin(ctx context.Context, identity auth.Identity, operation string) error
}

// RequireAdmin turns non-admins away before the handler runs. Services repeat
// the check for every administrative operation.
func RequireAdmin(authz AdminChecker) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := IdentityFromContext(r.Context())
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			if err := authz.RequireAdmin(r.Context(), identity, operation(r)); err != nil {
				if errors.Is(err, ledger.ErrForbidden) {
					http.Error(w, "admin privileges required", http.StatusForbidden)
					return
				}
				http.Error(w, "unable to verify admin", http.StatusInternalServerError)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func operation(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return r.Method + " " + pattern
		}
	}
	return r.Method + " " + r.URL.Path
}
