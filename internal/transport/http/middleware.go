package http

import (
	"context"
	"net/http"
)

// KeyChecker validates X-API-Key values. When it reports disabled, every
// request passes.
type KeyChecker interface {
	Enabled() bool
	Validate(ctx context.Context, apiKey string) bool
}

type AuthMiddleware struct {
	keys KeyChecker
	open map[string]bool
}

// NewAuthMiddleware leaves the listed paths open, e.g. health checks.
func NewAuthMiddleware(keys KeyChecker, openPaths ...string) *AuthMiddleware {
	open := make(map[string]bool, len(openPaths))
	for _, p := range openPaths {
		open[p] = true
	}
	return &AuthMiddleware{keys: keys, open: open}
}

func (m *AuthMiddleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.keys == nil || !m.keys.Enabled() || m.open[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		apiKey := r.Header.Get("X-API-Key")
		if apiKey == "" {
			writeError(w, http.StatusUnauthorized, "missing X-API-Key header")
			return
		}

		if !m.keys.Validate(r.Context(), apiKey) {
			writeError(w, http.StatusUnauthorized, "invalid API key")
			return
		}

		next.ServeHTTP(w, r)
	})
}
