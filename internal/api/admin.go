package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/fibqueue/fibqueue/internal/metrics"
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RegisterAdminRoutes registers the worker's health and metrics routes.
// Readiness pings the store; liveness does not.
func RegisterAdminRoutes(mux *http.ServeMux, store Pinger, m *metrics.Registry) {
	mux.HandleFunc("GET /healthz", ok)
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := store.Ping(ctx); err != nil {
			slog.Warn("readiness check failed", "error", err)
			http.Error(w, "store unreachable", http.StatusServiceUnavailable)
			return
		}
		ok(w, r)
	})
	if m != nil {
		mux.Handle("GET /metrics", m.Handler())
	}
}
