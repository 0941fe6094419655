// Package httpapi serves metrics, health probes and the parameter listing over HTTP.
package httpapi

import (
	"net/http"
	"strconv"

	"github.com/cuemby/pubparam/pkg/log"
	"github.com/cuemby/pubparam/pkg/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Snapshotter provides the latest JSON listing of the registry. The listing
// is produced on the parameters' owner loop; the HTTP layer only serves it.
type Snapshotter interface {
	Snapshot(includeHidden bool) []byte
}

// NewRouter returns the process HTTP surface: Prometheus metrics, health
// probes and a read-only parameter listing.
func NewRouter(snap Snapshotter) http.Handler {
	logger := log.WithComponent("httpapi")

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})

	r.Handle("/metrics", metrics.Handler())
	r.Get("/health", metrics.HealthHandler())
	r.Get("/ready", metrics.ReadyHandler())
	r.Get("/live", metrics.LivenessHandler())

	r.Get("/params", func(w http.ResponseWriter, r *http.Request) {
		hidden, _ := strconv.ParseBool(r.URL.Query().Get("hidden"))
		body := snap.Snapshot(hidden)
		if body == nil {
			logger.Debug().Str("request_id", middleware.GetReqID(r.Context())).Msg("no snapshot yet")
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":"snapshot not ready"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	})

	return r
}
