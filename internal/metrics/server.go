package metrics

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthFunc reports whether the index is usable.
type HealthFunc func(ctx context.Context) error

// NewRouter exposes /metrics for gatherer and /healthz backed by health.
func NewRouter(gatherer prometheus.Gatherer, health HealthFunc) http.Handler {
	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		status := http.StatusOK
		body := map[string]string{"status": "ok"}
		if health != nil {
			if err := health(r.Context()); err != nil {
				status = http.StatusServiceUnavailable
				body = map[string]string{"status": "unhealthy", "error": err.Error()}
			}
		}

		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	})
	return r
}

// NewServer wraps the router in an http.Server listening on addr.
func NewServer(addr string, gatherer prometheus.Gatherer, health HealthFunc) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           NewRouter(gatherer, health),
		ReadHeaderTimeout: 5 * time.Second,
	}
}
