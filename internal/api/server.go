// Package api assembles the HTTP surface of the lifecycle service: the
// action routes, health and metrics.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/venuesync/backend/internal/circuitbreaker"
	"github.com/venuesync/backend/internal/handlers"
	"github.com/venuesync/backend/internal/middleware"
)

// Pinger is a dependency checked by /health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps is everything the router serves.
type Deps struct {
	Service handlers.ActionService
	Events  handlers.Subscriber
	Store   Pinger
	// Optional.
	Breakers    *circuitbreaker.Manager
	Limiter     *middleware.RateLimiter
	Gatherer    prometheus.Gatherer
	CORSOrigins []string
	Version     string
}

// NewRouter builds the service router.
func NewRouter(d Deps) *mux.Router {
	r := mux.NewRouter()
	r.MethodNotAllowedHandler = handlers.MethodNotAllowed()
	r.NotFoundHandler = handlers.NotFound()

	r.Use(middleware.WithCaller, middleware.Logging, middleware.CORS(d.CORSOrigins))

	r.HandleFunc("/health", handleHealth(d)).Methods(http.MethodGet)
	r.Handle("/health", handlers.MethodNotAllowed())
	if d.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
		r.Handle("/metrics", handlers.MethodNotAllowed())
	}

	var mws []mux.MiddlewareFunc
	if d.Limiter != nil {
		mws = append(mws, d.Limiter.Middleware)
	}
	handlers.RegisterActionRoutes(r, d.Service, d.Events, mws...)
	return r
}

// handleHealth reports store connectivity and connector breaker state. An
// unreachable store is 503; open breakers only degrade the status.
func handleHealth(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status, code := "healthy", http.StatusOK
		storeStatus := "connected"
		if d.Store != nil {
			if err := d.Store.Ping(ctx); err != nil {
				storeStatus = "error"
				status, code = "unhealthy", http.StatusServiceUnavailable
			}
		}

		body := map[string]any{
			"status":  status,
			"service": "venuesync-actions",
			"store":   storeStatus,
			"time":    time.Now().UTC(),
		}
		if d.Version != "" {
			body["version"] = d.Version
		}
		if d.Breakers != nil {
			body["connectors"] = d.Breakers.Stats()
			if !d.Breakers.Healthy() && code == http.StatusOK {
				body["status"] = "degraded"
			}
		}
		if d.Limiter != nil {
			body["rateLimit"] = d.Limiter.Stats()
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(body)
	}
}
