// Package router assembles the chi router from injected services.
package router

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/prana-labs/wellness-backend/internal/handler"
	"github.com/prana-labs/wellness-backend/internal/middleware"
)

// Dependencies holds all injected services needed by the router.
// Components are wired top-down at startup; the router holds no
// construction logic of its own.
type Dependencies struct {
	Pipeline    handler.QueryProcessor
	Feedback    handler.FeedbackRecorder
	RateLimiter *middleware.RateLimiter

	Version    string
	Components map[string]string

	CORSOrigins []string

	Metrics    *middleware.Metrics
	MetricsReg *prometheus.Registry
}

// New creates and configures the chi router with all routes.
func New(deps *Dependencies) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.Recoverer)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.Logging)
	r.Use(middleware.CORS(deps.CORSOrigins))
	if deps.Metrics != nil {
		r.Use(middleware.Monitoring(deps.Metrics))
	}

	if deps.MetricsReg != nil {
		r.Handle("/metrics", middleware.MetricsHandler(deps.MetricsReg))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", handler.Health(deps.Version, deps.Components))

		timeout30s := middleware.Timeout(30 * time.Second)
		r.With(timeout30s).Post("/feedback", handler.Feedback(deps.Feedback))

		// The ask endpoint is the only rate-limited route; its own budget
		// exceeds the JSON timeout used elsewhere because of the upstream
		// LLM call.
		askHandler := handler.Ask(deps.Pipeline, deps.Metrics)
		if deps.RateLimiter != nil {
			r.With(middleware.RateLimit(deps.RateLimiter, deps.Metrics)).
				With(middleware.Timeout(120 * time.Second)).
				Post("/ask", askHandler)
		} else {
			r.With(middleware.Timeout(120 * time.Second)).Post("/ask", askHandler)
		}
	})

	// 404 fallback
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"detail": "route not found"})
	})

	return r
}
