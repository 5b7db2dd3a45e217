// Package httptransport is the coordinator's HTTP surface. Handlers stay
// thin: observer messages go straight onto the bus, reads go straight to the
// stores.
package httptransport

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"consentry/internal/platform/middleware"
)

// NewRouter wires all endpoints. Everything under /v1 requires a valid
// observer token; health and metrics stay open.
func NewRouter(h *Handler, validator middleware.TokenValidator, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(logger))

	r.Get("/healthz", h.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.RequireAuth(validator, logger))
		r.Post("/messages", h.handleMessage)
		r.Get("/consents", h.handleListConsents)
		r.Get("/detections", h.handleListDetections)
		r.Get("/settings", h.handleGetSettings)
		r.Put("/settings", h.handlePutSettings)
	})

	return r
}

// HealthChecker reports dependency liveness for /healthz.
type HealthChecker func(ctx context.Context) error
