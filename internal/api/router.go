package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-dispatch/internal/infrastructure/metrics"
)

// defaultMetricsPath is used when metrics.path is unset.
const defaultMetricsPath = "/metrics"

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	if s.metricCfg.Enabled {
		path := s.metricCfg.Path
		if path == "" {
			path = defaultMetricsPath
		}
		r.Handle(path, metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/system", s.handleSystemMetrics)

		r.Route("/commands", func(r chi.Router) {
			r.Post("/", s.handleSubmitCommand)
			r.Get("/", s.handleListCommands)
			r.Delete("/", s.handleCleanupCommands)
			r.Get("/stats", s.handleCommandStats)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetCommand)
				r.Post("/cancel", s.handleCancelCommand)
				r.Post("/retry", s.handleRetryCommand)
			})
		})

		r.Post("/acks", s.handleAck)

		r.Route("/devices", func(r chi.Router) {
			r.Get("/", s.handleListDevices)
			r.Get("/{id}", s.handleGetDevice)
		})

		r.Get("/audit", s.handleListAudit)

		r.Get("/ws", s.handleWebSocket)
	})

	return r
}
