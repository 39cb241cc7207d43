package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-arbiter/internal/auth"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Group(func(r chi.Router) {
				r.Use(s.requirePermission(auth.PermDeviceRead))

				r.Get("/metrics", s.handleMetrics)
				r.Get("/quarantine", s.handleListQuarantine)
				r.Get("/locks", s.handleListLocks)
				r.Get("/expected", s.handleListExpected)
				r.Get("/queues", s.handleQueues)
				r.Get("/history", s.handleHistory)
				r.Get("/ws", s.handleWebSocket)

				r.Route("/devices", func(r chi.Router) {
					r.Get("/", s.handleListDevices)
					r.Route("/{id}", func(r chi.Router) {
						r.Get("/", s.handleGetDevice)
						r.Get("/state", s.handleGetDeviceState)
						r.Get("/capabilities/{type}", s.handleQueryCapability)
						r.Get("/properties/{instance}", s.handleQueryProperty)
					})
				})
			})

			r.With(s.requirePermission(auth.PermDeviceOperate)).
				Post("/devices/{id}/actions", s.handleSubmitAction)
			r.With(s.requirePermission(auth.PermLocksReset)).
				Post("/locks/reset", s.handleResetLocks)
		})
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}
