package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-beacon/internal/auth"
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
		// Open endpoints for site monitoring
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)
		r.Get("/beacon", s.handleBeaconStatus)
		r.Get("/beacon/capabilities", s.handleCapabilities)

		// WebSocket (auth via token query parameter, validated in handler)
		r.Get("/ws", s.handleWebSocket)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Route("/slots", func(r chi.Router) {
				r.With(s.requirePermission(auth.PermBeaconRead)).Get("/", s.handleListSlots)

				r.Route("/{index}", func(r chi.Router) {
					r.With(s.requirePermission(auth.PermBeaconRead)).Get("/", s.handleGetSlot)
					r.With(s.requirePermission(auth.PermBeaconConfigure)).Put("/", s.handlePutSlot)
					r.With(s.requirePermission(auth.PermBeaconConfigure)).Delete("/", s.handleDeleteSlot)
				})
			})

			r.Route("/beacon", func(r chi.Router) {
				r.Group(func(r chi.Router) {
					r.Use(s.requirePermission(auth.PermBeaconConfigure))
					r.Put("/active-slot", s.handleSetActiveSlot)
					r.Put("/adv-interval", s.handleSetAdvInterval)
					r.Put("/radio-tx-power", s.handleSetRadioTxPower)
					r.Put("/adv-tx-power", s.handleSetAdvTxPower)
					r.Put("/remain-connectable", s.handleSetRemainConnectable)
					r.Put("/lock", s.handleSetLock)
					r.Post("/unlock", s.handleUnlock)
				})
				r.With(s.requirePermission(auth.PermBeaconDangerous)).Post("/factory-reset", s.handleFactoryReset)
			})

			r.With(s.requirePermission(auth.PermAuditRead)).Get("/audit", s.handleListAuditLogs)
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
