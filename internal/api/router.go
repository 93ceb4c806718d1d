package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
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

	// Prometheus scrape endpoint (no auth, outside the versioned API)
	if s.metrics != nil {
		r.Handle(s.metricsPath, s.metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		// WebSocket (auth via ticket, validated in handler)
		r.Get("/ws", s.handleWebSocket)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Post("/auth/ws-ticket", s.handleWSTicket)
			r.Get("/system/metrics", s.handleMetrics)
			r.Get("/catalog", s.handleCatalog)
			r.Get("/floors", s.handleListFloors)

			r.Route("/floors/{floor}", func(r chi.Router) {
				r.Use(s.floorMiddleware)

				r.Get("/", s.handleGetFloor)
				r.Put("/mode", s.handleSetMode)
				r.Post("/relays/{device}/toggle", s.handleToggle)
				r.Get("/commands", s.handleListCommands)

				r.Route("/schedule/{device}", func(r chi.Router) {
					r.Put("/", s.handleSetSchedule)
					r.Delete("/", s.handleClearSchedule)
					r.Patch("/{slot}", s.handleSetPeriodField)
				})
			})
		})
	})

	return r
}

// handleHealth returns the server health status. The status is "degraded"
// when the database is unreachable or a floor is not yet observing.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	checks := map[string]any{}

	if s.db != nil {
		if err := s.db.PingContext(r.Context()); err != nil {
			checks["database"] = "unreachable"
			status = "degraded"
		} else {
			checks["database"] = "ok"
		}
	}
	if s.mqtt != nil {
		if s.mqtt.IsConnected() {
			checks["mqtt"] = "connected"
		} else {
			checks["mqtt"] = "disconnected"
			status = "degraded"
		}
	}
	live := 0
	observing := s.floors.Observing()
	for _, ok := range observing {
		if ok {
			live++
		}
	}
	if live < len(observing) {
		status = "degraded"
	}
	checks["floors"] = map[string]int{"configured": len(observing), "observing": live}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  status,
		"version": s.version,
		"checks":  checks,
	})
}
