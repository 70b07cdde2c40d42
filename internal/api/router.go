package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeNotFound(w, "no route for "+r.Method+" "+r.URL.Path)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, ErrCodeMethodNotAllow, "method "+r.Method+" not allowed")
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)

		// The websocket handshake carries its token in the query string.
		r.Get("/ws", s.handleWebSocket)

		r.Group(func(r chi.Router) {
			r.Use(s.tenantMiddleware)

			r.Route("/device", func(r chi.Router) {
				r.Get("/", s.handleListDevices(false))
				r.Post("/", s.handleCreateDevices)
				r.Delete("/", s.handleDeleteAllDevices)
				r.Post("/batch", s.handleCreateBatch)
				r.Get("/template/{templateId}", s.handleDevicesByTemplate)
				r.Post("/gen_psk/{id}", s.handleGenPSK)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetDevice(false))
					r.Put("/", s.handleUpdateDevice)
					r.Delete("/", s.handleDeleteDevice)
					r.Put("/actuate", s.handleActuate)
					r.Post("/template/{templateId}", s.handleAddTemplate)
					r.Delete("/template/{templateId}", s.handleRemoveTemplate)
					r.Put("/attrs/{label}/psk", s.handleCopyPSK)
				})
			})

			// Sensitive views with decrypted pre-shared keys.
			r.Route("/internal/device", func(r chi.Router) {
				r.Get("/", s.handleListDevices(true))
				r.Get("/{id}", s.handleGetDevice(true))
			})

			r.Route("/template", func(r chi.Router) {
				r.Get("/", s.handleListTemplates)
				r.Post("/", s.handleCreateTemplate)
				r.Delete("/", s.handleDeleteAllTemplates)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetTemplate)
					r.Put("/", s.handleUpdateTemplate)
					r.Delete("/", s.handleDeleteTemplate)
				})
			})

			r.Post("/import", s.handleImport)
			r.Get("/events", s.handleListEvents)
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
