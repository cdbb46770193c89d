package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	s.useMiddleware(r)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/telemetry/latest", s.handleLatestTelemetry)
		r.Get("/journal", s.handleListJournal)
		r.Post("/camera/snapshot", s.handleSnapshot)
	})

	return r
}
