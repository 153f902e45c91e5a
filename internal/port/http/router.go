package http

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter wires the public and admin routes. Admin routes run the
// extraction and geocoding paths synchronously and are meant to sit behind
// the deployment's own access control.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", h.HandleHealth)

	r.Post("/api/posts", h.HandleSubmitPosts)
	r.Get("/api/listings/clusters", h.HandleClusters)

	r.Route("/api/admin", func(r chi.Router) {
		r.Post("/extract", h.HandleAdminExtract)
		r.Post("/geocode", h.HandleAdminGeocode)
		r.Get("/spending", h.HandleAdminSpending)
	})

	return r
}
