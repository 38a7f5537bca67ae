package router

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/trunov/thumbhub/internal/transport/handler"
)

func NewRouter(h *handler.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.Health)

	r.Route("/api", func(r chi.Router) {
		r.Post("/events", h.Events)
		r.Get("/thumbnails/status", h.Status)
	})

	return r
}
