package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/nbstore/internal/contents"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// events, if non-nil, receives every change made through the API.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(mgr *contents.Manager, authEnabled bool, token string, events Notifier, sseHandler http.Handler) chi.Router {
	h := NewHandler(mgr, events)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Contents and their checkpoints.
	r.Get("/contents", h.Get)
	r.Post("/contents", h.Create)
	r.Get("/contents/*", h.Get)
	r.Post("/contents/*", h.Create)
	r.Put("/contents/*", h.Save)
	r.Patch("/contents/*", h.Rename)
	r.Delete("/contents/*", h.Delete)

	// Maintenance.
	r.Post("/repair", h.Repair)
	r.Get("/info", h.Info)

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
