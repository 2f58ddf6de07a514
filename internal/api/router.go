package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/notetree/internal/render"
	"github.com/starford/notetree/internal/workspace"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(ws *workspace.Workspace, rnd *render.Renderer, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(ws, rnd)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	r.Get("/tree", h.Tree)

	r.Route("/notes", func(r chi.Router) {
		r.Get("/", h.ListNotes)
		r.Post("/", h.CreateNote)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.GetNote)
			r.Put("/", h.UpdateNote)
			r.Delete("/", h.DeleteNote)
			r.Get("/preview", h.PreviewNote)
			r.Post("/select", h.SelectNote)
		})
	})

	r.Post("/save", h.Save)
	r.Get("/state", h.State)
	r.Post("/reload", h.Reload)

	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
