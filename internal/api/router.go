package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/otomatty/zedi-sub000/internal/auth"
)

// Deps are the collaborators mounted by NewRouter. Media and Events are
// optional.
type Deps struct {
	Handler  *Handler
	Media    *MediaHandler
	Events   http.Handler
	Verifier auth.Verifier
	Resolver *auth.OwnerResolver
}

// NewRouter creates a chi router with all API routes mounted behind bearer
// authentication.
func NewRouter(d Deps) chi.Router {
	h := d.Handler

	r := chi.NewRouter()
	r.Use(auth.Middleware(d.Verifier, d.Resolver, authError))

	r.Get("/me", h.Me)

	// Metadata sync.
	r.Get("/sync/pages", h.PullPages)
	r.Post("/sync/pages", h.PushPages)

	// Pages and content.
	r.Get("/pages", h.ListPages)
	r.Get("/pages/by-title", h.PageByTitle)
	r.Route("/pages/{id}", func(r chi.Router) {
		r.Get("/", h.GetPage)
		r.Get("/content", h.GetContent)
		r.Put("/content", h.PutContent)
		r.Get("/graph", h.PageGraph)
		r.Get("/backlinks", h.PageBacklinks)
	})

	r.Get("/search", h.Search)

	if d.Media != nil {
		r.Post("/media", d.Media.Upload)
		r.Post("/media/{id}/confirm", d.Media.Confirm)
	}

	if d.Events != nil {
		r.Get("/events", d.Events.ServeHTTP)
	}

	return r
}
