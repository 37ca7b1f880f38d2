package web

import (
	"github.com/go-chi/chi/v5"

	"github.com/starford/catnip/internal/tab"
)

// NewRouter creates a chi router with the page, form and event routes.
// secureCookie sets the Secure attribute of the tab cookie.
func NewRouter(h *Handler, reg *tab.Registry, secureCookie bool) chi.Router {
	r := chi.NewRouter()
	r.Use(TabMiddleware(reg, secureCookie))

	r.Get("/", h.Index)
	r.Get("/events", h.Events)
	r.Get("/api/state", h.State)

	// Auth form.
	r.Post("/auth", h.SubmitAuth)
	r.Post("/auth/mode", h.ToggleAuthMode)
	r.Post("/signout", h.SignOut)

	// Record list.
	r.Post("/cats/form", h.ToggleAddForm)
	r.Post("/cats", h.AddCat)
	r.Post("/cats/{id}", h.SaveEdit)
	r.Post("/cats/{id}/edit", h.StartEdit)
	r.Post("/cats/{id}/cancel", h.CancelEdit)
	r.Post("/cats/{id}/delete", h.DeleteCat)

	return r
}
