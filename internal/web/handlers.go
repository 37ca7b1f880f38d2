package web

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/starford/catnip/internal/records"
	"github.com/starford/catnip/internal/session"
	"github.com/starford/catnip/internal/sse"
	"github.com/starford/catnip/internal/view"
)

// Handler holds the route handlers. Every handler runs behind
// TabMiddleware.
type Handler struct {
	renderer *view.Renderer
	broker   *sse.Broker
}

// NewHandler creates a new Handler.
func NewHandler(renderer *view.Renderer, broker *sse.Broker) *Handler {
	return &Handler{renderer: renderer, broker: broker}
}

func backHome(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func catForm(r *http.Request) view.CatForm {
	return view.CatForm{
		Name:  r.PostFormValue("name"),
		Age:   r.PostFormValue("age"),
		Breed: r.PostFormValue("breed"),
	}
}

// Index handles GET /. A page view retries a failed record load, the way
// the list reloads whenever it is shown.
func (h *Handler) Index(w http.ResponseWriter, r *http.Request) {
	t := tabFrom(r)
	t.RetryLoad(time.Now())
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	if err := h.renderer.Render(w, t.Page()); err != nil {
		slog.Error("render page failed", slog.String("error", err.Error()))
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

type stateResponse struct {
	Version uint64        `json:"version"`
	Session session.State `json:"session"`
	Records records.State `json:"records"`
	UI      view.UIState  `json:"ui"`
}

// State handles GET /api/state.
func (h *Handler) State(w http.ResponseWriter, r *http.Request) {
	p := tabFrom(r).Page()
	writeJSON(w, http.StatusOK, stateResponse{
		Version: p.Version,
		Session: p.Session,
		Records: p.Records,
		UI:      p.UI,
	})
}

// Events handles GET /events.
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	t := tabFrom(r)
	h.broker.Stream(w, r, t.ID, func() sse.Event {
		return sse.StateChanged(t.Version())
	})
}

// SubmitAuth handles POST /auth.
func (h *Handler) SubmitAuth(w http.ResponseWriter, r *http.Request) {
	t := tabFrom(r)
	t.UI.SubmitAuth(r.Context(), t.Holder, r.PostFormValue("email"), r.PostFormValue("password"))
	backHome(w, r)
}

// ToggleAuthMode handles POST /auth/mode.
func (h *Handler) ToggleAuthMode(w http.ResponseWriter, r *http.Request) {
	tabFrom(r).UI.ToggleAuthMode()
	backHome(w, r)
}

// SignOut handles POST /signout.
func (h *Handler) SignOut(w http.ResponseWriter, r *http.Request) {
	t := tabFrom(r)
	t.UI.SignOut(r.Context(), t.Holder)
	backHome(w, r)
}

// ToggleAddForm handles POST /cats/form.
func (h *Handler) ToggleAddForm(w http.ResponseWriter, r *http.Request) {
	tabFrom(r).UI.ToggleAddForm()
	backHome(w, r)
}

// AddCat handles POST /cats.
func (h *Handler) AddCat(w http.ResponseWriter, r *http.Request) {
	t := tabFrom(r)
	t.UI.SubmitAdd(r.Context(), t.Store, catForm(r))
	backHome(w, r)
}

// StartEdit handles POST /cats/{id}/edit.
func (h *Handler) StartEdit(w http.ResponseWriter, r *http.Request) {
	t := tabFrom(r)
	id := chi.URLParam(r, "id")
	for _, c := range t.Store.State().Cats {
		if c.ID == id {
			t.UI.StartEdit(c)
			break
		}
	}
	backHome(w, r)
}

// SaveEdit handles POST /cats/{id}.
func (h *Handler) SaveEdit(w http.ResponseWriter, r *http.Request) {
	t := tabFrom(r)
	t.UI.SaveEdit(r.Context(), t.Store, chi.URLParam(r, "id"), catForm(r))
	backHome(w, r)
}

// CancelEdit handles POST /cats/{id}/cancel.
func (h *Handler) CancelEdit(w http.ResponseWriter, r *http.Request) {
	tabFrom(r).UI.CancelEdit()
	backHome(w, r)
}

// DeleteCat handles POST /cats/{id}/delete. Without a confirm field it asks
// for confirmation; confirm=yes deletes and any other value cancels.
func (h *Handler) DeleteCat(w http.ResponseWriter, r *http.Request) {
	t := tabFrom(r)
	id := chi.URLParam(r, "id")
	switch r.PostFormValue("confirm") {
	case "":
		t.UI.RequestDelete(id)
	case "yes":
		t.UI.ConfirmDelete(r.Context(), t.Store, id)
	default:
		t.UI.CancelDelete()
	}
	backHome(w, r)
}
