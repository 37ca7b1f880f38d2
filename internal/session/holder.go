// Package session tracks who is signed in for one browser.
package session

import (
	"context"
	"log/slog"
	"sync"

	"github.com/starford/catnip/internal/models"
	"github.com/starford/catnip/internal/observable"
	"github.com/starford/catnip/internal/platform"
)

// State is the holder's snapshot. Loading is true until Init completes.
type State struct {
	User    *models.User `json:"user"`
	Loading bool         `json:"loading"`
}

// Holder exposes the current identity of a platform client as observable
// state.
type Holder struct {
	client platform.Client
	log    *slog.Logger
	state  *observable.Value[State]

	mu    sync.Mutex
	unsub func()
}

// NewHolder returns a Holder in the loading state. Call Init to resolve it.
func NewHolder(client platform.Client, log *slog.Logger) *Holder {
	return &Holder{
		client: client,
		log:    log,
		state:  observable.New(State{Loading: true}),
	}
}

// State returns the current snapshot.
func (h *Holder) State() State {
	return h.state.Get()
}

// Subscribe returns a channel of future snapshots and its cancel function.
func (h *Holder) Subscribe() (<-chan State, func()) {
	return h.state.Subscribe()
}

// Init loads the current session and follows every later auth event. A
// failed lookup is logged and leaves the user signed out.
func (h *Holder) Init(ctx context.Context) {
	s, err := h.client.GetSession(ctx)
	if err != nil {
		h.log.Error("load session failed", slog.String("error", err.Error()))
	}
	h.setUser(sessionUser(s))

	unsub := h.client.OnAuthStateChange(func(ev platform.AuthEvent) {
		h.setUser(ev.User())
	})
	h.mu.Lock()
	if h.unsub != nil {
		h.unsub()
	}
	h.unsub = unsub
	h.mu.Unlock()

	h.state.Update(func(st State) State {
		st.Loading = false
		return st
	})
}

// SignUp registers an account. The returned user may still need to
// confirm their email before signing in.
func (h *Holder) SignUp(ctx context.Context, email, password string) (*models.User, error) {
	return h.client.SignUp(ctx, email, password)
}

// SignIn starts a session. The new user reaches State through the auth
// subscription.
func (h *Holder) SignIn(ctx context.Context, email, password string) (*models.Session, error) {
	return h.client.SignIn(ctx, email, password)
}

// SignOut ends the session.
func (h *Holder) SignOut(ctx context.Context) error {
	return h.client.SignOut(ctx)
}

// Close stops following auth events.
func (h *Holder) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.unsub != nil {
		h.unsub()
		h.unsub = nil
	}
}

func (h *Holder) setUser(u *models.User) {
	h.state.Update(func(st State) State {
		st.User = u
		return st
	})
}

func sessionUser(s *models.Session) *models.User {
	if s == nil {
		return nil
	}
	u := s.User
	return &u
}
