package platform

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/starford/catnip/internal/apperr"
	"github.com/starford/catnip/internal/models"
)

// EventKind names an auth-state transition.
type EventKind string

const (
	EventInitialSession EventKind = "INITIAL_SESSION"
	EventSignedIn       EventKind = "SIGNED_IN"
	EventSignedOut      EventKind = "SIGNED_OUT"
	EventTokenRefreshed EventKind = "TOKEN_REFRESHED"
)

// AuthEvent is delivered to OnAuthStateChange listeners. Session is nil
// after sign-out.
type AuthEvent struct {
	Kind    EventKind
	Session *models.Session
}

// User returns the identity carried by the event, or nil.
func (e AuthEvent) User() *models.User {
	if e.Session == nil {
		return nil
	}
	u := e.Session.User
	return &u
}

// RefreshFunc exchanges a refresh token for a new session.
type RefreshFunc func(ctx context.Context, refreshToken string) (*models.Session, error)

// AuthState holds a client's current session and its listeners. Client
// implementations embed it to share session bookkeeping and event fan-out.
type AuthState struct {
	margin time.Duration

	mu        sync.Mutex
	session   *models.Session
	nextID    int
	listeners map[int]func(AuthEvent)

	// refreshes collapses concurrent refreshes of one refresh token, which
	// the platform accepts only once.
	refreshes singleflight.Group
}

// NewAuthState returns an empty AuthState. Sessions expiring within margin
// are refreshed by Current.
func NewAuthState(margin time.Duration) *AuthState {
	return &AuthState{margin: margin, listeners: make(map[int]func(AuthEvent))}
}

// Session returns the stored session without checking expiry.
func (a *AuthState) Session() *models.Session {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.session
}

// Set stores s and notifies every listener with kind. Listeners run on the
// caller's goroutine after the lock is released.
func (a *AuthState) Set(kind EventKind, s *models.Session) {
	a.mu.Lock()
	a.session = s
	fns := a.listenersLocked()
	a.mu.Unlock()

	notify(fns, AuthEvent{Kind: kind, Session: s})
}

// replace stores s like Set, but only while the stored session still
// carries refreshToken. It reports whether it did.
func (a *AuthState) replace(refreshToken string, kind EventKind, s *models.Session) bool {
	a.mu.Lock()
	if a.session == nil || a.session.RefreshToken != refreshToken {
		a.mu.Unlock()
		return false
	}
	a.session = s
	fns := a.listenersLocked()
	a.mu.Unlock()

	notify(fns, AuthEvent{Kind: kind, Session: s})
	return true
}

func (a *AuthState) listenersLocked() []func(AuthEvent) {
	fns := make([]func(AuthEvent), 0, len(a.listeners))
	for _, fn := range a.listeners {
		fns = append(fns, fn)
	}
	return fns
}

func notify(fns []func(AuthEvent), ev AuthEvent) {
	for _, fn := range fns {
		fn(ev)
	}
}

// Subscribe registers fn, calls it once with the current session and
// returns the unsubscribe function.
func (a *AuthState) Subscribe(fn func(AuthEvent)) func() {
	a.mu.Lock()
	id := a.nextID
	a.nextID++
	a.listeners[id] = fn
	current := a.session
	a.mu.Unlock()

	fn(AuthEvent{Kind: EventInitialSession, Session: current})

	return func() {
		a.mu.Lock()
		delete(a.listeners, id)
		a.mu.Unlock()
	}
}

// Current returns the stored session, refreshing it first when it expires
// within the margin. Concurrent callers share one refresh. The refresh
// outlives a cancelled caller, and only a rejection of the refresh token
// (see SessionGone) clears the session and emits SIGNED_OUT; other
// failures keep it for the next attempt.
func (a *AuthState) Current(ctx context.Context, refresh RefreshFunc) (*models.Session, error) {
	s := a.Session()
	if s == nil || !s.ExpiresWithin(time.Now(), a.margin) {
		return s, nil
	}

	rt := s.RefreshToken
	detached := context.WithoutCancel(ctx)
	ch := a.refreshes.DoChan(rt, func() (any, error) {
		return a.refresh(detached, rt, refresh)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*models.Session), nil
	}
}

func (a *AuthState) refresh(ctx context.Context, rt string, refresh RefreshFunc) (*models.Session, error) {
	// A refresh that finished just before this one started has already
	// replaced the token.
	if cur := a.Session(); cur == nil || cur.RefreshToken != rt {
		return cur, nil
	}

	fresh, err := refresh(ctx, rt)
	if err != nil {
		if SessionGone(err) {
			a.replace(rt, EventSignedOut, nil)
		}
		return nil, err
	}
	if !a.replace(rt, EventTokenRefreshed, fresh) {
		// Signed out or signed in again meanwhile.
		return a.Session(), nil
	}
	return fresh, nil
}

// SessionGone reports whether err means the platform no longer knows the
// session, in which case signing out locally is still correct. That covers
// rejected access tokens and rejected refresh tokens.
func SessionGone(err error) bool {
	var pe *apperr.PlatformError
	if !errors.As(err, &pe) {
		return false
	}
	switch pe.Status {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
		return true
	case http.StatusBadRequest:
		switch pe.Code {
		case CodeRefreshTokenNotFound, CodeRefreshTokenAlreadyUsed, CodeInvalidGrant:
			return true
		}
	}
	return false
}

// Refresh rejection codes. Older GoTrue versions only send invalid_grant.
const (
	CodeRefreshTokenNotFound    = "refresh_token_not_found"
	CodeRefreshTokenAlreadyUsed = "refresh_token_already_used"
	CodeInvalidGrant            = "invalid_grant"
)
