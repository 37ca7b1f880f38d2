// Package supabase implements the platform boundary on a hosted Supabase
// project: GoTrue for authentication and PostgREST for the cats table.
package supabase

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/supabase-community/gotrue-go/types"
	supa "github.com/supabase-community/supabase-go"

	"github.com/starford/catnip/internal/models"
	"github.com/starford/catnip/internal/platform"
)

// refreshMargin refreshes access tokens shortly before they expire.
const refreshMargin = 30 * time.Second

// Config configures a Provider.
type Config struct {
	URL     string
	AnonKey string
	// Timeout bounds every auth request. Zero means no timeout.
	Timeout time.Duration
}

// Provider creates per-browser Supabase clients.
type Provider struct {
	cfg Config
}

var _ platform.Provider = (*Provider)(nil)

// NewProvider returns a Provider for the project at cfg.URL.
func NewProvider(cfg Config) (*Provider, error) {
	if cfg.URL == "" || cfg.AnonKey == "" {
		return nil, errors.New("supabase: url and anon key are required")
	}
	return &Provider{cfg: cfg}, nil
}

// NewClient returns a signed-out client authorised with the anon key.
func (p *Provider) NewClient() (platform.Client, error) {
	sb, err := p.dial()
	if err != nil {
		return nil, err
	}
	return &client{provider: p, sb: sb, auth: platform.NewAuthState(refreshMargin)}, nil
}

func (p *Provider) dial() (*supa.Client, error) {
	sb, err := supa.NewClient(p.cfg.URL, p.cfg.AnonKey, nil)
	if err != nil {
		return nil, fmt.Errorf("supabase: new client: %w", err)
	}
	if p.cfg.Timeout > 0 {
		sb.Auth = sb.Auth.WithClient(http.Client{Timeout: p.cfg.Timeout})
	}
	return sb, nil
}

// client wraps one supabase.Client. The SDK swaps its auth headers in place
// on sign-in and refresh, so every SDK call is serialised by mu.
type client struct {
	provider *Provider
	auth     *platform.AuthState

	mu sync.Mutex
	sb *supa.Client
}

var _ platform.Client = (*client)(nil)

func (c *client) GetSession(ctx context.Context) (*models.Session, error) {
	return c.auth.Current(ctx, c.refresh)
}

func (c *client) refresh(ctx context.Context, refreshToken string) (*models.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	s, err := c.sb.RefreshToken(refreshToken)
	c.mu.Unlock()
	if err != nil {
		return nil, authError("refresh", err)
	}
	return toSession(s), nil
}

func (c *client) SignUp(ctx context.Context, email, password string) (*models.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	res, err := c.sb.Auth.Signup(types.SignupRequest{Email: email, Password: password})
	if err == nil && res.Session.AccessToken != "" {
		c.sb.UpdateAuthSession(res.Session)
	}
	c.mu.Unlock()
	if err != nil {
		return nil, authError("signup", err)
	}

	// With email confirmation disabled the platform answers with a session.
	if res.Session.AccessToken != "" {
		c.auth.Set(platform.EventSignedIn, toSession(res.Session))
	}
	u := toUser(res.User)
	return &u, nil
}

func (c *client) SignIn(ctx context.Context, email, password string) (*models.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	s, err := c.sb.SignInWithEmailPassword(email, password)
	c.mu.Unlock()
	if err != nil {
		return nil, authError("signin", err)
	}
	session := toSession(s)
	c.auth.Set(platform.EventSignedIn, session)
	return session, nil
}

// SignOut revokes the session and drops back to an anonymous SDK client.
func (c *client) SignOut(ctx context.Context) error {
	if c.auth.Session() == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	fresh, err := c.provider.dial()
	if err != nil {
		return err
	}

	c.mu.Lock()
	err = c.sb.Auth.Logout()
	if err != nil {
		err = authError("signout", err)
	}
	if err == nil || platform.SessionGone(err) {
		c.sb = fresh
		err = nil
	}
	c.mu.Unlock()
	if err != nil {
		return err
	}
	c.auth.Set(platform.EventSignedOut, nil)
	return nil
}

func (c *client) GetUser(ctx context.Context) (*models.User, error) {
	s, err := c.GetSession(ctx)
	if err != nil || s == nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	res, err := c.sb.Auth.GetUser()
	c.mu.Unlock()
	if err != nil {
		return nil, authError("user", err)
	}
	u := toUser(res.User)
	return &u, nil
}

func (c *client) OnAuthStateChange(fn func(platform.AuthEvent)) func() {
	return c.auth.Subscribe(fn)
}

func (c *client) Cats() platform.CatTable {
	return &catTable{client: c}
}

func toUser(u types.User) models.User {
	id := ""
	if u.ID != uuid.Nil {
		id = u.ID.String()
	}
	return models.User{ID: id, Email: u.Email}
}

func toSession(s types.Session) *models.Session {
	out := &models.Session{
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		User:         toUser(s.User),
	}
	switch {
	case s.ExpiresAt > 0:
		out.ExpiresAt = time.Unix(s.ExpiresAt, 0)
	case s.ExpiresIn > 0:
		out.ExpiresAt = time.Now().Add(time.Duration(s.ExpiresIn) * time.Second)
	}
	return out
}
