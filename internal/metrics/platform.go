package metrics

import (
	"context"
	"time"

	"github.com/starford/catnip/internal/models"
	"github.com/starford/catnip/internal/platform"
)

// Instrument wraps p so that every client call is counted and timed.
func (m *Metrics) Instrument(p platform.Provider) platform.Provider {
	return &provider{inner: p, m: m}
}

type provider struct {
	inner platform.Provider
	m     *Metrics
}

func (p *provider) NewClient() (platform.Client, error) {
	c, err := p.inner.NewClient()
	if err != nil {
		return nil, err
	}
	return &client{inner: c, m: p.m}, nil
}

type client struct {
	inner platform.Client
	m     *Metrics
}

func (c *client) GetSession(ctx context.Context) (*models.Session, error) {
	start := time.Now()
	s, err := c.inner.GetSession(ctx)
	c.m.ObservePlatformCall("get_session", start, err)
	return s, err
}

func (c *client) SignUp(ctx context.Context, email, password string) (*models.User, error) {
	start := time.Now()
	u, err := c.inner.SignUp(ctx, email, password)
	c.m.ObservePlatformCall("sign_up", start, err)
	return u, err
}

func (c *client) SignIn(ctx context.Context, email, password string) (*models.Session, error) {
	start := time.Now()
	s, err := c.inner.SignIn(ctx, email, password)
	c.m.ObservePlatformCall("sign_in", start, err)
	return s, err
}

func (c *client) SignOut(ctx context.Context) error {
	start := time.Now()
	err := c.inner.SignOut(ctx)
	c.m.ObservePlatformCall("sign_out", start, err)
	return err
}

func (c *client) GetUser(ctx context.Context) (*models.User, error) {
	start := time.Now()
	u, err := c.inner.GetUser(ctx)
	c.m.ObservePlatformCall("get_user", start, err)
	return u, err
}

func (c *client) OnAuthStateChange(fn func(platform.AuthEvent)) func() {
	return c.inner.OnAuthStateChange(fn)
}

func (c *client) Cats() platform.CatTable {
	return &catTable{inner: c.inner.Cats(), m: c.m}
}

type catTable struct {
	inner platform.CatTable
	m     *Metrics
}

func (t *catTable) List(ctx context.Context) ([]models.Cat, error) {
	start := time.Now()
	cats, err := t.inner.List(ctx)
	t.m.ObservePlatformCall("cats_list", start, err)
	return cats, err
}

func (t *catTable) Insert(ctx context.Context, row platform.NewCat) (*models.Cat, error) {
	start := time.Now()
	c, err := t.inner.Insert(ctx, row)
	t.m.ObservePlatformCall("cats_insert", start, err)
	return c, err
}

func (t *catTable) Update(ctx context.Context, id string, patch models.CatPatch) (*models.Cat, error) {
	start := time.Now()
	c, err := t.inner.Update(ctx, id, patch)
	t.m.ObservePlatformCall("cats_update", start, err)
	return c, err
}

func (t *catTable) Delete(ctx context.Context, id string) error {
	start := time.Now()
	err := t.inner.Delete(ctx, id)
	t.m.ObservePlatformCall("cats_delete", start, err)
	return err
}
