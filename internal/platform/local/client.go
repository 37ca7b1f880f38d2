package local

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/starford/catnip/internal/apperr"
	"github.com/starford/catnip/internal/models"
	"github.com/starford/catnip/internal/platform"
)

// refreshMargin refreshes access tokens shortly before they expire.
const refreshMargin = 10 * time.Second

type client struct {
	backend *Backend
	auth    *platform.AuthState
}

var _ platform.Client = (*client)(nil)

func (c *client) GetSession(ctx context.Context) (*models.Session, error) {
	return c.auth.Current(ctx, c.backend.refresh)
}

func (c *client) SignUp(ctx context.Context, email, password string) (*models.User, error) {
	return c.backend.signUp(ctx, email, password)
}

func (c *client) SignIn(ctx context.Context, email, password string) (*models.Session, error) {
	s, err := c.backend.signIn(ctx, email, password)
	if err != nil {
		return nil, err
	}
	c.auth.Set(platform.EventSignedIn, s)
	return s, nil
}

func (c *client) SignOut(ctx context.Context) error {
	s := c.auth.Session()
	if s == nil {
		return nil
	}
	err := c.backend.signOut(ctx, s.AccessToken)
	if err != nil && !platform.SessionGone(err) {
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
	u, err := c.backend.verify(s.AccessToken)
	if err != nil {
		return nil, err
	}
	// The account may have been removed since the token was issued.
	stored, err := c.backend.db.userByID(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, &apperr.PlatformError{Op: "user", Status: http.StatusNotFound, Code: "user_not_found",
			Message: "User from sub claim in JWT does not exist", Err: apperr.ErrNotFound}
	}
	return stored, nil
}

func (c *client) OnAuthStateChange(fn func(platform.AuthEvent)) func() {
	return c.auth.Subscribe(fn)
}

func (c *client) Cats() platform.CatTable {
	return &catTable{client: c}
}

// catTable enforces the row-level security policy "owner_id = auth.uid()"
// on every operation.
type catTable struct {
	client *client
}

// caller returns the authenticated user id, or "" for anonymous access.
func (t *catTable) caller(ctx context.Context) (string, error) {
	s, err := t.client.GetSession(ctx)
	if err != nil || s == nil {
		return "", err
	}
	u, err := t.client.backend.verify(s.AccessToken)
	if err != nil {
		return "", err
	}
	return u.ID, nil
}

func (t *catTable) List(ctx context.Context) ([]models.Cat, error) {
	uid, err := t.caller(ctx)
	if err != nil {
		return nil, err
	}
	if uid == "" {
		return []models.Cat{}, nil
	}
	return t.client.backend.db.listCats(ctx, uid)
}

func (t *catTable) Insert(ctx context.Context, row platform.NewCat) (*models.Cat, error) {
	uid, err := t.caller(ctx)
	if err != nil {
		return nil, err
	}
	if uid == "" || row.OwnerID != uid {
		return nil, &apperr.PlatformError{
			Op:      "insert " + platform.CatsTable,
			Status:  http.StatusForbidden,
			Code:    "42501",
			Message: fmt.Sprintf("new row violates row-level security policy for table %q", platform.CatsTable),
		}
	}
	c := models.Cat{
		ID:        uuid.NewString(),
		Name:      row.Name,
		Age:       row.Age,
		Breed:     row.Breed,
		OwnerID:   uid,
		CreatedAt: time.Now().UTC(),
	}
	if err := t.client.backend.db.insertCat(ctx, c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (t *catTable) Update(ctx context.Context, id string, patch models.CatPatch) (*models.Cat, error) {
	uid, err := t.caller(ctx)
	if err != nil {
		return nil, err
	}
	var c *models.Cat
	if uid != "" {
		if c, err = t.client.backend.db.updateCat(ctx, uid, id, patch); err != nil {
			return nil, err
		}
	}
	if c == nil {
		return nil, &apperr.PlatformError{
			Op:      "update " + platform.CatsTable,
			Status:  http.StatusNotAcceptable,
			Code:    "PGRST116",
			Message: "JSON object requested, multiple (or no) rows returned",
			Err:     apperr.ErrNotFound,
		}
	}
	return c, nil
}

// Delete of a row the caller cannot see succeeds without effect.
func (t *catTable) Delete(ctx context.Context, id string) error {
	uid, err := t.caller(ctx)
	if err != nil || uid == "" {
		return err
	}
	return t.client.backend.db.deleteCat(ctx, uid, id)
}
