// Package platform defines the boundary to the external authentication and
// database service. Implementations live in the supabase and local
// subpackages.
package platform

import (
	"context"

	"github.com/starford/catnip/internal/models"
)

// CatsTable is the name of the table holding cat records.
const CatsTable = "cats"

// Provider creates clients. Each client carries the auth state of a single
// browser, the way a browser-side SDK instance would.
type Provider interface {
	NewClient() (Client, error)
}

// Client is one authenticated (or anonymous) connection to the platform.
type Client interface {
	// GetSession returns the current session, refreshing it when the access
	// token has expired. It returns nil when nobody is signed in.
	GetSession(ctx context.Context) (*models.Session, error)
	// SignUp registers a new account. The returned user may be pending
	// email confirmation.
	SignUp(ctx context.Context, email, password string) (*models.User, error)
	// SignIn establishes a session for the given credentials.
	SignIn(ctx context.Context, email, password string) (*models.Session, error)
	// SignOut ends the current session.
	SignOut(ctx context.Context) error
	// GetUser asks the platform who owns the current access token.
	// It returns nil without error when nobody is signed in.
	GetUser(ctx context.Context) (*models.User, error)
	// OnAuthStateChange registers fn for every future auth event and
	// returns a function removing it. fn is first called with the
	// current session as an INITIAL_SESSION event.
	OnAuthStateChange(fn func(AuthEvent)) (unsubscribe func())
	// Cats returns the cats table scoped to the current session.
	Cats() CatTable
}

// CatTable is the table-scoped data API. Row visibility is decided by the
// platform's row-level security.
type CatTable interface {
	// List returns all visible rows ordered by created_at descending.
	List(ctx context.Context) ([]models.Cat, error)
	// Insert stores a new row and returns it as stored.
	Insert(ctx context.Context, row NewCat) (*models.Cat, error)
	// Update patches the row with the given id and returns it.
	Update(ctx context.Context, id string, patch models.CatPatch) (*models.Cat, error)
	// Delete removes the row with the given id.
	Delete(ctx context.Context, id string) error
}

// NewCat is the insert payload: a draft plus its owner.
type NewCat struct {
	Name    string `json:"name"`
	Age     int    `json:"age"`
	Breed   string `json:"breed"`
	OwnerID string `json:"owner_id"`
}

// NewCatFromDraft attaches ownerID to d.
func NewCatFromDraft(d models.CatDraft, ownerID string) NewCat {
	return NewCat{Name: d.Name, Age: d.Age, Breed: d.Breed, OwnerID: ownerID}
}
