// Package testutil provides shared test helpers for the local platform.
package testutil

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/starford/catnip/internal/platform"
	"github.com/starford/catnip/internal/platform/local"
)

// Password is the password used by SignedInClient.
const Password = "secret123"

// LocalBackend creates a local platform on a temporary SQLite database that
// is automatically cleaned up.
func LocalBackend(t *testing.T) *local.Backend {
	t.Helper()
	dbFile, err := os.CreateTemp("", "catnip-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	b, err := local.New(local.Config{
		SQLitePath:     dbFile.Name(),
		JWTSecret:      "test-secret",
		AccessTokenTTL: time.Hour,
		BcryptCost:     bcrypt.MinCost,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { b.Close() })
	return b
}

// Client returns a signed-out client of p.
func Client(t *testing.T, p platform.Provider) platform.Client {
	t.Helper()
	c, err := p.NewClient()
	if err != nil {
		t.Fatal(err)
	}
	return c
}

// SignedInClient registers email with Password and signs it in.
func SignedInClient(t *testing.T, p platform.Provider, email string) platform.Client {
	t.Helper()
	c := Client(t, p)
	ctx := context.Background()
	if _, err := c.SignUp(ctx, email, Password); err != nil {
		t.Fatalf("SignUp: %v", err)
	}
	if _, err := c.SignIn(ctx, email, Password); err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	return c
}

// Logger discards everything.
func Logger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
