package local

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/starford/catnip/internal/apperr"
	"github.com/starford/catnip/internal/models"
	"github.com/starford/catnip/internal/platform"
)

func testBackend(t *testing.T, accessTTL time.Duration) *Backend {
	t.Helper()
	f, err := os.CreateTemp("", "catnip-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	f.Close()
	t.Cleanup(func() { os.Remove(f.Name()) })

	b, err := New(Config{
		SQLitePath:     f.Name(),
		JWTSecret:      "test-secret",
		AccessTokenTTL: accessTTL,
		BcryptCost:     bcrypt.MinCost,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { b.Close() })
	return b
}

func signedIn(t *testing.T, b *Backend, email string) platform.Client {
	t.Helper()
	ctx := context.Background()
	c, _ := b.NewClient()
	if _, err := c.SignUp(ctx, email, "secret123"); err != nil {
		t.Fatalf("SignUp: %v", err)
	}
	if _, err := c.SignIn(ctx, email, "secret123"); err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	return c
}

func platformStatus(err error) int {
	var pe *apperr.PlatformError
	if errors.As(err, &pe) {
		return pe.Status
	}
	return 0
}

func TestSignUpThenSignIn(t *testing.T) {
	b := testBackend(t, time.Hour)
	ctx := context.Background()
	c, _ := b.NewClient()

	u, err := c.SignUp(ctx, "a@x.io", "secret123")
	if err != nil {
		t.Fatalf("SignUp: %v", err)
	}
	if u.Email != "a@x.io" || u.ID == "" {
		t.Fatalf("user = %+v", u)
	}
	if s, _ := c.GetSession(ctx); s != nil {
		t.Fatal("sign-up must not start a session")
	}

	s, err := c.SignIn(ctx, "a@x.io", "secret123")
	if err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	if s.User.Email != "a@x.io" || s.User.ID != u.ID {
		t.Errorf("session user = %+v, want %+v", s.User, *u)
	}

	got, err := c.GetUser(ctx)
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if got.ID != u.ID {
		t.Errorf("GetUser id = %q, want %q", got.ID, u.ID)
	}
}

func TestSignUpErrors(t *testing.T) {
	b := testBackend(t, time.Hour)
	ctx := context.Background()
	c, _ := b.NewClient()

	if _, err := c.SignUp(ctx, "a@x.io", "secret123"); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name, email, password, want string
	}{
		{"duplicate", "A@x.io", "secret123", "User already registered"},
		{"short password", "b@x.io", "abc", "Password should be at least 6 characters."},
		{"bad email", "nope", "secret123", "Unable to validate email address: invalid format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.SignUp(ctx, tt.email, tt.password)
			msg, ok := apperr.Message(err)
			if !ok || msg != tt.want {
				t.Errorf("err = %v, want message %q", err, tt.want)
			}
		})
	}
}

func TestSignInWrongPassword(t *testing.T) {
	b := testBackend(t, time.Hour)
	ctx := context.Background()
	c, _ := b.NewClient()
	_, _ = c.SignUp(ctx, "a@x.io", "secret123")

	for _, pw := range []string{"wrong-pass", ""} {
		_, err := c.SignIn(ctx, "a@x.io", pw)
		if msg, _ := apperr.Message(err); msg != "Invalid login credentials" {
			t.Errorf("SignIn(%q) err = %v", pw, err)
		}
	}
	_, err := c.SignIn(ctx, "ghost@x.io", "secret123")
	if msg, _ := apperr.Message(err); msg != "Invalid login credentials" {
		t.Errorf("unknown user err = %v", err)
	}
}

func TestAuthEvents(t *testing.T) {
	b := testBackend(t, time.Hour)
	ctx := context.Background()
	c, _ := b.NewClient()
	_, _ = c.SignUp(ctx, "a@x.io", "secret123")

	var kinds []platform.EventKind
	unsub := c.OnAuthStateChange(func(ev platform.AuthEvent) { kinds = append(kinds, ev.Kind) })
	defer unsub()

	_, _ = c.SignIn(ctx, "a@x.io", "secret123")
	if err := c.SignOut(ctx); err != nil {
		t.Fatalf("SignOut: %v", err)
	}

	want := []platform.EventKind{platform.EventInitialSession, platform.EventSignedIn, platform.EventSignedOut}
	if len(kinds) != len(want) {
		t.Fatalf("events = %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("event[%d] = %s, want %s", i, kinds[i], want[i])
		}
	}
	if u, err := c.GetUser(ctx); u != nil || err != nil {
		t.Errorf("GetUser after sign-out = %v, %v", u, err)
	}
}

func TestInsertInjectsOwnerAndListsNewestFirst(t *testing.T) {
	b := testBackend(t, time.Hour)
	ctx := context.Background()
	c := signedIn(t, b, "a@x.io")
	s, _ := c.GetSession(ctx)

	for _, name := range []string{"Tom", "Felix", "Garfield"} {
		row := platform.NewCatFromDraft(models.CatDraft{Name: name, Age: 3, Breed: "Tabby"}, s.User.ID)
		got, err := c.Cats().Insert(ctx, row)
		if err != nil {
			t.Fatalf("Insert %s: %v", name, err)
		}
		if got.OwnerID != s.User.ID || got.ID == "" || got.CreatedAt.IsZero() {
			t.Errorf("inserted = %+v", got)
		}
	}

	cats, err := c.Cats().List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(cats) != 3 {
		t.Fatalf("len = %d, want 3", len(cats))
	}
	if cats[0].Name != "Garfield" || cats[2].Name != "Tom" {
		t.Errorf("order = %s, %s, %s", cats[0].Name, cats[1].Name, cats[2].Name)
	}
}

func TestRowLevelSecurity(t *testing.T) {
	b := testBackend(t, time.Hour)
	ctx := context.Background()
	alice := signedIn(t, b, "alice@x.io")
	bob := signedIn(t, b, "bob@x.io")
	as, _ := alice.GetSession(ctx)

	cat, err := alice.Cats().Insert(ctx, platform.NewCatFromDraft(models.CatDraft{Name: "Tom", Age: 2, Breed: "Siamese"}, as.User.ID))
	if err != nil {
		t.Fatal(err)
	}

	// Bob cannot insert rows for Alice.
	_, err = bob.Cats().Insert(ctx, platform.NewCatFromDraft(models.CatDraft{Name: "X", Age: 1, Breed: "Y"}, as.User.ID))
	if platformStatus(err) != 403 {
		t.Errorf("foreign insert err = %v, want 403", err)
	}

	cats, _ := bob.Cats().List(ctx)
	if len(cats) != 0 {
		t.Errorf("bob sees %d cats, want 0", len(cats))
	}

	name := "Hacked"
	_, err = bob.Cats().Update(ctx, cat.ID, models.CatPatch{Name: &name})
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("foreign update err = %v, want ErrNotFound", err)
	}

	if err := bob.Cats().Delete(ctx, cat.ID); err != nil {
		t.Errorf("foreign delete err = %v", err)
	}
	cats, _ = alice.Cats().List(ctx)
	if len(cats) != 1 || cats[0].Name != "Tom" {
		t.Errorf("alice cats = %+v", cats)
	}

	anon, _ := b.NewClient()
	cats, err = anon.Cats().List(ctx)
	if err != nil || len(cats) != 0 {
		t.Errorf("anonymous list = %v, %v", cats, err)
	}
	_, err = anon.Cats().Insert(ctx, platform.NewCatFromDraft(models.CatDraft{Name: "X", Age: 1, Breed: "Y"}, ""))
	if platformStatus(err) != 403 {
		t.Errorf("anonymous insert err = %v, want 403", err)
	}
}

func TestUpdateAndDelete(t *testing.T) {
	b := testBackend(t, time.Hour)
	ctx := context.Background()
	c := signedIn(t, b, "a@x.io")
	s, _ := c.GetSession(ctx)

	cat, _ := c.Cats().Insert(ctx, platform.NewCatFromDraft(models.CatDraft{Name: "Tom", Age: 2, Breed: "Siamese"}, s.User.ID))

	age := 5
	got, err := c.Cats().Update(ctx, cat.ID, models.CatPatch{Age: &age})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if got.Age != 5 || got.Name != "Tom" || !got.CreatedAt.Equal(cat.CreatedAt) {
		t.Errorf("updated = %+v", got)
	}

	if err := c.Cats().Delete(ctx, cat.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	cats, _ := c.Cats().List(ctx)
	if len(cats) != 0 {
		t.Errorf("len after delete = %d", len(cats))
	}
}

func TestRefreshRotatesTokens(t *testing.T) {
	b := testBackend(t, -time.Minute)
	ctx := context.Background()
	c := signedIn(t, b, "a@x.io")

	var refreshed bool
	unsub := c.OnAuthStateChange(func(ev platform.AuthEvent) {
		if ev.Kind == platform.EventTokenRefreshed {
			refreshed = true
		}
	})
	defer unsub()

	s, err := c.GetSession(ctx)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if s == nil || !refreshed {
		t.Fatal("expected a refreshed session")
	}

	// The first refresh token was consumed.
	if _, err := b.refresh(ctx, "not-a-token"); platformStatus(err) != 400 {
		t.Errorf("unknown refresh token err = %v", err)
	}
}

func TestConcurrentRefreshKeepsSession(t *testing.T) {
	b := testBackend(t, -time.Minute)
	ctx := context.Background()
	c := signedIn(t, b, "a@x.io")

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := c.GetSession(ctx)
			if err == nil && s == nil {
				err = errors.New("signed out")
			}
			if err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("GetSession: %v", err)
	}

	if c.(*client).auth.Session() == nil {
		t.Error("concurrent refreshes signed the client out")
	}
}

func TestVerifyRejectsExpiredAndForeignTokens(t *testing.T) {
	b := testBackend(t, -time.Minute)
	u := models.User{ID: "u1", Email: "a@x.io"}
	tok, _, err := b.signAccessToken(u, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	_, err = b.verify(tok)
	if msg, _ := apperr.Message(err); msg != "JWT expired" {
		t.Errorf("expired err = %v", err)
	}

	other := &Backend{secret: []byte("other"), cfg: Config{AccessTokenTTL: time.Hour}}
	tok, _, _ = other.signAccessToken(u, time.Now())
	_, err = b.verify(tok)
	if msg, _ := apperr.Message(err); msg != "invalid JWT" {
		t.Errorf("foreign err = %v", err)
	}
}
