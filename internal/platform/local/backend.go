// Package local implements the platform boundary on a local SQLite database
// so catnip can run without a hosted account. It mirrors the hosted
// platform's behaviour: password accounts, short-lived access tokens with
// single-use refresh tokens, and row-level security on the cats table.
package local

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/starford/catnip/internal/apperr"
	"github.com/starford/catnip/internal/models"
	"github.com/starford/catnip/internal/platform"
)

const (
	minPasswordLen = 6
	maxPasswordLen = 72 // bcrypt ignores input beyond 72 bytes
)

// Config configures a local Backend.
type Config struct {
	SQLitePath      string
	JWTSecret       string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	// BcryptCost defaults to bcrypt.DefaultCost.
	BcryptCost int
}

// Backend is the local platform. It is safe for concurrent use and hands
// out one Client per browser.
type Backend struct {
	db     *DB
	secret []byte
	cfg    Config
}

var _ platform.Provider = (*Backend)(nil)

// New opens the database at cfg.SQLitePath.
func New(cfg Config) (*Backend, error) {
	if cfg.JWTSecret == "" {
		return nil, errors.New("local: jwt secret is required")
	}
	if cfg.AccessTokenTTL == 0 {
		cfg.AccessTokenTTL = time.Hour
	}
	if cfg.RefreshTokenTTL <= 0 {
		cfg.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	db, err := Open(cfg.SQLitePath)
	if err != nil {
		return nil, err
	}
	return &Backend{db: db, secret: []byte(cfg.JWTSecret), cfg: cfg}, nil
}

// Close closes the database.
func (b *Backend) Close() error {
	return b.db.Close()
}

// NewClient returns a signed-out client.
func (b *Backend) NewClient() (platform.Client, error) {
	return &client{backend: b, auth: platform.NewAuthState(refreshMargin)}, nil
}

func (b *Backend) signUp(ctx context.Context, email, password string) (*models.User, error) {
	email = strings.TrimSpace(email)
	if err := validation.Validate(email, validation.Required, is.EmailFormat); err != nil {
		return nil, &apperr.PlatformError{Op: "signup", Status: http.StatusBadRequest, Code: "validation_failed",
			Message: "Unable to validate email address: invalid format"}
	}
	if len(password) < minPasswordLen {
		return nil, &apperr.PlatformError{Op: "signup", Status: http.StatusUnprocessableEntity, Code: "weak_password",
			Message: fmt.Sprintf("Password should be at least %d characters.", minPasswordLen)}
	}
	if len(password) > maxPasswordLen {
		return nil, &apperr.PlatformError{Op: "signup", Status: http.StatusUnprocessableEntity, Code: "validation_failed",
			Message: fmt.Sprintf("Password cannot be longer than %d characters", maxPasswordLen)}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), b.cfg.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("local: hash password: %w", err)
	}
	row := userRow{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: string(hash),
		CreatedAt:    time.Now().UTC(),
	}
	if err := b.db.insertUser(ctx, row); err != nil {
		if errors.Is(err, errDuplicateEmail) {
			return nil, &apperr.PlatformError{Op: "signup", Status: http.StatusUnprocessableEntity, Code: "user_already_exists",
				Message: "User already registered"}
		}
		return nil, err
	}
	return &models.User{ID: row.ID, Email: row.Email}, nil
}

func (b *Backend) signIn(ctx context.Context, email, password string) (*models.Session, error) {
	invalid := &apperr.PlatformError{Op: "signin", Status: http.StatusBadRequest, Code: "invalid_credentials",
		Message: "Invalid login credentials"}

	u, err := b.db.userByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, invalid
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, invalid
	}
	return b.issue(ctx, models.User{ID: u.ID, Email: u.Email})
}

func (b *Backend) refresh(ctx context.Context, refreshToken string) (*models.Session, error) {
	notFound := &apperr.PlatformError{Op: "refresh", Status: http.StatusBadRequest, Code: platform.CodeRefreshTokenNotFound,
		Message: "Invalid Refresh Token: Refresh Token Not Found"}

	userID, expiresAt, ok, err := b.db.takeRefreshToken(ctx, refreshToken)
	if err != nil {
		return nil, err
	}
	if !ok || time.Now().After(expiresAt) {
		return nil, notFound
	}
	u, err := b.db.userByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, notFound
	}
	return b.issue(ctx, *u)
}

// signOut revokes every refresh token of the token's owner.
func (b *Backend) signOut(ctx context.Context, accessToken string) error {
	u, err := b.verify(accessToken)
	if err != nil {
		return err
	}
	return b.db.deleteRefreshTokens(ctx, u.ID)
}

func (b *Backend) issue(ctx context.Context, u models.User) (*models.Session, error) {
	now := time.Now()
	access, expiresAt, err := b.signAccessToken(u, now)
	if err != nil {
		return nil, err
	}
	refresh, err := newRefreshToken()
	if err != nil {
		return nil, err
	}
	if err := b.db.insertRefreshToken(ctx, refresh, u.ID, now.Add(b.cfg.RefreshTokenTTL)); err != nil {
		return nil, err
	}
	return &models.Session{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    expiresAt,
		User:         u,
	}, nil
}

func newRefreshToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("local: generate refresh token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
