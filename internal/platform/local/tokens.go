package local

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/starford/catnip/internal/apperr"
	"github.com/starford/catnip/internal/models"
)

const tokenIssuer = "catnip-local"

type accessClaims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

func (b *Backend) signAccessToken(u models.User, now time.Time) (string, time.Time, error) {
	expiresAt := now.Add(b.cfg.AccessTokenTTL).Truncate(time.Second)
	claims := accessClaims{
		Email: u.Email,
		Role:  "authenticated",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   u.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(b.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("local: sign access token: %w", err)
	}
	return signed, expiresAt, nil
}

// verify returns the identity behind an access token.
func (b *Backend) verify(accessToken string) (*models.User, error) {
	var claims accessClaims
	_, err := jwt.ParseWithClaims(accessToken, &claims, func(*jwt.Token) (any, error) {
		return b.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(tokenIssuer))
	if err != nil {
		msg := "invalid JWT"
		if errors.Is(err, jwt.ErrTokenExpired) {
			msg = "JWT expired"
		}
		return nil, &apperr.PlatformError{Op: "verify", Status: http.StatusUnauthorized, Code: "bad_jwt", Message: msg}
	}
	if claims.Subject == "" {
		return nil, &apperr.PlatformError{Op: "verify", Status: http.StatusUnauthorized, Code: "bad_jwt", Message: "invalid JWT"}
	}
	return &models.User{ID: claims.Subject, Email: claims.Email}, nil
}
