package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrNotJWT = errors.New("access token is not a JWT")

// AccessClaims is the subset of access token claims the client reads.
type AccessClaims struct {
	Subject   string
	ExpiresAt time.Time
	IssuedAt  time.Time
}

// Expired reports whether the token is past its exp at now. Tokens without
// exp never expire locally.
func (c AccessClaims) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}

// ParseAccessClaims decodes the claims of an access token without verifying
// its signature. The client never trusts these values for authorization;
// they are used for diagnostics only.
func ParseAccessClaims(token string) (AccessClaims, error) {
	if strings.Count(token, ".") != 2 {
		return AccessClaims{}, ErrNotJWT
	}

	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return AccessClaims{}, fmt.Errorf("failed to parse access token: %w", err)
	}

	out := AccessClaims{Subject: claims.Subject}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time
	}
	if claims.IssuedAt != nil {
		out.IssuedAt = claims.IssuedAt.Time
	}
	return out, nil
}

// ExpiresAt returns the access token's exp, or the zero time when unknown.
func (c Credentials) ExpiresAt() time.Time {
	claims, err := ParseAccessClaims(c.AccessToken)
	if err != nil {
		return time.Time{}
	}
	return claims.ExpiresAt
}

// Redact masks a token for logging.
func Redact(token string) string {
	if len(token) <= 8 {
		return "***"
	}
	return token[:4] + "..." + token[len(token)-4:]
}
