// Package auth verifies identity-provider tokens and decides which
// identities may perform administrative operations.
package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"wallet/internal/ledger"
)

var ErrInvalidToken = errors.New("invalid token")

// Identity is the authenticated caller as asserted by the identity provider.
type Identity struct {
	UserID string
	Email  string
}

type Claims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

func (c Claims) Identity() Identity {
	userID := c.UserID
	if userID == "" {
		userID = c.Subject
	}
	return Identity{UserID: userID, Email: strings.ToLower(c.Email)}
}

// ParseToken verifies an HS256 token and returns its claims. Tokens without
// a user id or subject are rejected.
func ParseToken(secret, token string) (Claims, error) {
	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !parsed.Valid {
		return Claims{}, ErrInvalidToken
	}
	if claims.Identity().UserID == "" {
		return Claims{}, ErrInvalidToken
	}
	return claims, nil
}

// GenerateToken signs a token the way the identity provider does. Only tests
// and local tooling issue tokens.
func GenerateToken(secret string, identity Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: identity.UserID,
		Email:  identity.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// Authorizer checks identities against the configured admin allow-list. An
// entry matches either a user id or a case-insensitive email.
type Authorizer struct {
	allowed map[string]struct{}
}

func NewAuthorizer(admins []string) Authorizer {
	allowed := make(map[string]struct{}, len(admins))
	for _, admin := range admins {
		admin = strings.TrimSpace(admin)
		if admin == "" {
			continue
		}
		allowed[admin] = struct{}{}
		allowed[strings.ToLower(admin)] = struct{}{}
	}
	return Authorizer{allowed: allowed}
}

func (a Authorizer) IsAdmin(identity Identity) bool {
	if identity.UserID != "" {
		if _, ok := a.allowed[identity.UserID]; ok {
			return true
		}
	}
	if identity.Email != "" {
		if _, ok := a.allowed[strings.ToLower(identity.Email)]; ok {
			return true
		}
	}
	return false
}

// RequireAdmin returns ledger.ErrForbidden for non-admins and records the
// attempt as a security event.
func (a Authorizer) RequireAdmin(ctx context.Context, identity Identity, operation string) error {
	if a.IsAdmin(identity) {
		return nil
	}
	zerolog.Ctx(ctx).Warn().
		Str("event", "security.forbidden").
		Str("actor_id", identity.UserID).
		Str("operation", operation).
		Msg("admin operation denied")
	return ledger.ErrForbidden
}
