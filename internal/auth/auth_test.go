package auth

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wallet/internal/ledger"
)

func TestTokenRoundTrip(t *testing.T) {
	token, err := GenerateToken("secret", Identity{UserID: "user-1", Email: "Ana@Example.com"}, time.Minute)
	require.NoError(t, err)

	claims, err := ParseToken("secret", token)
	require.NoError(t, err)
	assert.Equal(t, Identity{UserID: "user-1", Email: "ana@example.com"}, claims.Identity())
}

func TestParseTokenRejectsWrongSecret(t *testing.T) {
	token, err := GenerateToken("secret", Identity{UserID: "user-1"}, time.Minute)
	require.NoError(t, err)

	_, err = ParseToken("other", token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseTokenRejectsExpired(t *testing.T) {
	token, err := GenerateToken("secret", Identity{UserID: "user-1"}, -time.Minute)
	require.NoError(t, err)

	_, err = ParseToken("secret", token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseTokenRejectsGarbage(t *testing.T) {
	_, err := ParseToken("secret", "not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestAuthorizerMatchesIDOrEmail(t *testing.T) {
	authz := NewAuthorizer([]string{"admin-1", "Ops@Example.com", " "})

	assert.True(t, authz.IsAdmin(Identity{UserID: "admin-1"}))
	assert.True(t, authz.IsAdmin(Identity{UserID: "u-9", Email: "ops@example.com"}))
	assert.True(t, authz.IsAdmin(Identity{UserID: "u-9", Email: "OPS@EXAMPLE.COM"}))
	assert.False(t, authz.IsAdmin(Identity{UserID: "u-9", Email: "user@example.com"}))
	assert.False(t, authz.IsAdmin(Identity{}))
}

func TestRequireAdminLogsForbidden(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	ctx := logger.WithContext(context.Background())

	err := NewAuthorizer(nil).RequireAdmin(ctx, Identity{UserID: "u-1"}, "approve")
	require.True(t, errors.Is(err, ledger.ErrForbidden))
	assert.Contains(t, buf.String(), `"event":"security.forbidden"`)
	assert.Contains(t, buf.String(), `"operation":"approve"`)

	buf.Reset()
	require.NoError(t, NewAuthorizer([]string{"u-1"}).RequireAdmin(ctx, Identity{UserID: "u-1"}, "approve"))
	assert.Empty(t, buf.String())
}
