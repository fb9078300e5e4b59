package auth

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relay-ai/internal/domain"
)

func testUser() *domain.User {
	return &domain.User{ID: 42, Username: "alice", IsAdmin: true}
}

func TestIssueAndValidateToken(t *testing.T) {
	m, err := NewJWTManager("", "relay-ai", time.Hour)
	require.NoError(t, err)

	token, exp, err := m.IssueToken(testUser())
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.WithinDuration(t, time.Now().Add(time.Hour), exp, time.Minute)

	claims, err := m.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, int64(42), claims.UserID)
	assert.Equal(t, "alice", claims.Username)
	assert.True(t, claims.IsAdmin)
	assert.NotEmpty(t, claims.ID, "jti should be set")
}

func TestValidateTokenRejectsExpired(t *testing.T) {
	m, err := NewJWTManager("", "relay-ai", -time.Minute)
	require.NoError(t, err)

	token, _, err := m.IssueToken(testUser())
	require.NoError(t, err)

	_, err = m.ValidateToken(token)
	assert.True(t, errors.Is(err, domain.ErrAuthInvalid))
}

func TestValidateTokenRejectsForeignKey(t *testing.T) {
	m1, err := NewJWTManager("", "relay-ai", time.Hour)
	require.NoError(t, err)
	m2, err := NewJWTManager("", "relay-ai", time.Hour)
	require.NoError(t, err)

	token, _, err := m1.IssueToken(testUser())
	require.NoError(t, err)

	_, err = m2.ValidateToken(token)
	assert.Error(t, err)
}

func TestValidateTokenRejectsGarbage(t *testing.T) {
	m, err := NewJWTManager("", "relay-ai", time.Hour)
	require.NoError(t, err)

	_, err = m.ValidateToken("not.a.token")
	assert.True(t, errors.Is(err, domain.ErrAuthInvalid))
}

func TestKeyFilePersistsAcrossRestarts(t *testing.T) {
	keyFile := filepath.Join(t.TempDir(), "relay.key")

	m1, err := NewJWTManager(keyFile, "relay-ai", time.Hour)
	require.NoError(t, err)
	token, _, err := m1.IssueToken(testUser())
	require.NoError(t, err)

	// A manager loaded from the same file validates old tokens.
	m2, err := NewJWTManager(keyFile, "relay-ai", time.Hour)
	require.NoError(t, err)
	claims, err := m2.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, int64(42), claims.UserID)
}

func TestHashAndVerifyPassword(t *testing.T) {
	hash, err := HashPassword("s3cret")
	require.NoError(t, err)
	assert.NotContains(t, hash, "s3cret")

	ok, err := VerifyPassword("s3cret", hash)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = VerifyPassword("wrong", hash)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHashPasswordSalts(t *testing.T) {
	h1, err := HashPassword("same")
	require.NoError(t, err)
	h2, err := HashPassword("same")
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)
}

func TestVerifyPasswordBadFormat(t *testing.T) {
	_, err := VerifyPassword("x", "malformed")
	assert.Error(t, err)
}
