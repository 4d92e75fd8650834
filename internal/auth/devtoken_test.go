package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "unit-test-secret"

func TestIssueAndVerifyDevToken(t *testing.T) {
	token, err := IssueDevToken(testSecret, "alice", "alice@example.com", time.Hour)
	require.NoError(t, err)

	ident, err := NewDevVerifier(testSecret).Verify(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "alice", ident.UID)
	assert.Equal(t, "alice@example.com", ident.Email)
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	token, err := IssueDevToken(testSecret, "alice", "alice@example.com", time.Hour)
	require.NoError(t, err)

	_, err = NewDevVerifier("other-secret").Verify(context.Background(), token)
	assert.Error(t, err)
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	token, err := IssueDevToken(testSecret, "alice", "alice@example.com", -time.Minute)
	require.NoError(t, err)

	_, err = NewDevVerifier(testSecret).Verify(context.Background(), token)
	assert.Error(t, err)
}

func TestVerifyRejectsGarbage(t *testing.T) {
	_, err := NewDevVerifier(testSecret).Verify(context.Background(), "not.a.token")
	assert.Error(t, err)
}

func TestVerifyRejectsForeignIssuer(t *testing.T) {
	// A token signed with the right secret but issued by another service
	// must not be accepted.
	now := time.Now()
	foreign := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iss": "some-other-service",
		"aud": devAudience,
		"sub": "alice",
		"iat": now.Unix(),
		"exp": now.Add(time.Hour).Unix(),
	})
	token, err := foreign.SignedString([]byte(testSecret))
	require.NoError(t, err)

	_, err = NewDevVerifier(testSecret).Verify(context.Background(), token)
	assert.Error(t, err)
}
