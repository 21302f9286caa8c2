package token

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJWTService_RequiresSecret(t *testing.T) {
	_, err := NewJWTService("", time.Hour)
	assert.Error(t, err)
}

func TestJWTService_RoundTrip(t *testing.T) {
	svc, err := NewJWTService("test-secret", time.Hour)
	require.NoError(t, err)

	tokenString, err := svc.GenerateAccessToken(Claims{Subject: "admin"})
	require.NoError(t, err)
	require.NotEmpty(t, tokenString)

	claims, err := svc.ValidateAccessToken(tokenString)
	require.NoError(t, err)
	assert.Equal(t, "admin", claims.Subject)
}

func TestJWTService_RejectsExpiredToken(t *testing.T) {
	svc, err := NewJWTService("test-secret", -time.Minute)
	require.NoError(t, err)

	tokenString, err := svc.GenerateAccessToken(Claims{Subject: "admin"})
	require.NoError(t, err)

	_, err = svc.ValidateAccessToken(tokenString)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestJWTService_RejectsWrongSecret(t *testing.T) {
	issuer, err := NewJWTService("issuer-secret", time.Hour)
	require.NoError(t, err)
	verifier, err := NewJWTService("other-secret", time.Hour)
	require.NoError(t, err)

	tokenString, err := issuer.GenerateAccessToken(Claims{Subject: "admin"})
	require.NoError(t, err)

	_, err = verifier.ValidateAccessToken(tokenString)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestJWTService_RejectsGarbage(t *testing.T) {
	svc, err := NewJWTService("test-secret", time.Hour)
	require.NoError(t, err)

	_, err = svc.ValidateAccessToken("not.a.token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
