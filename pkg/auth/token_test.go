package auth_test

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"refreshd/pkg/auth"
)

func TestMatchSecret(t *testing.T) {
	assert.True(t, auth.MatchSecret("s3cret", "s3cret"))
	assert.False(t, auth.MatchSecret("s3cre", "s3cret"))
	assert.False(t, auth.MatchSecret("", "s3cret"))
	assert.False(t, auth.MatchSecret("", ""), "an unset secret must never authenticate")
}

func TestTokenService_RoundTrip(t *testing.T) {
	svc, err := auth.NewTokenService(auth.DefaultTokenConfig("s3cret"))
	require.NoError(t, err)

	token, err := svc.GenerateToken("vercel-cron", time.Minute)
	require.NoError(t, err)

	subject, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "vercel-cron", subject)
}

func TestTokenService_RejectsWrongSecret(t *testing.T) {
	issuer, err := auth.NewTokenService(auth.DefaultTokenConfig("other"))
	require.NoError(t, err)
	svc, err := auth.NewTokenService(auth.DefaultTokenConfig("s3cret"))
	require.NoError(t, err)

	token, err := issuer.GenerateToken("cron", time.Minute)
	require.NoError(t, err)

	_, err = svc.ValidateToken(token)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestTokenService_RejectsExpired(t *testing.T) {
	svc, err := auth.NewTokenService(auth.DefaultTokenConfig("s3cret"))
	require.NoError(t, err)

	past := time.Now().Add(-time.Hour)
	claims := jwt.RegisteredClaims{
		Issuer:    "refreshd",
		IssuedAt:  jwt.NewNumericDate(past),
		ExpiresAt: jwt.NewNumericDate(past.Add(time.Minute)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("s3cret"))
	require.NoError(t, err)

	_, err = svc.ValidateToken(token)
	assert.ErrorIs(t, err, auth.ErrExpiredToken)
}

func TestTokenService_RejectsOverlongLifetime(t *testing.T) {
	svc, err := auth.NewTokenService(auth.DefaultTokenConfig("s3cret"))
	require.NoError(t, err)

	now := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    "refreshd",
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(24 * time.Hour)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("s3cret"))
	require.NoError(t, err)

	_, err = svc.ValidateToken(token)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestTokenService_RejectsMissing(t *testing.T) {
	svc, err := auth.NewTokenService(auth.DefaultTokenConfig("s3cret"))
	require.NoError(t, err)

	_, err = svc.ValidateToken("")
	assert.ErrorIs(t, err, auth.ErrMissingToken)

	_, err = auth.NewTokenService(auth.TokenConfig{})
	assert.Error(t, err)
}
