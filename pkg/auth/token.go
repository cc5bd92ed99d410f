package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
	ErrMissingToken = errors.New("missing authentication token")
)

// TokenConfig holds trigger token configuration
type TokenConfig struct {
	Secret string
	Issuer string
	// MaxTTL caps the lifetime a token may claim, so a leaked token is
	// only useful briefly.
	MaxTTL time.Duration
}

// DefaultTokenConfig returns defaults for the given shared secret.
func DefaultTokenConfig(secret string) TokenConfig {
	return TokenConfig{
		Secret: secret,
		Issuer: "refreshd",
		MaxTTL: 10 * time.Minute,
	}
}

// TokenService issues and validates short-lived HS256 trigger tokens
// signed with the webhook secret.
type TokenService struct {
	config TokenConfig
	now    func() time.Time
}

// NewTokenService creates a new token service
func NewTokenService(config TokenConfig) (*TokenService, error) {
	if config.Secret == "" {
		return nil, errors.New("token secret is required")
	}
	if config.MaxTTL <= 0 {
		config.MaxTTL = 10 * time.Minute
	}
	return &TokenService{config: config, now: time.Now}, nil
}

// GenerateToken creates a trigger token for subject valid for ttl.
func (s *TokenService) GenerateToken(subject string, ttl time.Duration) (string, error) {
	if ttl <= 0 || ttl > s.config.MaxTTL {
		ttl = s.config.MaxTTL
	}
	now := s.now()
	claims := jwt.RegisteredClaims{
		Issuer:    s.config.Issuer,
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		NotBefore: jwt.NewNumericDate(now),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.config.Secret))
}

// ValidateToken checks signature, issuer, expiry and lifetime, and returns
// the token subject.
func (s *TokenService) ValidateToken(tokenString string) (string, error) {
	if tokenString == "" {
		return "", ErrMissingToken
	}
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(s.config.Secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.config.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpiredToken
		}
		return "", ErrInvalidToken
	}
	if !token.Valid {
		return "", ErrInvalidToken
	}

	// Reject tokens minted with a lifetime beyond MaxTTL.
	if claims.IssuedAt == nil || claims.ExpiresAt.Sub(claims.IssuedAt.Time) > s.config.MaxTTL {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}
