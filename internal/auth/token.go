// Package auth issues and validates the bearer tokens that protect the
// HTTP API. Tokens identify an operator or producer by subject; there are
// no user accounts, so a valid signature is the whole authorization check.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/phrazzld/contentq/internal/config"
	"github.com/phrazzld/contentq/internal/platform/logger"
)

const (
	minSecretLength = 32
	tokenTypeAPI    = "api"
	defaultLifetime = 24 * time.Hour
)

// Claims are the validated contents of a token.
type Claims struct {
	Subject   string    `json:"sub"`
	IssuedAt  time.Time `json:"iat"`
	ExpiresAt time.Time `json:"exp"`
	ID        string    `json:"jti"`
}

// TokenService signs and validates HMAC-SHA256 tokens.
type TokenService struct {
	signingKey []byte
	lifetime   time.Duration
	timeFunc   func() time.Time
	clockSkew  time.Duration
}

type tokenClaims struct {
	TokenType string `json:"type"`
	jwt.RegisteredClaims
}

// NewTokenService creates a TokenService from cfg.
func NewTokenService(cfg config.AuthConfig) (*TokenService, error) {
	return newTokenService(cfg.JWTSecret, cfg.TokenLifetime, time.Now)
}

func newTokenService(secret string, lifetime time.Duration, now func() time.Time) (*TokenService, error) {
	if len(secret) < minSecretLength {
		return nil, ErrWeakSecret
	}
	if lifetime <= 0 {
		lifetime = defaultLifetime
	}
	return &TokenService{
		signingKey: []byte(secret),
		lifetime:   lifetime,
		timeFunc:   now,
		clockSkew:  2 * time.Minute,
	}, nil
}

// Generate signs a token for subject. A zero lifetime uses the service's
// configured lifetime.
func (s *TokenService) Generate(ctx context.Context, subject string, lifetime time.Duration) (string, error) {
	if subject == "" {
		return "", fmt.Errorf("%w: subject is required", ErrInvalidToken)
	}
	if lifetime <= 0 {
		lifetime = s.lifetime
	}
	now := s.timeFunc()

	claims := tokenClaims{
		TokenType: tokenTypeAPI,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(lifetime)),
			ID:        uuid.NewString(),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.signingKey)
	if err != nil {
		logger.FromContext(ctx).Error("failed to sign token",
			"error", err,
			"subject", subject,
			"signing_method", jwt.SigningMethodHS256.Name)
		return "", fmt.Errorf("failed to sign token with HMAC-SHA256: %w", err)
	}
	return signed, nil
}

// Validate parses tokenString and returns its claims.
func (s *TokenService) Validate(ctx context.Context, tokenString string) (*Claims, error) {
	log := logger.FromContext(ctx)
	if tokenString == "" {
		return nil, ErrMissingToken
	}

	now := s.timeFunc()
	token, err := jwt.ParseWithClaims(
		tokenString,
		&tokenClaims{},
		func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return s.signingKey, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
		jwt.WithLeeway(s.clockSkew),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			log.Debug("token validation failed: token expired", "error", err)
			return nil, ErrExpiredToken
		case errors.Is(err, jwt.ErrTokenNotValidYet):
			log.Debug("token validation failed: token not yet valid", "error", err)
			return nil, ErrTokenNotYetValid
		default:
			log.Debug("token validation failed",
				"error", err,
				"error_type", fmt.Sprintf("%T", err))
			return nil, ErrInvalidToken
		}
	}

	claims, ok := token.Claims.(*tokenClaims)
	if !ok || !token.Valid || claims.TokenType != tokenTypeAPI {
		log.Debug("token validation failed: invalid claims")
		return nil, ErrInvalidToken
	}

	return &Claims{
		Subject:   claims.Subject,
		IssuedAt:  claims.IssuedAt.Time,
		ExpiresAt: claims.ExpiresAt.Time,
		ID:        claims.ID,
	}, nil
}
