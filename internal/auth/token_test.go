package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/contentq/internal/config"
)

const testSecret = "test-secret-that-is-long-enough-for-testing"

var fixedTime = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func fixedService(t *testing.T, secret string, at time.Time) *TokenService {
	t.Helper()
	svc, err := newTokenService(secret, time.Hour, func() time.Time { return at })
	require.NoError(t, err)
	return svc
}

func TestGenerateAndValidate(t *testing.T) {
	t.Parallel()

	svc := fixedService(t, testSecret, fixedTime)
	token, err := svc.Generate(context.Background(), "ops@example", 0)
	require.NoError(t, err)

	claims, err := svc.Validate(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "ops@example", claims.Subject)
	assert.Equal(t, fixedTime.Unix(), claims.IssuedAt.Unix())
	assert.Equal(t, fixedTime.Add(time.Hour).Unix(), claims.ExpiresAt.Unix())
	assert.NotEmpty(t, claims.ID)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	issuer := fixedService(t, testSecret, fixedTime)
	valid, err := issuer.Generate(context.Background(), "producer", 0)
	require.NoError(t, err)

	foreign := jwt.NewWithClaims(jwt.SigningMethodHS256, tokenClaims{
		TokenType: "refresh",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "producer",
			ExpiresAt: jwt.NewNumericDate(fixedTime.Add(time.Hour)),
		},
	})
	wrongType, err := foreign.SignedString([]byte(testSecret))
	require.NoError(t, err)

	tests := []struct {
		name    string
		svc     *TokenService
		token   string
		wantErr error
	}{
		{"valid", fixedService(t, testSecret, fixedTime.Add(time.Minute)), valid, nil},
		{"expired", fixedService(t, testSecret, fixedTime.Add(2*time.Hour)), valid, ErrExpiredToken},
		{"within clock skew", fixedService(t, testSecret, fixedTime.Add(time.Hour+time.Minute)), valid, nil},
		{"not yet valid", fixedService(t, testSecret, fixedTime.Add(-time.Hour)), valid, ErrTokenNotYetValid},
		{"wrong secret", fixedService(t, "another-secret-that-is-long-enough-too", fixedTime), valid, ErrInvalidToken},
		{"malformed", issuer, "not.a.token", ErrInvalidToken},
		{"empty", issuer, "", ErrMissingToken},
		{"wrong type", issuer, wrongType, ErrInvalidToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			claims, err := tt.svc.Validate(context.Background(), tt.token)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, claims)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "producer", claims.Subject)
		})
	}
}

func TestNewTokenService(t *testing.T) {
	t.Parallel()

	_, err := NewTokenService(config.AuthConfig{JWTSecret: "short"})
	assert.ErrorIs(t, err, ErrWeakSecret)

	svc, err := NewTokenService(config.AuthConfig{JWTSecret: testSecret})
	require.NoError(t, err)
	assert.Equal(t, defaultLifetime, svc.lifetime)

	_, err = svc.Generate(context.Background(), "", 0)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
