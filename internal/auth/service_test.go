package auth

import (
	"context"
	"testing"
	"time"

	"github.com/lgulliver/tusgate/pkg/config"
	"github.com/lgulliver/tusgate/pkg/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-key-for-testing-purposes"

func setupTestService(t *testing.T) (*Service, string) {
	key := "0123456789abcdef"
	hash, err := utils.HashPassword(key, 4) // Low cost for testing speed
	require.NoError(t, err)

	service := NewService(&config.AuthConfig{
		JWTSecret:  testSecret,
		APIKeyHash: hash,
	})
	return service, key
}

func TestNewService(t *testing.T) {
	authConfig := &config.AuthConfig{}
	service := NewService(authConfig)

	assert.NotNil(t, service)
	assert.Equal(t, authConfig, service.config)
	assert.False(t, service.Enabled())
	assert.Equal(t, "anonymous", service.Anonymous().Method)
}

func TestValidateToken(t *testing.T) {
	service, _ := setupTestService(t)
	ctx := context.Background()

	token, err := service.IssueToken("uploader", time.Hour)
	require.NoError(t, err)

	principal, err := service.ValidateToken(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "uploader", principal.Subject)
	assert.Equal(t, "jwt", principal.Method)

	_, err = service.ValidateToken(ctx, "invalid-token")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	foreign, err := utils.GenerateJWT("uploader", "another-secret", time.Hour)
	require.NoError(t, err)
	_, err = service.ValidateToken(ctx, foreign)
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	expired, err := service.IssueToken("uploader", -time.Minute)
	require.NoError(t, err)
	_, err = service.ValidateToken(ctx, expired)
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestValidateAPIKey(t *testing.T) {
	service, key := setupTestService(t)
	ctx := context.Background()

	principal, err := service.ValidateAPIKey(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "api_key", principal.Method)

	_, err = service.ValidateAPIKey(ctx, "wrong-key")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestDisabledMethods(t *testing.T) {
	service := NewService(&config.AuthConfig{})
	ctx := context.Background()

	_, err := service.ValidateToken(ctx, "anything")
	assert.ErrorIs(t, err, ErrMethodDisabled)

	_, err = service.ValidateAPIKey(ctx, "anything")
	assert.ErrorIs(t, err, ErrMethodDisabled)

	_, err = service.IssueToken("uploader", time.Hour)
	assert.ErrorIs(t, err, ErrMethodDisabled)
}
