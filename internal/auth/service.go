package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lgulliver/tusgate/pkg/config"
	"github.com/lgulliver/tusgate/pkg/types"
	"github.com/lgulliver/tusgate/pkg/utils"
	"github.com/rs/zerolog/log"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrMethodDisabled     = errors.New("authentication method not configured")
)

// Service authorizes upload requests by bearer token or API key
type Service struct {
	config *config.AuthConfig
}

// NewService creates a new authentication service
func NewService(config *config.AuthConfig) *Service {
	return &Service{config: config}
}

// Enabled reports whether any credential is required
func (s *Service) Enabled() bool {
	return s.config.JWTSecret != "" || s.config.APIKeyHash != ""
}

// Anonymous returns the principal used when authorization is disabled
func (s *Service) Anonymous() *types.Principal {
	return &types.Principal{Subject: "anonymous", Method: "anonymous"}
}

// ValidateToken validates a JWT and returns its subject as principal
func (s *Service) ValidateToken(ctx context.Context, token string) (*types.Principal, error) {
	if s.config.JWTSecret == "" {
		return nil, ErrMethodDisabled
	}

	subject, err := utils.ValidateJWT(token, s.config.JWTSecret)
	if err != nil {
		log.Debug().Err(err).Msg("rejected bearer token")
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}

	return &types.Principal{Subject: subject, Method: "jwt"}, nil
}

// ValidateAPIKey checks key against the configured bcrypt hash
func (s *Service) ValidateAPIKey(ctx context.Context, key string) (*types.Principal, error) {
	if s.config.APIKeyHash == "" {
		return nil, ErrMethodDisabled
	}

	if !utils.CheckPassword(key, s.config.APIKeyHash) {
		log.Debug().Msg("rejected api key")
		return nil, ErrInvalidCredentials
	}

	return &types.Principal{Subject: "api-key", Method: "api_key"}, nil
}

// IssueToken signs a token for subject, for operators handing out client credentials
func (s *Service) IssueToken(subject string, expiration time.Duration) (string, error) {
	if s.config.JWTSecret == "" {
		return "", ErrMethodDisabled
	}
	return utils.GenerateJWT(subject, s.config.JWTSecret, expiration)
}
