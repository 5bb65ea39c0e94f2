package middleware

import (
	"context"

	"github.com/lgulliver/tusgate/pkg/types"
)

// AuthServiceInterface defines the contract for authentication services
type AuthServiceInterface interface {
	Enabled() bool
	Anonymous() *types.Principal
	ValidateToken(ctx context.Context, token string) (*types.Principal, error)
	ValidateAPIKey(ctx context.Context, apiKey string) (*types.Principal, error)
}
