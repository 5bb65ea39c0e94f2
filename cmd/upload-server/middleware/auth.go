package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/lgulliver/tusgate/pkg/types"
	"github.com/rs/zerolog/log"
)

const principalKey = "principal"

// AuthMiddleware validates JWT tokens and API keys before any upload handler runs.
// When the service has no credentials configured every request passes as anonymous.
func AuthMiddleware(authService AuthServiceInterface) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !authService.Enabled() {
			c.Set(principalKey, authService.Anonymous())
			c.Next()
			return
		}

		// Check for JWT token in Authorization header
		if authHeader := c.GetHeader("Authorization"); strings.HasPrefix(authHeader, "Bearer ") {
			token := strings.TrimPrefix(authHeader, "Bearer ")

			principal, err := authService.ValidateToken(c.Request.Context(), token)
			if err == nil {
				c.Set(principalKey, principal)
				c.Next()
				return
			}
		} else if apiKey := c.GetHeader("X-API-Key"); apiKey != "" {
			principal, err := authService.ValidateAPIKey(c.Request.Context(), apiKey)
			if err == nil {
				c.Set(principalKey, principal)
				c.Next()
				return
			}
		}

		log.Warn().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Str("client_ip", c.ClientIP()).
			Msg("request not authorized")

		c.AbortWithStatusJSON(http.StatusUnauthorized, types.ErrorResponse{Error: "unauthorized"})
	}
}

// GetPrincipalFromContext extracts the authorized caller from gin context
func GetPrincipalFromContext(c *gin.Context) (*types.Principal, bool) {
	value, exists := c.Get(principalKey)
	if !exists {
		return nil, false
	}
	principal, ok := value.(*types.Principal)
	return principal, ok
}
