package middleware

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sos-safeguard-api/internal/models"
	"github.com/noah-isme/sos-safeguard-api/internal/service"
	appErrors "github.com/noah-isme/sos-safeguard-api/pkg/errors"
	"github.com/noah-isme/sos-safeguard-api/pkg/response"
)

const (
	// ContextUserKey is the gin context key storing JWT claims.
	ContextUserKey = "currentUser"
	// ContextPrincipalKey is the gin context key storing the resolved principal.
	ContextPrincipalKey = "currentPrincipal"
)

// TokenAuthenticator validates access tokens and loads the caller behind them.
type TokenAuthenticator interface {
	ValidateToken(token string) (*models.JWTClaims, error)
	PrincipalFor(ctx context.Context, userID string) (*models.Principal, error)
}

// JWT protects routes by requiring a valid access token. The principal is rebuilt from the
// stored user on every request so role and village changes apply immediately.
func JWT(auth TokenAuthenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			response.Error(c, appErrors.Clone(appErrors.ErrUnauthorized, "invalid authorization header"))
			c.Abort()
			return
		}

		claims, err := auth.ValidateToken(strings.TrimSpace(parts[1]))
		if err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}

		principal, err := auth.PrincipalFor(c.Request.Context(), claims.UserID)
		if err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}

		c.Set(ContextUserKey, claims)
		c.Set(ContextPrincipalKey, principal)
		c.Request = c.Request.WithContext(service.WithAuditMeta(c.Request.Context(), c.ClientIP(), c.GetHeader("User-Agent")))
		c.Next()
	}
}

// PrincipalFrom returns the principal stored by JWT.
func PrincipalFrom(c *gin.Context) (*models.Principal, bool) {
	value, exists := c.Get(ContextPrincipalKey)
	if !exists {
		return nil, false
	}
	p, ok := value.(*models.Principal)
	return p, ok && p != nil
}
