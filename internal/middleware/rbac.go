package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sos-safeguard-api/internal/models"
	appErrors "github.com/noah-isme/sos-safeguard-api/pkg/errors"
	"github.com/noah-isme/sos-safeguard-api/pkg/response"
)

// RequireTiers allows the listed effective tiers through. Case-level rules stay in the
// services; this only gates whole route groups.
func RequireTiers(tiers ...models.Tier) gin.HandlerFunc {
	allowed := make(map[models.Tier]struct{}, len(tiers))
	for _, t := range tiers {
		allowed[t] = struct{}{}
	}
	return func(c *gin.Context) {
		p, ok := PrincipalFrom(c)
		if !ok {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}
		if _, ok := allowed[p.Tier]; !ok {
			response.Error(c, appErrors.Clone(appErrors.ErrAccessDenied, "your role cannot use this endpoint"))
			c.Abort()
			return
		}
		c.Next()
	}
}

// MinTier allows tiers ranked at or above min.
func MinTier(min models.Tier) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := PrincipalFrom(c)
		if !ok {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}
		if p.Tier.Rank() < min.Rank() {
			response.Error(c, appErrors.Clone(appErrors.ErrAccessDenied, "your role cannot use this endpoint"))
			c.Abort()
			return
		}
		c.Next()
	}
}
