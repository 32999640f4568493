package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sos-safeguard-api/internal/service"
)

// Audit records successful requests on sensitive read routes. The :id path parameter is used
// as the audited resource id.
func Audit(sink service.AuditSink, action, resource string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		if sink == nil || c.Writer.Status() >= 400 {
			return
		}

		actor := ""
		if p, ok := PrincipalFrom(c); ok {
			actor = p.UserID
		}

		sink.Record(c.Request.Context(), actor, action, service.AuditTarget{Resource: resource, ID: c.Param("id")}, map[string]interface{}{
			"path":       c.FullPath(),
			"method":     c.Request.Method,
			"status":     c.Writer.Status(),
			"latency_ms": time.Since(start).Milliseconds(),
		})
	}
}
