package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sos-safeguard-api/internal/service"
)

// unmatchedRoute labels requests that hit no registered route. Raw paths carry case and
// user ids, so they never become label values.
const unmatchedRoute = "unmatched"

// Metrics records request count and latency per route template. Paths listed in skip
// (health checks and the scrape endpoint) are not observed.
func Metrics(metricsSvc *service.MetricsService, skip ...string) gin.HandlerFunc {
	skipped := make(map[string]struct{}, len(skip))
	for _, p := range skip {
		skipped[p] = struct{}{}
	}
	return func(c *gin.Context) {
		if metricsSvc == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = unmatchedRoute
		}
		if _, ok := skipped[route]; ok {
			return
		}
		metricsSvc.ObserveHTTPRequest(c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}
