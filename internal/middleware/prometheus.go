package middleware

import (
	"strconv"
	"time"

	"user_console/internal/observability"

	"github.com/gin-gonic/gin"
)

// PrometheusMiddleware tracks HTTP metrics per route
func PrometheusMiddleware(metrics *observability.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		metrics.HTTPRequestsInFlight.Inc()
		defer metrics.HTTPRequestsInFlight.Dec()

		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()

		method := c.Request.Method
		endpoint := c.FullPath() // e.g., /users/:id/delete
		if endpoint == "" {
			// unmatched routes share one label so random paths cannot explode cardinality
			endpoint = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())

		metrics.HTTPRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration)
	}
}
