package middleware

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/arfor-backend/internal/observability"
)

// isStream reports whether route is a long-lived event stream.
func isStream(route string) bool {
	return strings.HasSuffix(route, "/stream")
}

// Metrics counts requests by route template. Event streams are left out of
// the latency histogram and the in-flight gauge; the SSE gauge tracks them.
func Metrics(m *observability.Metrics) gin.HandlerFunc {
	if m == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return func(c *gin.Context) {
		route := c.FullPath()
		if isStream(route) {
			c.Next()
			return
		}
		if route == "" {
			route = "unmatched"
		}

		start := time.Now()
		m.ApiInflightInc()
		defer m.ApiInflightDec()
		c.Next()
		m.ObserveAPI(c.Request.Method, route, strconv.Itoa(c.Writer.Status()), time.Since(start))
	}
}
