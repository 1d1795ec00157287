package relay

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vominhhoang308/claude-mobile/pkg/logger"
)

// LoggingMiddleware logs HTTP requests. WebSocket upgrades are logged
// at completion, i.e. when the socket closes.
func LoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		statusCode := c.Writer.Status()

		logger.Debugf("[%s] %s - %d (%v)", c.Request.Method, path, statusCode, latency)
	}
}
