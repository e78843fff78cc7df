// file: internal/server/logger.go
// version: 2.0.0
// guid: 1d2e3f4a-5b6c-7d8e-9f0a-1b2c3d4e5f6a

package server

import (
	"time"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
)

// requestLogger replaces gin.Logger with structured access logs. SSE
// streams are logged when they end.
func requestLogger(logger *log.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		c.Next()

		status := c.Writer.Status()
		kv := []any{
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"duration", time.Since(start).Round(time.Microsecond),
			"client", c.ClientIP(),
		}
		if len(c.Errors) > 0 {
			kv = append(kv, "err", c.Errors.String())
		}
		switch {
		case status >= 500:
			logger.Error("request", kv...)
		case path == "/metrics" || path == "/api/health" || path == "/api/v1/health":
			logger.Debug("request", kv...)
		default:
			logger.Info("request", kv...)
		}
	}
}
