package mw

import (
	"time"

	"github.com/gin-gonic/gin"

	"slot-sync-backend/internal/logging"
)

// RequestLogger logs one line per request through the service logger.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		event := logging.Debug()
		switch {
		case status >= 500:
			event = logging.Error()
		case status >= 400:
			event = logging.Info()
		}
		event.Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Str("client_ip", c.ClientIP()).
			Dur("latency", time.Since(start)).
			Msg("http request")
	}
}
