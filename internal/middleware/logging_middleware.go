// internal/middleware/logging_middleware.go
package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"device-scanner/internal/utils"
)

// LoggingMiddleware logs every request once it has been served. Unmatched
// routes are logged under their raw path since gin has no route template
// for them.
func LoggingMiddleware(logger *utils.ServiceLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()
		c.Next()
		duration := time.Since(startTime)

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		fields := []zap.Field{
			zap.String("request_id", c.GetString(RequestIDKey)),
			zap.Int("response_bytes", c.Writer.Size()),
		}
		// port ids are path-escaped device nodes, log the decoded form
		if portID := c.Param("port_id"); portID != "" {
			fields = append(fields, zap.String("port_id", portID))
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}

		logger.LogAPIRequest(
			c.Request.Method,
			path,
			c.Request.UserAgent(),
			c.ClientIP(),
			c.Writer.Status(),
			duration,
			fields...,
		)
	}
}
