package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/timmy/lookbook/internal/logger"
)

const requestIDHeader = "X-Request-ID"

// LoggerMiddleware returns a Gin middleware that injects a request-scoped logger.
// Parameters:
//   - log: base logger to enrich with request fields.
// Returns:
//   - gin.HandlerFunc: middleware handler.
func LoggerMiddleware(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		// Keep a caller-supplied request ID so traces line up across services.
		requestID := c.GetHeader(requestIDHeader)
		if requestID == "" {
			requestID = uuid.New().String()
		}

		ctx := log.WithContext(c.Request.Context())
		ctx = logger.WithFields(ctx, logger.Fields{
			logger.FieldRequestID: requestID,
			logger.FieldComponent: "api",
		})
		if ws := c.Param("workspace"); ws != "" {
			ctx = logger.SetWorkspaceID(ctx, ws)
		}
		c.Request = c.Request.WithContext(ctx)
		c.Set("logger", logger.FromContext(ctx))
		c.Header(requestIDHeader, requestID)

		logger.CtxDebug(ctx, "Request started: method=%s, path=%s, client_ip=%s",
			c.Request.Method, path, c.ClientIP())

		c.Next()

		fullPath := path
		if query != "" {
			fullPath = path + "?" + query
		}
		entry := logger.With(logger.Fields{
			logger.FieldStatus: c.Writer.Status(),
			logger.FieldSize:   c.Writer.Size(),
		}).WithDuration(time.Since(start))
		if c.Writer.Status() >= 500 {
			entry.Warn(ctx, "Request completed: method=%s, path=%s", c.Request.Method, fullPath)
			return
		}
		entry.Info(ctx, "Request completed: method=%s, path=%s", c.Request.Method, fullPath)
	}
}

// GetLogger extracts logger from Gin context or request context.
// Parameters:
//   - c: Gin request context.
// Returns:
//   - *logger.Logger: request-scoped logger or default logger.
func GetLogger(c *gin.Context) *logger.Logger {
	if l, exists := c.Get("logger"); exists {
		if log, ok := l.(*logger.Logger); ok {
			return log
		}
	}
	return logger.FromContext(c.Request.Context())
}
