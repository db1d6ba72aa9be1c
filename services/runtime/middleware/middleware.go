package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"ruche-go/commonlib/log"
)

// HeaderAPIKey carries the shared secret on protected endpoints.
const HeaderAPIKey = "X-API-KEY"

// RequestID adds a unique request ID to each request.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Set("request_id", requestID)
		c.Header("X-Request-ID", requestID)
		ctx := log.WithRequestID(c.Request.Context(), requestID)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// Logger logs request and response details.
func Logger(logger log.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		requestID := c.GetString("request_id")
		c.Next()
		latency := time.Since(start)
		status := c.Writer.Status()
		fields := []log.Field{
			log.String("request_id", requestID),
			log.String("method", c.Request.Method),
			log.String("path", path),
			log.Int("status", status),
			log.Duration("latency", latency),
		}
		if status >= 500 {
			logger.Error("HTTP request", fields...)
		} else if status >= 400 {
			logger.Warn("HTTP request", fields...)
		} else {
			logger.Info("HTTP request", fields...)
		}
	}
}

// Recovery recovers from panics.
func Recovery(logger log.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.Error("Panic recovered",
					log.String("request_id", c.GetString("request_id")),
					log.Any("error", err),
					log.String("path", c.Request.URL.Path),
				)
				c.AbortWithStatusJSON(500, gin.H{
					"code":    "INTERNAL",
					"message": "Internal server error",
				})
			}
		}()
		c.Next()
	}
}

// APIKeyAuth validates the shared-secret header on the /runtime facade.
// An empty configured key disables the check (dev mode).
func APIKeyAuth(apiKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if apiKey == "" {
			c.Next()
			return
		}
		if c.GetHeader(HeaderAPIKey) != apiKey {
			c.AbortWithStatusJSON(401, gin.H{
				"code":    "UNAUTHORIZED",
				"message": "Missing or invalid API key",
			})
			return
		}
		c.Next()
	}
}
