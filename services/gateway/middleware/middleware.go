package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"ruche-go/commonlib/log"
)

// HeaderAPIKey carries the shared secret on protected endpoints.
const HeaderAPIKey = "X-API-KEY"

// =============================================================================
// Request ID Middleware
// =============================================================================

// RequestID adds a unique request ID to each request.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Set("request_id", requestID)
		c.Header("X-Request-ID", requestID)
		// Add to context
		ctx := log.WithRequestID(c.Request.Context(), requestID)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// =============================================================================
// Logger Middleware
// =============================================================================

// Logger logs request and response details.
func Logger(logger log.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery
		requestID := c.GetString("request_id")
		c.Next()
		latency := time.Since(start)
		status := c.Writer.Status()
		fields := []log.Field{
			log.String("request_id", requestID),
			log.String("method", c.Request.Method),
			log.String("path", path),
			log.String("query", query),
			log.Int("status", status),
			log.Duration("latency", latency),
			log.String("client_ip", c.ClientIP()),
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

// =============================================================================
// Recovery Middleware
// =============================================================================

// Recovery recovers from panics.
func Recovery(logger log.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				requestID := c.GetString("request_id")
				logger.Error("Panic recovered",
					log.String("request_id", requestID),
					log.Any("error", err),
					log.String("path", c.Request.URL.Path),
				)
				c.AbortWithStatusJSON(500, gin.H{
					"code":      "INTERNAL",
					"message":   "Internal server error",
					"requestId": requestID,
				})
			}
		}()
		c.Next()
	}
}

// =============================================================================
// CORS Middleware
// =============================================================================

// CORS adds CORS headers.
func CORS(allowedOrigins []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		allowed := false
		for _, o := range allowedOrigins {
			if o == "*" || o == origin {
				allowed = true
				break
			}
		}
		if allowed {
			c.Header("Access-Control-Allow-Origin", origin)
		}
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, X-Request-ID, "+HeaderAPIKey)
		c.Header("Access-Control-Max-Age", "86400")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}

// =============================================================================
// API Key Middleware
// =============================================================================

// APIKeyAuth validates the shared-secret header on protected endpoints.
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
