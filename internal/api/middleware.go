package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/wcagai/scanner-go/pkg/logging"
)

// RequestIDMiddleware adds a unique request ID to each request
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Header("X-Request-ID", requestID)
		c.Set("request_id", requestID)
		c.Next()
	}
}

// LoggingMiddleware provides structured request logging
func LoggingMiddleware(logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.WithFields(logrus.Fields{
			"http_method":      c.Request.Method,
			"http_path":        c.FullPath(),
			"http_status":      c.Writer.Status(),
			"client_ip":        c.ClientIP(),
			"request_id":       requestID(c),
			"response_time_ms": time.Since(start).Milliseconds(),
		}).Info("HTTP request processed")
	}
}

// RecoveryMiddleware handles panics in handlers
func RecoveryMiddleware(logger *logging.Logger) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logger.Error("Panic recovered in handler",
			"panic", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatus(500)
	})
}
