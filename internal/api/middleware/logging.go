package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/VinByte365/Project-Pamada-sub000/internal/metrics"
)

// LoggingMiddleware logs one line per request at a level chosen by outcome
// and records the request metrics.
func LoggingMiddleware(logger *zap.Logger, serviceName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()

		c.Next()

		duration := time.Since(startTime)
		statusCode := c.Writer.Status()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}

		metrics.HTTPRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(statusCode)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(c.Request.Method, route).Observe(duration.Seconds())

		var outcome string
		var level zapcore.Level
		switch {
		case statusCode >= 500:
			outcome = "server_error"
			level = zapcore.ErrorLevel
		case statusCode >= 400:
			outcome = "client_error"
			level = zapcore.WarnLevel
		default:
			outcome = "success"
			level = zapcore.InfoLevel
		}

		fields := []zap.Field{
			zap.String("service", serviceName),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.String("route", route),
			zap.Int("status_code", statusCode),
			zap.Int64("duration_ms", duration.Milliseconds()),
			zap.String("outcome", outcome),
		}
		if v, ok := c.Get(KeyCorrelationID); ok {
			fields = append(fields, zap.Any("correlation_id", v))
		}
		if v, ok := c.Get(KeyUserID); ok {
			fields = append(fields, zap.Any("user_id", v))
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}

		if ce := logger.Check(level, "request processed"); ce != nil {
			ce.Write(fields...)
		}
	}
}
