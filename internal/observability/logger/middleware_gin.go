package logger

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	obscontext "github.com/smallbiznis/creditkit/internal/observability/context"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// MiddlewareConfig controls request logging behavior.
type MiddlewareConfig struct {
	Debug           bool
	ErrorClassifier func(err error) (string, string)
}

// GinMiddleware stamps the request context with correlation fields and logs
// one line per request once the handler chain has finished.
func GinMiddleware(cfg MiddlewareConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		bindRequestContext(c)
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unknown"
		}
		fields := requestFields(c, route, time.Since(start))

		var errorType string
		if last := c.Errors.Last(); last != nil {
			var errorCode string
			if cfg.ErrorClassifier != nil {
				errorType, errorCode = cfg.ErrorClassifier(last.Err)
			}
			fields = append(fields, zap.String("error_type", errorType), zap.String("error_code", errorCode))
			if cfg.Debug {
				fields = append(fields, zap.Stack("stack"))
			}
		}
		logRequest(FromContext(c.Request.Context()), route, c.Writer.Status(), errorType, fields)
	}
}

func bindRequestContext(c *gin.Context) {
	ctx := obscontext.WithRequestID(c.Request.Context(), ensureRequestID(c))
	ctx = obscontext.WithIPAddress(ctx, c.ClientIP())
	ctx = obscontext.WithUserAgent(ctx, c.Request.UserAgent())
	c.Request = c.Request.WithContext(ctx)
}

func requestFields(c *gin.Context, route string, elapsed time.Duration) []zap.Field {
	fields := []zap.Field{
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
		zap.String("route", route),
		zap.Int("status", c.Writer.Status()),
		zap.Int64("duration_ms", elapsed.Milliseconds()),
		zap.Int64("bytes_in", nonNegative(c.Request.ContentLength)),
		zap.Int("bytes_out", nonNegative(c.Writer.Size())),
	}
	if kind := strings.TrimSpace(c.GetString("credit_kind")); kind != "" {
		fields = append(fields, zap.String("credit_kind", kind))
	}
	return fields
}

// ensureRequestID reuses an inbound X-Request-Id and echoes it on the response.
func ensureRequestID(c *gin.Context) string {
	requestID := strings.TrimSpace(c.GetHeader("X-Request-Id"))
	if requestID == "" {
		requestID = strings.TrimSpace(c.GetString("request_id"))
	}
	if requestID == "" {
		requestID = uuid.NewString()
	}

	c.Set("request_id", requestID)
	c.Header("X-Request-Id", requestID)
	return requestID
}

// quietRoutes log at debug. Scrapes are constant and running out of credits
// is the normal end of a metered session.
var quietRoutes = map[string]string{
	"/metrics":           "",
	"/health":            "",
	"/api/credits/spend": "insufficient_credits",
}

func requestLevel(route string, status int, errorType string) zapcore.Level {
	if quietErr, ok := quietRoutes[route]; ok && (quietErr == "" || quietErr == errorType) {
		return zapcore.DebugLevel
	}
	switch {
	case status >= http.StatusInternalServerError:
		return zapcore.ErrorLevel
	case status == http.StatusTooManyRequests:
		return zapcore.WarnLevel
	default:
		return zapcore.InfoLevel
	}
}

func logRequest(log *zap.Logger, route string, status int, errorType string, fields []zap.Field) {
	if log == nil {
		return
	}
	if ce := log.Check(requestLevel(route, status, errorType), "http_request"); ce != nil {
		ce.Write(fields...)
	}
}

func nonNegative[T int | int64](value T) T {
	if value < 0 {
		return 0
	}
	return value
}
