package middleware

import (
	"time"

	"arenajudge/pkg/utils/contextkey"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// RequestLogger logs one line per request with the trace ids set by Trace.
// It must run after Trace.
func RequestLogger(log *zap.Logger, skipPaths ...string) gin.HandlerFunc {
	return ginzap.GinzapWithConfig(log, &ginzap.Config{
		TimeFormat: time.RFC3339,
		UTC:        true,
		SkipPaths:  skipPaths,
		Context: func(c *gin.Context) []zapcore.Field {
			ctx := c.Request.Context()
			var fields []zapcore.Field
			if v, ok := ctx.Value(contextkey.TraceID).(string); ok {
				fields = append(fields, zap.String("trace_id", v))
			}
			if v, ok := ctx.Value(contextkey.RequestID).(string); ok {
				fields = append(fields, zap.String("request_id", v))
			}
			return fields
		},
	})
}

// Recovery turns panics into a 500 and logs the stack.
func Recovery(log *zap.Logger) gin.HandlerFunc {
	return ginzap.RecoveryWithZap(log, true)
}
