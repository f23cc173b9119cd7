// Package middleware holds gin middleware shared by the HTTP services.
package middleware

import (
	"context"
	"strings"

	"arenajudge/pkg/utils/contextkey"
	"arenajudge/pkg/utils/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	TraceIDHeader   = "X-Trace-Id"
	RequestIDHeader = "X-Request-Id"
	UserIDHeader    = "X-User-Id"

	requestIDKey = "request_id"
	userIDKey    = "user_id"
)

// Trace puts trace, request and user ids into the gin and request contexts and
// echoes them as response headers. Missing trace and request ids are generated.
// The user id is trusted as set by the upstream authenticating proxy.
func Trace() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		traceID := headerOrNew(c, TraceIDHeader)
		c.Set(response.TraceKey, traceID)
		ctx = context.WithValue(ctx, contextkey.TraceID, traceID)
		c.Header(TraceIDHeader, traceID)

		requestID := headerOrNew(c, RequestIDHeader)
		c.Set(requestIDKey, requestID)
		ctx = context.WithValue(ctx, contextkey.RequestID, requestID)
		c.Header(RequestIDHeader, requestID)

		if userID := strings.TrimSpace(c.GetHeader(UserIDHeader)); userID != "" {
			c.Set(userIDKey, userID)
			ctx = context.WithValue(ctx, contextkey.UserID, userID)
		}

		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// UserID returns the caller id set by Trace.
func UserID(c *gin.Context) string {
	return c.GetString(userIDKey)
}

func headerOrNew(c *gin.Context, name string) string {
	if v := strings.TrimSpace(c.GetHeader(name)); v != "" {
		return v
	}
	return uuid.NewString()
}
