package middleware

import (
	"fmt"
	"time"

	"arenajudge/internal/common/cache"
	appErr "arenajudge/pkg/errors"
	"arenajudge/pkg/utils/logger"
	"arenajudge/pkg/utils/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RateLimitPolicy bounds requests per client IP on one route.
type RateLimitPolicy struct {
	Window time.Duration `yaml:"window"`
	IPMax  int64         `yaml:"ipMax"`
}

// RateLimit rejects requests over policy with TooManyRequests.
// Cache failures let the request through.
func RateLimit(c cache.Cache, routeKey string, policy RateLimitPolicy) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if c == nil || policy.IPMax <= 0 || policy.Window <= 0 {
			ctx.Next()
			return
		}
		key := fmt.Sprintf("arena:rate:ip:%s:%s", ctx.ClientIP(), routeKey)
		allowed, err := cache.AllowInWindow(ctx.Request.Context(), c, key, policy.IPMax, policy.Window)
		if err != nil {
			logger.Warn(ctx.Request.Context(), "rate limit check failed", zap.String("route", routeKey), zap.Error(err))
			ctx.Next()
			return
		}
		if !allowed {
			response.Error(ctx, appErr.New(appErr.TooManyRequests).WithMessage("too many requests"))
			ctx.Abort()
			return
		}
		ctx.Next()
	}
}
