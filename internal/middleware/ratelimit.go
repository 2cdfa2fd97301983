package middleware

import (
	"fmt"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	redisc "github.com/newsdigest/core/internal/pkg/redis"
	"github.com/newsdigest/core/internal/pkg/response"
	"go.uber.org/zap"
)

// RateLimit allows limit requests per client IP per window for the named
// bucket. Authenticated staff are not limited. Redis errors let the request
// through.
func RateLimit(rc *redisc.Client, bucket string, limit int64, window time.Duration, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if rc == nil || IsAuthenticated(c) {
			c.Next()
			return
		}
		ip := c.ClientIP()
		if ip == "" {
			c.Next()
			return
		}

		key := fmt.Sprintf("newsdigest:rate_limit:%s:%s", bucket, ip)
		ok, err := rc.Allow(c.Request.Context(), key, limit, window)
		if err != nil {
			log.Warn("rate limit check failed", zap.String("bucket", bucket), zap.Error(err))
			c.Next()
			return
		}
		if !ok {
			log.Info("rate limited", zap.String("bucket", bucket), zap.String("ip", ip), zap.String("path", c.Request.URL.Path))
			c.Header("Retry-After", strconv.Itoa(int(window.Seconds())))
			response.TooManyRequests(c)
			return
		}
		c.Next()
	}
}
