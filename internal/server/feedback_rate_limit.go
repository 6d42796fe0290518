package server

import (
	"math"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/contentfin/internal/observability/logger"
	"go.uber.org/zap"
)

// FeedbackSubmitRateLimit bounds submissions per actor.
func (s *Server) FeedbackSubmitRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.limiter == nil || !s.limiter.Enabled() {
			c.Next()
			return
		}

		actor, ok := actorFromContext(c)
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		ctx := c.Request.Context()
		result, err := s.limiter.AllowActor(ctx, actor.ID)
		if err != nil {
			logger.FromContext(ctx).Warn("feedback submit rate limit check failed", zap.Error(err))
			AbortWithError(c, ErrServiceUnavailable)
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(result.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
		if !result.Allowed {
			logger.FromContext(ctx).Warn("feedback submit rate limit exceeded",
				zap.String("actor_id", actor.ID),
				zap.Duration("retry_after", result.RetryAfter),
			)
			c.Header("Retry-After", strconv.Itoa(retryAfterSeconds(result.RetryAfter.Seconds())))
			AbortWithError(c, ErrTooManyRequests)
			return
		}
		c.Next()
	}
}

func retryAfterSeconds(seconds float64) int {
	if seconds <= 1 {
		return 1
	}
	return int(math.Ceil(seconds))
}
