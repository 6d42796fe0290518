package ratelimit

import (
	"context"
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/contentfin/internal/clock"
	"github.com/smallbiznis/contentfin/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const keyFeedbackSubmitActor = "contentfin:ratelimit:feedback:submit:%s"

type SubmissionParams struct {
	fx.In

	Config config.Config
	Log    *zap.Logger
	Redis  *redis.Client `optional:"true"`
	Clock  clock.Clock   `optional:"true"`
}

// SubmissionLimiter bounds how often one actor may submit feedback.
type SubmissionLimiter struct {
	enabled bool
	bucket  Bucket
	rate    float64
	burst   int
}

func NewSubmissionLimiter(p SubmissionParams) (*SubmissionLimiter, error) {
	limitCfg := p.Config.RateLimit
	if !limitCfg.Enabled {
		return &SubmissionLimiter{}, nil
	}
	if limitCfg.FeedbackSubmitRate <= 0 || limitCfg.FeedbackSubmitBurst <= 0 {
		return nil, fmt.Errorf("%w: feedback submit rate and burst must be positive", ErrInvalidLimit)
	}

	var bucket Bucket
	if p.Redis != nil {
		bucket = NewTokenBucket(p.Redis)
	} else {
		p.Log.Warn("feedback rate limit held in memory; limits apply per replica")
		bucket = NewMemoryBucket(p.Clock)
	}
	return NewSubmissionLimiterWith(bucket, limitCfg.FeedbackSubmitRate, limitCfg.FeedbackSubmitBurst), nil
}

func NewSubmissionLimiterWith(bucket Bucket, rate float64, burst int) *SubmissionLimiter {
	return &SubmissionLimiter{enabled: true, bucket: bucket, rate: rate, burst: burst}
}

func (l *SubmissionLimiter) Enabled() bool {
	return l != nil && l.enabled
}

func (l *SubmissionLimiter) AllowActor(ctx context.Context, actorID string) (*RateLimitResult, error) {
	if !l.Enabled() {
		return &RateLimitResult{Allowed: true}, nil
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyFeedbackSubmitActor, strings.TrimSpace(actorID)), l.rate, l.burst)
}
