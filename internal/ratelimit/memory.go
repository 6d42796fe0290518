package ratelimit

import (
	"context"
	"sync"

	"github.com/smallbiznis/contentfin/internal/clock"
	"golang.org/x/time/rate"
)

// MemoryBucket keeps one limiter per key in process. Used when redis is not
// configured; each replica then enforces its own budget.
type MemoryBucket struct {
	clock clock.Clock

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewMemoryBucket(clk clock.Clock) *MemoryBucket {
	if clk == nil {
		clk = clock.NewSystemClock()
	}
	return &MemoryBucket{clock: clk, limiters: map[string]*rate.Limiter{}}
}

func (m *MemoryBucket) Allow(_ context.Context, key string, r float64, burst int) (*RateLimitResult, error) {
	if err := validate(key, r, burst); err != nil {
		return &RateLimitResult{Allowed: false}, err
	}

	m.mu.Lock()
	limiter, ok := m.limiters[key]
	if !ok || limiter.Limit() != rate.Limit(r) || limiter.Burst() != burst {
		limiter = rate.NewLimiter(rate.Limit(r), burst)
		m.limiters[key] = limiter
	}
	m.mu.Unlock()

	now := m.clock.Now()
	reservation := limiter.ReserveN(now, 1)
	if delay := reservation.DelayFrom(now); delay > 0 {
		reservation.CancelAt(now)
		return &RateLimitResult{
			Allowed:    false,
			Limit:      burst,
			Remaining:  0,
			ResetTime:  now.Add(delay),
			RetryAfter: delay,
		}, nil
	}
	remaining := limiter.TokensAt(now)
	if remaining < 0 {
		remaining = 0
	}
	return &RateLimitResult{
		Allowed:   true,
		Limit:     burst,
		Remaining: int(remaining),
		ResetTime: now,
	}, nil
}
