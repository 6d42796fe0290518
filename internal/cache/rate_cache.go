package cache

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/contentfin/internal/clock"
)

// RateCache memoises exchange-rate lookups per currency pair and day so a
// batch does not query the same rate once per fact. A nil *RateCache never
// hits.
type RateCache struct {
	rates Cache[string, decimal.Decimal]
	ttl   time.Duration
}

// NewRateCache returns nil when ttl is not positive.
func NewRateCache(clk clock.Clock, ttl time.Duration) *RateCache {
	if ttl <= 0 {
		return nil
	}
	return &RateCache{
		rates: NewTTLCache[string, decimal.Decimal](clk),
		ttl:   ttl,
	}
}

func (c *RateCache) Get(from, to string, on time.Time) (decimal.Decimal, bool) {
	if c == nil {
		return decimal.Zero, false
	}
	return c.rates.Get(rateKey(from, to, on))
}

func (c *RateCache) Set(from, to string, on time.Time, rate decimal.Decimal) {
	if c == nil || !rate.IsPositive() {
		return
	}
	c.rates.Set(rateKey(from, to, on), rate, c.ttl)
}

func rateKey(from, to string, on time.Time) string {
	return cacheKey(from, to, on.UTC().Format(time.DateOnly))
}

func cacheKey(parts ...string) string {
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		values = append(values, strings.ToLower(trimmed))
	}
	return strings.Join(values, "|")
}
