package cache

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/contentfin/internal/clock"
	"github.com/stretchr/testify/assert"
)

func TestTTLCache_Expires(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	c := NewTTLCache[string, int](clk)

	c.Set("a", 1, time.Minute)
	c.Set("b", 2, 0)

	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)
	_, ok = c.Get("b")
	assert.False(t, ok)
	assert.Equal(t, 1, c.Len())

	clk.Advance(time.Minute)
	_, ok = c.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())

	c.Set("a", 3, time.Minute)
	c.Delete("a")
	_, ok = c.Get("a")
	assert.False(t, ok)
}

func TestRateCache_KeysByPairAndDay(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	c := NewRateCache(clk, time.Hour)
	morning := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

	c.Set("EUR", "USD", morning, decimal.RequireFromString("1.1"))
	c.Set("GBP", "USD", morning, decimal.Zero)

	rate, ok := c.Get("eur", " usd", morning.Add(10*time.Hour))
	assert.True(t, ok)
	assert.True(t, rate.Equal(decimal.RequireFromString("1.1")))

	_, ok = c.Get("EUR", "USD", morning.AddDate(0, 0, 1))
	assert.False(t, ok)
	_, ok = c.Get("GBP", "USD", morning)
	assert.False(t, ok)
}

func TestRateCache_DisabledIsNil(t *testing.T) {
	c := NewRateCache(nil, 0)
	assert.Nil(t, c)

	c.Set("EUR", "USD", time.Now(), decimal.NewFromInt(1))
	_, ok := c.Get("EUR", "USD", time.Now())
	assert.False(t, ok)
}
