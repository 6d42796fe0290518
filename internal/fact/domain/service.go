package domain

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var (
	ErrOrphanRevenue        = errors.New("orphan_revenue")
	ErrOrphanCost           = errors.New("orphan_cost")
	ErrInvalidAmount        = errors.New("invalid_amount")
	ErrTimeout              = errors.New("fact_io_timeout")
	ErrExchangeRateNotFound = errors.New("exchange_rate_not_found")
	ErrUnsupportedCurrency  = errors.New("unsupported_currency")
	ErrContentNotFound      = errors.New("content_not_found")
)

// Reader is read-only access to facts. Lists are ordered by natural timestamp, then id.
type Reader interface {
	GetContent(ctx context.Context, contentID string) (*Content, error)
	ListContentIDs(ctx context.Context) ([]string, error)
	ListEngagement(ctx context.Context, contentID string, from, to time.Time) ([]EngagementEvent, error)
	// ListCosts returns every cost for the content dated on or before until.
	ListCosts(ctx context.Context, contentID string, until time.Time) ([]Cost, error)
	ListRevenue(ctx context.Context, contentID string, from, to time.Time) ([]RevenueEvent, error)
}

// RateLookup converts amounts between currencies.
type RateLookup interface {
	Rate(ctx context.Context, from, to string, on time.Time) (decimal.Decimal, error)
}

type Repository interface {
	FindContent(ctx context.Context, db *gorm.DB, contentID string) (*Content, error)
	ListContentIDs(ctx context.Context, db *gorm.DB) ([]string, error)
	ListEngagement(ctx context.Context, db *gorm.DB, contentID string, from, to time.Time) ([]EngagementEvent, error)
	ListCosts(ctx context.Context, db *gorm.DB, contentID string, until time.Time) ([]Cost, error)
	ListRevenue(ctx context.Context, db *gorm.DB, contentID string, from, to time.Time) ([]RevenueEvent, error)
	LatestRate(ctx context.Context, db *gorm.DB, from, to string, on time.Time) (*ExchangeRate, error)
}
