package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/contentfin/internal/cache"
	"github.com/smallbiznis/contentfin/internal/clock"
	"github.com/smallbiznis/contentfin/internal/config"
	"github.com/smallbiznis/contentfin/internal/fact/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	Config config.Config
	Repo   domain.Repository
	Clock  clock.Clock `optional:"true"`
}

// Reader serves facts from the database, bounding every call by the
// configured I/O timeout.
type Reader struct {
	db      *gorm.DB
	log     *zap.Logger
	repo    domain.Repository
	timeout time.Duration
	rates   *cache.RateCache
}

func NewReader(p Params) *Reader {
	timeout := p.Config.FactIOTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Reader{
		db:      p.DB,
		log:     p.Log.Named("fact.reader"),
		repo:    p.Repo,
		timeout: timeout,
		rates:   cache.NewRateCache(p.Clock, p.Config.RateCacheTTL),
	}
}

func ProvideReader(r *Reader) domain.Reader { return r }

func ProvideRateLookup(r *Reader) domain.RateLookup { return r }

func (r *Reader) GetContent(ctx context.Context, contentID string) (*domain.Content, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	content, err := r.repo.FindContent(ctx, r.db, strings.TrimSpace(contentID))
	return content, r.wrap(ctx, "get content", err)
}

func (r *Reader) ListContentIDs(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	ids, err := r.repo.ListContentIDs(ctx, r.db)
	return ids, r.wrap(ctx, "list content ids", err)
}

func (r *Reader) ListEngagement(ctx context.Context, contentID string, from, to time.Time) ([]domain.EngagementEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	events, err := r.repo.ListEngagement(ctx, r.db, contentID, from, to)
	return events, r.wrap(ctx, "list engagement", err)
}

func (r *Reader) ListCosts(ctx context.Context, contentID string, until time.Time) ([]domain.Cost, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	costs, err := r.repo.ListCosts(ctx, r.db, contentID, until)
	return costs, r.wrap(ctx, "list costs", err)
}

func (r *Reader) ListRevenue(ctx context.Context, contentID string, from, to time.Time) ([]domain.RevenueEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	events, err := r.repo.ListRevenue(ctx, r.db, contentID, from, to)
	return events, r.wrap(ctx, "list revenue", err)
}

// Rate returns the latest from→to rate dated on or before on. Same-currency
// conversion is the identity.
func (r *Reader) Rate(ctx context.Context, from, to string, on time.Time) (decimal.Decimal, error) {
	from = strings.ToUpper(strings.TrimSpace(from))
	to = strings.ToUpper(strings.TrimSpace(to))
	if from == to {
		return decimal.NewFromInt(1), nil
	}
	if rate, ok := r.rates.Get(from, to, on); ok {
		return rate, nil
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	rate, err := r.repo.LatestRate(ctx, r.db, from, to, on)
	if err := r.wrap(ctx, "lookup exchange rate", err); err != nil {
		return decimal.Zero, err
	}
	if rate == nil || !rate.Rate.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: %s->%s on %s", domain.ErrExchangeRateNotFound, from, to, on.Format(time.DateOnly))
	}
	r.rates.Set(from, to, on, rate.Rate)
	return rate.Rate, nil
}

func (r *Reader) wrap(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		r.log.Warn("fact.read.timeout", zap.String("op", op), zap.Duration("timeout", r.timeout))
		return fmt.Errorf("%w: %s: %v", domain.ErrTimeout, op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
