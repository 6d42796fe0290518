// Package engine computes DailyMetric partitions: resolve rules, allocate
// costs, attribute revenue, aggregate, write.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/contentfin/internal/allocation"
	"github.com/smallbiznis/contentfin/internal/attribution"
	"github.com/smallbiznis/contentfin/internal/config"
	factdomain "github.com/smallbiznis/contentfin/internal/fact/domain"
	"github.com/smallbiznis/contentfin/internal/kpi"
	kpidomain "github.com/smallbiznis/contentfin/internal/kpi/domain"
	"github.com/smallbiznis/contentfin/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/contentfin/internal/observability/metrics"
	ruledomain "github.com/smallbiznis/contentfin/internal/rule/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	FactKindCost    = "cost"
	FactKindRevenue = "revenue"
)

var ErrInvalidPartition = errors.New("invalid_partition")

// Partition is one content item over an inclusive range of days.
type Partition struct {
	ContentID string    `json:"content_id"`
	From      time.Time `json:"from"`
	To        time.Time `json:"to"`
}

func (p Partition) normalized() Partition {
	return Partition{ContentID: p.ContentID, From: factdomain.DateOf(p.From), To: factdomain.DateOf(p.To)}
}

func (p Partition) Validate() error {
	if p.ContentID == "" {
		return fmt.Errorf("%w: content_id is required", ErrInvalidPartition)
	}
	if p.From.IsZero() || p.To.IsZero() || factdomain.DateOf(p.To).Before(factdomain.DateOf(p.From)) {
		return fmt.Errorf("%w: range %s..%s", ErrInvalidPartition, p.From.Format(time.DateOnly), p.To.Format(time.DateOnly))
	}
	return nil
}

// SkippedFact is a fact excluded from aggregates, kept for the data-quality report.
type SkippedFact struct {
	Kind   string       `json:"kind"`
	FactID snowflake.ID `json:"fact_id"`
	Reason string       `json:"reason"`
	Err    string       `json:"error"`
}

type RowWarning struct {
	Date    time.Time `json:"date"`
	Code    string    `json:"code"`
	Message string    `json:"message"`
}

type Report struct {
	Skipped  []SkippedFact `json:"skipped,omitempty"`
	Warnings []RowWarning  `json:"warnings,omitempty"`
}

// Result is a computed partition. Ledger may be nil when nothing was allocated.
type Result struct {
	Partition Partition                `json:"partition"`
	AsOf      time.Time                `json:"as_of"`
	Metrics   []kpidomain.DailyMetric  `json:"metrics"`
	Ledger    []allocation.LedgerEntry `json:"ledger,omitempty"`
	Report    Report                   `json:"report"`
}

type Params struct {
	fx.In

	DB               *gorm.DB
	Log              *zap.Logger
	Config           config.Config
	Finance          *config.FinanceConfigHolder
	Reader           factdomain.Reader
	Rates            factdomain.RateLookup
	Rules            ruledomain.Service
	Writer           kpidomain.Writer
	Metrics          *obsmetrics.Metrics          `optional:"true"`
	SchedulerMetrics *obsmetrics.SchedulerMetrics `optional:"true"`
}

type Engine struct {
	db               *gorm.DB
	log              *zap.Logger
	concurrency      int
	finance          *config.FinanceConfigHolder
	reader           factdomain.Reader
	rates            factdomain.RateLookup
	rules            ruledomain.Service
	writer           kpidomain.Writer
	metrics          *obsmetrics.Metrics
	schedulerMetrics *obsmetrics.SchedulerMetrics
	tracer           trace.Tracer
}

func New(p Params) *Engine {
	concurrency := p.Config.EngineConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	finance := p.Finance
	if finance == nil {
		finance = config.StaticFinanceConfig(config.DefaultFinanceConfig())
	}
	return &Engine{
		db:               p.DB,
		log:              p.Log.Named("engine"),
		concurrency:      concurrency,
		finance:          finance,
		reader:           p.Reader,
		rates:            p.Rates,
		rules:            p.Rules,
		writer:           p.Writer,
		metrics:          p.Metrics,
		schedulerMetrics: p.SchedulerMetrics,
		tracer:           otel.Tracer("contentfin/engine"),
	}
}

// ComputePartition computes one partition under resolver at asOf without
// writing anything. Skipped facts land in the report; rule resolution and
// storage failures abort the partition.
func (e *Engine) ComputePartition(ctx context.Context, p Partition, asOf time.Time, resolver ruledomain.Resolver) (Result, error) {
	if err := p.Validate(); err != nil {
		return Result{}, err
	}
	p = p.normalized()
	asOf = asOf.UTC()

	ctx, span := e.tracer.Start(ctx, "engine.ComputePartition", trace.WithAttributes(
		attribute.String("content_id", p.ContentID),
		attribute.String("range_start", p.From.Format(time.DateOnly)),
		attribute.String("range_end", p.To.Format(time.DateOnly)),
	))
	defer span.End()

	result, err := e.compute(ctx, p, asOf, resolver)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return result, err
}

func (e *Engine) compute(ctx context.Context, p Partition, asOf time.Time, resolver ruledomain.Resolver) (Result, error) {
	result := Result{Partition: p, AsOf: asOf, Metrics: []kpidomain.DailyMetric{}}
	finance := e.finance.Get()
	end := p.To.AddDate(0, 0, 1)

	content, err := e.reader.GetContent(ctx, p.ContentID)
	if err != nil {
		return Result{}, err
	}
	costs, err := e.reader.ListCosts(ctx, p.ContentID, end.Add(-time.Nanosecond))
	if err != nil {
		return Result{}, err
	}
	revenue, err := e.reader.ListRevenue(ctx, p.ContentID, p.From, end)
	if err != nil {
		return Result{}, err
	}

	if content == nil {
		for _, c := range costs {
			result.Report.skip(FactKindCost, c.ID, fmt.Errorf("%w: content %s", factdomain.ErrOrphanCost, p.ContentID))
		}
		for _, r := range revenue {
			result.Report.skip(FactKindRevenue, r.ID, fmt.Errorf("%w: content %s", factdomain.ErrOrphanRevenue, p.ContentID))
		}
		return result, nil
	}

	amortization, err := resolver.Resolve(ctx, ruledomain.RuleTypeAmortization, p.ContentID, asOf)
	if err != nil {
		return Result{}, err
	}
	attributionRule, err := resolver.Resolve(ctx, ruledomain.RuleTypeAttribution, p.ContentID, asOf)
	if err != nil {
		return Result{}, err
	}
	channelPct := 0.0
	allocationRule, err := resolver.Resolve(ctx, ruledomain.RuleTypeAllocation, p.ContentID, asOf)
	switch {
	case err == nil:
		channelPct = allocationRule.ChannelAllocationPct
	case !errors.Is(err, ruledomain.ErrRuleNotFound):
		return Result{}, err
	}

	// Performance-based allocation spreads each cost over all engagement from
	// its cost date through asOf, whatever the partition range. Aggregate
	// clips the schedules to [From, To].
	engagementStart := p.From
	for _, c := range costs {
		if d := factdomain.DateOf(c.CostDate); d.Before(engagementStart) {
			engagementStart = d
		}
	}
	engagementEnd := factdomain.DateOf(asOf).AddDate(0, 0, 1)
	var daily []factdomain.DailyEngagement
	if engagementStart.Before(engagementEnd) {
		events, err := e.reader.ListEngagement(ctx, p.ContentID, engagementStart, engagementEnd)
		if err != nil {
			return Result{}, err
		}
		daily = factdomain.RollupDaily(events)
	}

	ledger := allocation.NewLedger()
	schedules := make([]allocation.Schedule, 0, len(costs))
	for _, c := range costs {
		if err := factdomain.ValidateCost(c, asOf); err != nil {
			result.Report.skip(FactKindCost, c.ID, err)
			continue
		}
		converted, err := e.convert(ctx, finance, c.Currency, c.CostDate, c.Amount)
		if err != nil {
			if isSkippable(err) {
				result.Report.skip(FactKindCost, c.ID, err)
				continue
			}
			return Result{}, err
		}
		c.Amount = converted
		c.Currency = finance.ReportingCurrency
		schedule, err := allocation.Allocate(c, daily, amortization)
		if err != nil {
			if errors.Is(err, factdomain.ErrInvalidAmount) {
				result.Report.skip(FactKindCost, c.ID, err)
				continue
			}
			return Result{}, err
		}
		ledger.Add(schedule)
		schedules = append(schedules, schedule)
	}

	attributions := make([]attribution.Attribution, 0, len(revenue))
	for _, r := range revenue {
		if err := factdomain.ValidateRevenue(r, asOf); err != nil {
			result.Report.skip(FactKindRevenue, r.ID, err)
			continue
		}
		converted, err := e.convert(ctx, finance, r.Currency, r.RevenueDate, r.Amount)
		if err != nil {
			if isSkippable(err) {
				result.Report.skip(FactKindRevenue, r.ID, err)
				continue
			}
			return Result{}, err
		}
		r.Amount = converted
		r.Currency = finance.ReportingCurrency
		a, err := attribution.Attribute(r, content, attributionRule)
		if err != nil {
			if isSkippable(err) {
				result.Report.skip(FactKindRevenue, r.ID, err)
				continue
			}
			return Result{}, err
		}
		attributions = append(attributions, a)
	}

	result.Metrics = kpi.Aggregate(kpi.AggregateInput{
		ContentID:            p.ContentID,
		Currency:             finance.ReportingCurrency,
		PublishedAt:          content.PublishedAt,
		From:                 p.From,
		To:                   p.To,
		Engagement:           daily,
		Schedules:            schedules,
		Attributions:         attributions,
		AttributionModel:     attributionRule.AttributionModel,
		ChannelAllocationPct: channelPct,
		RuleAsOf:             asOf,
	})
	if entries := ledger.Entries(); len(entries) > 0 {
		result.Ledger = entries
	}
	for _, row := range result.Metrics {
		for _, w := range kpi.QualityWarnings(row, finance.Quality) {
			result.Report.Warnings = append(result.Report.Warnings, RowWarning{Date: row.EventDate, Code: w.Code, Message: w.Message})
		}
	}
	return result, nil
}

func (e *Engine) convert(ctx context.Context, finance config.FinanceConfig, currency string, on time.Time, amount decimal.Decimal) (decimal.Decimal, error) {
	if !finance.Supports(currency) {
		return amount, fmt.Errorf("%w: %q", factdomain.ErrUnsupportedCurrency, currency)
	}
	rate, err := e.rates.Rate(ctx, currency, finance.ReportingCurrency, on)
	if err != nil {
		return amount, err
	}
	return amount.Mul(rate).Round(2), nil
}

func isSkippable(err error) bool {
	return errors.Is(err, factdomain.ErrInvalidAmount) ||
		errors.Is(err, factdomain.ErrExchangeRateNotFound) ||
		errors.Is(err, factdomain.ErrUnsupportedCurrency) ||
		errors.Is(err, factdomain.ErrOrphanRevenue) ||
		errors.Is(err, factdomain.ErrOrphanCost)
}

func reasonOf(err error) string {
	for _, sentinel := range []error{
		factdomain.ErrOrphanCost,
		factdomain.ErrOrphanRevenue,
		factdomain.ErrInvalidAmount,
		factdomain.ErrExchangeRateNotFound,
		factdomain.ErrUnsupportedCurrency,
	} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return "unknown"
}

func (r *Report) skip(kind string, id snowflake.ID, err error) {
	r.Skipped = append(r.Skipped, SkippedFact{Kind: kind, FactID: id, Reason: reasonOf(err), Err: err.Error()})
}

// SkippedCounts groups skipped facts by (kind, reason).
func (r Report) SkippedCounts() map[[2]string]int {
	out := map[[2]string]int{}
	for _, s := range r.Skipped {
		out[[2]string{s.Kind, s.Reason}]++
	}
	return out
}

func (e *Engine) partitionLogger(ctx context.Context, p Partition) *zap.Logger {
	return logger.WithPartition(logger.WithContext(ctx, e.log), p.ContentID, p.From, p.To)
}
