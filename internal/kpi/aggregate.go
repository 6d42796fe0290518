// Package kpi joins allocated cost, attributed revenue and engagement into
// DailyMetric rows and derives their unit economics.
package kpi

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/contentfin/internal/allocation"
	"github.com/smallbiznis/contentfin/internal/attribution"
	factdomain "github.com/smallbiznis/contentfin/internal/fact/domain"
	"github.com/smallbiznis/contentfin/internal/kpi/domain"
	ruledomain "github.com/smallbiznis/contentfin/internal/rule/domain"
)

// AggregateInput carries one partition's facts, already converted into Currency.
type AggregateInput struct {
	ContentID   string
	Currency    string
	PublishedAt time.Time
	// From and To are inclusive calendar days.
	From time.Time
	To   time.Time

	Engagement   []factdomain.DailyEngagement
	Schedules    []allocation.Schedule
	Attributions []attribution.Attribution

	AttributionModel     ruledomain.AttributionModel
	ChannelAllocationPct float64
	RuleAsOf             time.Time
}

type dayBucket struct {
	engagement factdomain.DailyEngagement
	costs      map[factdomain.CostType]decimal.Decimal
	lastTouch  decimal.Decimal
	linear     decimal.Decimal
	timeDecay  decimal.Decimal
	selected   decimal.Decimal
}

func newBucket(date time.Time) *dayBucket {
	return &dayBucket{
		engagement: factdomain.DailyEngagement{Date: date, ConversionValue: decimal.Zero},
		costs:      map[factdomain.CostType]decimal.Decimal{},
		lastTouch:  decimal.Zero,
		linear:     decimal.Zero,
		timeDecay:  decimal.Zero,
		selected:   decimal.Zero,
	}
}

// Aggregate returns one row per day in [From, To] that has engagement,
// allocated cost or attributed revenue, sorted by date. It is pure.
func Aggregate(in AggregateInput) []domain.DailyMetric {
	from := factdomain.DateOf(in.From)
	to := factdomain.DateOf(in.To)
	inRange := func(d time.Time) bool { return !d.Before(from) && !d.After(to) }

	buckets := map[time.Time]*dayBucket{}
	bucket := func(d time.Time) *dayBucket {
		b, ok := buckets[d]
		if !ok {
			b = newBucket(d)
			buckets[d] = b
		}
		return b
	}

	for _, e := range in.Engagement {
		d := factdomain.DateOf(e.Date)
		if !inRange(d) {
			continue
		}
		b := bucket(d)
		e.Date = d
		e.ConversionValue = b.engagement.ConversionValue.Add(e.ConversionValue)
		e.Impressions += b.engagement.Impressions
		e.Views += b.engagement.Views
		e.UniqueViewers += b.engagement.UniqueViewers
		e.Likes += b.engagement.Likes
		e.Shares += b.engagement.Shares
		e.Comments += b.engagement.Comments
		e.ClickThroughs += b.engagement.ClickThroughs
		e.Conversions += b.engagement.Conversions
		b.engagement = e
	}

	for _, s := range in.Schedules {
		for _, day := range s.Days {
			d := factdomain.DateOf(day.Date)
			if !inRange(d) {
				continue
			}
			b := bucket(d)
			if prev, ok := b.costs[s.CostType]; ok {
				b.costs[s.CostType] = prev.Add(day.Amount)
			} else {
				b.costs[s.CostType] = day.Amount
			}
		}
	}

	for _, a := range in.Attributions {
		d := factdomain.DateOf(a.Date)
		if !inRange(d) {
			continue
		}
		b := bucket(d)
		b.lastTouch = b.lastTouch.Add(a.LastTouch)
		b.linear = b.linear.Add(a.Linear)
		b.timeDecay = b.timeDecay.Add(a.TimeDecay)
		b.selected = b.selected.Add(a.Amount(in.AttributionModel))
	}

	dates := make([]time.Time, 0, len(buckets))
	for d := range buckets {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	channelShare := decimal.NewFromFloat(in.ChannelAllocationPct).Div(hundred)
	rows := make([]domain.DailyMetric, 0, len(dates))
	for _, d := range dates {
		rows = append(rows, buildRow(in, buckets[d], channelShare))
	}
	return rows
}

func buildRow(in AggregateInput, b *dayBucket, channelShare decimal.Decimal) domain.DailyMetric {
	costOf := func(t factdomain.CostType) decimal.Decimal {
		if v, ok := b.costs[t]; ok {
			return v.Round(2)
		}
		return decimal.Zero
	}
	allocated := decimal.Zero
	for _, t := range factdomain.CostTypes {
		allocated = allocated.Add(costOf(t))
	}
	revenue := b.selected.Round(2)
	e := b.engagement

	derived := Derive(Inputs{
		Impressions:   e.Impressions,
		Views:         e.Views,
		Likes:         e.Likes,
		Shares:        e.Shares,
		Comments:      e.Comments,
		ClickThroughs: e.ClickThroughs,
		Conversions:   e.Conversions,
		Cost:          allocated,
		Revenue:       revenue,
	})
	days := attribution.DaysSincePublish(in.PublishedAt, e.Date)

	row := domain.DailyMetric{
		ContentID: in.ContentID,
		EventDate: e.Date,
		Currency:  in.Currency,

		Impressions:     e.Impressions,
		Views:           e.Views,
		UniqueViewers:   e.UniqueViewers,
		Likes:           e.Likes,
		Shares:          e.Shares,
		Comments:        e.Comments,
		ClickThroughs:   e.ClickThroughs,
		Conversions:     e.Conversions,
		ConversionValue: e.ConversionValue.Round(2),

		CostProduction:   costOf(factdomain.CostTypeProduction),
		CostLicensing:    costOf(factdomain.CostTypeLicensing),
		CostPaidMedia:    costOf(factdomain.CostTypePaidMedia),
		CostTooling:      costOf(factdomain.CostTypeTooling),
		CostDistribution: costOf(factdomain.CostTypeDistribution),
		AllocatedCost:    allocated,
		ChannelCost:      allocated.Mul(channelShare).Round(2),

		RevenueLastTouch:  b.lastTouch.Round(2),
		RevenueLinear:     b.linear.Round(2),
		RevenueTimeDecay:  b.timeDecay.Round(2),
		AttributedRevenue: revenue,
		AttributionModel:  string(in.AttributionModel),

		CPM:               derived.CPM,
		CPC:               derived.CPC,
		CPA:               derived.CPA,
		ROIPct:            derived.ROIPct,
		ROAS:              derived.ROAS,
		NetProfit:         derived.NetProfit,
		ViewRatePct:       derived.ViewRatePct,
		CTRPct:            derived.CTRPct,
		CVRPct:            derived.CVRPct,
		EngagementRatePct: derived.EngagementRatePct,
		PerformanceScore:  derived.PerformanceScore,
		ROITier:           string(derived.ROITier),
		DaysSincePublish:  days,
		LifecycleStage:    string(StageFor(days)),

		RuleAsOf: in.RuleAsOf.UTC(),
	}
	row.Checksum = Checksum(row)
	return row
}
