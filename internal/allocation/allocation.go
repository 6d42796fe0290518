// Package allocation spreads a cost over the days it is consumed.
package allocation

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	factdomain "github.com/smallbiznis/contentfin/internal/fact/domain"
	ruledomain "github.com/smallbiznis/contentfin/internal/rule/domain"
)

// DaysPerMonth converts amortization months into days.
var DaysPerMonth = decimal.RequireFromString("30.44")

var ErrWrongRuleType = errors.New("allocation_requires_amortization_rule")

type Metric string

const (
	MetricNone        Metric = ""
	MetricViews       Metric = "views"
	MetricConversions Metric = "conversions"
)

type DailyAllocation struct {
	Date   time.Time
	Amount decimal.Decimal
}

// Schedule is the per-day spread of one cost. Amounts sum exactly to the cost.
type Schedule struct {
	CostID    snowflake.ID
	ContentID string
	CostType  factdomain.CostType
	Currency  string
	Method    ruledomain.AmortizationMethod
	// Metric is the engagement measure used by performance_based allocation.
	Metric Metric
	Days   []DailyAllocation
}

// Total sums the schedule.
func (s Schedule) Total() decimal.Decimal {
	total := decimal.Zero
	for _, d := range s.Days {
		total = total.Add(d.Amount)
	}
	return total
}

func round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// Allocate spreads cost per rule. paid_media is always immediate. The final
// day of every schedule absorbs rounding so the total equals the cost amount.
func Allocate(cost factdomain.Cost, engagement []factdomain.DailyEngagement, rule ruledomain.EffectiveRule) (Schedule, error) {
	if rule.RuleType != ruledomain.RuleTypeAmortization {
		return Schedule{}, ErrWrongRuleType
	}
	if !cost.Amount.IsPositive() {
		return Schedule{}, fmt.Errorf("%w: cost %s amount %s", factdomain.ErrInvalidAmount, cost.ID, cost.Amount.String())
	}

	schedule := Schedule{
		CostID:    cost.ID,
		ContentID: cost.ContentID,
		CostType:  cost.CostType,
		Currency:  cost.Currency,
		Method:    rule.AmortizationMethod,
	}
	amount := round2(cost.Amount)
	start := factdomain.DateOf(cost.CostDate)

	if cost.CostType == factdomain.CostTypePaidMedia {
		schedule.Method = ruledomain.AmortizationImmediate
		schedule.Days = immediate(start, amount)
		return schedule, nil
	}

	switch rule.AmortizationMethod {
	case ruledomain.AmortizationImmediate:
		schedule.Days = immediate(start, amount)
	case ruledomain.AmortizationStraightLine:
		schedule.Days = straightLine(start, amount, rule.PeriodMonths)
	case ruledomain.AmortizationPerformanceBased:
		days, metric := performanceBased(start, amount, engagement)
		if days == nil {
			schedule.Method = ruledomain.AmortizationStraightLine
			schedule.Days = straightLine(start, amount, rule.PeriodMonths)
			break
		}
		schedule.Metric = metric
		schedule.Days = days
	default:
		return Schedule{}, fmt.Errorf("%w: unknown amortization_method %q", ruledomain.ErrInvalidFragment, rule.AmortizationMethod)
	}
	return schedule, nil
}

func immediate(start time.Time, amount decimal.Decimal) []DailyAllocation {
	return []DailyAllocation{{Date: start, Amount: amount}}
}

// straightLine uses a daily share of amount / (months × 30.44) over
// floor(months × 30.44) days.
func straightLine(start time.Time, amount decimal.Decimal, months int) []DailyAllocation {
	if months <= 0 {
		return immediate(start, amount)
	}
	periodDays := decimal.NewFromInt(int64(months)).Mul(DaysPerMonth)
	days := int(math.Floor(periodDays.InexactFloat64()))
	if days < 1 {
		days = 1
	}
	share := round2(amount.Div(periodDays))

	out := make([]DailyAllocation, 0, days)
	remaining := amount
	for i := 0; i < days; i++ {
		day := start.AddDate(0, 0, i)
		if i == days-1 {
			out = append(out, DailyAllocation{Date: day, Amount: remaining})
			break
		}
		portion := decimal.Min(share, remaining)
		out = append(out, DailyAllocation{Date: day, Amount: portion})
		remaining = remaining.Sub(portion)
	}
	return out
}

// performanceBased weights days by views, falling back to conversions. It
// returns nil when neither has any volume on or after start.
func performanceBased(start time.Time, amount decimal.Decimal, engagement []factdomain.DailyEngagement) ([]DailyAllocation, Metric) {
	eligible := make([]factdomain.DailyEngagement, 0, len(engagement))
	var views, conversions int64
	for _, e := range engagement {
		if e.Date.Before(start) {
			continue
		}
		eligible = append(eligible, e)
		views += e.Views
		conversions += e.Conversions
	}

	metric := MetricViews
	total := views
	value := func(e factdomain.DailyEngagement) int64 { return e.Views }
	if views <= 0 {
		metric = MetricConversions
		total = conversions
		value = func(e factdomain.DailyEngagement) int64 { return e.Conversions }
	}
	if total <= 0 {
		return nil, MetricNone
	}

	// last day with volume absorbs the remainder
	last := -1
	for i, e := range eligible {
		if value(e) > 0 {
			last = i
		}
	}

	totalDec := decimal.NewFromInt(total)
	out := make([]DailyAllocation, 0, len(eligible))
	remaining := amount
	for i, e := range eligible {
		v := value(e)
		if v <= 0 {
			continue
		}
		if i == last {
			out = append(out, DailyAllocation{Date: e.Date, Amount: remaining})
			break
		}
		portion := decimal.Min(round2(amount.Mul(decimal.NewFromInt(v)).Div(totalDec)), remaining)
		out = append(out, DailyAllocation{Date: e.Date, Amount: portion})
		remaining = remaining.Sub(portion)
	}
	return out, metric
}
