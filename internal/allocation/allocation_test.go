package allocation

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	factdomain "github.com/smallbiznis/contentfin/internal/fact/domain"
	ruledomain "github.com/smallbiznis/contentfin/internal/rule/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var costDate = time.Date(2024, 1, 1, 9, 30, 0, 0, time.UTC)

func amortization(method ruledomain.AmortizationMethod, months int) ruledomain.EffectiveRule {
	return ruledomain.EffectiveRule{
		RuleType:           ruledomain.RuleTypeAmortization,
		AmortizationMethod: method,
		PeriodMonths:       months,
	}
}

func cost(amount string, costType factdomain.CostType) factdomain.Cost {
	return factdomain.Cost{
		ID:        1,
		ContentID: "c1",
		CostType:  costType,
		Amount:    decimal.RequireFromString(amount),
		Currency:  "USD",
		CostDate:  costDate,
	}
}

func TestAllocate_StraightLineTwelveMonths(t *testing.T) {
	s, err := Allocate(cost("1200", factdomain.CostTypeProduction), nil, amortization(ruledomain.AmortizationStraightLine, 12))
	require.NoError(t, err)

	require.Len(t, s.Days, 365)
	assert.Equal(t, "3.29", s.Days[0].Amount.StringFixed(2))
	assert.Equal(t, "3.29", s.Days[363].Amount.StringFixed(2))
	assert.Equal(t, "2.44", s.Days[364].Amount.StringFixed(2))
	assert.Equal(t, "1200.00", s.Total().StringFixed(2))
	assert.Equal(t, factdomain.DateOf(costDate), s.Days[0].Date)
	assert.Equal(t, factdomain.DateOf(costDate).AddDate(0, 0, 364), s.Days[364].Date)
}

func TestAllocate_PaidMediaIsImmediate(t *testing.T) {
	s, err := Allocate(cost("500", factdomain.CostTypePaidMedia), nil, amortization(ruledomain.AmortizationStraightLine, 12))
	require.NoError(t, err)
	require.Len(t, s.Days, 1)
	assert.Equal(t, ruledomain.AmortizationImmediate, s.Method)
	assert.Equal(t, "500.00", s.Days[0].Amount.StringFixed(2))
}

func TestAllocate_NonPositivePeriodLandsOnCostDate(t *testing.T) {
	s, err := Allocate(cost("75.50", factdomain.CostTypeTooling), nil, amortization(ruledomain.AmortizationStraightLine, 0))
	require.NoError(t, err)
	require.Len(t, s.Days, 1)
	assert.Equal(t, "75.50", s.Days[0].Amount.StringFixed(2))
}

func TestAllocate_PerformanceBasedByViews(t *testing.T) {
	d := factdomain.DateOf(costDate)
	engagement := []factdomain.DailyEngagement{
		{Date: d.AddDate(0, 0, -1), Views: 1000},
		{Date: d, Views: 1, Conversions: 9},
		{Date: d.AddDate(0, 0, 1), Views: 1},
		{Date: d.AddDate(0, 0, 2), Views: 1},
		{Date: d.AddDate(0, 0, 3)},
	}
	s, err := Allocate(cost("100", factdomain.CostTypeProduction), engagement, amortization(ruledomain.AmortizationPerformanceBased, 12))
	require.NoError(t, err)

	assert.Equal(t, MetricViews, s.Metric)
	require.Len(t, s.Days, 3)
	assert.Equal(t, "33.33", s.Days[0].Amount.StringFixed(2))
	assert.Equal(t, "33.33", s.Days[1].Amount.StringFixed(2))
	assert.Equal(t, "33.34", s.Days[2].Amount.StringFixed(2))
	assert.Equal(t, "100.00", s.Total().StringFixed(2))
}

func TestAllocate_PerformanceBasedFallsBackToConversions(t *testing.T) {
	d := factdomain.DateOf(costDate)
	engagement := []factdomain.DailyEngagement{
		{Date: d, Conversions: 1},
		{Date: d.AddDate(0, 0, 5), Conversions: 3},
	}
	s, err := Allocate(cost("40", factdomain.CostTypeLicensing), engagement, amortization(ruledomain.AmortizationPerformanceBased, 12))
	require.NoError(t, err)
	assert.Equal(t, MetricConversions, s.Metric)
	require.Len(t, s.Days, 2)
	assert.Equal(t, "10.00", s.Days[0].Amount.StringFixed(2))
	assert.Equal(t, "30.00", s.Days[1].Amount.StringFixed(2))
}

func TestAllocate_PerformanceBasedWithoutEngagementIsStraightLine(t *testing.T) {
	s, err := Allocate(cost("1200", factdomain.CostTypeProduction), nil, amortization(ruledomain.AmortizationPerformanceBased, 12))
	require.NoError(t, err)
	assert.Equal(t, ruledomain.AmortizationStraightLine, s.Method)
	assert.Len(t, s.Days, 365)
	assert.Equal(t, MetricNone, s.Metric)
}

func TestAllocate_Conservation(t *testing.T) {
	amounts := []string{"0.01", "0.99", "1", "17.17", "999.99", "1200", "123456.78"}
	methods := []ruledomain.AmortizationMethod{
		ruledomain.AmortizationImmediate,
		ruledomain.AmortizationStraightLine,
		ruledomain.AmortizationPerformanceBased,
	}
	d := factdomain.DateOf(costDate)
	engagement := []factdomain.DailyEngagement{
		{Date: d, Views: 7},
		{Date: d.AddDate(0, 0, 1), Views: 13},
		{Date: d.AddDate(0, 0, 9), Views: 3},
	}
	for _, amount := range amounts {
		for _, method := range methods {
			for _, months := range []int{1, 3, 12, 24} {
				c := cost(amount, factdomain.CostTypeProduction)
				s, err := Allocate(c, engagement, amortization(method, months))
				require.NoError(t, err)
				assert.True(t, s.Total().Equal(c.Amount.Round(2)), "%s %s %d: got %s", amount, method, months, s.Total())
				for _, day := range s.Days {
					assert.False(t, day.Amount.IsNegative(), "%s %s %d", amount, method, months)
				}
			}
		}
	}
}

func TestAllocate_RejectsBadInput(t *testing.T) {
	_, err := Allocate(cost("0", factdomain.CostTypeProduction), nil, amortization(ruledomain.AmortizationStraightLine, 12))
	assert.ErrorIs(t, err, factdomain.ErrInvalidAmount)

	_, err = Allocate(cost("10", factdomain.CostTypeProduction), nil, ruledomain.EffectiveRule{RuleType: ruledomain.RuleTypeAttribution})
	assert.ErrorIs(t, err, ErrWrongRuleType)
}

func TestLedger_PrefixSums(t *testing.T) {
	rule := amortization(ruledomain.AmortizationStraightLine, 1)
	first, err := Allocate(cost("30.44", factdomain.CostTypeProduction), nil, rule)
	require.NoError(t, err)
	second := cost("10", factdomain.CostTypeProduction)
	second.ID = 2
	secondSchedule, err := Allocate(second, nil, amortization(ruledomain.AmortizationImmediate, 0))
	require.NoError(t, err)

	ledger := NewLedger()
	ledger.Add(first)
	ledger.Add(secondSchedule)

	entries := ledger.Entries()
	require.Len(t, entries, 30)
	assert.Equal(t, "11.00", entries[0].Allocated.StringFixed(2))
	assert.Equal(t, "29.44", entries[0].Remaining.StringFixed(2))
	last := entries[len(entries)-1]
	assert.Equal(t, "40.44", last.Cumulative.StringFixed(2))
	assert.True(t, last.Remaining.IsZero())

	cumulative, remaining := ledger.Position("c1", factdomain.CostTypeProduction, factdomain.DateOf(costDate).AddDate(0, 0, 1))
	assert.Equal(t, "12.00", cumulative.StringFixed(2))
	assert.Equal(t, "28.44", remaining.StringFixed(2))
}
