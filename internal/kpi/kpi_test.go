package kpi

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/contentfin/internal/allocation"
	"github.com/smallbiznis/contentfin/internal/attribution"
	"github.com/smallbiznis/contentfin/internal/config"
	factdomain "github.com/smallbiznis/contentfin/internal/fact/domain"
	ruledomain "github.com/smallbiznis/contentfin/internal/rule/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func day(d int) time.Time { return time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC) }

func TestTierFor_Boundaries(t *testing.T) {
	cases := []struct {
		roi  string
		want ROITier
	}{
		{"-1000", TierNegative},
		{"-20.0001", TierNegative},
		{"-20", TierNeutral},
		{"-0.01", TierNeutral},
		{"0", TierPositive},
		{"19.9999", TierPositive},
		{"20", TierGood},
		{"50", TierExcellent},
		{"99.99", TierExcellent},
		{"100", TierExceptional},
		{"5000", TierExceptional},
	}
	for _, tc := range cases {
		t.Run(tc.roi, func(t *testing.T) {
			assert.Equal(t, tc.want, TierFor(dec(tc.roi)))
		})
	}
}

func TestDerive_TierUsesUnroundedROI(t *testing.T) {
	cases := []struct {
		revenue string
		want    ROITier
	}{
		{"119.99996", TierPositive},
		{"199.99996", TierExcellent},
		{"120", TierGood},
		{"200", TierExceptional},
	}
	for _, tc := range cases {
		t.Run(tc.revenue, func(t *testing.T) {
			d := Derive(Inputs{Cost: dec("100"), Revenue: dec(tc.revenue)})
			assert.Equal(t, tc.want, d.ROITier)
		})
	}

	d := Derive(Inputs{Cost: dec("100"), Revenue: dec("119.99996")})
	assert.True(t, d.ROIPct.Equal(dec("20")), d.ROIPct.String())
}

func TestStageFor_Boundaries(t *testing.T) {
	cases := map[int]LifecycleStage{
		0: StageLaunch, 7: StageLaunch, 8: StageGrowth, 30: StageGrowth,
		31: StageMature, 90: StageMature, 91: StageEstablished, 365: StageEstablished, 366: StageLegacy,
	}
	for days, want := range cases {
		assert.Equal(t, want, StageFor(days), "days=%d", days)
	}
}

func TestDerive_ZeroCostPolicy(t *testing.T) {
	d := Derive(Inputs{Impressions: 1000, Views: 100, Likes: 10, Cost: decimal.Zero, Revenue: dec("500")})

	assert.True(t, d.ROIPct.IsZero())
	assert.True(t, d.CPM.IsZero())
	assert.True(t, d.CPC.IsZero())
	assert.True(t, d.CPA.IsZero())
	assert.True(t, d.ROAS.IsZero())
	assert.True(t, d.NetProfit.Equal(dec("500")))
	assert.Equal(t, TierPositive, TierFor(d.ROIPct))
	assert.True(t, d.PerformanceScore.IsZero())
}

func TestDerive_ZeroDenominators(t *testing.T) {
	d := Derive(Inputs{Cost: dec("10")})

	assert.True(t, d.CPM.IsZero())
	assert.True(t, d.ViewRatePct.IsZero())
	assert.True(t, d.CTRPct.IsZero())
	assert.True(t, d.CVRPct.IsZero())
	assert.True(t, d.EngagementRatePct.IsZero())
	assert.True(t, d.ROIPct.Equal(dec("-100")))
	assert.Equal(t, TierNegative, TierFor(d.ROIPct))
}

func TestDerive_UnitEconomics(t *testing.T) {
	d := Derive(Inputs{
		Impressions: 10000, Views: 2000, Likes: 100, Shares: 50, Comments: 50,
		ClickThroughs: 200, Conversions: 20, Cost: dec("100"), Revenue: dec("150"),
	})

	assert.True(t, d.CPM.Equal(dec("10")))
	assert.True(t, d.CPC.Equal(dec("0.5")))
	assert.True(t, d.CPA.Equal(dec("5")))
	assert.True(t, d.ROIPct.Equal(dec("50")))
	assert.True(t, d.ROAS.Equal(dec("1.5")))
	assert.True(t, d.ViewRatePct.Equal(dec("20")))
	assert.True(t, d.CTRPct.Equal(dec("2")))
	assert.True(t, d.CVRPct.Equal(dec("10")))
	assert.True(t, d.EngagementRatePct.Equal(dec("10")))
	// 0.3*20 + 0.3*10 + 0.4*50
	assert.True(t, d.PerformanceScore.Equal(dec("29")), d.PerformanceScore.String())
}

func TestPerformanceScore_CapsROI(t *testing.T) {
	got := PerformanceScore(dec("10"), dec("10"), dec("400"))
	assert.True(t, got.Equal(dec("46")), got.String())
}

func TestAggregate_JoinsCostRevenueAndEngagement(t *testing.T) {
	in := AggregateInput{
		ContentID:   "c1",
		Currency:    "USD",
		PublishedAt: day(1),
		From:        day(1),
		To:          day(3),
		Engagement: []factdomain.DailyEngagement{
			{Date: day(2), Impressions: 1000, Views: 100, Likes: 5, ConversionValue: decimal.Zero},
		},
		Schedules: []allocation.Schedule{
			{CostType: factdomain.CostTypeProduction, Days: []allocation.DailyAllocation{
				{Date: day(1), Amount: dec("10")}, {Date: day(2), Amount: dec("10")}, {Date: day(5), Amount: dec("10")},
			}},
			{CostType: factdomain.CostTypeTooling, Days: []allocation.DailyAllocation{{Date: day(2), Amount: dec("5")}}},
		},
		Attributions: []attribution.Attribution{
			{Date: day(2), LastTouch: dec("30"), Linear: dec("20"), TimeDecay: dec("25")},
		},
		AttributionModel:     ruledomain.AttributionLinear,
		ChannelAllocationPct: 40,
		RuleAsOf:             day(10),
	}

	rows := Aggregate(in)
	require.Len(t, rows, 2)
	assert.Equal(t, day(1), rows[0].EventDate)
	assert.True(t, rows[0].AllocatedCost.Equal(dec("10")))
	assert.Equal(t, string(TierNegative), rows[0].ROITier)

	second := rows[1]
	assert.True(t, second.CostProduction.Equal(dec("10")))
	assert.True(t, second.CostTooling.Equal(dec("5")))
	assert.True(t, second.AllocatedCost.Equal(dec("15")))
	assert.True(t, second.ChannelCost.Equal(dec("6")))
	assert.True(t, second.AttributedRevenue.Equal(dec("20")))
	assert.True(t, second.RevenueLastTouch.Equal(dec("30")))
	assert.Equal(t, "linear", second.AttributionModel)
	assert.Equal(t, 1, second.DaysSincePublish)
	assert.Equal(t, string(StageLaunch), second.LifecycleStage)
	assert.NotEmpty(t, second.Checksum)
}

func TestAggregate_NoActivityNoRows(t *testing.T) {
	rows := Aggregate(AggregateInput{ContentID: "c1", From: day(1), To: day(31)})
	assert.Empty(t, rows)
}

func TestChecksum_IgnoresRuleAsOf(t *testing.T) {
	in := AggregateInput{
		ContentID: "c1", Currency: "USD", PublishedAt: day(1), From: day(1), To: day(1),
		Engagement: []factdomain.DailyEngagement{{Date: day(1), Views: 3, ConversionValue: decimal.Zero}},
		RuleAsOf:   day(1),
	}
	first := Aggregate(in)
	in.RuleAsOf = day(20)
	second := Aggregate(in)
	require.Len(t, first, 1)
	require.Len(t, second, 1)
	assert.Equal(t, first[0].Checksum, second[0].Checksum)

	in.Engagement[0].Views = 4
	third := Aggregate(in)
	assert.NotEqual(t, first[0].Checksum, third[0].Checksum)
}

func TestQualityWarnings(t *testing.T) {
	q := config.DefaultFinanceConfig().Quality
	rows := Aggregate(AggregateInput{
		ContentID: "c1", Currency: "USD", PublishedAt: day(1), From: day(1), To: day(1),
		Engagement: []factdomain.DailyEngagement{{Date: day(1), Impressions: 10, ConversionValue: decimal.Zero}},
		Schedules: []allocation.Schedule{{CostType: factdomain.CostTypeProduction, Days: []allocation.DailyAllocation{
			{Date: day(1), Amount: dec("100")},
		}}},
	})
	require.Len(t, rows, 1)

	warnings := QualityWarnings(rows[0], q)
	codes := make([]string, 0, len(warnings))
	for _, w := range warnings {
		codes = append(codes, w.Code)
	}
	assert.Contains(t, codes, "roi_below_min")
	assert.NotContains(t, codes, "cpm_below_min")
}

func TestDefinitions_ReturnsCopy(t *testing.T) {
	defs := Definitions()
	require.NotEmpty(t, defs)
	defs[0].Name = "changed"
	assert.NotEqual(t, "changed", Definitions()[0].Name)
}
