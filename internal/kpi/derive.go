package kpi

import "github.com/shopspring/decimal"

var (
	hundred  = decimal.NewFromInt(100)
	thousand = decimal.NewFromInt(1000)

	scoreRateWeight = decimal.RequireFromString("0.3")
	scoreROIWeight  = decimal.RequireFromString("0.4")
)

// Inputs are the summed facts for one row.
type Inputs struct {
	Impressions   int64
	Views         int64
	Likes         int64
	Shares        int64
	Comments      int64
	ClickThroughs int64
	Conversions   int64
	Cost          decimal.Decimal
	Revenue       decimal.Decimal
}

// Derived holds unit economics and rates. Every division by zero yields zero.
type Derived struct {
	CPM               decimal.Decimal
	CPC               decimal.Decimal
	CPA               decimal.Decimal
	ROIPct            decimal.Decimal
	ROAS              decimal.Decimal
	NetProfit         decimal.Decimal
	ViewRatePct       decimal.Decimal
	CTRPct            decimal.Decimal
	CVRPct            decimal.Decimal
	EngagementRatePct decimal.Decimal
	PerformanceScore  decimal.Decimal
	// ROITier is taken from the unrounded roi so stored rounding never moves a row across a boundary.
	ROITier ROITier
}

func safeDiv(num, den decimal.Decimal) decimal.Decimal {
	if den.IsZero() {
		return decimal.Zero
	}
	return num.Div(den)
}

func count(n int64) decimal.Decimal { return decimal.NewFromInt(n) }

// Derive computes the derived metrics. A zero cost yields roi_pct 0.
func Derive(in Inputs) Derived {
	roi := safeDiv(in.Revenue.Sub(in.Cost), in.Cost).Mul(hundred)
	d := Derived{
		CPM:       safeDiv(in.Cost, count(in.Impressions)).Mul(thousand).Round(4),
		CPC:       safeDiv(in.Cost, count(in.ClickThroughs)).Round(4),
		CPA:       safeDiv(in.Cost, count(in.Conversions)).Round(4),
		ROIPct:    roi.Round(4),
		ROAS:      safeDiv(in.Revenue, in.Cost).Round(4),
		NetProfit: in.Revenue.Sub(in.Cost).Round(2),

		ViewRatePct:       safeDiv(count(in.Views), count(in.Impressions)).Mul(hundred).Round(4),
		CTRPct:            safeDiv(count(in.ClickThroughs), count(in.Impressions)).Mul(hundred).Round(4),
		CVRPct:            safeDiv(count(in.Conversions), count(in.ClickThroughs)).Mul(hundred).Round(4),
		EngagementRatePct: safeDiv(count(in.Likes+in.Shares+in.Comments), count(in.Views)).Mul(hundred).Round(4),
	}
	d.PerformanceScore = PerformanceScore(d.ViewRatePct, d.EngagementRatePct, roi)
	d.ROITier = TierFor(roi)
	return d
}

// PerformanceScore is 0.3·view_rate + 0.3·engagement_rate + 0.4·min(roi, 100)
// when all three are positive, and 0 otherwise.
func PerformanceScore(viewRate, engagementRate, roiPct decimal.Decimal) decimal.Decimal {
	if !viewRate.IsPositive() || !engagementRate.IsPositive() || !roiPct.IsPositive() {
		return decimal.Zero
	}
	return scoreRateWeight.Mul(viewRate).
		Add(scoreRateWeight.Mul(engagementRate)).
		Add(scoreROIWeight.Mul(decimal.Min(roiPct, hundred))).
		Round(4)
}
