package kpi

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/contentfin/internal/kpi/domain"
)

// Checksum is a sha256 over the row's canonical values. RuleAsOf is not part
// of it, so identical numbers under a later asOf keep the same checksum.
func Checksum(row domain.DailyMetric) string {
	money := func(d decimal.Decimal) string { return d.StringFixed(4) }
	n := func(v int64) string { return strconv.FormatInt(v, 10) }

	parts := []string{
		row.ContentID,
		row.EventDate.UTC().Format(time.DateOnly),
		row.Currency,
		n(row.Impressions), n(row.Views), n(row.UniqueViewers), n(row.Likes), n(row.Shares),
		n(row.Comments), n(row.ClickThroughs), n(row.Conversions), money(row.ConversionValue),
		money(row.CostProduction), money(row.CostLicensing), money(row.CostPaidMedia),
		money(row.CostTooling), money(row.CostDistribution), money(row.AllocatedCost), money(row.ChannelCost),
		money(row.RevenueLastTouch), money(row.RevenueLinear), money(row.RevenueTimeDecay),
		money(row.AttributedRevenue), row.AttributionModel,
		money(row.CPM), money(row.CPC), money(row.CPA), money(row.ROIPct), money(row.ROAS), money(row.NetProfit),
		money(row.ViewRatePct), money(row.CTRPct), money(row.CVRPct), money(row.EngagementRatePct),
		money(row.PerformanceScore), row.ROITier, strconv.Itoa(row.DaysSincePublish), row.LifecycleStage,
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}
