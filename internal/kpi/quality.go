package kpi

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/contentfin/internal/config"
	"github.com/smallbiznis/contentfin/internal/kpi/domain"
)

type Warning struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// QualityWarnings flags rows whose unit economics fall outside the configured
// ranges. They never block a write.
func QualityWarnings(row domain.DailyMetric, q config.QualityThresholds) []Warning {
	var out []Warning
	if row.AllocatedCost.IsPositive() {
		if row.ROIPct.LessThan(decimal.NewFromFloat(q.MinROIPct)) {
			out = append(out, Warning{Code: "roi_below_min", Message: fmt.Sprintf("roi_pct %s below %v", row.ROIPct.StringFixed(2), q.MinROIPct)})
		}
		if row.ROIPct.GreaterThan(decimal.NewFromFloat(q.MaxROIPct)) {
			out = append(out, Warning{Code: "roi_above_max", Message: fmt.Sprintf("roi_pct %s above %v", row.ROIPct.StringFixed(2), q.MaxROIPct)})
		}
	}
	check := func(code, name string, v decimal.Decimal, min float64) {
		if v.IsPositive() && v.LessThan(decimal.NewFromFloat(min)) {
			out = append(out, Warning{Code: code, Message: fmt.Sprintf("%s %s below %v", name, v.String(), min)})
		}
	}
	check("cpm_below_min", "cpm", row.CPM, q.MinCPM)
	check("cpc_below_min", "cpc", row.CPC, q.MinCPC)
	check("cpa_below_min", "cpa", row.CPA, q.MinCPA)
	return out
}
