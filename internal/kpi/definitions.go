package kpi

// Definition documents one metric exposed on DailyMetric.
type Definition struct {
	Key         string `json:"key"`
	Name        string `json:"name"`
	Formula     string `json:"formula"`
	Unit        string `json:"unit"`
	Description string `json:"description"`
}

var definitions = []Definition{
	{Key: "roi_pct", Name: "ROI", Formula: "(attributed_revenue - allocated_cost) / allocated_cost * 100", Unit: "percent", Description: "Return on allocated cost. Zero when no cost is allocated."},
	{Key: "cpm", Name: "CPM", Formula: "allocated_cost / impressions * 1000", Unit: "currency", Description: "Cost per thousand impressions."},
	{Key: "cpc", Name: "CPC", Formula: "allocated_cost / click_throughs", Unit: "currency", Description: "Cost per click-through."},
	{Key: "cpa", Name: "CPA", Formula: "allocated_cost / conversions", Unit: "currency", Description: "Cost per conversion."},
	{Key: "roas", Name: "ROAS", Formula: "attributed_revenue / allocated_cost", Unit: "ratio", Description: "Revenue returned per unit of cost."},
	{Key: "net_profit", Name: "Net Profit", Formula: "attributed_revenue - allocated_cost", Unit: "currency", Description: "Attributed revenue less allocated cost."},
	{Key: "engagement_rate_pct", Name: "Engagement Rate", Formula: "(likes + shares + comments) / views * 100", Unit: "percent", Description: "Interactions per view."},
	{Key: "view_rate_pct", Name: "View Rate", Formula: "views / impressions * 100", Unit: "percent", Description: "Share of impressions that became views."},
	{Key: "ctr_pct", Name: "CTR", Formula: "click_throughs / impressions * 100", Unit: "percent", Description: "Click-through rate."},
	{Key: "cvr_pct", Name: "CVR", Formula: "conversions / click_throughs * 100", Unit: "percent", Description: "Conversion rate of click-throughs."},
	{Key: "performance_score", Name: "Performance Score", Formula: "0.3 * view_rate_pct + 0.3 * engagement_rate_pct + 0.4 * min(roi_pct, 100)", Unit: "score", Description: "Zero unless view rate, engagement rate and ROI are all positive."},
}

// Definitions returns the metric catalogue.
func Definitions() []Definition {
	out := make([]Definition, len(definitions))
	copy(out, definitions)
	return out
}
