package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// DailyMetric is the derived row for one (content, day). It is a cache over
// facts and rules and can always be recomputed.
type DailyMetric struct {
	ContentID string    `gorm:"column:content_id;type:text;primaryKey" json:"content_id"`
	EventDate time.Time `gorm:"column:event_date;primaryKey" json:"event_date"`
	Currency  string    `gorm:"column:currency;type:text;not null" json:"currency"`

	Impressions     int64           `gorm:"column:impressions;not null" json:"impressions"`
	Views           int64           `gorm:"column:views;not null" json:"views"`
	UniqueViewers   int64           `gorm:"column:unique_viewers;not null" json:"unique_viewers"`
	Likes           int64           `gorm:"column:likes;not null" json:"likes"`
	Shares          int64           `gorm:"column:shares;not null" json:"shares"`
	Comments        int64           `gorm:"column:comments;not null" json:"comments"`
	ClickThroughs   int64           `gorm:"column:click_throughs;not null" json:"click_throughs"`
	Conversions     int64           `gorm:"column:conversions;not null" json:"conversions"`
	ConversionValue decimal.Decimal `gorm:"column:conversion_value;type:numeric(20,4);not null" json:"conversion_value"`

	CostProduction   decimal.Decimal `gorm:"column:cost_production;type:numeric(20,4);not null" json:"cost_production"`
	CostLicensing    decimal.Decimal `gorm:"column:cost_licensing;type:numeric(20,4);not null" json:"cost_licensing"`
	CostPaidMedia    decimal.Decimal `gorm:"column:cost_paid_media;type:numeric(20,4);not null" json:"cost_paid_media"`
	CostTooling      decimal.Decimal `gorm:"column:cost_tooling;type:numeric(20,4);not null" json:"cost_tooling"`
	CostDistribution decimal.Decimal `gorm:"column:cost_distribution;type:numeric(20,4);not null" json:"cost_distribution"`
	AllocatedCost    decimal.Decimal `gorm:"column:allocated_cost;type:numeric(20,4);not null" json:"allocated_cost"`
	ChannelCost      decimal.Decimal `gorm:"column:channel_cost;type:numeric(20,4);not null" json:"channel_cost"`

	RevenueLastTouch  decimal.Decimal `gorm:"column:revenue_last_touch;type:numeric(20,4);not null" json:"revenue_last_touch"`
	RevenueLinear     decimal.Decimal `gorm:"column:revenue_linear;type:numeric(20,4);not null" json:"revenue_linear"`
	RevenueTimeDecay  decimal.Decimal `gorm:"column:revenue_time_decay;type:numeric(20,4);not null" json:"revenue_time_decay"`
	AttributedRevenue decimal.Decimal `gorm:"column:attributed_revenue;type:numeric(20,4);not null" json:"attributed_revenue"`
	AttributionModel  string          `gorm:"column:attribution_model;type:text;not null" json:"attribution_model"`

	CPM               decimal.Decimal `gorm:"column:cpm;type:numeric(20,4);not null" json:"cpm"`
	CPC               decimal.Decimal `gorm:"column:cpc;type:numeric(20,4);not null" json:"cpc"`
	CPA               decimal.Decimal `gorm:"column:cpa;type:numeric(20,4);not null" json:"cpa"`
	ROIPct            decimal.Decimal `gorm:"column:roi_pct;type:numeric(20,4);not null" json:"roi_pct"`
	ROAS              decimal.Decimal `gorm:"column:roas;type:numeric(20,4);not null" json:"roas"`
	NetProfit         decimal.Decimal `gorm:"column:net_profit;type:numeric(20,4);not null" json:"net_profit"`
	ViewRatePct       decimal.Decimal `gorm:"column:view_rate_pct;type:numeric(20,4);not null" json:"view_rate_pct"`
	CTRPct            decimal.Decimal `gorm:"column:ctr_pct;type:numeric(20,4);not null" json:"ctr_pct"`
	CVRPct            decimal.Decimal `gorm:"column:cvr_pct;type:numeric(20,4);not null" json:"cvr_pct"`
	EngagementRatePct decimal.Decimal `gorm:"column:engagement_rate_pct;type:numeric(20,4);not null" json:"engagement_rate_pct"`
	PerformanceScore  decimal.Decimal `gorm:"column:performance_score;type:numeric(20,4);not null" json:"performance_score"`
	ROITier           string          `gorm:"column:roi_tier;type:text;not null" json:"roi_tier"`
	DaysSincePublish  int             `gorm:"column:days_since_publish;not null" json:"days_since_publish"`
	LifecycleStage    string          `gorm:"column:lifecycle_stage;type:text;not null" json:"lifecycle_stage"`

	Checksum string    `gorm:"column:checksum;type:text;not null" json:"checksum"`
	RuleAsOf time.Time `gorm:"column:computed_at_rule_asof;not null" json:"computed_at_rule_asof"`
}

func (DailyMetric) TableName() string { return "daily_metrics" }

// Writer persists DailyMetric rows idempotently keyed by (content_id, event_date).
type Writer interface {
	Upsert(ctx context.Context, db *gorm.DB, rows []DailyMetric) error
	// ReplaceRange makes the stored rows for [from, to] equal to rows.
	ReplaceRange(ctx context.Context, db *gorm.DB, contentID string, from, to time.Time, rows []DailyMetric) error
	List(ctx context.Context, db *gorm.DB, contentID string, from, to time.Time) ([]DailyMetric, error)
}
