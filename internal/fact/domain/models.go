package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// Content is owned by ingestion and read-only here.
type Content struct {
	ID          string    `gorm:"primaryKey;type:text" json:"id"`
	Title       string    `gorm:"column:title;type:text" json:"title"`
	Vertical    string    `gorm:"column:vertical;type:text" json:"vertical"`
	Format      string    `gorm:"column:format;type:text" json:"format"`
	Language    string    `gorm:"column:language;type:text" json:"language"`
	Region      string    `gorm:"column:region;type:text" json:"region"`
	PublishedAt time.Time `gorm:"column:published_at;not null" json:"published_at"`
	Channel     string    `gorm:"column:channel;type:text" json:"channel"`
	OwnerTeam   string    `gorm:"column:owner_team;type:text" json:"owner_team"`
	CreatedAt   time.Time `gorm:"column:created_at;not null" json:"created_at"`
}

func (Content) TableName() string { return "content" }

type EngagementEvent struct {
	ID              snowflake.ID    `gorm:"primaryKey" json:"id"`
	ContentID       string          `gorm:"column:content_id;type:text;not null;index" json:"content_id"`
	EventTime       time.Time       `gorm:"column:event_time;not null" json:"event_time"`
	Impressions     int64           `gorm:"column:impressions;not null;default:0" json:"impressions"`
	Views           int64           `gorm:"column:views;not null;default:0" json:"views"`
	UniqueViewers   int64           `gorm:"column:unique_viewers;not null;default:0" json:"unique_viewers"`
	Likes           int64           `gorm:"column:likes;not null;default:0" json:"likes"`
	Shares          int64           `gorm:"column:shares;not null;default:0" json:"shares"`
	Comments        int64           `gorm:"column:comments;not null;default:0" json:"comments"`
	ClickThroughs   int64           `gorm:"column:click_throughs;not null;default:0" json:"click_throughs"`
	Conversions     int64           `gorm:"column:conversions;not null;default:0" json:"conversions"`
	ConversionValue decimal.Decimal `gorm:"column:conversion_value;type:numeric(20,4);not null;default:0" json:"conversion_value"`
}

func (EngagementEvent) TableName() string { return "engagement_events" }

type CostType string

const (
	CostTypeProduction   CostType = "production"
	CostTypeLicensing    CostType = "licensing"
	CostTypePaidMedia    CostType = "paid_media"
	CostTypeTooling      CostType = "tooling"
	CostTypeDistribution CostType = "distribution"
)

// CostTypes is the fixed column order for per-type cost splits.
var CostTypes = []CostType{CostTypeProduction, CostTypeLicensing, CostTypePaidMedia, CostTypeTooling, CostTypeDistribution}

func (t CostType) Valid() bool {
	switch t {
	case CostTypeProduction, CostTypeLicensing, CostTypePaidMedia, CostTypeTooling, CostTypeDistribution:
		return true
	default:
		return false
	}
}

type Cost struct {
	ID        snowflake.ID    `gorm:"primaryKey" json:"id"`
	ContentID string          `gorm:"column:content_id;type:text;not null;index" json:"content_id"`
	CostType  CostType        `gorm:"column:cost_type;type:text;not null" json:"cost_type"`
	Amount    decimal.Decimal `gorm:"column:amount;type:numeric(20,4);not null" json:"amount"`
	Currency  string          `gorm:"column:currency;type:text;not null" json:"currency"`
	CostDate  time.Time       `gorm:"column:cost_date;not null" json:"cost_date"`
	Vendor    string          `gorm:"column:vendor;type:text" json:"vendor,omitempty"`
}

func (Cost) TableName() string { return "costs" }

type RevenueSource string

const (
	RevenueDirect     RevenueSource = "direct"
	RevenueAssisted   RevenueSource = "assisted"
	RevenueAttributed RevenueSource = "attributed"
)

func (s RevenueSource) Valid() bool {
	switch s {
	case RevenueDirect, RevenueAssisted, RevenueAttributed:
		return true
	default:
		return false
	}
}

type RevenueEvent struct {
	ID          snowflake.ID    `gorm:"primaryKey" json:"id"`
	ContentID   *string         `gorm:"column:content_id;type:text;index" json:"content_id,omitempty"`
	CampaignID  string          `gorm:"column:campaign_id;type:text" json:"campaign_id,omitempty"`
	RevenueDate time.Time       `gorm:"column:revenue_date;not null" json:"revenue_date"`
	Amount      decimal.Decimal `gorm:"column:amount;type:numeric(20,4);not null" json:"amount"`
	Currency    string          `gorm:"column:currency;type:text;not null" json:"currency"`
	Source      RevenueSource   `gorm:"column:source;type:text;not null" json:"source"`
}

func (RevenueEvent) TableName() string { return "revenue_events" }

type ExchangeRate struct {
	ID           snowflake.ID    `gorm:"primaryKey" json:"id"`
	FromCurrency string          `gorm:"column:from_currency;type:text;not null" json:"from_currency"`
	ToCurrency   string          `gorm:"column:to_currency;type:text;not null" json:"to_currency"`
	RateDate     time.Time       `gorm:"column:rate_date;not null" json:"rate_date"`
	Rate         decimal.Decimal `gorm:"column:rate;type:numeric(20,8);not null" json:"rate"`
}

func (ExchangeRate) TableName() string { return "exchange_rates" }

// DateOf truncates t to its UTC calendar day.
func DateOf(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// DaysBetween is the whole number of calendar days from a to b.
func DaysBetween(a, b time.Time) int {
	return int(DateOf(b).Sub(DateOf(a)).Hours() / 24)
}
