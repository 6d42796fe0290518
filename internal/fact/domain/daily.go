package domain

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// DailyEngagement is the per-day rollup of engagement events for one content item.
type DailyEngagement struct {
	Date            time.Time
	Impressions     int64
	Views           int64
	UniqueViewers   int64
	Likes           int64
	Shares          int64
	Comments        int64
	ClickThroughs   int64
	Conversions     int64
	ConversionValue decimal.Decimal
}

// RollupDaily sums events per UTC day, returned in date order.
func RollupDaily(events []EngagementEvent) []DailyEngagement {
	byDay := map[time.Time]*DailyEngagement{}
	for _, e := range events {
		d := DateOf(e.EventTime)
		row, ok := byDay[d]
		if !ok {
			row = &DailyEngagement{Date: d, ConversionValue: decimal.Zero}
			byDay[d] = row
		}
		row.Impressions += e.Impressions
		row.Views += e.Views
		row.UniqueViewers += e.UniqueViewers
		row.Likes += e.Likes
		row.Shares += e.Shares
		row.Comments += e.Comments
		row.ClickThroughs += e.ClickThroughs
		row.Conversions += e.Conversions
		row.ConversionValue = row.ConversionValue.Add(e.ConversionValue)
	}

	out := make([]DailyEngagement, 0, len(byDay))
	for _, row := range byDay {
		out = append(out, *row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}
