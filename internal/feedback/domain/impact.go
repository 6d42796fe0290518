package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ImpactAnalysis compares metric rows under the current rules with the same
// rows under the proposed override. It is always computed server-side.
type ImpactAnalysis struct {
	RunID          string         `json:"run_id"`
	ComputedAt     time.Time      `json:"computed_at"`
	AsOf           time.Time      `json:"as_of"`
	RuleType       string         `json:"rule_type"`
	OverrideTarget string         `json:"override_target"`
	EffectiveFrom  time.Time      `json:"effective_from"`
	EffectiveTo    *time.Time     `json:"effective_to,omitempty"`
	CurrentRule    map[string]any `json:"current_rule,omitempty"`
	ProposedRule   map[string]any `json:"proposed_rule"`

	WindowFrom         time.Time `json:"window_from"`
	WindowTo           time.Time `json:"window_to"`
	PartitionsTotal    int       `json:"partitions_total"`
	PartitionsAnalyzed int       `json:"partitions_analyzed"`
	Truncated          bool      `json:"truncated"`

	RowsCompared int `json:"rows_compared"`
	RowsChanged  int `json:"rows_changed"`
	TierChanges  int `json:"tier_changes"`

	Before ImpactTotals `json:"before"`
	After  ImpactTotals `json:"after"`
	Delta  ImpactTotals `json:"delta"`

	ROIDelta ImpactStats     `json:"roi_pct_delta"`
	Contents []ContentImpact `json:"contents,omitempty"`
	Warnings []string        `json:"warnings,omitempty"`
}

type ImpactTotals struct {
	AllocatedCost     decimal.Decimal `json:"allocated_cost"`
	ChannelCost       decimal.Decimal `json:"channel_cost"`
	AttributedRevenue decimal.Decimal `json:"attributed_revenue"`
	NetProfit         decimal.Decimal `json:"net_profit"`
}

func (t ImpactTotals) Sub(o ImpactTotals) ImpactTotals {
	return ImpactTotals{
		AllocatedCost:     t.AllocatedCost.Sub(o.AllocatedCost),
		ChannelCost:       t.ChannelCost.Sub(o.ChannelCost),
		AttributedRevenue: t.AttributedRevenue.Sub(o.AttributedRevenue),
		NetProfit:         t.NetProfit.Sub(o.NetProfit),
	}
}

// ImpactStats summarises per-row deltas of changed rows.
type ImpactStats struct {
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
}

type ContentImpact struct {
	ContentID   string       `json:"content_id"`
	RowsChanged int          `json:"rows_changed"`
	Before      ImpactTotals `json:"before"`
	After       ImpactTotals `json:"after"`
}
