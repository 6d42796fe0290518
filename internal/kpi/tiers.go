package kpi

import "github.com/shopspring/decimal"

type ROITier string

const (
	TierExceptional ROITier = "exceptional"
	TierExcellent   ROITier = "excellent"
	TierGood        ROITier = "good"
	TierPositive    ROITier = "positive"
	TierNeutral     ROITier = "neutral"
	TierNegative    ROITier = "negative"
)

type LifecycleStage string

const (
	StageLaunch      LifecycleStage = "launch"
	StageGrowth      LifecycleStage = "growth"
	StageMature      LifecycleStage = "mature"
	StageEstablished LifecycleStage = "established"
	StageLegacy      LifecycleStage = "legacy"
)

// ROITierRule matches roi_pct values for one tier.
type ROITierRule struct {
	Tier    ROITier
	Matches func(roiPct decimal.Decimal) bool
}

// LifecycleRule matches days since publish for one stage.
type LifecycleRule struct {
	Stage   LifecycleStage
	Matches func(days int) bool
}

func roiAtLeast(bound int64) func(decimal.Decimal) bool {
	b := decimal.NewFromInt(bound)
	return func(v decimal.Decimal) bool { return v.GreaterThanOrEqual(b) }
}

func daysAtMost(bound int) func(int) bool {
	return func(days int) bool { return days <= bound }
}

// ROITiers is evaluated top-down; the first match wins and the last row matches everything.
var ROITiers = []ROITierRule{
	{Tier: TierExceptional, Matches: roiAtLeast(100)},
	{Tier: TierExcellent, Matches: roiAtLeast(50)},
	{Tier: TierGood, Matches: roiAtLeast(20)},
	{Tier: TierPositive, Matches: roiAtLeast(0)},
	{Tier: TierNeutral, Matches: roiAtLeast(-20)},
	{Tier: TierNegative, Matches: func(decimal.Decimal) bool { return true }},
}

// LifecycleStages is evaluated top-down; the first match wins and the last row matches everything.
var LifecycleStages = []LifecycleRule{
	{Stage: StageLaunch, Matches: daysAtMost(7)},
	{Stage: StageGrowth, Matches: daysAtMost(30)},
	{Stage: StageMature, Matches: daysAtMost(90)},
	{Stage: StageEstablished, Matches: daysAtMost(365)},
	{Stage: StageLegacy, Matches: func(int) bool { return true }},
}

func TierFor(roiPct decimal.Decimal) ROITier {
	for _, rule := range ROITiers {
		if rule.Matches(roiPct) {
			return rule.Tier
		}
	}
	return TierNegative
}

func StageFor(daysSincePublish int) LifecycleStage {
	for _, rule := range LifecycleStages {
		if rule.Matches(daysSincePublish) {
			return rule.Stage
		}
	}
	return StageLegacy
}
