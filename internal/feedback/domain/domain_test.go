package domain

import (
	"testing"
	"time"

	ruledomain "github.com/smallbiznis/contentfin/internal/rule/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	allowed := map[[2]Status]bool{
		{StatusPending, StatusApproved}: true,
		{StatusPending, StatusRejected}: true,
		{StatusApproved, StatusApplied}: true,
	}
	for _, from := range Statuses {
		for _, to := range Statuses {
			assert.Equal(t, allowed[[2]Status{from, to}], CanTransition(from, to), "%s -> %s", from, to)
		}
	}
	assert.True(t, StatusRejected.Terminal())
	assert.True(t, StatusApplied.Terminal())
	assert.False(t, StatusPending.Terminal())
}

func TestParsePayload(t *testing.T) {
	p, err := ParsePayload(map[string]any{
		"rule_type":      "attribution",
		"new_value":      map[string]any{"attribution_model": "time_decay", "time_decay_factor": 0.25},
		"effective_from": "2024-03-01T00:00:00Z",
		"effective_to":   "2024-04-01T00:00:00Z",
	})
	require.NoError(t, err)
	assert.Equal(t, ruledomain.RuleTypeAttribution, p.RuleType)
	require.NotNil(t, p.EffectiveFrom)
	require.NotNil(t, p.EffectiveTo)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), *p.EffectiveFrom)
	assert.Equal(t, 0.25, p.NewValue[ruledomain.KeyTimeDecayFactor])

	cases := map[string]map[string]any{
		"empty":          {},
		"unknown type":   {"rule_type": "pricing", "new_value": map[string]any{"x": 1}},
		"missing value":  {"rule_type": "allocation"},
		"foreign key":    {"rule_type": "allocation", "new_value": map[string]any{"period_months": 3}},
		"out of range":   {"rule_type": "allocation", "new_value": map[string]any{"channel_allocation_pct": 120}},
		"bad timestamp":  {"rule_type": "allocation", "new_value": map[string]any{"channel_allocation_pct": 50}, "effective_from": "yesterday"},
		"inverted range": {"rule_type": "allocation", "new_value": map[string]any{"channel_allocation_pct": 50}, "effective_from": "2024-03-01T00:00:00Z", "effective_to": "2024-02-01T00:00:00Z"},
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParsePayload(raw)
			assert.ErrorIs(t, err, ErrInvalidPayload)
		})
	}
}

func TestOverrideTarget(t *testing.T) {
	target, err := OverrideTarget(FeedbackOverride, TargetContent, " c1 ", ruledomain.RuleTypeAmortization)
	require.NoError(t, err)
	assert.Equal(t, "c1", target)

	target, err = OverrideTarget(FeedbackRuleChange, TargetRule, "123", ruledomain.RuleTypeAmortization)
	require.NoError(t, err)
	assert.Empty(t, target)

	target, err = OverrideTarget(FeedbackCostAllocation, TargetCostAllocation, "", ruledomain.RuleTypeAllocation)
	require.NoError(t, err)
	assert.Empty(t, target)

	target, err = OverrideTarget(FeedbackMetricUpdate, TargetMetric, "roi_pct", ruledomain.RuleTypeAttribution)
	require.NoError(t, err)
	assert.Empty(t, target)

	_, err = OverrideTarget(FeedbackOverride, TargetContent, "", ruledomain.RuleTypeAmortization)
	assert.ErrorIs(t, err, ErrInvalidTarget)

	_, err = OverrideTarget(FeedbackRuleChange, TargetRule, "", ruledomain.RuleTypeAmortization)
	assert.ErrorIs(t, err, ErrInvalidTarget)

	_, err = OverrideTarget(FeedbackMisattribution, TargetContent, "c1", ruledomain.RuleTypeAmortization)
	assert.ErrorIs(t, err, ErrInvalidPayload)

	_, err = OverrideTarget(FeedbackOverride, TargetCostAllocation, "c1", ruledomain.RuleTypeAttribution)
	assert.ErrorIs(t, err, ErrInvalidPayload)
}
