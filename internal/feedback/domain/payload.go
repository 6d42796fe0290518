package domain

import (
	"fmt"
	"strings"
	"time"

	ruledomain "github.com/smallbiznis/contentfin/internal/rule/domain"
)

// Payload is the rule change a feedback event proposes.
type Payload struct {
	RuleType      ruledomain.RuleType
	NewValue      map[string]any
	Fragment      ruledomain.Fragment
	EffectiveFrom *time.Time
	EffectiveTo   *time.Time
}

// ParsePayload validates the submitted payload against the rule fragment
// schema of its rule_type.
func ParsePayload(raw map[string]any) (Payload, error) {
	if len(raw) == 0 {
		return Payload{}, fmt.Errorf("%w: payload is empty", ErrInvalidPayload)
	}
	ruleTypeRaw, _ := raw["rule_type"].(string)
	ruleType := ruledomain.RuleType(strings.TrimSpace(ruleTypeRaw))
	if !ruleType.Valid() {
		return Payload{}, fmt.Errorf("%w: rule_type %q", ErrInvalidPayload, ruleTypeRaw)
	}
	newValue, ok := raw["new_value"].(map[string]any)
	if !ok || len(newValue) == 0 {
		return Payload{}, fmt.Errorf("%w: new_value must be a non-empty object", ErrInvalidPayload)
	}
	fragment, err := ruledomain.ParseFragment(newValue)
	if err != nil {
		return Payload{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := fragment.Validate(ruleType); err != nil {
		return Payload{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	p := Payload{RuleType: ruleType, NewValue: fragment.Map(), Fragment: fragment}
	if p.EffectiveFrom, err = optionalTime(raw, "effective_from"); err != nil {
		return Payload{}, err
	}
	if p.EffectiveTo, err = optionalTime(raw, "effective_to"); err != nil {
		return Payload{}, err
	}
	if p.EffectiveFrom != nil && p.EffectiveTo != nil && !p.EffectiveTo.After(*p.EffectiveFrom) {
		return Payload{}, fmt.Errorf("%w: effective_to must be after effective_from", ErrInvalidPayload)
	}
	return p, nil
}

func optionalTime(raw map[string]any, key string) (*time.Time, error) {
	value, ok := raw[key]
	if !ok || value == nil {
		return nil, nil
	}
	s, ok := value.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return nil, fmt.Errorf("%w: %s must be an RFC3339 timestamp", ErrInvalidPayload, key)
	}
	t, err := time.Parse(time.RFC3339, strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidPayload, key, err)
	}
	t = t.UTC()
	return &t, nil
}

// OverrideTarget maps a feedback target onto the override target key.
// content_id targets one content item. cost_allocation and
// revenue_attribution target one content item when target_id is set and the
// whole rule type otherwise. rule_id, metric and definition are type-wide.
func OverrideTarget(feedbackType FeedbackType, targetType TargetType, targetID string, ruleType ruledomain.RuleType) (string, error) {
	targetID = strings.TrimSpace(targetID)
	if err := checkRuleType(feedbackType, targetType, ruleType); err != nil {
		return "", err
	}
	switch targetType {
	case TargetContent:
		if targetID == "" {
			return "", fmt.Errorf("%w: content_id target requires target_id", ErrInvalidTarget)
		}
		return targetID, nil
	case TargetRule:
		if targetID == "" {
			return "", fmt.Errorf("%w: rule_id target requires target_id", ErrInvalidTarget)
		}
		return "", nil
	case TargetCostAllocation, TargetRevenueAttribution:
		return targetID, nil
	case TargetMetric, TargetDefinition:
		return "", nil
	default:
		return "", ErrInvalidTargetType
	}
}

func checkRuleType(feedbackType FeedbackType, targetType TargetType, ruleType ruledomain.RuleType) error {
	costTypes := ruleType == ruledomain.RuleTypeAmortization || ruleType == ruledomain.RuleTypeAllocation
	switch {
	case targetType == TargetCostAllocation && !costTypes,
		feedbackType == FeedbackCostAllocation && !costTypes:
		return fmt.Errorf("%w: cost allocation feedback needs an amortization or allocation rule", ErrInvalidPayload)
	case targetType == TargetRevenueAttribution && ruleType != ruledomain.RuleTypeAttribution,
		feedbackType == FeedbackRevenueAttribution && ruleType != ruledomain.RuleTypeAttribution,
		feedbackType == FeedbackMisattribution && ruleType != ruledomain.RuleTypeAttribution:
		return fmt.Errorf("%w: attribution feedback needs an attribution rule", ErrInvalidPayload)
	}
	return nil
}
