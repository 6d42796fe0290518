package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

const (
	KeyAmortizationMethod   = "amortization_method"
	KeyPeriodMonths         = "period_months"
	KeyAttributionModel     = "attribution_model"
	KeyTimeDecayFactor      = "time_decay_factor"
	KeyChannelAllocationPct = "channel_allocation_pct"
)

// MaxPeriodMonths bounds amortization periods at fifty years.
const MaxPeriodMonths = 600

var fragmentKeys = map[RuleType][]string{
	RuleTypeAmortization: {KeyAmortizationMethod, KeyPeriodMonths},
	RuleTypeAttribution:  {KeyAttributionModel, KeyTimeDecayFactor},
	RuleTypeAllocation:   {KeyChannelAllocationPct},
}

// Fragment is a partial rule. Nil fields are inherited from the rule it is laid over.
type Fragment struct {
	AmortizationMethod   *AmortizationMethod
	PeriodMonths         *int
	AttributionModel     *AttributionModel
	TimeDecayFactor      *float64
	ChannelAllocationPct *float64
}

// ParseFragment decodes a stored or submitted fragment. Unknown keys are rejected.
func ParseFragment(values map[string]any) (Fragment, error) {
	var f Fragment
	for key, raw := range values {
		switch key {
		case KeyAmortizationMethod:
			s, ok := raw.(string)
			if !ok {
				return Fragment{}, fmt.Errorf("%w: %s must be a string", ErrInvalidFragment, key)
			}
			method := AmortizationMethod(s)
			f.AmortizationMethod = &method
		case KeyAttributionModel:
			s, ok := raw.(string)
			if !ok {
				return Fragment{}, fmt.Errorf("%w: %s must be a string", ErrInvalidFragment, key)
			}
			model := AttributionModel(s)
			f.AttributionModel = &model
		case KeyPeriodMonths:
			n, err := toFloat(raw)
			if err != nil || n != math.Trunc(n) {
				return Fragment{}, fmt.Errorf("%w: %s must be an integer", ErrInvalidFragment, key)
			}
			if n < 1 || n > MaxPeriodMonths {
				return Fragment{}, fmt.Errorf("%w: %s must be between 1 and %d", ErrInvalidFragment, key, MaxPeriodMonths)
			}
			months := int(n)
			f.PeriodMonths = &months
		case KeyTimeDecayFactor:
			n, err := toFloat(raw)
			if err != nil {
				return Fragment{}, fmt.Errorf("%w: %s must be a number", ErrInvalidFragment, key)
			}
			f.TimeDecayFactor = &n
		case KeyChannelAllocationPct:
			n, err := toFloat(raw)
			if err != nil {
				return Fragment{}, fmt.Errorf("%w: %s must be a number", ErrInvalidFragment, key)
			}
			f.ChannelAllocationPct = &n
		default:
			return Fragment{}, fmt.Errorf("%w: unknown key %q", ErrInvalidFragment, key)
		}
	}
	return f, nil
}

func (f Fragment) Empty() bool {
	return f.AmortizationMethod == nil && f.PeriodMonths == nil && f.AttributionModel == nil &&
		f.TimeDecayFactor == nil && f.ChannelAllocationPct == nil
}

// Validate checks enum values, ranges and that only keys of ruleType are set.
func (f Fragment) Validate(ruleType RuleType) error {
	if !ruleType.Valid() {
		return ErrInvalidRuleType
	}
	if f.Empty() {
		return fmt.Errorf("%w: empty fragment", ErrInvalidFragment)
	}
	allowed := map[string]bool{}
	for _, key := range fragmentKeys[ruleType] {
		allowed[key] = true
	}
	for key := range f.Map() {
		if !allowed[key] {
			return fmt.Errorf("%w: %s does not apply to %s rules", ErrInvalidFragment, key, ruleType)
		}
	}
	if f.AmortizationMethod != nil && !f.AmortizationMethod.Valid() {
		return fmt.Errorf("%w: unknown amortization_method %q", ErrInvalidFragment, *f.AmortizationMethod)
	}
	if f.AttributionModel != nil && !f.AttributionModel.Valid() {
		return fmt.Errorf("%w: unknown attribution_model %q", ErrInvalidFragment, *f.AttributionModel)
	}
	if f.PeriodMonths != nil && (*f.PeriodMonths <= 0 || *f.PeriodMonths > MaxPeriodMonths) {
		return fmt.Errorf("%w: period_months must be between 1 and %d", ErrInvalidFragment, MaxPeriodMonths)
	}
	if f.TimeDecayFactor != nil && (!finite(*f.TimeDecayFactor) || *f.TimeDecayFactor <= 0) {
		return fmt.Errorf("%w: time_decay_factor must be a positive number", ErrInvalidFragment)
	}
	if f.ChannelAllocationPct != nil && (!finite(*f.ChannelAllocationPct) || *f.ChannelAllocationPct <= 0 || *f.ChannelAllocationPct > 100) {
		return fmt.Errorf("%w: channel_allocation_pct must be in (0, 100]", ErrInvalidFragment)
	}
	return nil
}

// Map renders the set fields keyed the way they are stored.
func (f Fragment) Map() map[string]any {
	out := map[string]any{}
	if f.AmortizationMethod != nil {
		out[KeyAmortizationMethod] = string(*f.AmortizationMethod)
	}
	if f.PeriodMonths != nil {
		out[KeyPeriodMonths] = *f.PeriodMonths
	}
	if f.AttributionModel != nil {
		out[KeyAttributionModel] = string(*f.AttributionModel)
	}
	if f.TimeDecayFactor != nil {
		out[KeyTimeDecayFactor] = *f.TimeDecayFactor
	}
	if f.ChannelAllocationPct != nil {
		out[KeyChannelAllocationPct] = *f.ChannelAllocationPct
	}
	return out
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// toFloat accepts numeric JSON values and numeric strings. NaN and ±Inf are rejected.
func toFloat(raw any) (float64, error) {
	n, err := parseNumber(raw)
	if err != nil {
		return 0, err
	}
	if !finite(n) {
		return 0, fmt.Errorf("non-finite number %v", n)
	}
	return n, nil
}

func parseNumber(raw any) (float64, error) {
	switch v := raw.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case json.Number:
		return v.Float64()
	case string:
		return strconv.ParseFloat(v, 64)
	default:
		return 0, fmt.Errorf("unsupported number type %T", raw)
	}
}
