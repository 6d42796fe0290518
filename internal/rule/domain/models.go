package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type RuleType string

const (
	RuleTypeAmortization RuleType = "amortization"
	RuleTypeAttribution  RuleType = "attribution"
	RuleTypeAllocation   RuleType = "allocation"
)

// RuleTypes lists every rule type in resolution order used by the engine.
var RuleTypes = []RuleType{RuleTypeAmortization, RuleTypeAttribution, RuleTypeAllocation}

func (t RuleType) Valid() bool {
	switch t {
	case RuleTypeAmortization, RuleTypeAttribution, RuleTypeAllocation:
		return true
	default:
		return false
	}
}

type AmortizationMethod string

const (
	AmortizationImmediate        AmortizationMethod = "immediate"
	AmortizationStraightLine     AmortizationMethod = "straight_line"
	AmortizationPerformanceBased AmortizationMethod = "performance_based"
)

func (m AmortizationMethod) Valid() bool {
	switch m {
	case AmortizationImmediate, AmortizationStraightLine, AmortizationPerformanceBased:
		return true
	default:
		return false
	}
}

type AttributionModel string

const (
	AttributionLastTouch AttributionModel = "last_touch"
	AttributionLinear    AttributionModel = "linear"
	AttributionTimeDecay AttributionModel = "time_decay"
)

// AttributionModels is the fixed order in which per-model amounts are reported.
var AttributionModels = []AttributionModel{AttributionLastTouch, AttributionLinear, AttributionTimeDecay}

func (m AttributionModel) Valid() bool {
	switch m {
	case AttributionLastTouch, AttributionLinear, AttributionTimeDecay:
		return true
	default:
		return false
	}
}

// FinanceRule is a named, immutable rule. At most one rule per type is the
// active default at a time.
type FinanceRule struct {
	ID                   snowflake.ID       `gorm:"primaryKey" json:"id"`
	Name                 string             `gorm:"column:rule_name;type:text;not null;uniqueIndex" json:"name"`
	RuleType             RuleType           `gorm:"column:rule_type;type:text;not null" json:"rule_type"`
	AmortizationMethod   AmortizationMethod `gorm:"column:amortization_method;type:text" json:"amortization_method,omitempty"`
	PeriodMonths         int                `gorm:"column:period_months" json:"period_months,omitempty"`
	AttributionModel     AttributionModel   `gorm:"column:attribution_model;type:text" json:"attribution_model,omitempty"`
	TimeDecayFactor      float64            `gorm:"column:time_decay_factor" json:"time_decay_factor,omitempty"`
	ChannelAllocationPct float64            `gorm:"column:channel_allocation_pct" json:"channel_allocation_pct,omitempty"`
	IsDefault            bool               `gorm:"column:is_default;not null;default:false" json:"is_default"`
	IsActive             bool               `gorm:"column:is_active;not null;default:true" json:"is_active"`
	CreatedBy            string             `gorm:"column:created_by;type:text;not null" json:"created_by"`
	CreatedAt            time.Time          `gorm:"column:created_at;not null" json:"created_at"`
	UpdatedAt            time.Time          `gorm:"column:updated_at;not null" json:"updated_at"`
}

func (FinanceRule) TableName() string { return "finance_rules" }

// Fragment returns the rule's values as a fragment, keyed the same way an
// override stores them.
func (r FinanceRule) Fragment() Fragment {
	f := Fragment{}
	if r.AmortizationMethod != "" {
		method := r.AmortizationMethod
		f.AmortizationMethod = &method
	}
	if r.PeriodMonths != 0 {
		months := r.PeriodMonths
		f.PeriodMonths = &months
	}
	if r.AttributionModel != "" {
		model := r.AttributionModel
		f.AttributionModel = &model
	}
	if r.TimeDecayFactor != 0 {
		factor := r.TimeDecayFactor
		f.TimeDecayFactor = &factor
	}
	if r.ChannelAllocationPct != 0 {
		pct := r.ChannelAllocationPct
		f.ChannelAllocationPct = &pct
	}
	return f
}

// RuleOverride replaces part of a rule for one target (or every target when
// TargetID is empty) over [EffectiveFrom, EffectiveTo).
type RuleOverride struct {
	ID              snowflake.ID      `gorm:"primaryKey" json:"id"`
	FeedbackEventID *snowflake.ID     `gorm:"column:feedback_event_id" json:"feedback_event_id,omitempty"`
	OverrideType    RuleType          `gorm:"column:override_type;type:text;not null" json:"override_type"`
	TargetID        string            `gorm:"column:target_id;type:text;not null;default:''" json:"target_id"`
	OriginalValue   datatypes.JSONMap `gorm:"column:original_value;type:jsonb" json:"original_value,omitempty"`
	NewValue        datatypes.JSONMap `gorm:"column:new_value;type:jsonb;not null" json:"new_value"`
	EffectiveFrom   time.Time         `gorm:"column:effective_from;not null" json:"effective_from"`
	EffectiveTo     *time.Time        `gorm:"column:effective_to" json:"effective_to,omitempty"`
	IsActive        bool              `gorm:"column:is_active;not null;default:true" json:"is_active"`
	Reason          string            `gorm:"column:reason;type:text" json:"reason,omitempty"`
	CreatedBy       string            `gorm:"column:created_by;type:text;not null" json:"created_by"`
	CreatedAt       time.Time         `gorm:"column:created_at;not null" json:"created_at"`
	UpdatedAt       time.Time         `gorm:"column:updated_at;not null" json:"updated_at"`
}

func (RuleOverride) TableName() string { return "rule_overrides" }

// Covers reports whether asOf falls inside [EffectiveFrom, EffectiveTo).
func (o RuleOverride) Covers(asOf time.Time) bool {
	if asOf.Before(o.EffectiveFrom) {
		return false
	}
	return o.EffectiveTo == nil || asOf.Before(*o.EffectiveTo)
}

type Source string

const (
	SourceDefault  Source = "default"
	SourceOverride Source = "override"
)

// EffectiveRule is the rule in force for a (type, target) at AsOf.
type EffectiveRule struct {
	RuleType             RuleType           `json:"rule_type"`
	AmortizationMethod   AmortizationMethod `json:"amortization_method,omitempty"`
	PeriodMonths         int                `json:"period_months,omitempty"`
	AttributionModel     AttributionModel   `json:"attribution_model,omitempty"`
	TimeDecayFactor      float64            `json:"time_decay_factor,omitempty"`
	ChannelAllocationPct float64            `json:"channel_allocation_pct,omitempty"`

	Source     Source        `json:"source"`
	RuleID     *snowflake.ID `json:"rule_id,omitempty"`
	OverrideID *snowflake.ID `json:"override_id,omitempty"`
	// TargetID is the override's target; empty for defaults and type-wide overrides.
	TargetID string    `json:"target_id,omitempty"`
	AsOf     time.Time `json:"as_of"`
}

// EffectiveFromRule builds the default resolution for r.
func EffectiveFromRule(r FinanceRule, asOf time.Time) EffectiveRule {
	id := r.ID
	return EffectiveRule{
		RuleType:             r.RuleType,
		AmortizationMethod:   r.AmortizationMethod,
		PeriodMonths:         r.PeriodMonths,
		AttributionModel:     r.AttributionModel,
		TimeDecayFactor:      r.TimeDecayFactor,
		ChannelAllocationPct: r.ChannelAllocationPct,
		Source:               SourceDefault,
		RuleID:               &id,
		AsOf:                 asOf,
	}
}

// Fragment returns the resolved values as a fragment.
func (e EffectiveRule) Fragment() Fragment {
	return FinanceRule{
		AmortizationMethod:   e.AmortizationMethod,
		PeriodMonths:         e.PeriodMonths,
		AttributionModel:     e.AttributionModel,
		TimeDecayFactor:      e.TimeDecayFactor,
		ChannelAllocationPct: e.ChannelAllocationPct,
	}.Fragment()
}

// WithOverride lays the override's fragment over e.
func (e EffectiveRule) WithOverride(o RuleOverride, f Fragment) EffectiveRule {
	out := e
	if f.AmortizationMethod != nil {
		out.AmortizationMethod = *f.AmortizationMethod
	}
	if f.PeriodMonths != nil {
		out.PeriodMonths = *f.PeriodMonths
	}
	if f.AttributionModel != nil {
		out.AttributionModel = *f.AttributionModel
	}
	if f.TimeDecayFactor != nil {
		out.TimeDecayFactor = *f.TimeDecayFactor
	}
	if f.ChannelAllocationPct != nil {
		out.ChannelAllocationPct = *f.ChannelAllocationPct
	}
	id := o.ID
	out.RuleType = o.OverrideType
	out.Source = SourceOverride
	out.OverrideID = &id
	out.TargetID = o.TargetID
	return out
}

// Complete reports whether the rule carries the field its type needs.
func (e EffectiveRule) Complete() bool {
	switch e.RuleType {
	case RuleTypeAmortization:
		return e.AmortizationMethod.Valid()
	case RuleTypeAttribution:
		return e.AttributionModel.Valid()
	case RuleTypeAllocation:
		return e.ChannelAllocationPct > 0
	default:
		return false
	}
}
