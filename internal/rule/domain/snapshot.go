package domain

import (
	"context"
	"time"
)

// Snapshot is an immutable in-memory resolver over a fixed rule set.
type Snapshot struct {
	defaults map[RuleType]FinanceRule
	index    *Index
}

// NewSnapshot indexes overrides over defaults. Overlapping overrides are rejected.
func NewSnapshot(defaults []FinanceRule, overrides []RuleOverride) (*Snapshot, error) {
	s := &Snapshot{
		defaults: make(map[RuleType]FinanceRule, len(defaults)),
		index:    NewIndex(),
	}
	for _, rule := range defaults {
		s.defaults[rule.RuleType] = rule
	}
	for _, o := range overrides {
		if !o.IsActive {
			continue
		}
		if err := s.index.Insert(o); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Snapshot) Resolve(_ context.Context, ruleType RuleType, targetID string, asOf time.Time) (EffectiveRule, error) {
	return Resolve(s.defaults, s.index, ruleType, targetID, asOf)
}

func (s *Snapshot) Default(_ context.Context, ruleType RuleType, asOf time.Time) (EffectiveRule, error) {
	return Resolve(s.defaults, nil, ruleType, "", asOf)
}

// Overlay returns a resolver in which candidate governs its (type, target)
// inside its interval. Everything else is delegated to base.
func Overlay(base Resolver, candidate RuleOverride) (Resolver, error) {
	fragment, err := ParseFragment(candidate.NewValue)
	if err != nil {
		return nil, err
	}
	if err := fragment.Validate(candidate.OverrideType); err != nil {
		return nil, err
	}
	return &overlay{base: base, candidate: candidate, fragment: fragment}, nil
}

type overlay struct {
	base      Resolver
	candidate RuleOverride
	fragment  Fragment
}

func (o *overlay) Resolve(ctx context.Context, ruleType RuleType, targetID string, asOf time.Time) (EffectiveRule, error) {
	if ruleType != o.candidate.OverrideType || !o.candidate.Covers(asOf) {
		return o.base.Resolve(ctx, ruleType, targetID, asOf)
	}
	switch {
	case o.candidate.TargetID != "" && o.candidate.TargetID != targetID:
		return o.base.Resolve(ctx, ruleType, targetID, asOf)
	case o.candidate.TargetID == "" && targetID != "":
		// a target-specific override still outranks a type-wide candidate
		current, err := o.base.Resolve(ctx, ruleType, targetID, asOf)
		if err == nil && current.Source == SourceOverride && current.TargetID != "" {
			return current, nil
		}
	}

	base, err := o.base.Default(ctx, ruleType, asOf)
	hasDefault := err == nil
	if !hasDefault {
		base = EffectiveRule{RuleType: ruleType, AsOf: asOf}
	}
	resolved := base.WithOverride(o.candidate, o.fragment)
	if !hasDefault {
		resolved.RuleID = nil
	}
	if !resolved.Complete() {
		return EffectiveRule{}, &ResolutionError{RuleType: ruleType, TargetID: targetID, AsOf: asOf}
	}
	return resolved, nil
}

func (o *overlay) Default(ctx context.Context, ruleType RuleType, asOf time.Time) (EffectiveRule, error) {
	return o.base.Default(ctx, ruleType, asOf)
}
