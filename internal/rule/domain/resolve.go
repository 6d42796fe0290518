package domain

import "time"

// Resolve applies the resolution order against in-memory state: a target
// override, then a type-wide override, then the default rule. The winning
// override's fragment is laid over the default when one exists.
func Resolve(defaults map[RuleType]FinanceRule, ix *Index, ruleType RuleType, targetID string, asOf time.Time) (EffectiveRule, error) {
	if !ruleType.Valid() {
		return EffectiveRule{}, ErrInvalidRuleType
	}

	base := EffectiveRule{RuleType: ruleType, AsOf: asOf}
	def, hasDefault := defaults[ruleType]
	if hasDefault {
		base = EffectiveFromRule(def, asOf)
	}

	if ix != nil {
		targets := []string{""}
		if targetID != "" {
			targets = []string{targetID, ""}
		}
		for _, target := range targets {
			override, fragment, ok := ix.Find(ruleType, target, asOf)
			if !ok {
				continue
			}
			resolved := base.WithOverride(override, fragment)
			if !hasDefault {
				resolved.RuleID = nil
			}
			if !resolved.Complete() {
				return EffectiveRule{}, &ResolutionError{RuleType: ruleType, TargetID: targetID, AsOf: asOf}
			}
			return resolved, nil
		}
	}

	if !hasDefault || !base.Complete() {
		return EffectiveRule{}, &ResolutionError{RuleType: ruleType, TargetID: targetID, AsOf: asOf}
	}
	return base, nil
}
