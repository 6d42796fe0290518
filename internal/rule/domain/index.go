package domain

import (
	"sort"
	"time"
)

type indexKey struct {
	ruleType RuleType
	target   string
}

// Index keeps active overrides per (type, target) sorted by EffectiveFrom.
// Intervals under one key never overlap, so a lookup is a binary search.
type Index struct {
	byKey map[indexKey][]indexedOverride
}

type indexedOverride struct {
	override RuleOverride
	fragment Fragment
}

func NewIndex() *Index {
	return &Index{byKey: map[indexKey][]indexedOverride{}}
}

// Insert adds o, returning a *ConflictError if it overlaps an indexed override.
func (ix *Index) Insert(o RuleOverride) error {
	fragment, err := ParseFragment(o.NewValue)
	if err != nil {
		return err
	}
	if o.EffectiveTo != nil && !o.EffectiveTo.After(o.EffectiveFrom) {
		return ErrInvalidInterval
	}
	key := indexKey{ruleType: o.OverrideType, target: o.TargetID}
	if existing, ok := ix.Overlapping(o.OverrideType, o.TargetID, o.EffectiveFrom, o.EffectiveTo); ok {
		return &ConflictError{
			OverrideType: o.OverrideType,
			TargetID:     o.TargetID,
			ExistingID:   existing.ID,
			From:         existing.EffectiveFrom,
			To:           existing.EffectiveTo,
		}
	}

	list := ix.byKey[key]
	pos := sort.Search(len(list), func(i int) bool {
		return !list[i].override.EffectiveFrom.Before(o.EffectiveFrom)
	})
	list = append(list, indexedOverride{})
	copy(list[pos+1:], list[pos:])
	list[pos] = indexedOverride{override: o, fragment: fragment}
	ix.byKey[key] = list
	return nil
}

// Find returns the override covering asOf for (ruleType, target).
func (ix *Index) Find(ruleType RuleType, target string, asOf time.Time) (RuleOverride, Fragment, bool) {
	list := ix.byKey[indexKey{ruleType: ruleType, target: target}]
	// first interval starting after asOf; the candidate is the one before it
	pos := sort.Search(len(list), func(i int) bool {
		return list[i].override.EffectiveFrom.After(asOf)
	})
	if pos == 0 {
		return RuleOverride{}, Fragment{}, false
	}
	candidate := list[pos-1]
	if !candidate.override.Covers(asOf) {
		return RuleOverride{}, Fragment{}, false
	}
	return candidate.override, candidate.fragment, true
}

// Overlapping returns an indexed override whose interval intersects [from, to).
func (ix *Index) Overlapping(ruleType RuleType, target string, from time.Time, to *time.Time) (RuleOverride, bool) {
	list := ix.byKey[indexKey{ruleType: ruleType, target: target}]
	pos := sort.Search(len(list), func(i int) bool {
		return !list[i].override.EffectiveFrom.Before(from)
	})
	if pos > 0 {
		prev := list[pos-1].override
		if prev.EffectiveTo == nil || prev.EffectiveTo.After(from) {
			return prev, true
		}
	}
	if pos < len(list) {
		next := list[pos].override
		if to == nil || to.After(next.EffectiveFrom) {
			return next, true
		}
	}
	return RuleOverride{}, false
}

// Len returns the number of indexed overrides.
func (ix *Index) Len() int {
	n := 0
	for _, list := range ix.byKey {
		n += len(list)
	}
	return n
}
