package domain

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

func day(d int) time.Time {
	return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, d)
}

func ptr[T any](v T) *T { return &v }

func override(id int64, target string, from, to int, months int) RuleOverride {
	o := RuleOverride{
		ID:            snowflake.ID(id),
		OverrideType:  RuleTypeAmortization,
		TargetID:      target,
		NewValue:      datatypes.JSONMap{KeyPeriodMonths: months},
		EffectiveFrom: day(from),
		IsActive:      true,
	}
	if to >= 0 {
		o.EffectiveTo = ptr(day(to))
	}
	return o
}

func defaultAmortization() FinanceRule {
	return FinanceRule{
		ID:                 1,
		Name:               "default_amortization",
		RuleType:           RuleTypeAmortization,
		AmortizationMethod: AmortizationStraightLine,
		PeriodMonths:       12,
		IsDefault:          true,
		IsActive:           true,
	}
}

func TestIndex_InsertRejectsOverlap(t *testing.T) {
	ix := NewIndex()
	require.NoError(t, ix.Insert(override(10, "c1", 10, 20, 3)))
	require.NoError(t, ix.Insert(override(11, "c1", 20, 30, 4)))
	require.NoError(t, ix.Insert(override(12, "c1", 0, 10, 5)))

	cases := []struct {
		name     string
		from, to int
	}{
		{"inside", 12, 15},
		{"straddles start", 5, 12},
		{"straddles end", 25, 35},
		{"same start", 10, 11},
		{"covers all", -5, 40},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ix.Insert(override(99, "c1", tc.from, tc.to, 6))
			var conflict *ConflictError
			require.True(t, errors.As(err, &conflict))
			assert.ErrorIs(t, err, ErrRuleConflict)
		})
	}

	// other targets and half-open adjacency are fine
	require.NoError(t, ix.Insert(override(13, "c2", 12, 15, 6)))
	require.NoError(t, ix.Insert(override(14, "c1", 30, -1, 7)))
	err := ix.Insert(override(15, "c1", 100, 110, 8))
	assert.ErrorIs(t, err, ErrRuleConflict, "open-ended interval covers the future")
	assert.Equal(t, 5, ix.Len())
}

func TestIndex_FindHalfOpen(t *testing.T) {
	ix := NewIndex()
	require.NoError(t, ix.Insert(override(10, "c1", 10, 20, 3)))

	_, _, ok := ix.Find(RuleTypeAmortization, "c1", day(9))
	assert.False(t, ok)
	o, f, ok := ix.Find(RuleTypeAmortization, "c1", day(10))
	require.True(t, ok)
	assert.Equal(t, snowflake.ID(10), o.ID)
	assert.Equal(t, 3, *f.PeriodMonths)
	_, _, ok = ix.Find(RuleTypeAmortization, "c1", day(20))
	assert.False(t, ok)
}

func TestResolve_Order(t *testing.T) {
	defaults := map[RuleType]FinanceRule{RuleTypeAmortization: defaultAmortization()}
	ix := NewIndex()
	require.NoError(t, ix.Insert(override(20, "", 0, 100, 6)))
	require.NoError(t, ix.Insert(override(21, "c1", 10, 20, 3)))

	got, err := Resolve(defaults, ix, RuleTypeAmortization, "c1", day(15))
	require.NoError(t, err)
	assert.Equal(t, SourceOverride, got.Source)
	assert.Equal(t, 3, got.PeriodMonths)
	assert.Equal(t, AmortizationStraightLine, got.AmortizationMethod, "fragment is laid over the default")
	assert.Equal(t, "c1", got.TargetID)

	got, err = Resolve(defaults, ix, RuleTypeAmortization, "c1", day(50))
	require.NoError(t, err)
	assert.Equal(t, 6, got.PeriodMonths)
	assert.Equal(t, "", got.TargetID)

	got, err = Resolve(defaults, ix, RuleTypeAmortization, "c1", day(200))
	require.NoError(t, err)
	assert.Equal(t, SourceDefault, got.Source)
	assert.Equal(t, 12, got.PeriodMonths)
}

func TestResolve_NotFound(t *testing.T) {
	_, err := Resolve(map[RuleType]FinanceRule{}, NewIndex(), RuleTypeAttribution, "c1", day(0))
	var resErr *ResolutionError
	require.True(t, errors.As(err, &resErr))
	assert.ErrorIs(t, err, ErrRuleNotFound)
	assert.Equal(t, RuleTypeAttribution, resErr.RuleType)
	assert.Equal(t, "c1", resErr.TargetID)

	// a partial override with nothing underneath it cannot stand alone
	ix := NewIndex()
	require.NoError(t, ix.Insert(override(30, "c1", 0, 10, 3)))
	_, err = Resolve(map[RuleType]FinanceRule{}, ix, RuleTypeAmortization, "c1", day(5))
	assert.ErrorIs(t, err, ErrRuleNotFound)
}

func TestResolve_MonotonicWhenOverrideCovers(t *testing.T) {
	defaults := map[RuleType]FinanceRule{RuleTypeAmortization: defaultAmortization()}
	ix := NewIndex()
	require.NoError(t, ix.Insert(override(40, "c1", 10, 20, 3)))
	require.NoError(t, ix.Insert(override(41, "c1", 25, 26, 4)))

	for d := -5; d < 40; d++ {
		asOf := day(d)
		_, _, covered := ix.Find(RuleTypeAmortization, "c1", asOf)
		got, err := Resolve(defaults, ix, RuleTypeAmortization, "c1", asOf)
		require.NoError(t, err)
		if covered {
			assert.Equal(t, SourceOverride, got.Source, "day %d", d)
		} else {
			assert.Equal(t, SourceDefault, got.Source, "day %d", d)
		}
	}
}

func TestOverlay_CandidateWinsInsideInterval(t *testing.T) {
	snap, err := NewSnapshot([]FinanceRule{defaultAmortization()}, []RuleOverride{override(50, "c2", 0, 100, 9)})
	require.NoError(t, err)

	candidate := override(0, "", 10, 20, 2)
	resolver, err := Overlay(snap, candidate)
	require.NoError(t, err)
	ctx := context.Background()

	got, err := resolver.Resolve(ctx, RuleTypeAmortization, "c1", day(15))
	require.NoError(t, err)
	assert.Equal(t, 2, got.PeriodMonths)

	got, err = resolver.Resolve(ctx, RuleTypeAmortization, "c2", day(15))
	require.NoError(t, err)
	assert.Equal(t, 9, got.PeriodMonths, "target override outranks a type-wide candidate")

	got, err = resolver.Resolve(ctx, RuleTypeAmortization, "c1", day(25))
	require.NoError(t, err)
	assert.Equal(t, 12, got.PeriodMonths)
}

func TestFragment_Validate(t *testing.T) {
	f, err := ParseFragment(map[string]any{KeyAmortizationMethod: "straight_line", KeyPeriodMonths: float64(6)})
	require.NoError(t, err)
	require.NoError(t, f.Validate(RuleTypeAmortization))
	assert.ErrorIs(t, f.Validate(RuleTypeAttribution), ErrInvalidFragment)

	_, err = ParseFragment(map[string]any{"amortisation": "x"})
	assert.ErrorIs(t, err, ErrInvalidFragment)

	_, err = ParseFragment(map[string]any{KeyPeriodMonths: 1.5})
	assert.ErrorIs(t, err, ErrInvalidFragment)

	f, err = ParseFragment(map[string]any{KeyAttributionModel: "first_touch"})
	require.NoError(t, err)
	assert.ErrorIs(t, f.Validate(RuleTypeAttribution), ErrInvalidFragment)

	f, err = ParseFragment(map[string]any{KeyTimeDecayFactor: -1})
	require.NoError(t, err)
	assert.ErrorIs(t, f.Validate(RuleTypeAttribution), ErrInvalidFragment)

	assert.ErrorIs(t, Fragment{}.Validate(RuleTypeAllocation), ErrInvalidFragment)
}

func TestFragment_RejectsNonFiniteAndOversized(t *testing.T) {
	rejected := map[string]map[string]any{
		"nan decay string":   {KeyTimeDecayFactor: "NaN"},
		"inf decay string":   {KeyTimeDecayFactor: "Inf"},
		"nan decay float":    {KeyTimeDecayFactor: math.NaN()},
		"inf channel pct":    {KeyChannelAllocationPct: math.Inf(1)},
		"nan channel string": {KeyChannelAllocationPct: "nan"},
		"huge period":        {KeyPeriodMonths: float64(1e15)},
		"period over cap":    {KeyPeriodMonths: float64(MaxPeriodMonths + 1)},
		"zero period":        {KeyPeriodMonths: 0},
	}
	for name, values := range rejected {
		t.Run(name, func(t *testing.T) {
			_, err := ParseFragment(values)
			assert.ErrorIs(t, err, ErrInvalidFragment)
		})
	}

	f, err := ParseFragment(map[string]any{KeyPeriodMonths: float64(MaxPeriodMonths)})
	require.NoError(t, err)
	require.NoError(t, f.Validate(RuleTypeAmortization))

	nan := math.NaN()
	assert.ErrorIs(t, Fragment{TimeDecayFactor: &nan}.Validate(RuleTypeAttribution), ErrInvalidFragment)
	assert.ErrorIs(t, Fragment{ChannelAllocationPct: &nan}.Validate(RuleTypeAllocation), ErrInvalidFragment)
	huge := 100000
	assert.ErrorIs(t, Fragment{PeriodMonths: &huge}.Validate(RuleTypeAmortization), ErrInvalidFragment)
}
