package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	auditdomain "github.com/smallbiznis/contentfin/internal/audit/domain"
	auditrepo "github.com/smallbiznis/contentfin/internal/audit/repository"
	auditservice "github.com/smallbiznis/contentfin/internal/audit/service"
	"github.com/smallbiznis/contentfin/internal/clock"
	"github.com/smallbiznis/contentfin/internal/config"
	"github.com/smallbiznis/contentfin/internal/rule/domain"
	"github.com/smallbiznis/contentfin/internal/rule/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type testEnv struct {
	db    *gorm.DB
	svc   domain.Service
	clock *clock.FakeClock
}

func setupRuleService(t *testing.T) testEnv {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&domain.FinanceRule{}, &domain.RuleOverride{}, &auditdomain.AuditTrail{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	fake := clock.NewFakeClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	audit := auditservice.NewService(auditservice.Params{
		DB: db, Log: zap.NewNop(), GenID: node, Repo: auditrepo.Provide(), Clock: fake,
	})
	svc := NewService(Params{
		DB: db, Log: zap.NewNop(), GenID: node, Repo: repository.Provide(), Audit: audit, Clock: fake,
	})
	return testEnv{db: db, svc: svc, clock: fake}
}

func (e testEnv) auditCount(t *testing.T, table string) int64 {
	t.Helper()
	var count int64
	require.NoError(t, e.db.Model(&auditdomain.AuditTrail{}).Where("table_name = ?", table).Count(&count).Error)
	return count
}

func (e testEnv) createOverride(ctx context.Context, o *domain.RuleOverride) error {
	return e.db.Transaction(func(tx *gorm.DB) error {
		return e.svc.CreateOverride(ctx, tx, o)
	})
}

func at(month time.Month, d int) time.Time {
	return time.Date(2024, month, d, 0, 0, 0, 0, time.UTC)
}

func TestSeedDefaults_Idempotent(t *testing.T) {
	env := setupRuleService(t)
	ctx := context.Background()

	require.NoError(t, env.svc.SeedDefaults(ctx, config.DefaultFinanceConfig()))
	require.NoError(t, env.svc.SeedDefaults(ctx, config.DefaultFinanceConfig()))

	rules, err := env.svc.ListRules(ctx, domain.ListRulesRequest{})
	require.NoError(t, err)
	assert.Len(t, rules, 3)
	assert.EqualValues(t, 3, env.auditCount(t, auditdomain.TableFinanceRules))

	got, err := env.svc.Resolve(ctx, domain.RuleTypeAmortization, "c1", at(2, 1))
	require.NoError(t, err)
	assert.Equal(t, domain.SourceDefault, got.Source)
	assert.Equal(t, domain.AmortizationStraightLine, got.AmortizationMethod)
	assert.Equal(t, 12, got.PeriodMonths)
}

func TestCreateRule_NewDefaultSupersedesPrevious(t *testing.T) {
	env := setupRuleService(t)
	ctx := context.Background()
	require.NoError(t, env.svc.SeedDefaults(ctx, config.DefaultFinanceConfig()))

	rule, err := env.svc.CreateRule(ctx, domain.CreateRuleRequest{
		Name:             "Linear Attribution 2024",
		RuleType:         domain.RuleTypeAttribution,
		AttributionModel: domain.AttributionLinear,
		TimeDecayFactor:  0.5,
		IsDefault:        true,
		Actor:            "fin-1",
		Reason:           "switch to linear",
	})
	require.NoError(t, err)
	assert.Equal(t, "linear-attribution-2024", rule.Name)

	got, err := env.svc.Resolve(ctx, domain.RuleTypeAttribution, "", at(2, 1))
	require.NoError(t, err)
	assert.Equal(t, domain.AttributionLinear, got.AttributionModel)
	assert.Equal(t, rule.ID, *got.RuleID)

	rules, err := env.svc.ListRules(ctx, domain.ListRulesRequest{RuleType: domain.RuleTypeAttribution})
	require.NoError(t, err)
	defaults := 0
	for _, r := range rules {
		if r.IsDefault {
			defaults++
		}
	}
	assert.Equal(t, 1, defaults)

	_, err = env.svc.CreateRule(ctx, domain.CreateRuleRequest{
		Name:             "linear attribution 2024",
		RuleType:         domain.RuleTypeAttribution,
		AttributionModel: domain.AttributionLinear,
		Reason:           "dup",
	})
	assert.ErrorIs(t, err, domain.ErrDuplicateRuleName)
}

func TestCreateOverride_ConflictAndAudit(t *testing.T) {
	env := setupRuleService(t)
	ctx := context.Background()
	require.NoError(t, env.svc.SeedDefaults(ctx, config.DefaultFinanceConfig()))

	end := at(3, 1)
	first := &domain.RuleOverride{
		OverrideType:  domain.RuleTypeAmortization,
		TargetID:      "c1",
		NewValue:      datatypes.JSONMap{domain.KeyPeriodMonths: 6},
		EffectiveFrom: at(2, 1),
		EffectiveTo:   &end,
		CreatedBy:     "fin-1",
		Reason:        "shorter shelf life",
	}
	require.NoError(t, env.createOverride(ctx, first))
	assert.NotZero(t, first.ID)
	assert.EqualValues(t, 12, first.OriginalValue[domain.KeyPeriodMonths])
	assert.EqualValues(t, 1, env.auditCount(t, auditdomain.TableRuleOverrides))

	overlapping := &domain.RuleOverride{
		OverrideType:  domain.RuleTypeAmortization,
		TargetID:      "c1",
		NewValue:      datatypes.JSONMap{domain.KeyPeriodMonths: 3},
		EffectiveFrom: at(2, 15),
	}
	err := env.createOverride(ctx, overlapping)
	var conflict *domain.ConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, first.ID, conflict.ExistingID)
	assert.EqualValues(t, 1, env.auditCount(t, auditdomain.TableRuleOverrides))

	adjacent := &domain.RuleOverride{
		OverrideType:  domain.RuleTypeAmortization,
		TargetID:      "c1",
		NewValue:      datatypes.JSONMap{domain.KeyPeriodMonths: 3},
		EffectiveFrom: end,
	}
	require.NoError(t, env.createOverride(ctx, adjacent))

	got, err := env.svc.Resolve(ctx, domain.RuleTypeAmortization, "c1", at(2, 10))
	require.NoError(t, err)
	assert.Equal(t, domain.SourceOverride, got.Source)
	assert.Equal(t, 6, got.PeriodMonths)

	got, err = env.svc.Resolve(ctx, domain.RuleTypeAmortization, "c2", at(2, 10))
	require.NoError(t, err)
	assert.Equal(t, domain.SourceDefault, got.Source)
}

func TestCreateOverride_NonOverlapHoldsAcrossManyWrites(t *testing.T) {
	env := setupRuleService(t)
	ctx := context.Background()
	require.NoError(t, env.svc.SeedDefaults(ctx, config.DefaultFinanceConfig()))

	for i := 0; i < 20; i++ {
		from := at(1, 1).AddDate(0, 0, (i*7)%30)
		to := from.AddDate(0, 0, 10)
		_ = env.createOverride(ctx, &domain.RuleOverride{
			OverrideType:  domain.RuleTypeAttribution,
			TargetID:      "c9",
			NewValue:      datatypes.JSONMap{domain.KeyAttributionModel: "linear"},
			EffectiveFrom: from,
			EffectiveTo:   &to,
		})
	}

	target := "c9"
	overrides, err := env.svc.ListOverrides(ctx, domain.OverrideFilter{
		RuleType: domain.RuleTypeAttribution, TargetID: &target, ActiveOnly: true,
	})
	require.NoError(t, err)
	require.NotEmpty(t, overrides)
	for i := 1; i < len(overrides); i++ {
		prev := overrides[i-1]
		assert.False(t, prev.EffectiveTo.After(overrides[i].EffectiveFrom), "overrides %d and %d overlap", i-1, i)
	}
}

func TestCreateOverride_RejectsInvalidInput(t *testing.T) {
	env := setupRuleService(t)
	ctx := context.Background()

	err := env.createOverride(ctx, &domain.RuleOverride{
		OverrideType:  domain.RuleTypeAmortization,
		NewValue:      datatypes.JSONMap{domain.KeyAttributionModel: "linear"},
		EffectiveFrom: at(1, 1),
	})
	assert.ErrorIs(t, err, domain.ErrInvalidFragment)

	end := at(1, 1)
	err = env.createOverride(ctx, &domain.RuleOverride{
		OverrideType:  domain.RuleTypeAmortization,
		NewValue:      datatypes.JSONMap{domain.KeyPeriodMonths: 2},
		EffectiveFrom: at(1, 1),
		EffectiveTo:   &end,
	})
	assert.ErrorIs(t, err, domain.ErrInvalidInterval)
}

func TestDeactivateOverride(t *testing.T) {
	env := setupRuleService(t)
	ctx := context.Background()
	require.NoError(t, env.svc.SeedDefaults(ctx, config.DefaultFinanceConfig()))

	o := &domain.RuleOverride{
		OverrideType:  domain.RuleTypeAmortization,
		NewValue:      datatypes.JSONMap{domain.KeyPeriodMonths: 6},
		EffectiveFrom: at(1, 1),
	}
	require.NoError(t, env.createOverride(ctx, o))

	assert.ErrorIs(t, env.svc.DeactivateOverride(ctx, o.ID, "fin-1", ""), domain.ErrMissingReason)
	require.NoError(t, env.svc.DeactivateOverride(ctx, o.ID, "fin-1", "superseded"))

	got, err := env.svc.Resolve(ctx, domain.RuleTypeAmortization, "c1", at(6, 1))
	require.NoError(t, err)
	assert.Equal(t, domain.SourceDefault, got.Source)
	assert.EqualValues(t, 2, env.auditCount(t, auditdomain.TableRuleOverrides))

	assert.ErrorIs(t, env.svc.DeactivateOverride(ctx, 12345, "fin-1", "x"), domain.ErrOverrideNotFound)
}

func TestResolve_MissingDefaultIsFatal(t *testing.T) {
	env := setupRuleService(t)
	_, err := env.svc.Resolve(context.Background(), domain.RuleTypeAllocation, "c1", at(1, 1))
	assert.ErrorIs(t, err, domain.ErrRuleNotFound)
}

func TestSnapshot_MatchesLiveResolution(t *testing.T) {
	env := setupRuleService(t)
	ctx := context.Background()
	require.NoError(t, env.svc.SeedDefaults(ctx, config.DefaultFinanceConfig()))
	require.NoError(t, env.createOverride(ctx, &domain.RuleOverride{
		OverrideType:  domain.RuleTypeAttribution,
		TargetID:      "c1",
		NewValue:      datatypes.JSONMap{domain.KeyAttributionModel: "time_decay", domain.KeyTimeDecayFactor: 0.25},
		EffectiveFrom: at(1, 10),
	}))

	snap, err := env.svc.Snapshot(ctx)
	require.NoError(t, err)
	for _, asOf := range []time.Time{at(1, 1), at(1, 10), at(5, 5)} {
		live, err := env.svc.Resolve(ctx, domain.RuleTypeAttribution, "c1", asOf)
		require.NoError(t, err)
		frozen, err := snap.Resolve(ctx, domain.RuleTypeAttribution, "c1", asOf)
		require.NoError(t, err)
		assert.Equal(t, live, frozen)
	}
}
