package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/contentfin/internal/config"
	"gorm.io/gorm"
)

// Resolver answers which rule governs a (type, target) at an instant.
type Resolver interface {
	Resolve(ctx context.Context, ruleType RuleType, targetID string, asOf time.Time) (EffectiveRule, error)
	// Default returns the active default rule for ruleType, ignoring overrides.
	Default(ctx context.Context, ruleType RuleType, asOf time.Time) (EffectiveRule, error)
}

type CreateRuleRequest struct {
	Name                 string
	RuleType             RuleType
	AmortizationMethod   AmortizationMethod
	PeriodMonths         int
	AttributionModel     AttributionModel
	TimeDecayFactor      float64
	ChannelAllocationPct float64
	IsDefault            bool
	Actor                string
	Reason               string
}

type ListRulesRequest struct {
	RuleType   RuleType
	ActiveOnly bool
}

type OverrideFilter struct {
	RuleType   RuleType
	TargetID   *string
	ActiveOnly bool
	AsOf       *time.Time
}

type Repository interface {
	FindDefault(ctx context.Context, db *gorm.DB, ruleType RuleType) (*FinanceRule, error)
	ListDefaults(ctx context.Context, db *gorm.DB) ([]FinanceRule, error)
	FindRuleByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*FinanceRule, error)
	FindRuleByName(ctx context.Context, db *gorm.DB, name string) (*FinanceRule, error)
	ListRules(ctx context.Context, db *gorm.DB, req ListRulesRequest) ([]FinanceRule, error)
	InsertRule(ctx context.Context, db *gorm.DB, rule *FinanceRule) error
	ClearDefault(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) error

	ListActiveOverrides(ctx context.Context, db *gorm.DB, ruleType RuleType, targets []string) ([]RuleOverride, error)
	ListAllActiveOverrides(ctx context.Context, db *gorm.DB) ([]RuleOverride, error)
	ListOverrides(ctx context.Context, db *gorm.DB, filter OverrideFilter) ([]RuleOverride, error)
	FindOverrideForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*RuleOverride, error)
	InsertOverride(ctx context.Context, db *gorm.DB, override *RuleOverride) error
	DeactivateOverride(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) error
	// LockKey serialises override writes for key within tx where the dialect supports it.
	LockKey(ctx context.Context, db *gorm.DB, key string) error
}

type Service interface {
	Resolver

	// CreateOverride validates and inserts o inside tx, rejecting overlaps with
	// a *ConflictError. The audit entry is written in the same tx.
	CreateOverride(ctx context.Context, tx *gorm.DB, o *RuleOverride) error
	DeactivateOverride(ctx context.Context, id snowflake.ID, actor string, reason string) error
	CreateRule(ctx context.Context, req CreateRuleRequest) (*FinanceRule, error)
	GetRule(ctx context.Context, id snowflake.ID) (*FinanceRule, error)
	ListRules(ctx context.Context, req ListRulesRequest) ([]FinanceRule, error)
	ListOverrides(ctx context.Context, filter OverrideFilter) ([]RuleOverride, error)
	SeedDefaults(ctx context.Context, cfg config.FinanceConfig) error
	// Snapshot freezes the current rule set so a batch resolves against one version.
	Snapshot(ctx context.Context) (*Snapshot, error)
}

// LockKey is the serialisation key for override writes on (ruleType, target).
func LockKey(ruleType RuleType, targetID string) string {
	return "override:" + string(ruleType) + ":" + targetID
}
