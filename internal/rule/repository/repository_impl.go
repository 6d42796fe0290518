package repository

import (
	"context"
	"errors"
	"hash/fnv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/contentfin/internal/rule/domain"
	"github.com/smallbiznis/contentfin/pkg/db"
	"github.com/smallbiznis/contentfin/pkg/db/option"
	"github.com/smallbiznis/contentfin/pkg/repository"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindDefault(ctx context.Context, conn *gorm.DB, ruleType domain.RuleType) (*domain.FinanceRule, error) {
	var rule domain.FinanceRule
	err := conn.WithContext(ctx).
		Where("rule_type = ? AND is_default = ? AND is_active = ?", ruleType, true, true).
		Order("created_at desc, id desc").
		First(&rule).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rule, nil
}

func (r *repo) ListDefaults(ctx context.Context, conn *gorm.DB) ([]domain.FinanceRule, error) {
	var rules []domain.FinanceRule
	if err := conn.WithContext(ctx).
		Where("is_default = ? AND is_active = ?", true, true).
		Order("rule_type asc, created_at desc, id desc").
		Find(&rules).Error; err != nil {
		return nil, err
	}
	// keep the newest default per type
	seen := map[domain.RuleType]bool{}
	out := rules[:0]
	for _, rule := range rules {
		if seen[rule.RuleType] {
			continue
		}
		seen[rule.RuleType] = true
		out = append(out, rule)
	}
	return out, nil
}

func (r *repo) FindRuleByID(ctx context.Context, conn *gorm.DB, id snowflake.ID) (*domain.FinanceRule, error) {
	var rule domain.FinanceRule
	err := conn.WithContext(ctx).Where("id = ?", id).First(&rule).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rule, nil
}

func (r *repo) FindRuleByName(ctx context.Context, conn *gorm.DB, name string) (*domain.FinanceRule, error) {
	var rule domain.FinanceRule
	err := conn.WithContext(ctx).Where("rule_name = ?", name).First(&rule).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rule, nil
}

func (r *repo) ListRules(ctx context.Context, conn *gorm.DB, req domain.ListRulesRequest) ([]domain.FinanceRule, error) {
	found, err := repository.ProvideStore[domain.FinanceRule](conn).Find(ctx,
		&domain.FinanceRule{RuleType: req.RuleType, IsActive: req.ActiveOnly},
		option.OrderBy("rule_type asc", "created_at asc", "id asc"),
	)
	if err != nil {
		return nil, err
	}
	rules := make([]domain.FinanceRule, 0, len(found))
	for _, rule := range found {
		rules = append(rules, *rule)
	}
	return rules, nil
}

func (r *repo) InsertRule(ctx context.Context, conn *gorm.DB, rule *domain.FinanceRule) error {
	if rule == nil {
		return nil
	}
	return conn.WithContext(ctx).Create(rule).Error
}

func (r *repo) ClearDefault(ctx context.Context, conn *gorm.DB, id snowflake.ID, now time.Time) error {
	return conn.WithContext(ctx).Model(&domain.FinanceRule{}).
		Where("id = ?", id).
		Updates(map[string]any{"is_default": false, "updated_at": now}).Error
}

func (r *repo) ListActiveOverrides(ctx context.Context, conn *gorm.DB, ruleType domain.RuleType, targets []string) ([]domain.RuleOverride, error) {
	var overrides []domain.RuleOverride
	stmt := conn.WithContext(ctx).
		Where("override_type = ? AND is_active = ?", ruleType, true)
	if len(targets) > 0 {
		stmt = stmt.Where("target_id IN ?", targets)
	}
	if err := stmt.Order("effective_from asc, id asc").Find(&overrides).Error; err != nil {
		return nil, err
	}
	return overrides, nil
}

func (r *repo) ListAllActiveOverrides(ctx context.Context, conn *gorm.DB) ([]domain.RuleOverride, error) {
	var overrides []domain.RuleOverride
	if err := conn.WithContext(ctx).
		Where("is_active = ?", true).
		Order("override_type asc, target_id asc, effective_from asc, id asc").
		Find(&overrides).Error; err != nil {
		return nil, err
	}
	return overrides, nil
}

func (r *repo) ListOverrides(ctx context.Context, conn *gorm.DB, filter domain.OverrideFilter) ([]domain.RuleOverride, error) {
	opts := []option.QueryOption{}
	if filter.RuleType != "" {
		opts = append(opts, option.ApplyOperator(option.Condition{Field: "override_type", Value: filter.RuleType}))
	}
	if filter.TargetID != nil {
		opts = append(opts, option.ApplyOperator(option.Condition{Field: "target_id", Value: strings.TrimSpace(*filter.TargetID)}))
	}
	if filter.ActiveOnly {
		opts = append(opts, option.ApplyOperator(option.Condition{Field: "is_active", Value: true}))
	}
	if filter.AsOf != nil {
		asOf := filter.AsOf.UTC()
		opts = append(opts,
			option.ApplyOperator(option.Condition{Field: "effective_from", Operator: option.LTE, Value: asOf}),
			option.QueryOptionFunc(func(stmt *gorm.DB) *gorm.DB {
				return stmt.Where("effective_to IS NULL OR effective_to > ?", asOf)
			}),
		)
	}
	opts = append(opts, option.OrderBy("effective_from asc", "id asc"))

	found, err := repository.ProvideStore[domain.RuleOverride](conn).Find(ctx, &domain.RuleOverride{}, opts...)
	if err != nil {
		return nil, err
	}
	overrides := make([]domain.RuleOverride, 0, len(found))
	for _, o := range found {
		overrides = append(overrides, *o)
	}
	return overrides, nil
}

func (r *repo) FindOverrideForUpdate(ctx context.Context, conn *gorm.DB, id snowflake.ID) (*domain.RuleOverride, error) {
	var override domain.RuleOverride
	stmt := conn.WithContext(ctx)
	if db.IsPostgres(conn) {
		stmt = stmt.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	err := stmt.Where("id = ?", id).First(&override).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &override, nil
}

func (r *repo) InsertOverride(ctx context.Context, conn *gorm.DB, override *domain.RuleOverride) error {
	if override == nil {
		return nil
	}
	return conn.WithContext(ctx).Create(override).Error
}

func (r *repo) DeactivateOverride(ctx context.Context, conn *gorm.DB, id snowflake.ID, now time.Time) error {
	return conn.WithContext(ctx).Model(&domain.RuleOverride{}).
		Where("id = ?", id).
		Updates(map[string]any{"is_active": false, "updated_at": now}).Error
}

func (r *repo) LockKey(ctx context.Context, conn *gorm.DB, key string) error {
	if !db.IsPostgres(conn) {
		return nil
	}
	return conn.WithContext(ctx).Exec("SELECT pg_advisory_xact_lock(?)", advisoryKey(key)).Error
}

func advisoryKey(key string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return int64(h.Sum64())
}
