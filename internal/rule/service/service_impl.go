package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	auditdomain "github.com/smallbiznis/contentfin/internal/audit/domain"
	"github.com/smallbiznis/contentfin/internal/clock"
	"github.com/smallbiznis/contentfin/internal/config"
	"github.com/smallbiznis/contentfin/internal/rule/domain"
	"github.com/smallbiznis/contentfin/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Repo  domain.Repository
	Audit auditdomain.Service
	Clock clock.Clock
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	repo  domain.Repository
	audit auditdomain.Service
	clock clock.Clock
}

func NewService(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("rule.service"),
		genID: p.GenID,
		repo:  p.Repo,
		audit: p.Audit,
		clock: p.Clock,
	}
}

func (s *Service) Resolve(ctx context.Context, ruleType domain.RuleType, targetID string, asOf time.Time) (domain.EffectiveRule, error) {
	if !ruleType.Valid() {
		return domain.EffectiveRule{}, domain.ErrInvalidRuleType
	}
	targetID = strings.TrimSpace(targetID)

	defaults := map[domain.RuleType]domain.FinanceRule{}
	def, err := s.repo.FindDefault(ctx, s.db, ruleType)
	if err != nil {
		return domain.EffectiveRule{}, err
	}
	if def != nil {
		defaults[ruleType] = *def
	}

	targets := []string{""}
	if targetID != "" {
		targets = append(targets, targetID)
	}
	overrides, err := s.repo.ListActiveOverrides(ctx, s.db, ruleType, targets)
	if err != nil {
		return domain.EffectiveRule{}, err
	}
	ix := domain.NewIndex()
	for _, o := range overrides {
		if err := ix.Insert(o); err != nil {
			// stored overrides are non-overlapping; a failure here means corrupt data
			s.log.Error("rule.index.corrupt",
				zap.String("override_id", o.ID.String()),
				zap.String("rule_type", string(ruleType)),
				zap.Error(err),
			)
			return domain.EffectiveRule{}, err
		}
	}

	return domain.Resolve(defaults, ix, ruleType, targetID, asOf.UTC())
}

func (s *Service) Default(ctx context.Context, ruleType domain.RuleType, asOf time.Time) (domain.EffectiveRule, error) {
	if !ruleType.Valid() {
		return domain.EffectiveRule{}, domain.ErrInvalidRuleType
	}
	def, err := s.repo.FindDefault(ctx, s.db, ruleType)
	if err != nil {
		return domain.EffectiveRule{}, err
	}
	if def == nil {
		return domain.EffectiveRule{}, &domain.ResolutionError{RuleType: ruleType, AsOf: asOf.UTC()}
	}
	return domain.EffectiveFromRule(*def, asOf.UTC()), nil
}

func (s *Service) Snapshot(ctx context.Context) (*domain.Snapshot, error) {
	defaults, err := s.repo.ListDefaults(ctx, s.db)
	if err != nil {
		return nil, err
	}
	overrides, err := s.repo.ListAllActiveOverrides(ctx, s.db)
	if err != nil {
		return nil, err
	}
	return domain.NewSnapshot(defaults, overrides)
}

func (s *Service) CreateOverride(ctx context.Context, tx *gorm.DB, o *domain.RuleOverride) error {
	if o == nil {
		return domain.ErrInvalidFragment
	}
	if tx == nil {
		return errors.New("create override requires a transaction")
	}
	if !o.OverrideType.Valid() {
		return domain.ErrInvalidRuleType
	}
	fragment, err := domain.ParseFragment(o.NewValue)
	if err != nil {
		return err
	}
	if err := fragment.Validate(o.OverrideType); err != nil {
		return err
	}
	o.TargetID = strings.TrimSpace(o.TargetID)
	o.EffectiveFrom = o.EffectiveFrom.UTC()
	if o.EffectiveTo != nil {
		to := o.EffectiveTo.UTC()
		if !to.After(o.EffectiveFrom) {
			return domain.ErrInvalidInterval
		}
		o.EffectiveTo = &to
	}
	o.CreatedBy = strings.TrimSpace(o.CreatedBy)
	if o.CreatedBy == "" {
		o.CreatedBy = "system"
	}

	if err := s.repo.LockKey(ctx, tx, domain.LockKey(o.OverrideType, o.TargetID)); err != nil {
		return err
	}
	existing, err := s.repo.ListActiveOverrides(ctx, tx, o.OverrideType, []string{o.TargetID})
	if err != nil {
		return err
	}
	ix := domain.NewIndex()
	for _, e := range existing {
		if err := ix.Insert(e); err != nil {
			return err
		}
	}
	if hit, overlaps := ix.Overlapping(o.OverrideType, o.TargetID, o.EffectiveFrom, o.EffectiveTo); overlaps {
		return &domain.ConflictError{
			OverrideType: o.OverrideType,
			TargetID:     o.TargetID,
			ExistingID:   hit.ID,
			From:         hit.EffectiveFrom,
			To:           hit.EffectiveTo,
		}
	}

	if len(o.OriginalValue) == 0 {
		if current, err := s.resolveIn(ctx, tx, o.OverrideType, o.TargetID, o.EffectiveFrom); err == nil {
			o.OriginalValue = datatypes.JSONMap(current.Fragment().Map())
		}
	}

	now := s.clock.Now().UTC()
	o.ID = s.genID.Generate()
	o.NewValue = datatypes.JSONMap(fragment.Map())
	o.IsActive = true
	o.CreatedAt = now
	o.UpdatedAt = now

	if err := s.repo.InsertOverride(ctx, tx, o); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return fmt.Errorf("%w: %v", domain.ErrRuleConflict, err)
		}
		return err
	}

	reason := strings.TrimSpace(o.Reason)
	if reason == "" {
		reason = "override created"
	}
	if err := s.audit.Record(ctx, tx, auditdomain.Entry{
		Table:     auditdomain.TableRuleOverrides,
		RecordID:  o.ID.String(),
		Action:    auditdomain.ActionInsert,
		OldValues: o.OriginalValue,
		NewValues: overrideValues(*o),
		ChangedBy: o.CreatedBy,
		Reason:    reason,
	}); err != nil {
		return err
	}

	s.log.Info("rule.override.created",
		zap.String("override_id", o.ID.String()),
		zap.String("rule_type", string(o.OverrideType)),
		zap.String("target_id", o.TargetID),
		zap.Time("effective_from", o.EffectiveFrom),
	)
	return nil
}

// resolveIn resolves against tx so an in-flight transaction sees its own writes.
func (s *Service) resolveIn(ctx context.Context, tx *gorm.DB, ruleType domain.RuleType, targetID string, asOf time.Time) (domain.EffectiveRule, error) {
	defaults := map[domain.RuleType]domain.FinanceRule{}
	def, err := s.repo.FindDefault(ctx, tx, ruleType)
	if err != nil {
		return domain.EffectiveRule{}, err
	}
	if def != nil {
		defaults[ruleType] = *def
	}
	targets := []string{""}
	if targetID != "" {
		targets = append(targets, targetID)
	}
	overrides, err := s.repo.ListActiveOverrides(ctx, tx, ruleType, targets)
	if err != nil {
		return domain.EffectiveRule{}, err
	}
	ix := domain.NewIndex()
	for _, o := range overrides {
		if err := ix.Insert(o); err != nil {
			return domain.EffectiveRule{}, err
		}
	}
	return domain.Resolve(defaults, ix, ruleType, targetID, asOf)
}

func (s *Service) DeactivateOverride(ctx context.Context, id snowflake.ID, actor string, reason string) error {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return domain.ErrMissingReason
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		override, err := s.repo.FindOverrideForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if override == nil {
			return domain.ErrOverrideNotFound
		}
		if !override.IsActive {
			return nil
		}
		if err := s.repo.DeactivateOverride(ctx, tx, id, s.clock.Now().UTC()); err != nil {
			return err
		}
		return s.audit.Record(ctx, tx, auditdomain.Entry{
			Table:     auditdomain.TableRuleOverrides,
			RecordID:  id.String(),
			Action:    auditdomain.ActionUpdate,
			OldValues: map[string]any{"is_active": true},
			NewValues: map[string]any{"is_active": false},
			ChangedBy: actor,
			Reason:    reason,
		})
	})
}

func (s *Service) CreateRule(ctx context.Context, req domain.CreateRuleRequest) (*domain.FinanceRule, error) {
	name := slug.Make(strings.TrimSpace(req.Name))
	if name == "" {
		return nil, domain.ErrInvalidRuleName
	}
	if !req.RuleType.Valid() {
		return nil, domain.ErrInvalidRuleType
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return nil, domain.ErrMissingReason
	}

	rule := domain.FinanceRule{
		Name:                 name,
		RuleType:             req.RuleType,
		AmortizationMethod:   req.AmortizationMethod,
		PeriodMonths:         req.PeriodMonths,
		AttributionModel:     req.AttributionModel,
		TimeDecayFactor:      req.TimeDecayFactor,
		ChannelAllocationPct: req.ChannelAllocationPct,
	}
	if err := rule.Fragment().Validate(req.RuleType); err != nil {
		return nil, err
	}
	if !domain.EffectiveFromRule(rule, time.Time{}).Complete() {
		return nil, fmt.Errorf("%w: %s rule is missing its primary setting", domain.ErrInvalidFragment, req.RuleType)
	}

	actor := strings.TrimSpace(req.Actor)
	if actor == "" {
		actor = "system"
	}
	now := s.clock.Now().UTC()
	rule.ID = s.genID.Generate()
	rule.IsDefault = req.IsDefault
	rule.IsActive = true
	rule.CreatedBy = actor
	rule.CreatedAt = now
	rule.UpdatedAt = now

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := s.repo.FindRuleByName(ctx, tx, name)
		if err != nil {
			return err
		}
		if existing != nil {
			return domain.ErrDuplicateRuleName
		}

		if rule.IsDefault {
			if err := s.repo.LockKey(ctx, tx, "default:"+string(rule.RuleType)); err != nil {
				return err
			}
			previous, err := s.repo.FindDefault(ctx, tx, rule.RuleType)
			if err != nil {
				return err
			}
			if previous != nil {
				if err := s.repo.ClearDefault(ctx, tx, previous.ID, now); err != nil {
					return err
				}
				if err := s.audit.Record(ctx, tx, auditdomain.Entry{
					Table:     auditdomain.TableFinanceRules,
					RecordID:  previous.ID.String(),
					Action:    auditdomain.ActionUpdate,
					OldValues: map[string]any{"is_default": true},
					NewValues: map[string]any{"is_default": false, "superseded_by": rule.ID.String()},
					ChangedBy: actor,
					Reason:    reason,
				}); err != nil {
					return err
				}
			}
		}

		if err := s.repo.InsertRule(ctx, tx, &rule); err != nil {
			if db.IsDuplicateKeyErr(err) {
				return domain.ErrDuplicateRuleName
			}
			return err
		}
		return s.audit.Record(ctx, tx, auditdomain.Entry{
			Table:     auditdomain.TableFinanceRules,
			RecordID:  rule.ID.String(),
			Action:    auditdomain.ActionInsert,
			NewValues: ruleValues(rule),
			ChangedBy: actor,
			Reason:    reason,
		})
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("rule.created",
		zap.String("rule_id", rule.ID.String()),
		zap.String("rule_name", rule.Name),
		zap.String("rule_type", string(rule.RuleType)),
		zap.Bool("is_default", rule.IsDefault),
	)
	return &rule, nil
}

func (s *Service) GetRule(ctx context.Context, id snowflake.ID) (*domain.FinanceRule, error) {
	rule, err := s.repo.FindRuleByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if rule == nil {
		return nil, domain.ErrRuleNotFound
	}
	return rule, nil
}

func (s *Service) ListRules(ctx context.Context, req domain.ListRulesRequest) ([]domain.FinanceRule, error) {
	if req.RuleType != "" && !req.RuleType.Valid() {
		return nil, domain.ErrInvalidRuleType
	}
	return s.repo.ListRules(ctx, s.db, req)
}

func (s *Service) ListOverrides(ctx context.Context, filter domain.OverrideFilter) ([]domain.RuleOverride, error) {
	if filter.RuleType != "" && !filter.RuleType.Valid() {
		return nil, domain.ErrInvalidRuleType
	}
	return s.repo.ListOverrides(ctx, s.db, filter)
}

// SeedDefaults creates the default rule of every type that has none.
func (s *Service) SeedDefaults(ctx context.Context, cfg config.FinanceConfig) error {
	requests := []domain.CreateRuleRequest{
		{
			Name:               "default_amortization",
			RuleType:           domain.RuleTypeAmortization,
			AmortizationMethod: domain.AmortizationMethod(cfg.DefaultAmortizationMethod),
			PeriodMonths:       cfg.DefaultAmortizationMonths,
		},
		{
			Name:             "default_attribution",
			RuleType:         domain.RuleTypeAttribution,
			AttributionModel: domain.AttributionModel(cfg.DefaultAttributionModel),
			TimeDecayFactor:  cfg.DefaultTimeDecayFactor,
		},
		{
			Name:                 "default_allocation",
			RuleType:             domain.RuleTypeAllocation,
			ChannelAllocationPct: cfg.DefaultChannelAllocationPct,
		},
	}

	for _, req := range requests {
		existing, err := s.repo.FindDefault(ctx, s.db, req.RuleType)
		if err != nil {
			return err
		}
		if existing != nil {
			continue
		}
		req.IsDefault = true
		req.Actor = "system"
		req.Reason = "seed default finance rules"
		if _, err := s.CreateRule(ctx, req); err != nil && !errors.Is(err, domain.ErrDuplicateRuleName) {
			return fmt.Errorf("seed %s rule: %w", req.RuleType, err)
		}
	}
	return nil
}

func ruleValues(r domain.FinanceRule) map[string]any {
	values := r.Fragment().Map()
	values["rule_name"] = r.Name
	values["rule_type"] = string(r.RuleType)
	values["is_default"] = r.IsDefault
	values["is_active"] = r.IsActive
	return values
}

func overrideValues(o domain.RuleOverride) map[string]any {
	values := map[string]any{
		"override_type":  string(o.OverrideType),
		"target_id":      o.TargetID,
		"new_value":      map[string]any(o.NewValue),
		"effective_from": o.EffectiveFrom.Format(time.RFC3339),
		"is_active":      o.IsActive,
	}
	if o.EffectiveTo != nil {
		values["effective_to"] = o.EffectiveTo.Format(time.RFC3339)
	}
	if o.FeedbackEventID != nil {
		values["feedback_event_id"] = o.FeedbackEventID.String()
	}
	return values
}
