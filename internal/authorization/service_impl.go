package authorization

import (
	"context"
	_ "embed"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

type Params struct {
	fx.In

	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
}

type ServiceImpl struct {
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
}

func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	if err := enforcer.BuildRoleLinks(); err != nil {
		return nil, err
	}
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
	}
}

func (s *ServiceImpl) Authorize(ctx context.Context, actorID string, role string, object string, action string) error {
	actorID = strings.TrimSpace(actorID)
	role = strings.ToLower(strings.TrimSpace(role))
	if actorID == "" || !IsKnownRole(role) {
		return ErrInvalidActor
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrInvalidAction
	}

	allowed, err := s.enforcer.Enforce(roleSubject(role), object, action)
	if err != nil {
		return err
	}
	if !allowed {
		s.log.Warn("authorization.denied",
			zap.String("actor_id", actorID),
			zap.String("actor_role", role),
			zap.String("object", object),
			zap.String("action", action),
		)
		return ErrForbidden
	}
	return nil
}

func roleSubject(role string) string {
	return "role:" + role
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	policies := [][]string{
		// Finance admins own the rule set.
		{roleSubject(RoleFinanceAdmin), ObjectFeedback, ActionFeedbackSubmit},
		{roleSubject(RoleFinanceAdmin), ObjectFeedback, ActionFeedbackView},
		{roleSubject(RoleFinanceAdmin), ObjectFeedback, ActionFeedbackApprove},
		{roleSubject(RoleFinanceAdmin), ObjectFeedback, ActionFeedbackReject},
		{roleSubject(RoleFinanceAdmin), ObjectFeedback, ActionFeedbackApply},
		{roleSubject(RoleFinanceAdmin), ObjectRule, ActionRuleManage},
		{roleSubject(RoleFinanceAdmin), ObjectRule, ActionRuleView},
		{roleSubject(RoleFinanceAdmin), ObjectAudit, ActionAuditView},
		{roleSubject(RoleFinanceAdmin), ObjectRecompute, ActionRecomputeRun},

		{roleSubject(RoleStrategyAnalyst), ObjectFeedback, ActionFeedbackSubmit},
		{roleSubject(RoleStrategyAnalyst), ObjectFeedback, ActionFeedbackView},
		{roleSubject(RoleStrategyAnalyst), ObjectFeedback, ActionFeedbackApprove},
		{roleSubject(RoleStrategyAnalyst), ObjectFeedback, ActionFeedbackReject},
		{roleSubject(RoleStrategyAnalyst), ObjectRule, ActionRuleView},
		{roleSubject(RoleStrategyAnalyst), ObjectAudit, ActionAuditView},

		{roleSubject(RoleMarketingUser), ObjectFeedback, ActionFeedbackSubmit},
		{roleSubject(RoleMarketingUser), ObjectFeedback, ActionFeedbackView},
		{roleSubject(RoleMarketingUser), ObjectRule, ActionRuleView},

		{roleSubject(RoleReadOnly), ObjectFeedback, ActionFeedbackView},
		{roleSubject(RoleReadOnly), ObjectRule, ActionRuleView},
		{roleSubject(RoleReadOnly), ObjectAudit, ActionAuditView},

		// Automated recompute and seeding.
		{roleSubject(RoleSystem), ObjectRecompute, ActionRecomputeRun},
		{roleSubject(RoleSystem), ObjectRule, ActionRuleManage},
		{roleSubject(RoleSystem), ObjectRule, ActionRuleView},
	}

	for _, policy := range policies {
		if len(policy) < 3 {
			continue
		}
		if _, err := enforcer.AddPolicy(policy); err != nil {
			return err
		}
	}
	return nil
}
