package authorization

import (
	"context"
	"errors"
)

var (
	ErrForbidden     = errors.New("forbidden")
	ErrInvalidActor  = errors.New("invalid_actor")
	ErrInvalidObject = errors.New("invalid_object")
	ErrInvalidAction = errors.New("invalid_action")
)

const (
	RoleFinanceAdmin    = "finance_admin"
	RoleStrategyAnalyst = "strategy_analyst"
	RoleMarketingUser   = "marketing_user"
	RoleReadOnly        = "read_only"
	RoleSystem          = "system"
)

const (
	ObjectFeedback  = "feedback"
	ObjectRule      = "rule"
	ObjectAudit     = "audit"
	ObjectRecompute = "recompute"
)

const (
	ActionFeedbackSubmit  = "feedback.submit"
	ActionFeedbackView    = "feedback.view"
	ActionFeedbackApprove = "feedback.approve"
	ActionFeedbackReject  = "feedback.reject"
	ActionFeedbackApply   = "feedback.apply"
	ActionRuleManage      = "rule.manage"
	ActionRuleView        = "rule.view"
	ActionAuditView       = "audit.view"
	ActionRecomputeRun    = "recompute.run"
)

// Service gates governance actions by stakeholder role.
type Service interface {
	Authorize(ctx context.Context, actorID string, role string, object string, action string) error
}

// IsKnownRole reports whether role is one of the stakeholder roles.
func IsKnownRole(role string) bool {
	switch role {
	case RoleFinanceAdmin, RoleStrategyAnalyst, RoleMarketingUser, RoleReadOnly, RoleSystem:
		return true
	default:
		return false
	}
}
