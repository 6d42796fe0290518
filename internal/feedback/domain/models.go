package domain

import (
	"encoding/json"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type FeedbackType string

const (
	FeedbackDefinitionCorrection FeedbackType = "definition_correction"
	FeedbackMisattribution       FeedbackType = "misattribution"
	FeedbackOverride             FeedbackType = "override"
	FeedbackRuleChange           FeedbackType = "rule_change"
	FeedbackMetricUpdate         FeedbackType = "metric_update"
	FeedbackCostAllocation       FeedbackType = "cost_allocation"
	FeedbackRevenueAttribution   FeedbackType = "revenue_attribution"
)

func (t FeedbackType) Valid() bool {
	switch t {
	case FeedbackDefinitionCorrection, FeedbackMisattribution, FeedbackOverride, FeedbackRuleChange,
		FeedbackMetricUpdate, FeedbackCostAllocation, FeedbackRevenueAttribution:
		return true
	default:
		return false
	}
}

type TargetType string

const (
	TargetMetric             TargetType = "metric"
	TargetContent            TargetType = "content_id"
	TargetRule               TargetType = "rule_id"
	TargetDefinition         TargetType = "definition"
	TargetCostAllocation     TargetType = "cost_allocation"
	TargetRevenueAttribution TargetType = "revenue_attribution"
)

func (t TargetType) Valid() bool {
	switch t {
	case TargetMetric, TargetContent, TargetRule, TargetDefinition, TargetCostAllocation, TargetRevenueAttribution:
		return true
	default:
		return false
	}
}

type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusApplied  Status = "applied"
)

// Statuses in lifecycle order.
var Statuses = []Status{StatusPending, StatusApproved, StatusRejected, StatusApplied}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected, StatusApplied:
		return true
	default:
		return false
	}
}

type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	default:
		return false
	}
}

// FeedbackEvent is a stakeholder's proposed rule change. It only moves
// through the transitions in CanTransition and is never deleted.
type FeedbackEvent struct {
	ID              snowflake.ID      `gorm:"primaryKey" json:"id"`
	ActorID         string            `gorm:"column:actor_id;type:text;not null;index" json:"actor_id"`
	ActorRole       string            `gorm:"column:actor_role;type:text;not null" json:"actor_role"`
	FeedbackType    FeedbackType      `gorm:"column:feedback_type;type:text;not null" json:"feedback_type"`
	TargetType      TargetType        `gorm:"column:target_type;type:text;not null" json:"target_type"`
	TargetID        *string           `gorm:"column:target_id;type:text" json:"target_id,omitempty"`
	Payload         datatypes.JSONMap `gorm:"column:payload;type:jsonb;not null" json:"payload"`
	Description     string            `gorm:"column:description;type:text;not null" json:"description"`
	Priority        Priority          `gorm:"column:priority;type:text;not null" json:"priority"`
	BusinessImpact  *string           `gorm:"column:business_impact;type:text" json:"business_impact,omitempty"`
	ExpectedOutcome *string           `gorm:"column:expected_outcome;type:text" json:"expected_outcome,omitempty"`
	Status          Status            `gorm:"column:status;type:text;not null;index" json:"status"`
	ImpactAnalysis  datatypes.JSON    `gorm:"column:impact_analysis;type:jsonb" json:"impact_analysis,omitempty"`
	SubmissionHash  string            `gorm:"column:submission_hash;type:text;not null" json:"submission_hash"`
	ReviewedBy      *string           `gorm:"column:reviewed_by;type:text" json:"reviewed_by,omitempty"`
	ReviewedAt      *time.Time        `gorm:"column:reviewed_at" json:"reviewed_at,omitempty"`
	ReviewNotes     *string           `gorm:"column:review_notes;type:text" json:"review_notes,omitempty"`
	AppliedBy       *string           `gorm:"column:applied_by;type:text" json:"applied_by,omitempty"`
	AppliedAt       *time.Time        `gorm:"column:applied_at" json:"applied_at,omitempty"`
	OverrideID      *snowflake.ID     `gorm:"column:override_id" json:"override_id,omitempty"`
	CreatedAt       time.Time         `gorm:"column:created_at;not null;index" json:"created_at"`
	UpdatedAt       time.Time         `gorm:"column:updated_at;not null" json:"updated_at"`
}

func (FeedbackEvent) TableName() string { return "feedback_events" }

// Impact decodes the stored analysis. ok is false when none was stored.
func (e FeedbackEvent) Impact() (analysis ImpactAnalysis, ok bool, err error) {
	if len(e.ImpactAnalysis) == 0 || string(e.ImpactAnalysis) == "null" {
		return ImpactAnalysis{}, false, nil
	}
	if err := json.Unmarshal(e.ImpactAnalysis, &analysis); err != nil {
		return ImpactAnalysis{}, false, err
	}
	return analysis, true, nil
}

// AuditValues is the snapshot written to the audit trail.
func (e FeedbackEvent) AuditValues() map[string]any {
	values := map[string]any{
		"status":          string(e.Status),
		"feedback_type":   string(e.FeedbackType),
		"target_type":     string(e.TargetType),
		"actor_id":        e.ActorID,
		"actor_role":      e.ActorRole,
		"priority":        string(e.Priority),
		"submission_hash": e.SubmissionHash,
	}
	if e.TargetID != nil {
		values["target_id"] = *e.TargetID
	}
	if e.ReviewedBy != nil {
		values["reviewed_by"] = *e.ReviewedBy
	}
	if e.ReviewNotes != nil {
		values["review_notes"] = *e.ReviewNotes
	}
	if e.AppliedBy != nil {
		values["applied_by"] = *e.AppliedBy
	}
	if e.AppliedAt != nil {
		values["applied_at"] = e.AppliedAt.UTC().Format(time.RFC3339Nano)
	}
	if e.OverrideID != nil {
		values["override_id"] = e.OverrideID.String()
	}
	return values
}
