package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type Action string

const (
	ActionInsert Action = "INSERT"
	ActionUpdate Action = "UPDATE"
	ActionDelete Action = "DELETE"
)

// Valid reports whether the action is one of the recorded mutation kinds.
func (a Action) Valid() bool {
	switch a {
	case ActionInsert, ActionUpdate, ActionDelete:
		return true
	default:
		return false
	}
}

// Audited tables.
const (
	TableFinanceRules   = "finance_rules"
	TableRuleOverrides  = "rule_overrides"
	TableFeedbackEvents = "feedback_events"
)

// AuditTrail is an append-only record of one mutation to a governed table.
type AuditTrail struct {
	ID        snowflake.ID      `gorm:"primaryKey" json:"id"`
	Table     string            `gorm:"column:table_name;type:text;not null" json:"table_name"`
	RecordID  string            `gorm:"column:record_id;type:text;not null" json:"record_id"`
	Action    Action            `gorm:"column:action;type:text;not null" json:"action"`
	OldValues datatypes.JSONMap `gorm:"column:old_values;type:jsonb" json:"old_values,omitempty"`
	NewValues datatypes.JSONMap `gorm:"column:new_values;type:jsonb" json:"new_values,omitempty"`
	ChangedBy string            `gorm:"column:changed_by;type:text;not null" json:"changed_by"`
	ChangedAt time.Time         `gorm:"column:changed_at;not null" json:"changed_at"`
	Reason    string            `gorm:"column:reason;type:text;not null" json:"reason"`
	RequestID *string           `gorm:"column:request_id;type:text" json:"request_id,omitempty"`
}

func (AuditTrail) TableName() string { return "audit_trail" }

type AuditCursor struct {
	ID        snowflake.ID
	ChangedAt time.Time
}

type ListFilter struct {
	Table     string
	RecordID  string
	ChangedBy string
	Action    string
	StartAt   *time.Time
	EndAt     *time.Time
	Cursor    *AuditCursor
	Limit     int
}
