package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

type SourceType string

const (
	SourceFeedback SourceType = "feedback"
	SourceManual   SourceType = "manual"
)

// MaxAttempts bounds retries of a failing request before it is parked as failed.
const MaxAttempts = 3

// Request asks for one content item to be recomputed. A nil range means
// publish date through AsOf; a nil AsOf means the time of processing.
type Request struct {
	ID          snowflake.ID `gorm:"primaryKey" json:"id"`
	ContentID   string       `gorm:"column:content_id;type:text;not null;index" json:"content_id"`
	RangeStart  *time.Time   `gorm:"column:range_start" json:"range_start,omitempty"`
	RangeEnd    *time.Time   `gorm:"column:range_end" json:"range_end,omitempty"`
	AsOf        *time.Time   `gorm:"column:as_of" json:"as_of,omitempty"`
	Reason      string       `gorm:"column:reason;type:text;not null" json:"reason"`
	SourceType  SourceType   `gorm:"column:source_type;type:text;not null" json:"source_type"`
	SourceID    string       `gorm:"column:source_id;type:text;not null" json:"source_id"`
	Status      Status       `gorm:"column:status;type:text;not null;index" json:"status"`
	Attempts    int          `gorm:"column:attempts;not null;default:0" json:"attempts"`
	LastError   *string      `gorm:"column:last_error;type:text" json:"last_error,omitempty"`
	CreatedAt   time.Time    `gorm:"column:created_at;not null" json:"created_at"`
	UpdatedAt   time.Time    `gorm:"column:updated_at;not null" json:"updated_at"`
	StartedAt   *time.Time   `gorm:"column:started_at" json:"started_at,omitempty"`
	CompletedAt *time.Time   `gorm:"column:completed_at" json:"completed_at,omitempty"`
}

func (Request) TableName() string { return "recompute_requests" }
