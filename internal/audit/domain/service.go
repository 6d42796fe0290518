package domain

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/contentfin/pkg/db/pagination"
	"gorm.io/gorm"
)

// Entry describes a mutation to be recorded alongside it.
type Entry struct {
	Table     string
	RecordID  string
	Action    Action
	OldValues map[string]any
	NewValues map[string]any
	ChangedBy string
	Reason    string
}

type ListRequest struct {
	pagination.Pagination
	Table     string
	RecordID  string
	ChangedBy string
	Action    string
	StartAt   *time.Time
	EndAt     *time.Time
}

type ListResponse struct {
	pagination.PageInfo
	Entries []AuditTrail `json:"entries"`
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, entry *AuditTrail) error
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*AuditTrail, error)
	Count(ctx context.Context, db *gorm.DB, table string, recordID string) (int64, error)
}

type Service interface {
	// Record writes an entry using tx so that it commits or rolls back with the mutation.
	Record(ctx context.Context, tx *gorm.DB, entry Entry) error
	List(ctx context.Context, req ListRequest) (ListResponse, error)
}

var (
	ErrInvalidAction    = errors.New("invalid_audit_action")
	ErrMissingReason    = errors.New("missing_audit_reason")
	ErrInvalidTable     = errors.New("invalid_audit_table")
	ErrInvalidRecord    = errors.New("invalid_audit_record")
	ErrInvalidPageToken = errors.New("invalid_page_token")
	ErrInvalidTimeRange = errors.New("invalid_time_range")
)
