package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

var (
	ErrInvalidRequest  = errors.New("invalid_recompute_request")
	ErrRequestNotFound = errors.New("recompute_request_not_found")
)

type EnqueueRequest struct {
	ContentID  string
	RangeStart *time.Time
	RangeEnd   *time.Time
	AsOf       *time.Time
	Reason     string
	SourceType SourceType
	SourceID   string
}

//go:generate mockgen -source=service.go -destination=../mocks/mock_service.go -package=mocks

// Enqueuer queues recomputation inside the caller's transaction.
type Enqueuer interface {
	// Enqueue skips requests already pending for the same (content_id, source_id)
	// and returns how many rows were written.
	Enqueue(ctx context.Context, tx *gorm.DB, reqs ...EnqueueRequest) (int, error)
}

type Service interface {
	Enqueuer
	// Claim marks up to limit pending requests processing and returns them.
	Claim(ctx context.Context, limit int) ([]Request, error)
	Complete(ctx context.Context, id snowflake.ID) error
	// Fail records cause. Retryable failures go back to pending until MaxAttempts.
	Fail(ctx context.Context, id snowflake.ID, cause error, retryable bool) error
	List(ctx context.Context, status Status, limit int) ([]Request, error)
	// RecoverStale returns processing requests started before cutoff to pending.
	RecoverStale(ctx context.Context, cutoff time.Time) (int, error)
}

type Repository interface {
	FindPending(ctx context.Context, db *gorm.DB, contentID, sourceID string) (*Request, error)
	Insert(ctx context.Context, db *gorm.DB, req *Request) error
	LockPending(ctx context.Context, db *gorm.DB, limit int) ([]Request, error)
	MarkProcessing(ctx context.Context, db *gorm.DB, ids []snowflake.ID, now time.Time) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Request, error)
	Update(ctx context.Context, db *gorm.DB, id snowflake.ID, fields map[string]any) error
	List(ctx context.Context, db *gorm.DB, status Status, limit int) ([]Request, error)
	ResetStale(ctx context.Context, db *gorm.DB, cutoff, now time.Time) (int64, error)
}
