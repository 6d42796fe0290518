package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/contentfin/pkg/db/pagination"
	"gorm.io/gorm"
)

var (
	ErrFeedbackNotFound      = errors.New("feedback_not_found")
	ErrInvalidTransition     = errors.New("invalid_transition")
	ErrInvalidFeedbackType   = errors.New("invalid_feedback_type")
	ErrInvalidTargetType     = errors.New("invalid_target_type")
	ErrInvalidTarget         = errors.New("invalid_target")
	ErrInvalidPayload        = errors.New("invalid_payload")
	ErrInvalidDescription    = errors.New("invalid_description")
	ErrInvalidPriority       = errors.New("invalid_priority")
	ErrInvalidActor          = errors.New("invalid_actor")
	ErrInvalidStatus         = errors.New("invalid_status")
	ErrInvalidPageToken      = errors.New("invalid_page_token")
	ErrMissingImpactAnalysis = errors.New("missing_impact_analysis")
)

const (
	MinDescriptionLength = 10
	MaxDescriptionLength = 1000
)

// Actor is the stakeholder acting on feedback.
type Actor struct {
	ID   string
	Role string
}

type SubmitRequest struct {
	Actor           Actor
	FeedbackType    FeedbackType
	TargetType      TargetType
	TargetID        *string
	Payload         map[string]any
	Description     string
	Priority        Priority
	BusinessImpact  *string
	ExpectedOutcome *string
}

type SearchRequest struct {
	pagination.Pagination
	Status       Status
	FeedbackType FeedbackType
	TargetType   TargetType
	TargetID     string
	ActorID      string
	ActorRole    string
	Priority     Priority
	Query        string
	CreatedFrom  *time.Time
	CreatedTo    *time.Time
	// Ascending orders oldest first; the default is newest first.
	Ascending bool
}

type SearchResponse struct {
	pagination.PageInfo
	Events []FeedbackEvent `json:"events"`
}

type Summary struct {
	Total             int64            `json:"total"`
	ByStatus          map[string]int64 `json:"by_status"`
	ByType            map[string]int64 `json:"by_type"`
	ByTargetType      map[string]int64 `json:"by_target_type"`
	ByRole            map[string]int64 `json:"by_role"`
	ApprovalRate      float64          `json:"approval_rate"`
	ApplicationRate   float64          `json:"application_rate"`
	AvgReviewHours    float64          `json:"avg_review_hours"`
	MedianReviewHours float64          `json:"median_review_hours"`
	Recent            []FeedbackEvent  `json:"recent"`
}

type SearchCursor struct {
	ID        snowflake.ID
	CreatedAt time.Time
}

type SearchFilter struct {
	Status       Status
	FeedbackType FeedbackType
	TargetType   TargetType
	TargetID     string
	ActorID      string
	ActorRole    string
	Priority     Priority
	Query        string
	CreatedFrom  *time.Time
	CreatedTo    *time.Time
	Ascending    bool
	Cursor       *SearchCursor
	Limit        int
}

// ReviewSpan is the submitted and reviewed times of one reviewed event.
type ReviewSpan struct {
	CreatedAt  time.Time
	ReviewedAt time.Time
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, event *FeedbackEvent) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*FeedbackEvent, error)
	FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*FeedbackEvent, error)
	Save(ctx context.Context, db *gorm.DB, event *FeedbackEvent) error
	Search(ctx context.Context, db *gorm.DB, filter SearchFilter) ([]*FeedbackEvent, error)
	CountBy(ctx context.Context, db *gorm.DB, column string) (map[string]int64, error)
	ListReviewSpans(ctx context.Context, db *gorm.DB) ([]ReviewSpan, error)
	ListRecent(ctx context.Context, db *gorm.DB, limit int) ([]FeedbackEvent, error)
}

//go:generate mockgen -source=service.go -destination=../mocks/mock_service.go -package=mocks
type Service interface {
	// Submit validates the request, computes its impact analysis and stores
	// the event as pending. Nothing is stored when the analysis fails.
	Submit(ctx context.Context, req SubmitRequest) (FeedbackEvent, error)
	Approve(ctx context.Context, id snowflake.ID, actor Actor, notes string) (FeedbackEvent, error)
	Reject(ctx context.Context, id snowflake.ID, actor Actor, notes string) (FeedbackEvent, error)
	// Apply turns an approved event into a rule override and queues
	// recomputation of the affected partitions, all in one transaction.
	Apply(ctx context.Context, id snowflake.ID, actor Actor) (FeedbackEvent, error)
	Get(ctx context.Context, id snowflake.ID) (FeedbackEvent, error)
	Search(ctx context.Context, req SearchRequest) (SearchResponse, error)
	Summary(ctx context.Context) (Summary, error)
	// AnalyzeImpact recomputes the analysis for a stored event without saving it.
	AnalyzeImpact(ctx context.Context, id snowflake.ID) (ImpactAnalysis, error)
}
