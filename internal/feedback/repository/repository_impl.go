package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/contentfin/internal/feedback/domain"
	pkgdb "github.com/smallbiznis/contentfin/pkg/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

var countColumns = map[string]bool{
	"status":        true,
	"feedback_type": true,
	"target_type":   true,
	"actor_role":    true,
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, event *domain.FeedbackEvent) error {
	return db.WithContext(ctx).Create(event).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.FeedbackEvent, error) {
	return r.find(db.WithContext(ctx), id)
}

func (r *repo) FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.FeedbackEvent, error) {
	stmt := db.WithContext(ctx)
	if pkgdb.IsPostgres(db) {
		stmt = stmt.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return r.find(stmt, id)
}

func (r *repo) find(stmt *gorm.DB, id snowflake.ID) (*domain.FeedbackEvent, error) {
	var event domain.FeedbackEvent
	err := stmt.Where("id = ?", id).First(&event).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &event, nil
}

func (r *repo) Save(ctx context.Context, db *gorm.DB, event *domain.FeedbackEvent) error {
	return db.WithContext(ctx).Save(event).Error
}

func (r *repo) Search(ctx context.Context, db *gorm.DB, filter domain.SearchFilter) ([]*domain.FeedbackEvent, error) {
	var events []*domain.FeedbackEvent
	stmt := db.WithContext(ctx).Model(&domain.FeedbackEvent{})

	if filter.Status != "" {
		stmt = stmt.Where("status = ?", filter.Status)
	}
	if filter.FeedbackType != "" {
		stmt = stmt.Where("feedback_type = ?", filter.FeedbackType)
	}
	if filter.TargetType != "" {
		stmt = stmt.Where("target_type = ?", filter.TargetType)
	}
	if targetID := strings.TrimSpace(filter.TargetID); targetID != "" {
		stmt = stmt.Where("target_id = ?", targetID)
	}
	if actorID := strings.TrimSpace(filter.ActorID); actorID != "" {
		stmt = stmt.Where("actor_id = ?", actorID)
	}
	if role := strings.TrimSpace(filter.ActorRole); role != "" {
		stmt = stmt.Where("actor_role = ?", role)
	}
	if filter.Priority != "" {
		stmt = stmt.Where("priority = ?", filter.Priority)
	}
	if q := strings.TrimSpace(filter.Query); q != "" {
		stmt = stmt.Where("LOWER(description) LIKE ?", "%"+strings.ToLower(q)+"%")
	}
	if filter.CreatedFrom != nil {
		stmt = stmt.Where("created_at >= ?", filter.CreatedFrom.UTC())
	}
	if filter.CreatedTo != nil {
		stmt = stmt.Where("created_at <= ?", filter.CreatedTo.UTC())
	}

	if filter.Ascending {
		if filter.Cursor != nil {
			stmt = stmt.Where("(created_at > ?) OR (created_at = ? AND id > ?)",
				filter.Cursor.CreatedAt, filter.Cursor.CreatedAt, filter.Cursor.ID)
		}
		stmt = stmt.Order("created_at asc, id asc")
	} else {
		if filter.Cursor != nil {
			stmt = stmt.Where("(created_at < ?) OR (created_at = ? AND id < ?)",
				filter.Cursor.CreatedAt, filter.Cursor.CreatedAt, filter.Cursor.ID)
		}
		stmt = stmt.Order("created_at desc, id desc")
	}
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit + 1)
	}

	if err := stmt.Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}

func (r *repo) CountBy(ctx context.Context, db *gorm.DB, column string) (map[string]int64, error) {
	if !countColumns[column] {
		return nil, fmt.Errorf("unsupported count column %q", column)
	}
	var rows []struct {
		GroupKey string
		Total    int64
	}
	err := db.WithContext(ctx).
		Model(&domain.FeedbackEvent{}).
		Select(column + " AS group_key, COUNT(*) AS total").
		Group(column).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, row := range rows {
		out[row.GroupKey] = row.Total
	}
	return out, nil
}

func (r *repo) ListReviewSpans(ctx context.Context, db *gorm.DB) ([]domain.ReviewSpan, error) {
	var spans []domain.ReviewSpan
	err := db.WithContext(ctx).
		Model(&domain.FeedbackEvent{}).
		Select("created_at, reviewed_at").
		Where("reviewed_at IS NOT NULL").
		Scan(&spans).Error
	if err != nil {
		return nil, err
	}
	return spans, nil
}

func (r *repo) ListRecent(ctx context.Context, db *gorm.DB, limit int) ([]domain.FeedbackEvent, error) {
	var events []domain.FeedbackEvent
	err := db.WithContext(ctx).
		Order("created_at desc, id desc").
		Limit(limit).
		Find(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}
