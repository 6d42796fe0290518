package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/contentfin/internal/recompute/domain"
	pkgdb "github.com/smallbiznis/contentfin/pkg/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindPending(ctx context.Context, db *gorm.DB, contentID, sourceID string) (*domain.Request, error) {
	var req domain.Request
	err := db.WithContext(ctx).
		Where("content_id = ? AND source_id = ? AND status = ?", contentID, sourceID, domain.StatusPending).
		First(&req).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &req, nil
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, req *domain.Request) error {
	return db.WithContext(ctx).Create(req).Error
}

// LockPending selects pending requests oldest first. On postgres the rows are
// locked with SKIP LOCKED so concurrent workers never claim the same request.
func (r *repo) LockPending(ctx context.Context, db *gorm.DB, limit int) ([]domain.Request, error) {
	q := db.WithContext(ctx).
		Where("status = ?", domain.StatusPending).
		Order("created_at asc, id asc").
		Limit(limit)
	if pkgdb.IsPostgres(db) {
		q = q.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
	}
	var reqs []domain.Request
	if err := q.Find(&reqs).Error; err != nil {
		return nil, err
	}
	return reqs, nil
}

func (r *repo) MarkProcessing(ctx context.Context, db *gorm.DB, ids []snowflake.ID, now time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	return db.WithContext(ctx).
		Model(&domain.Request{}).
		Where("id IN ? AND status = ?", ids, domain.StatusPending).
		Updates(map[string]any{
			"status":     domain.StatusProcessing,
			"attempts":   gorm.Expr("attempts + 1"),
			"started_at": now,
			"updated_at": now,
		}).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Request, error) {
	var req domain.Request
	err := db.WithContext(ctx).Where("id = ?", id).First(&req).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &req, nil
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, id snowflake.ID, fields map[string]any) error {
	return db.WithContext(ctx).Model(&domain.Request{}).Where("id = ?", id).Updates(fields).Error
}

func (r *repo) List(ctx context.Context, db *gorm.DB, status domain.Status, limit int) ([]domain.Request, error) {
	q := db.WithContext(ctx).Order("created_at desc, id desc").Limit(limit)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var reqs []domain.Request
	if err := q.Find(&reqs).Error; err != nil {
		return nil, err
	}
	return reqs, nil
}

func (r *repo) ResetStale(ctx context.Context, db *gorm.DB, cutoff, now time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Model(&domain.Request{}).
		Where("status = ? AND started_at IS NOT NULL AND started_at < ?", domain.StatusProcessing, cutoff).
		Updates(map[string]any{
			"status":     domain.StatusPending,
			"updated_at": now,
		})
	return res.RowsAffected, res.Error
}
