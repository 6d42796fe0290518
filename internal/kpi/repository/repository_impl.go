package repository

import (
	"context"
	"time"

	"github.com/smallbiznis/contentfin/internal/kpi/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const upsertBatchSize = 200

type repo struct{}

func Provide() domain.Writer {
	return &repo{}
}

func (r *repo) Upsert(ctx context.Context, db *gorm.DB, rows []domain.DailyMetric) error {
	if len(rows) == 0 {
		return nil
	}
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "content_id"}, {Name: "event_date"}},
			UpdateAll: true,
		}).
		CreateInBatches(rows, upsertBatchSize).Error
}

func (r *repo) ReplaceRange(ctx context.Context, db *gorm.DB, contentID string, from, to time.Time, rows []domain.DailyMetric) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		keep := make([]time.Time, 0, len(rows))
		for _, row := range rows {
			keep = append(keep, row.EventDate)
		}
		stale := tx.Where("content_id = ? AND event_date >= ? AND event_date <= ?", contentID, from, to)
		if len(keep) > 0 {
			stale = stale.Where("event_date NOT IN ?", keep)
		}
		if err := stale.Delete(&domain.DailyMetric{}).Error; err != nil {
			return err
		}
		return r.Upsert(ctx, tx, rows)
	})
}

func (r *repo) List(ctx context.Context, db *gorm.DB, contentID string, from, to time.Time) ([]domain.DailyMetric, error) {
	var rows []domain.DailyMetric
	if err := db.WithContext(ctx).
		Where("content_id = ? AND event_date >= ? AND event_date <= ?", contentID, from, to).
		Order("event_date asc").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
