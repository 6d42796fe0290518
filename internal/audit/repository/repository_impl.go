package repository

import (
	"context"
	"strings"

	"github.com/smallbiznis/contentfin/internal/audit/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, entry *domain.AuditTrail) error {
	if entry == nil {
		return nil
	}
	return db.WithContext(ctx).Create(entry).Error
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]*domain.AuditTrail, error) {
	var entries []*domain.AuditTrail
	stmt := db.WithContext(ctx).Model(&domain.AuditTrail{})

	if table := strings.TrimSpace(filter.Table); table != "" {
		stmt = stmt.Where("table_name = ?", table)
	}
	if recordID := strings.TrimSpace(filter.RecordID); recordID != "" {
		stmt = stmt.Where("record_id = ?", recordID)
	}
	if changedBy := strings.TrimSpace(filter.ChangedBy); changedBy != "" {
		stmt = stmt.Where("changed_by = ?", changedBy)
	}
	if action := strings.TrimSpace(filter.Action); action != "" {
		stmt = stmt.Where("action = ?", strings.ToUpper(action))
	}
	if filter.StartAt != nil {
		stmt = stmt.Where("changed_at >= ?", filter.StartAt.UTC())
	}
	if filter.EndAt != nil {
		stmt = stmt.Where("changed_at <= ?", filter.EndAt.UTC())
	}
	if filter.Cursor != nil {
		stmt = stmt.Where("(changed_at < ?) OR (changed_at = ? AND id < ?)",
			filter.Cursor.ChangedAt,
			filter.Cursor.ChangedAt,
			filter.Cursor.ID,
		)
	}

	stmt = stmt.Order("changed_at desc, id desc")
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit + 1)
	}

	if err := stmt.Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *repo) Count(ctx context.Context, db *gorm.DB, table string, recordID string) (int64, error) {
	var count int64
	stmt := db.WithContext(ctx).Model(&domain.AuditTrail{}).Where("table_name = ?", table)
	if recordID != "" {
		stmt = stmt.Where("record_id = ?", recordID)
	}
	if err := stmt.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
