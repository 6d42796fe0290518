package repository

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/contentfin/internal/fact/domain"
	"github.com/smallbiznis/contentfin/pkg/repository"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindContent(ctx context.Context, db *gorm.DB, contentID string) (*domain.Content, error) {
	if contentID == "" {
		return nil, nil
	}
	return repository.ProvideStore[domain.Content](db).FindOne(ctx, &domain.Content{ID: contentID})
}

func (r *repo) ListContentIDs(ctx context.Context, db *gorm.DB) ([]string, error) {
	var ids []string
	if err := db.WithContext(ctx).Model(&domain.Content{}).
		Order("id asc").
		Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *repo) ListEngagement(ctx context.Context, db *gorm.DB, contentID string, from, to time.Time) ([]domain.EngagementEvent, error) {
	var events []domain.EngagementEvent
	if err := db.WithContext(ctx).
		Where("content_id = ? AND event_time >= ? AND event_time < ?", contentID, from.UTC(), to.UTC()).
		Order("event_time asc, id asc").
		Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}

func (r *repo) ListCosts(ctx context.Context, db *gorm.DB, contentID string, until time.Time) ([]domain.Cost, error) {
	var costs []domain.Cost
	if err := db.WithContext(ctx).
		Where("content_id = ? AND cost_date <= ?", contentID, until.UTC()).
		Order("cost_date asc, id asc").
		Find(&costs).Error; err != nil {
		return nil, err
	}
	return costs, nil
}

func (r *repo) ListRevenue(ctx context.Context, db *gorm.DB, contentID string, from, to time.Time) ([]domain.RevenueEvent, error) {
	var events []domain.RevenueEvent
	if err := db.WithContext(ctx).
		Where("content_id = ? AND revenue_date >= ? AND revenue_date < ?", contentID, from.UTC(), to.UTC()).
		Order("revenue_date asc, id asc").
		Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}

func (r *repo) LatestRate(ctx context.Context, db *gorm.DB, from, to string, on time.Time) (*domain.ExchangeRate, error) {
	var rate domain.ExchangeRate
	err := db.WithContext(ctx).
		Where("from_currency = ? AND to_currency = ? AND rate_date <= ?", from, to, on.UTC()).
		Order("rate_date desc, id desc").
		First(&rate).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rate, nil
}
