package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/contentfin/internal/clock"
	obsmetrics "github.com/smallbiznis/contentfin/internal/observability/metrics"
	"github.com/smallbiznis/contentfin/internal/recompute/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const maxErrorLength = 2000

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Repo    domain.Repository
	Clock   clock.Clock
	Metrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	repo    domain.Repository
	clock   clock.Clock
	metrics *obsmetrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("recompute.service"),
		genID:   p.GenID,
		repo:    p.Repo,
		clock:   p.Clock,
		metrics: p.Metrics,
	}
}

func (s *Service) Enqueue(ctx context.Context, tx *gorm.DB, reqs ...domain.EnqueueRequest) (int, error) {
	if tx == nil {
		tx = s.db
	}
	now := s.clock.Now()
	written := 0
	counts := map[domain.SourceType]int{}
	for _, req := range reqs {
		contentID := strings.TrimSpace(req.ContentID)
		sourceID := strings.TrimSpace(req.SourceID)
		if contentID == "" || sourceID == "" {
			return written, domain.ErrInvalidRequest
		}
		switch req.SourceType {
		case domain.SourceFeedback, domain.SourceManual:
		default:
			return written, domain.ErrInvalidRequest
		}
		if req.RangeStart != nil && req.RangeEnd != nil && req.RangeEnd.Before(*req.RangeStart) {
			return written, domain.ErrInvalidRequest
		}

		existing, err := s.repo.FindPending(ctx, tx, contentID, sourceID)
		if err != nil {
			return written, err
		}
		if existing != nil {
			continue
		}

		row := &domain.Request{
			ID:         s.genID.Generate(),
			ContentID:  contentID,
			RangeStart: req.RangeStart,
			RangeEnd:   req.RangeEnd,
			AsOf:       req.AsOf,
			Reason:     strings.TrimSpace(req.Reason),
			SourceType: req.SourceType,
			SourceID:   sourceID,
			Status:     domain.StatusPending,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := s.repo.Insert(ctx, tx, row); err != nil {
			return written, err
		}
		written++
		counts[req.SourceType]++
	}
	for sourceType, n := range counts {
		s.metrics.RecordRecomputeEnqueued(ctx, string(sourceType), n)
	}
	if written > 0 {
		s.log.Debug("recompute requests enqueued", zap.Int("count", written))
	}
	return written, nil
}

func (s *Service) Claim(ctx context.Context, limit int) ([]domain.Request, error) {
	if limit <= 0 {
		return nil, nil
	}
	now := s.clock.Now()
	var claimed []domain.Request
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		reqs, err := s.repo.LockPending(ctx, tx, limit)
		if err != nil {
			return err
		}
		if len(reqs) == 0 {
			return nil
		}
		ids := make([]snowflake.ID, 0, len(reqs))
		for _, r := range reqs {
			ids = append(ids, r.ID)
		}
		if err := s.repo.MarkProcessing(ctx, tx, ids, now); err != nil {
			return err
		}
		for i := range reqs {
			started := now
			reqs[i].Status = domain.StatusProcessing
			reqs[i].Attempts++
			reqs[i].StartedAt = &started
			reqs[i].UpdatedAt = now
		}
		claimed = reqs
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (s *Service) Complete(ctx context.Context, id snowflake.ID) error {
	req, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return err
	}
	if req == nil {
		return domain.ErrRequestNotFound
	}
	now := s.clock.Now()
	return s.repo.Update(ctx, s.db, id, map[string]any{
		"status":       domain.StatusCompleted,
		"completed_at": now,
		"last_error":   nil,
		"updated_at":   now,
	})
}

func (s *Service) Fail(ctx context.Context, id snowflake.ID, cause error, retryable bool) error {
	req, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return err
	}
	if req == nil {
		return domain.ErrRequestNotFound
	}

	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	if len(msg) > maxErrorLength {
		msg = msg[:maxErrorLength]
	}

	status := domain.StatusFailed
	if retryable && req.Attempts < domain.MaxAttempts {
		status = domain.StatusPending
	}
	now := s.clock.Now()
	fields := map[string]any{
		"status":     status,
		"last_error": msg,
		"updated_at": now,
	}
	if status == domain.StatusFailed {
		fields["completed_at"] = now
	}
	if err := s.repo.Update(ctx, s.db, id, fields); err != nil {
		return fmt.Errorf("record recompute failure: %w", err)
	}
	s.log.Warn("recompute request failed",
		zap.String("request_id", id.String()),
		zap.String("content_id", req.ContentID),
		zap.Int("attempts", req.Attempts),
		zap.String("status", string(status)),
		zap.String("error", msg),
	)
	return nil
}

func (s *Service) List(ctx context.Context, status domain.Status, limit int) ([]domain.Request, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.repo.List(ctx, s.db, status, limit)
}

func (s *Service) RecoverStale(ctx context.Context, cutoff time.Time) (int, error) {
	n, err := s.repo.ResetStale(ctx, s.db, cutoff, s.clock.Now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.log.Warn("recovered stale recompute requests", zap.Int64("count", n), zap.Time("cutoff", cutoff))
	}
	return int(n), nil
}
