package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/montanaflynn/stats"
	auditdomain "github.com/smallbiznis/contentfin/internal/audit/domain"
	"github.com/smallbiznis/contentfin/internal/authorization"
	"github.com/smallbiznis/contentfin/internal/clock"
	"github.com/smallbiznis/contentfin/internal/config"
	"github.com/smallbiznis/contentfin/internal/engine"
	factdomain "github.com/smallbiznis/contentfin/internal/fact/domain"
	"github.com/smallbiznis/contentfin/internal/feedback/domain"
	"github.com/smallbiznis/contentfin/internal/lock"
	obsmetrics "github.com/smallbiznis/contentfin/internal/observability/metrics"
	recomputedomain "github.com/smallbiznis/contentfin/internal/recompute/domain"
	ruledomain "github.com/smallbiznis/contentfin/internal/rule/domain"
	"github.com/smallbiznis/contentfin/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	defaultPageSize = 20
	maxPageSize     = 250
	recentLimit     = 10
)

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	Repo      domain.Repository
	Rules     ruledomain.Service
	Audit     auditdomain.Service
	Authz     authorization.Service
	Engine    *engine.Engine
	Reader    factdomain.Reader
	Recompute recomputedomain.Enqueuer
	Locker    lock.Locker
	Config    config.Config
	Finance   *config.FinanceConfigHolder `optional:"true"`
	Metrics   *obsmetrics.Metrics         `optional:"true"`
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	clock     clock.Clock
	repo      domain.Repository
	rules     ruledomain.Service
	audit     auditdomain.Service
	authz     authorization.Service
	sim       Simulator
	reader    factdomain.Reader
	recompute recomputedomain.Enqueuer
	locker    lock.Locker
	lockTTL   time.Duration
	finance   *config.FinanceConfigHolder
	metrics   *obsmetrics.Metrics
}

func NewService(p Params) domain.Service {
	return newService(p, p.Engine)
}

func newService(p Params, sim Simulator) *Service {
	finance := p.Finance
	if finance == nil {
		finance = config.StaticFinanceConfig(config.DefaultFinanceConfig())
	}
	lockTTL := p.Config.OverrideLockTTL
	if lockTTL <= 0 {
		lockTTL = 30 * time.Second
	}
	locker := p.Locker
	if locker == nil {
		locker = lock.NewMemoryLocker()
	}
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("feedback.service"),
		genID:     p.GenID,
		clock:     p.Clock,
		repo:      p.Repo,
		rules:     p.Rules,
		audit:     p.Audit,
		authz:     p.Authz,
		sim:       sim,
		reader:    p.Reader,
		recompute: p.Recompute,
		locker:    locker,
		lockTTL:   lockTTL,
		finance:   finance,
		metrics:   p.Metrics,
	}
}

func (s *Service) Submit(ctx context.Context, req domain.SubmitRequest) (domain.FeedbackEvent, error) {
	actor, err := normalizeActor(req.Actor)
	if err != nil {
		return domain.FeedbackEvent{}, err
	}
	if err := s.authz.Authorize(ctx, actor.ID, actor.Role, authorization.ObjectFeedback, authorization.ActionFeedbackSubmit); err != nil {
		return domain.FeedbackEvent{}, err
	}
	if !req.FeedbackType.Valid() {
		return domain.FeedbackEvent{}, domain.ErrInvalidFeedbackType
	}
	if !req.TargetType.Valid() {
		return domain.FeedbackEvent{}, domain.ErrInvalidTargetType
	}
	description := strings.TrimSpace(req.Description)
	if n := len([]rune(description)); n < domain.MinDescriptionLength || n > domain.MaxDescriptionLength {
		return domain.FeedbackEvent{}, domain.ErrInvalidDescription
	}
	priority := req.Priority
	if priority == "" {
		priority = domain.PriorityMedium
	}
	if !priority.Valid() {
		return domain.FeedbackEvent{}, domain.ErrInvalidPriority
	}

	payload, err := domain.ParsePayload(req.Payload)
	if err != nil {
		return domain.FeedbackEvent{}, err
	}
	targetID := trimmedPtr(req.TargetID)
	target, err := domain.OverrideTarget(req.FeedbackType, req.TargetType, deref(targetID), payload.RuleType)
	if err != nil {
		return domain.FeedbackEvent{}, err
	}
	if err := s.checkTarget(ctx, req.TargetType, deref(targetID), target, payload.RuleType); err != nil {
		return domain.FeedbackEvent{}, err
	}

	analysis, err := s.analyze(ctx, proposal{payload: payload, target: target})
	if err != nil {
		return domain.FeedbackEvent{}, err
	}
	analysisJSON, err := json.Marshal(analysis)
	if err != nil {
		return domain.FeedbackEvent{}, err
	}
	hash, err := submissionHash(req.Payload)
	if err != nil {
		return domain.FeedbackEvent{}, err
	}

	now := s.clock.Now().UTC()
	event := domain.FeedbackEvent{
		ID:              s.genID.Generate(),
		ActorID:         actor.ID,
		ActorRole:       actor.Role,
		FeedbackType:    req.FeedbackType,
		TargetType:      req.TargetType,
		TargetID:        targetID,
		Payload:         datatypes.JSONMap(req.Payload),
		Description:     description,
		Priority:        priority,
		BusinessImpact:  trimmedPtr(req.BusinessImpact),
		ExpectedOutcome: trimmedPtr(req.ExpectedOutcome),
		Status:          domain.StatusPending,
		ImpactAnalysis:  datatypes.JSON(analysisJSON),
		SubmissionHash:  hash,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.Insert(ctx, tx, &event); err != nil {
			return err
		}
		return s.audit.Record(ctx, tx, auditdomain.Entry{
			Table:     auditdomain.TableFeedbackEvents,
			RecordID:  event.ID.String(),
			Action:    auditdomain.ActionInsert,
			NewValues: event.AuditValues(),
			ChangedBy: actor.ID,
			Reason:    "feedback submitted",
		})
	})
	if err != nil {
		return domain.FeedbackEvent{}, err
	}

	s.metrics.RecordFeedbackTransition(ctx, "none", string(domain.StatusPending))
	s.log.Info("feedback submitted",
		zap.String("feedback_id", event.ID.String()),
		zap.String("actor_id", actor.ID),
		zap.String("feedback_type", string(event.FeedbackType)),
		zap.String("rule_type", string(payload.RuleType)),
		zap.String("override_target", target),
		zap.Int("rows_changed", analysis.RowsChanged),
	)
	return event, nil
}

// checkTarget verifies the submitted target exists.
func (s *Service) checkTarget(ctx context.Context, targetType domain.TargetType, rawTarget, target string, ruleType ruledomain.RuleType) error {
	switch targetType {
	case domain.TargetRule:
		id, err := snowflake.ParseString(rawTarget)
		if err != nil || id == 0 {
			return fmt.Errorf("%w: rule id %q", domain.ErrInvalidTarget, rawTarget)
		}
		rule, err := s.rules.GetRule(ctx, id)
		if err != nil {
			if errors.Is(err, ruledomain.ErrRuleNotFound) {
				return fmt.Errorf("%w: rule %s not found", domain.ErrInvalidTarget, rawTarget)
			}
			return err
		}
		if rule.RuleType != ruleType {
			return fmt.Errorf("%w: rule %s is %s, payload is %s", domain.ErrInvalidTarget, rawTarget, rule.RuleType, ruleType)
		}
	}
	if target == "" {
		return nil
	}
	content, err := s.reader.GetContent(ctx, target)
	if err != nil {
		return err
	}
	if content == nil {
		return fmt.Errorf("%w: content %s not found", domain.ErrInvalidTarget, target)
	}
	return nil
}

func (s *Service) Approve(ctx context.Context, id snowflake.ID, actor domain.Actor, notes string) (domain.FeedbackEvent, error) {
	return s.review(ctx, id, actor, notes, domain.StatusApproved, authorization.ActionFeedbackApprove)
}

func (s *Service) Reject(ctx context.Context, id snowflake.ID, actor domain.Actor, notes string) (domain.FeedbackEvent, error) {
	return s.review(ctx, id, actor, notes, domain.StatusRejected, authorization.ActionFeedbackReject)
}

func (s *Service) review(ctx context.Context, id snowflake.ID, actor domain.Actor, notes string, to domain.Status, action string) (domain.FeedbackEvent, error) {
	actor, err := normalizeActor(actor)
	if err != nil {
		return domain.FeedbackEvent{}, err
	}
	if err := s.authz.Authorize(ctx, actor.ID, actor.Role, authorization.ObjectFeedback, action); err != nil {
		return domain.FeedbackEvent{}, err
	}

	var (
		event domain.FeedbackEvent
		from  domain.Status
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.repo.FindByIDForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if current == nil {
			return domain.ErrFeedbackNotFound
		}
		from = current.Status
		if !domain.CanTransition(from, to) {
			return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, from, to)
		}
		if to == domain.StatusApproved {
			if _, ok, err := current.Impact(); err != nil || !ok {
				return domain.ErrMissingImpactAnalysis
			}
		}

		before := current.AuditValues()
		now := s.clock.Now().UTC()
		current.Status = to
		current.ReviewedBy = &actor.ID
		current.ReviewedAt = &now
		current.ReviewNotes = trimmedPtr(&notes)
		current.UpdatedAt = now
		if err := s.repo.Save(ctx, tx, current); err != nil {
			return err
		}
		event = *current
		return s.audit.Record(ctx, tx, auditdomain.Entry{
			Table:     auditdomain.TableFeedbackEvents,
			RecordID:  current.ID.String(),
			Action:    auditdomain.ActionUpdate,
			OldValues: before,
			NewValues: current.AuditValues(),
			ChangedBy: actor.ID,
			Reason:    "feedback " + string(to),
		})
	})
	if err != nil {
		return domain.FeedbackEvent{}, err
	}

	s.metrics.RecordFeedbackTransition(ctx, string(from), string(to))
	s.log.Info("feedback reviewed",
		zap.String("feedback_id", id.String()),
		zap.String("actor_id", actor.ID),
		zap.String("status", string(to)),
	)
	return event, nil
}

func (s *Service) Apply(ctx context.Context, id snowflake.ID, actor domain.Actor) (domain.FeedbackEvent, error) {
	actor, err := normalizeActor(actor)
	if err != nil {
		return domain.FeedbackEvent{}, err
	}
	if err := s.authz.Authorize(ctx, actor.ID, actor.Role, authorization.ObjectFeedback, authorization.ActionFeedbackApply); err != nil {
		return domain.FeedbackEvent{}, err
	}

	loaded, err := s.repo.FindByID(ctx, s.db.WithContext(ctx), id)
	if err != nil {
		return domain.FeedbackEvent{}, err
	}
	if loaded == nil {
		return domain.FeedbackEvent{}, domain.ErrFeedbackNotFound
	}
	if !domain.CanTransition(loaded.Status, domain.StatusApplied) {
		return domain.FeedbackEvent{}, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, loaded.Status, domain.StatusApplied)
	}
	payload, err := domain.ParsePayload(loaded.Payload)
	if err != nil {
		return domain.FeedbackEvent{}, err
	}
	target, err := domain.OverrideTarget(loaded.FeedbackType, loaded.TargetType, deref(loaded.TargetID), payload.RuleType)
	if err != nil {
		return domain.FeedbackEvent{}, err
	}
	contentIDs, err := s.affectedContent(ctx, target)
	if err != nil {
		return domain.FeedbackEvent{}, err
	}

	release, err := s.locker.Acquire(ctx, ruledomain.LockKey(payload.RuleType, target), s.lockTTL)
	if err != nil {
		return domain.FeedbackEvent{}, err
	}
	defer release()

	var (
		event    domain.FeedbackEvent
		override ruledomain.RuleOverride
		queued   int
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.repo.FindByIDForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if current == nil {
			return domain.ErrFeedbackNotFound
		}
		if !domain.CanTransition(current.Status, domain.StatusApplied) {
			return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, current.Status, domain.StatusApplied)
		}

		now := s.clock.Now().UTC()
		feedbackID := current.ID
		override = proposal{payload: payload, target: target}.candidate(now)
		override.FeedbackEventID = &feedbackID
		override.Reason = fmt.Sprintf("feedback %s: %s", current.ID, current.Description)
		override.CreatedBy = actor.ID
		if err := s.rules.CreateOverride(ctx, tx, &override); err != nil {
			return err
		}

		before := current.AuditValues()
		current.Status = domain.StatusApplied
		current.AppliedBy = &actor.ID
		current.AppliedAt = &now
		current.OverrideID = &override.ID
		current.UpdatedAt = now
		if err := s.repo.Save(ctx, tx, current); err != nil {
			return err
		}
		if err := s.audit.Record(ctx, tx, auditdomain.Entry{
			Table:     auditdomain.TableFeedbackEvents,
			RecordID:  current.ID.String(),
			Action:    auditdomain.ActionUpdate,
			OldValues: before,
			NewValues: current.AuditValues(),
			ChangedBy: actor.ID,
			Reason:    "feedback applied",
		}); err != nil {
			return err
		}

		reqs := make([]recomputedomain.EnqueueRequest, 0, len(contentIDs))
		for _, contentID := range contentIDs {
			reqs = append(reqs, recomputedomain.EnqueueRequest{
				ContentID:  contentID,
				Reason:     fmt.Sprintf("%s override %s", payload.RuleType, override.ID),
				SourceType: recomputedomain.SourceFeedback,
				SourceID:   current.ID.String(),
			})
		}
		if queued, err = s.recompute.Enqueue(ctx, tx, reqs...); err != nil {
			return err
		}
		event = *current
		return nil
	})
	if err != nil {
		if errors.Is(err, ruledomain.ErrRuleConflict) {
			s.log.Warn("feedback apply conflicts with an active override",
				zap.String("feedback_id", id.String()),
				zap.Error(err),
			)
		}
		return domain.FeedbackEvent{}, err
	}

	s.metrics.RecordFeedbackTransition(ctx, string(domain.StatusApproved), string(domain.StatusApplied))
	s.metrics.RecordOverrideApplied(ctx, string(payload.RuleType))
	s.log.Info("feedback applied",
		zap.String("feedback_id", id.String()),
		zap.String("override_id", override.ID.String()),
		zap.String("actor_id", actor.ID),
		zap.String("rule_type", string(payload.RuleType)),
		zap.String("override_target", target),
		zap.Int("recompute_queued", queued),
	)
	return event, nil
}

// affectedContent lists the content items whose metrics the override can move.
func (s *Service) affectedContent(ctx context.Context, target string) ([]string, error) {
	if target != "" {
		return []string{target}, nil
	}
	return s.reader.ListContentIDs(ctx)
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (domain.FeedbackEvent, error) {
	event, err := s.repo.FindByID(ctx, s.db.WithContext(ctx), id)
	if err != nil {
		return domain.FeedbackEvent{}, err
	}
	if event == nil {
		return domain.FeedbackEvent{}, domain.ErrFeedbackNotFound
	}
	return *event, nil
}

func (s *Service) AnalyzeImpact(ctx context.Context, id snowflake.ID) (domain.ImpactAnalysis, error) {
	event, err := s.Get(ctx, id)
	if err != nil {
		return domain.ImpactAnalysis{}, err
	}
	payload, err := domain.ParsePayload(event.Payload)
	if err != nil {
		return domain.ImpactAnalysis{}, err
	}
	target, err := domain.OverrideTarget(event.FeedbackType, event.TargetType, deref(event.TargetID), payload.RuleType)
	if err != nil {
		return domain.ImpactAnalysis{}, err
	}
	return s.analyze(ctx, proposal{payload: payload, target: target})
}

func (s *Service) Search(ctx context.Context, req domain.SearchRequest) (domain.SearchResponse, error) {
	if req.Status != "" && !req.Status.Valid() {
		return domain.SearchResponse{}, domain.ErrInvalidStatus
	}
	if req.FeedbackType != "" && !req.FeedbackType.Valid() {
		return domain.SearchResponse{}, domain.ErrInvalidFeedbackType
	}
	if req.TargetType != "" && !req.TargetType.Valid() {
		return domain.SearchResponse{}, domain.ErrInvalidTargetType
	}
	if req.Priority != "" && !req.Priority.Valid() {
		return domain.SearchResponse{}, domain.ErrInvalidPriority
	}

	var cursor *domain.SearchCursor
	if token := strings.TrimSpace(req.PageToken); token != "" {
		decoded, err := pagination.DecodeCursor(token)
		if err != nil {
			return domain.SearchResponse{}, domain.ErrInvalidPageToken
		}
		cursor = &domain.SearchCursor{ID: decoded.ID, CreatedAt: decoded.At}
	}

	pageSize := req.Limit(defaultPageSize, maxPageSize)

	items, err := s.repo.Search(ctx, s.db.WithContext(ctx), domain.SearchFilter{
		Status:       req.Status,
		FeedbackType: req.FeedbackType,
		TargetType:   req.TargetType,
		TargetID:     strings.TrimSpace(req.TargetID),
		ActorID:      strings.TrimSpace(req.ActorID),
		ActorRole:    strings.TrimSpace(req.ActorRole),
		Priority:     req.Priority,
		Query:        strings.TrimSpace(req.Query),
		CreatedFrom:  req.CreatedFrom,
		CreatedTo:    req.CreatedTo,
		Ascending:    req.Ascending,
		Cursor:       cursor,
		Limit:        pageSize,
	})
	if err != nil {
		return domain.SearchResponse{}, err
	}

	items, pageInfo := pagination.Page(items, pageSize, func(item *domain.FeedbackEvent) pagination.Cursor {
		return pagination.Cursor{ID: item.ID, At: item.CreatedAt}
	})

	events := make([]domain.FeedbackEvent, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		events = append(events, *item)
	}
	return domain.SearchResponse{Events: events, PageInfo: pageInfo}, nil
}

func (s *Service) Summary(ctx context.Context) (domain.Summary, error) {
	db := s.db.WithContext(ctx)
	summary := domain.Summary{}

	var err error
	if summary.ByStatus, err = s.repo.CountBy(ctx, db, "status"); err != nil {
		return domain.Summary{}, err
	}
	if summary.ByType, err = s.repo.CountBy(ctx, db, "feedback_type"); err != nil {
		return domain.Summary{}, err
	}
	if summary.ByTargetType, err = s.repo.CountBy(ctx, db, "target_type"); err != nil {
		return domain.Summary{}, err
	}
	if summary.ByRole, err = s.repo.CountBy(ctx, db, "actor_role"); err != nil {
		return domain.Summary{}, err
	}
	for _, status := range domain.Statuses {
		if _, ok := summary.ByStatus[string(status)]; !ok {
			summary.ByStatus[string(status)] = 0
		}
	}
	for _, n := range summary.ByStatus {
		summary.Total += n
	}

	approved := summary.ByStatus[string(domain.StatusApproved)]
	applied := summary.ByStatus[string(domain.StatusApplied)]
	rejected := summary.ByStatus[string(domain.StatusRejected)]
	summary.ApprovalRate = ratio(approved+applied, approved+applied+rejected)
	summary.ApplicationRate = ratio(applied, approved+applied)

	spans, err := s.repo.ListReviewSpans(ctx, db)
	if err != nil {
		return domain.Summary{}, err
	}
	if len(spans) > 0 {
		hours := make(stats.Float64Data, 0, len(spans))
		for _, span := range spans {
			hours = append(hours, span.ReviewedAt.Sub(span.CreatedAt).Hours())
		}
		mean, _ := hours.Mean()
		median, _ := hours.Median()
		summary.AvgReviewHours = round4(mean)
		summary.MedianReviewHours = round4(median)
	}

	if summary.Recent, err = s.repo.ListRecent(ctx, db, recentLimit); err != nil {
		return domain.Summary{}, err
	}
	return summary, nil
}

func normalizeActor(actor domain.Actor) (domain.Actor, error) {
	actor.ID = strings.TrimSpace(actor.ID)
	actor.Role = strings.ToLower(strings.TrimSpace(actor.Role))
	if actor.ID == "" || !authorization.IsKnownRole(actor.Role) {
		return domain.Actor{}, domain.ErrInvalidActor
	}
	return actor, nil
}

// submissionHash fingerprints the payload. json.Marshal sorts map keys, so
// equal payloads hash equally.
func submissionHash(payload map[string]any) (string, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

func ratio(n, d int64) float64 {
	if d == 0 {
		return 0
	}
	return round4(float64(n) / float64(d))
}

func trimmedPtr(v *string) *string {
	if v == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*v)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func deref(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
