package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/contentfin/internal/audit/domain"
	auditrepo "github.com/smallbiznis/contentfin/internal/audit/repository"
	auditservice "github.com/smallbiznis/contentfin/internal/audit/service"
	"github.com/smallbiznis/contentfin/internal/authorization"
	"github.com/smallbiznis/contentfin/internal/clock"
	"github.com/smallbiznis/contentfin/internal/config"
	"github.com/smallbiznis/contentfin/internal/engine"
	factdomain "github.com/smallbiznis/contentfin/internal/fact/domain"
	factrepo "github.com/smallbiznis/contentfin/internal/fact/repository"
	factservice "github.com/smallbiznis/contentfin/internal/fact/service"
	"github.com/smallbiznis/contentfin/internal/feedback/domain"
	"github.com/smallbiznis/contentfin/internal/feedback/repository"
	kpidomain "github.com/smallbiznis/contentfin/internal/kpi/domain"
	kpirepo "github.com/smallbiznis/contentfin/internal/kpi/repository"
	"github.com/smallbiznis/contentfin/internal/lock"
	obsmetrics "github.com/smallbiznis/contentfin/internal/observability/metrics"
	recomputedomain "github.com/smallbiznis/contentfin/internal/recompute/domain"
	recomputerepo "github.com/smallbiznis/contentfin/internal/recompute/repository"
	recomputeservice "github.com/smallbiznis/contentfin/internal/recompute/service"
	ruledomain "github.com/smallbiznis/contentfin/internal/rule/domain"
	rulerepo "github.com/smallbiznis/contentfin/internal/rule/repository"
	ruleservice "github.com/smallbiznis/contentfin/internal/rule/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	analyst   = domain.Actor{ID: "ana", Role: authorization.RoleStrategyAnalyst}
	admin     = domain.Actor{ID: "fin", Role: authorization.RoleFinanceAdmin}
	marketer  = domain.Actor{ID: "mia", Role: authorization.RoleMarketingUser}
	startTime = time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)
)

type testEnv struct {
	db    *gorm.DB
	svc   domain.Service
	rules ruledomain.Service
	clock *clock.FakeClock
}

func setupFeedback(t *testing.T) testEnv {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&factdomain.Content{}, &factdomain.EngagementEvent{}, &factdomain.Cost{}, &factdomain.RevenueEvent{}, &factdomain.ExchangeRate{},
		&ruledomain.FinanceRule{}, &ruledomain.RuleOverride{}, &auditdomain.AuditTrail{}, &kpidomain.DailyMetric{},
		&domain.FeedbackEvent{}, &recomputedomain.Request{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	fake := clock.NewFakeClock(startTime)
	log := zap.NewNop()

	audit := auditservice.NewService(auditservice.Params{DB: db, Log: log, GenID: node, Repo: auditrepo.Provide(), Clock: fake})
	rules := ruleservice.NewService(ruleservice.Params{DB: db, Log: log, GenID: node, Repo: rulerepo.Provide(), Audit: audit, Clock: fake})
	require.NoError(t, rules.SeedDefaults(context.Background(), config.DefaultFinanceConfig()))

	enforcer, err := authorization.NewEnforcer(db)
	require.NoError(t, err)
	authz := authorization.NewService(authorization.Params{Log: log, Enforcer: enforcer})

	cfg := config.Config{EngineConcurrency: 1, FactIOTimeout: 5 * time.Second, OverrideLockTTL: time.Second}
	reader := factservice.NewReader(factservice.Params{DB: db, Log: log, Config: cfg, Repo: factrepo.Provide()})
	finance := config.StaticFinanceConfig(config.DefaultFinanceConfig())
	eng := engine.New(engine.Params{
		DB:               db,
		Log:              log,
		Config:           cfg,
		Finance:          finance,
		Reader:           reader,
		Rates:            reader,
		Rules:            rules,
		Writer:           kpirepo.Provide(),
		SchedulerMetrics: obsmetrics.NewSchedulerMetricsForRegistry(prometheus.NewRegistry(), obsmetrics.Config{}),
	})
	recompute := recomputeservice.NewService(recomputeservice.Params{DB: db, Log: log, GenID: node, Repo: recomputerepo.Provide(), Clock: fake})

	svc := NewService(Params{
		DB:        db,
		Log:       log,
		GenID:     node,
		Clock:     fake,
		Repo:      repository.Provide(),
		Rules:     rules,
		Audit:     audit,
		Authz:     authz,
		Engine:    eng,
		Reader:    reader,
		Recompute: recompute,
		Locker:    lock.NewMemoryLocker(),
		Config:    cfg,
		Finance:   finance,
	})
	seedContent(t, db)
	return testEnv{db: db, svc: svc, rules: rules, clock: fake}
}

func jan(d int) time.Time { return time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC) }

func seedContent(t *testing.T, db *gorm.DB) {
	t.Helper()
	contentID := "c1"
	require.NoError(t, db.Create(&factdomain.Content{ID: contentID, Title: "launch video", PublishedAt: jan(1), CreatedAt: jan(1)}).Error)
	require.NoError(t, db.Create(&factdomain.EngagementEvent{ID: 1, ContentID: contentID, EventTime: jan(2).Add(3 * time.Hour), Impressions: 1000, Views: 100, Likes: 10, ConversionValue: decimal.Zero}).Error)
	require.NoError(t, db.Create(&factdomain.Cost{ID: 10, ContentID: contentID, CostType: factdomain.CostTypeProduction, Amount: decimal.RequireFromString("1200"), Currency: "USD", CostDate: jan(2)}).Error)
	require.NoError(t, db.Create(&factdomain.RevenueEvent{ID: 20, ContentID: &contentID, RevenueDate: jan(2), Amount: decimal.RequireFromString("500"), Currency: "USD", Source: factdomain.RevenueAssisted}).Error)
}

func defaultRule(t *testing.T, rules ruledomain.Service, ruleType ruledomain.RuleType) ruledomain.FinanceRule {
	t.Helper()
	list, err := rules.ListRules(context.Background(), ruledomain.ListRulesRequest{RuleType: ruleType, ActiveOnly: true})
	require.NoError(t, err)
	require.NotEmpty(t, list)
	return list[0]
}

func immediatePayload() map[string]any {
	return map[string]any{
		"rule_type": "amortization",
		"new_value": map[string]any{"amortization_method": "immediate"},
	}
}

func ruleChange(ruleID snowflake.ID) domain.SubmitRequest {
	target := ruleID.String()
	return domain.SubmitRequest{
		Actor:        analyst,
		FeedbackType: domain.FeedbackRuleChange,
		TargetType:   domain.TargetRule,
		TargetID:     &target,
		Payload:      immediatePayload(),
		Description:  "production spend should land on delivery day",
	}
}

func contentOverride(actor domain.Actor) domain.SubmitRequest {
	target := "c1"
	return domain.SubmitRequest{
		Actor:        actor,
		FeedbackType: domain.FeedbackOverride,
		TargetType:   domain.TargetContent,
		TargetID:     &target,
		Payload:      immediatePayload(),
		Description:  "launch video was a one-off shoot",
		Priority:     domain.PriorityHigh,
	}
}

func count(t *testing.T, db *gorm.DB, model any, query string, args ...any) int64 {
	t.Helper()
	var n int64
	stmt := db.Model(model)
	if query != "" {
		stmt = stmt.Where(query, args...)
	}
	require.NoError(t, stmt.Count(&n).Error)
	return n
}

func TestFeedback_RuleChangeLifecycle(t *testing.T) {
	env := setupFeedback(t)
	ctx := context.Background()
	rule := defaultRule(t, env.rules, ruledomain.RuleTypeAmortization)

	event, err := env.svc.Submit(ctx, ruleChange(rule.ID))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, event.Status)
	assert.Equal(t, domain.PriorityMedium, event.Priority)
	assert.NotEmpty(t, event.SubmissionHash)

	analysis, ok, err := event.Impact()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "amortization", analysis.RuleType)
	assert.Empty(t, analysis.OverrideTarget)
	assert.Equal(t, 1, analysis.PartitionsAnalyzed)
	assert.False(t, analysis.Truncated)
	assert.Greater(t, analysis.RowsChanged, 0)
	assert.Equal(t, "straight_line", analysis.CurrentRule[ruledomain.KeyAmortizationMethod])
	assert.True(t, analysis.After.AllocatedCost.GreaterThan(analysis.Before.AllocatedCost))
	assert.True(t, analysis.Delta.AllocatedCost.IsPositive())
	require.Len(t, analysis.Contents, 1)
	assert.Equal(t, "c1", analysis.Contents[0].ContentID)

	event, err = env.svc.Approve(ctx, event.ID, analyst, "reviewed with finance")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusApproved, event.Status)
	require.NotNil(t, event.ReviewedBy)
	assert.Equal(t, analyst.ID, *event.ReviewedBy)

	overridesBefore := count(t, env.db, &ruledomain.RuleOverride{}, "")
	overrideAuditsBefore := count(t, env.db, &auditdomain.AuditTrail{}, "table_name = ?", auditdomain.TableRuleOverrides)

	event, err = env.svc.Apply(ctx, event.ID, admin)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusApplied, event.Status)
	require.NotNil(t, event.OverrideID)
	require.NotNil(t, event.AppliedAt)

	assert.EqualValues(t, 1, count(t, env.db, &ruledomain.RuleOverride{}, "")-overridesBefore)
	assert.EqualValues(t, 1, count(t, env.db, &auditdomain.AuditTrail{}, "table_name = ?", auditdomain.TableRuleOverrides)-overrideAuditsBefore)
	assert.EqualValues(t, 3, count(t, env.db, &auditdomain.AuditTrail{}, "table_name = ? AND record_id = ?", auditdomain.TableFeedbackEvents, event.ID.String()))

	var override ruledomain.RuleOverride
	require.NoError(t, env.db.First(&override, "id = ?", *event.OverrideID).Error)
	require.NotNil(t, override.FeedbackEventID)
	assert.Equal(t, event.ID, *override.FeedbackEventID)
	assert.Equal(t, ruledomain.RuleTypeAmortization, override.OverrideType)
	assert.Empty(t, override.TargetID)
	assert.Equal(t, admin.ID, override.CreatedBy)

	var queued []recomputedomain.Request
	require.NoError(t, env.db.Find(&queued).Error)
	require.Len(t, queued, 1)
	assert.Equal(t, "c1", queued[0].ContentID)
	assert.Equal(t, recomputedomain.SourceFeedback, queued[0].SourceType)
	assert.Equal(t, event.ID.String(), queued[0].SourceID)

	resolved, err := env.rules.Resolve(ctx, ruledomain.RuleTypeAmortization, "c1", startTime.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, ruledomain.AmortizationImmediate, resolved.AmortizationMethod)
}

func TestFeedback_InvalidTransitions(t *testing.T) {
	env := setupFeedback(t)
	ctx := context.Background()

	event, err := env.svc.Submit(ctx, contentOverride(analyst))
	require.NoError(t, err)

	_, err = env.svc.Apply(ctx, event.ID, admin)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = env.svc.Reject(ctx, event.ID, analyst, "duplicate of an earlier request")
	require.NoError(t, err)

	_, err = env.svc.Approve(ctx, event.ID, analyst, "")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	_, err = env.svc.Apply(ctx, event.ID, admin)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	stored, err := env.svc.Get(ctx, event.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRejected, stored.Status)
	assert.EqualValues(t, 0, count(t, env.db, &ruledomain.RuleOverride{}, ""))

	_, err = env.svc.Get(ctx, snowflake.ID(42))
	assert.ErrorIs(t, err, domain.ErrFeedbackNotFound)
}

func TestFeedback_RoleGates(t *testing.T) {
	env := setupFeedback(t)
	ctx := context.Background()

	event, err := env.svc.Submit(ctx, contentOverride(marketer))
	require.NoError(t, err)

	_, err = env.svc.Approve(ctx, event.ID, marketer, "")
	assert.ErrorIs(t, err, authorization.ErrForbidden)

	_, err = env.svc.Approve(ctx, event.ID, analyst, "")
	require.NoError(t, err)

	_, err = env.svc.Apply(ctx, event.ID, analyst)
	assert.ErrorIs(t, err, authorization.ErrForbidden)

	_, err = env.svc.Submit(ctx, contentOverride(domain.Actor{ID: "ro", Role: authorization.RoleReadOnly}))
	assert.ErrorIs(t, err, authorization.ErrForbidden)

	_, err = env.svc.Submit(ctx, contentOverride(domain.Actor{ID: "x", Role: "intern"}))
	assert.ErrorIs(t, err, domain.ErrInvalidActor)
}

func TestFeedback_ConflictKeepsEventApproved(t *testing.T) {
	env := setupFeedback(t)
	ctx := context.Background()

	first, err := env.svc.Submit(ctx, contentOverride(analyst))
	require.NoError(t, err)
	second, err := env.svc.Submit(ctx, contentOverride(analyst))
	require.NoError(t, err)
	assert.Equal(t, first.SubmissionHash, second.SubmissionHash)

	for _, id := range []snowflake.ID{first.ID, second.ID} {
		_, err := env.svc.Approve(ctx, id, analyst, "")
		require.NoError(t, err)
	}

	_, err = env.svc.Apply(ctx, first.ID, admin)
	require.NoError(t, err)

	_, err = env.svc.Apply(ctx, second.ID, admin)
	require.ErrorIs(t, err, ruledomain.ErrRuleConflict)

	stored, err := env.svc.Get(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusApproved, stored.Status)
	assert.Nil(t, stored.OverrideID)
	assert.EqualValues(t, 1, count(t, env.db, &ruledomain.RuleOverride{}, ""))
	assert.EqualValues(t, 1, count(t, env.db, &recomputedomain.Request{}, ""))
}

func TestSubmit_RejectsInvalidRequests(t *testing.T) {
	env := setupFeedback(t)
	ctx := context.Background()

	req := contentOverride(analyst)
	req.Description = "too short"
	_, err := env.svc.Submit(ctx, req)
	assert.ErrorIs(t, err, domain.ErrInvalidDescription)

	req = contentOverride(analyst)
	missing := "c404"
	req.TargetID = &missing
	_, err = env.svc.Submit(ctx, req)
	assert.ErrorIs(t, err, domain.ErrInvalidTarget)

	req = contentOverride(analyst)
	req.Payload = map[string]any{"rule_type": "amortization", "new_value": map[string]any{"attribution_model": "linear"}}
	_, err = env.svc.Submit(ctx, req)
	assert.ErrorIs(t, err, domain.ErrInvalidPayload)

	attribution := defaultRule(t, env.rules, ruledomain.RuleTypeAttribution)
	_, err = env.svc.Submit(ctx, ruleChange(attribution.ID))
	assert.ErrorIs(t, err, domain.ErrInvalidTarget)

	req = contentOverride(analyst)
	req.Priority = "urgent"
	_, err = env.svc.Submit(ctx, req)
	assert.ErrorIs(t, err, domain.ErrInvalidPriority)

	assert.EqualValues(t, 0, count(t, env.db, &domain.FeedbackEvent{}, ""))
}

func TestSubmit_RejectsNonFiniteRuleValues(t *testing.T) {
	env := setupFeedback(t)
	ctx := context.Background()

	payloads := []map[string]any{
		{"rule_type": "attribution", "new_value": map[string]any{"attribution_model": "time_decay", "time_decay_factor": "NaN"}},
		{"rule_type": "attribution", "new_value": map[string]any{"time_decay_factor": "Inf"}},
		{"rule_type": "allocation", "new_value": map[string]any{"channel_allocation_pct": "NaN"}},
		{"rule_type": "amortization", "new_value": map[string]any{"period_months": float64(1e15)}},
	}
	for _, payload := range payloads {
		req := contentOverride(marketer)
		req.Payload = payload
		_, err := env.svc.Submit(ctx, req)
		assert.ErrorIs(t, err, domain.ErrInvalidPayload)
	}

	assert.EqualValues(t, 0, count(t, env.db, &domain.FeedbackEvent{}, ""))
}

func TestSearch_PagesNewestFirst(t *testing.T) {
	env := setupFeedback(t)
	ctx := context.Background()

	var ids []snowflake.ID
	for i := 0; i < 3; i++ {
		event, err := env.svc.Submit(ctx, contentOverride(analyst))
		require.NoError(t, err)
		ids = append(ids, event.ID)
		env.clock.Advance(time.Hour)
	}
	_, err := env.svc.Reject(ctx, ids[0], analyst, "")
	require.NoError(t, err)

	page, err := env.svc.Search(ctx, domain.SearchRequest{})
	require.NoError(t, err)
	require.Len(t, page.Events, 3)
	assert.Equal(t, ids[2], page.Events[0].ID)

	req := domain.SearchRequest{}
	req.PageSize = 2
	page, err = env.svc.Search(ctx, req)
	require.NoError(t, err)
	require.Len(t, page.Events, 2)
	assert.True(t, page.HasMore)
	require.NotEmpty(t, page.NextPageToken)

	req.PageToken = page.NextPageToken
	page, err = env.svc.Search(ctx, req)
	require.NoError(t, err)
	require.Len(t, page.Events, 1)
	assert.Equal(t, ids[0], page.Events[0].ID)
	assert.False(t, page.HasMore)

	page, err = env.svc.Search(ctx, domain.SearchRequest{Status: domain.StatusPending, Query: "ONE-OFF"})
	require.NoError(t, err)
	assert.Len(t, page.Events, 2)

	_, err = env.svc.Search(ctx, domain.SearchRequest{Status: "archived"})
	assert.ErrorIs(t, err, domain.ErrInvalidStatus)

	req = domain.SearchRequest{}
	req.PageToken = "not-a-token"
	_, err = env.svc.Search(ctx, req)
	assert.ErrorIs(t, err, domain.ErrInvalidPageToken)
}

func TestSummary_Rates(t *testing.T) {
	env := setupFeedback(t)
	ctx := context.Background()

	var ids []snowflake.ID
	for i := 0; i < 3; i++ {
		event, err := env.svc.Submit(ctx, contentOverride(analyst))
		require.NoError(t, err)
		ids = append(ids, event.ID)
	}
	env.clock.Advance(2 * time.Hour)
	_, err := env.svc.Approve(ctx, ids[0], analyst, "")
	require.NoError(t, err)
	_, err = env.svc.Reject(ctx, ids[1], analyst, "")
	require.NoError(t, err)
	_, err = env.svc.Apply(ctx, ids[0], admin)
	require.NoError(t, err)

	summary, err := env.svc.Summary(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, summary.Total)
	assert.EqualValues(t, 1, summary.ByStatus["pending"])
	assert.EqualValues(t, 1, summary.ByStatus["applied"])
	assert.EqualValues(t, 1, summary.ByStatus["rejected"])
	assert.EqualValues(t, 0, summary.ByStatus["approved"])
	assert.EqualValues(t, 3, summary.ByType["override"])
	assert.EqualValues(t, 3, summary.ByRole[authorization.RoleStrategyAnalyst])
	assert.Equal(t, 0.5, summary.ApprovalRate)
	assert.Equal(t, 1.0, summary.ApplicationRate)
	assert.InDelta(t, 2.0, summary.AvgReviewHours, 0.001)
	assert.InDelta(t, 2.0, summary.MedianReviewHours, 0.001)
	assert.Len(t, summary.Recent, 3)
}

func TestAnalyzeImpact_UsesFutureEffectiveFrom(t *testing.T) {
	env := setupFeedback(t)
	ctx := context.Background()

	req := contentOverride(analyst)
	req.Payload["effective_from"] = "2024-02-01T00:00:00Z"
	event, err := env.svc.Submit(ctx, req)
	require.NoError(t, err)

	analysis, err := env.svc.AnalyzeImpact(ctx, event.ID)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), analysis.AsOf.UTC())
	assert.Equal(t, "c1", analysis.OverrideTarget)
	assert.Equal(t, time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC), analysis.WindowFrom)
}
