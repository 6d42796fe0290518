package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/golang/mock/gomock"
	"github.com/smallbiznis/contentfin/internal/authorization"
	"github.com/smallbiznis/contentfin/internal/clock"
	factdomain "github.com/smallbiznis/contentfin/internal/fact/domain"
	feedbackdomain "github.com/smallbiznis/contentfin/internal/feedback/domain"
	"github.com/smallbiznis/contentfin/internal/feedback/mocks"
	"github.com/smallbiznis/contentfin/internal/observability"
	"github.com/smallbiznis/contentfin/internal/ratelimit"
	recomputedomain "github.com/smallbiznis/contentfin/internal/recompute/domain"
	ruledomain "github.com/smallbiznis/contentfin/internal/rule/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fakeAuthz struct {
	denied map[string]bool
}

func (f fakeAuthz) Authorize(_ context.Context, actorID string, role string, _ string, action string) error {
	if actorID == "" || !authorization.IsKnownRole(role) {
		return authorization.ErrInvalidActor
	}
	if f.denied[role+"/"+action] {
		return authorization.ErrForbidden
	}
	return nil
}

type fakeRuleService struct {
	ruledomain.Service
	rule ruledomain.EffectiveRule
	err  error
}

func (f fakeRuleService) Resolve(_ context.Context, ruleType ruledomain.RuleType, _ string, _ time.Time) (ruledomain.EffectiveRule, error) {
	if f.err != nil {
		return ruledomain.EffectiveRule{}, f.err
	}
	rule := f.rule
	rule.RuleType = ruleType
	return rule, nil
}

type fakeRecompute struct {
	recomputedomain.Service
	enqueued []recomputedomain.EnqueueRequest
}

func (f *fakeRecompute) Enqueue(_ context.Context, _ *gorm.DB, reqs ...recomputedomain.EnqueueRequest) (int, error) {
	f.enqueued = append(f.enqueued, reqs...)
	return len(reqs), nil
}

type fakeFactReader struct {
	factdomain.Reader
	ids []string
}

func (f fakeFactReader) ListContentIDs(context.Context) ([]string, error) {
	return f.ids, nil
}

type testServer struct {
	server    *Server
	feedback  *mocks.MockService
	recompute *fakeRecompute
}

func newTestServer(t *testing.T, authz fakeAuthz, limiter *ratelimit.SubmissionLimiter) testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())), &gorm.Config{})
	require.NoError(t, err)

	ctrl := gomock.NewController(t)
	feedback := mocks.NewMockService(ctrl)
	recompute := &fakeRecompute{}

	srv := NewServer(ServerParams{
		Gin:          NewEngine(observability.Config{}),
		DB:           db,
		Log:          zap.NewNop(),
		Clock:        clock.NewFakeClock(time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)),
		AuthzSvc:     authz,
		FeedbackSvc:  feedback,
		RuleSvc:      fakeRuleService{rule: ruledomain.EffectiveRule{Source: ruledomain.SourceDefault, AmortizationMethod: ruledomain.AmortizationStraightLine, PeriodMonths: 12}},
		RecomputeSvc: recompute,
		FactReader:   fakeFactReader{ids: []string{"c1", "c2"}},
		Limiter:      limiter,
	})
	return testServer{server: srv, feedback: feedback, recompute: recompute}
}

func (ts testServer) do(method, path string, body any, role string) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if role != "" {
		req.Header.Set(HeaderActorID, "user-1")
		req.Header.Set(HeaderActorRole, role)
	}
	rec := httptest.NewRecorder()
	ts.server.Engine().ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorPayload {
	t.Helper()
	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Error
}

func validSubmitBody() map[string]any {
	return map[string]any{
		"feedback_type": "rule_change",
		"target_type":   "content_id",
		"target_id":     "c1",
		"payload":       map[string]any{"rule_type": "amortization", "new_value": map[string]any{"amortization_method": "immediate"}},
		"description":   "amortize launch video immediately",
	}
}

func TestSubmitFeedback_RequiresActorHeaders(t *testing.T) {
	ts := newTestServer(t, fakeAuthz{}, nil)

	rec := ts.do(http.MethodPost, "/v1/feedback", validSubmitBody(), "")

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthorized", decodeError(t, rec).Type)
}

func TestSubmitFeedback_ReturnsImpactAnalysis(t *testing.T) {
	ts := newTestServer(t, fakeAuthz{}, nil)

	ts.feedback.EXPECT().
		Submit(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, req feedbackdomain.SubmitRequest) (feedbackdomain.FeedbackEvent, error) {
			assert.Equal(t, feedbackdomain.Actor{ID: "user-1", Role: authorization.RoleMarketingUser}, req.Actor)
			assert.Equal(t, feedbackdomain.FeedbackRuleChange, req.FeedbackType)
			require.NotNil(t, req.TargetID)
			assert.Equal(t, "c1", *req.TargetID)
			return feedbackdomain.FeedbackEvent{
				ID:             snowflake.ID(42),
				Status:         feedbackdomain.StatusPending,
				ImpactAnalysis: []byte(`{"run_id":"r1","rows_changed":2}`),
			}, nil
		})

	rec := ts.do(http.MethodPost, "/v1/feedback", validSubmitBody(), authorization.RoleMarketingUser)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var resp struct {
		ID             string         `json:"id"`
		Status         string         `json:"status"`
		ImpactAnalysis map[string]any `json:"impact_analysis"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "42", resp.ID)
	assert.Equal(t, "pending", resp.Status)
	assert.Equal(t, "r1", resp.ImpactAnalysis["run_id"])
}

func TestSubmitFeedback_ValidationErrorNamesField(t *testing.T) {
	ts := newTestServer(t, fakeAuthz{}, nil)

	ts.feedback.EXPECT().
		Submit(gomock.Any(), gomock.Any()).
		Return(feedbackdomain.FeedbackEvent{}, fmt.Errorf("%w: new_value is required", feedbackdomain.ErrInvalidPayload))

	rec := ts.do(http.MethodPost, "/v1/feedback", validSubmitBody(), authorization.RoleMarketingUser)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	payload := decodeError(t, rec)
	assert.Equal(t, "validation_error", payload.Type)
	require.Len(t, payload.Errors, 1)
	assert.Equal(t, "invalid_payload", payload.Errors[0].Code)
	assert.Equal(t, "payload", payload.Errors[0].Field)
}

func TestSubmitFeedback_RateLimited(t *testing.T) {
	fake := clock.NewFakeClock(time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC))
	limiter := ratelimit.NewSubmissionLimiterWith(ratelimit.NewMemoryBucket(fake), 0.01, 1)
	ts := newTestServer(t, fakeAuthz{}, limiter)

	ts.feedback.EXPECT().
		Submit(gomock.Any(), gomock.Any()).
		Return(feedbackdomain.FeedbackEvent{ID: snowflake.ID(1), Status: feedbackdomain.StatusPending}, nil).
		Times(1)

	first := ts.do(http.MethodPost, "/v1/feedback", validSubmitBody(), authorization.RoleMarketingUser)
	require.Equal(t, http.StatusCreated, first.Code)

	second := ts.do(http.MethodPost, "/v1/feedback", validSubmitBody(), authorization.RoleMarketingUser)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	retryAfter, err := strconv.Atoi(second.Header().Get("Retry-After"))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, retryAfter, 99)
	assert.Equal(t, "rate_limited", decodeError(t, second).Type)
}

func TestApproveFeedback_InvalidTransitionIsConflict(t *testing.T) {
	ts := newTestServer(t, fakeAuthz{}, nil)

	ts.feedback.EXPECT().
		Approve(gomock.Any(), snowflake.ID(7), feedbackdomain.Actor{ID: "user-1", Role: authorization.RoleFinanceAdmin}, "looks right").
		Return(feedbackdomain.FeedbackEvent{}, fmt.Errorf("%w: applied -> approved", feedbackdomain.ErrInvalidTransition))

	rec := ts.do(http.MethodPost, "/v1/feedback/7/approve", map[string]any{"notes": "looks right"}, authorization.RoleFinanceAdmin)

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_transition", decodeError(t, rec).Type)
}

func TestApplyFeedback_ForbiddenAndConflict(t *testing.T) {
	ts := newTestServer(t, fakeAuthz{}, nil)

	gomock.InOrder(
		ts.feedback.EXPECT().
			Apply(gomock.Any(), snowflake.ID(9), gomock.Any()).
			Return(feedbackdomain.FeedbackEvent{}, authorization.ErrForbidden),
		ts.feedback.EXPECT().
			Apply(gomock.Any(), snowflake.ID(9), gomock.Any()).
			Return(feedbackdomain.FeedbackEvent{}, &ruledomain.ConflictError{OverrideType: ruledomain.RuleTypeAmortization, TargetID: "c1"}),
	)

	rec := ts.do(http.MethodPost, "/v1/feedback/9/apply", nil, authorization.RoleStrategyAnalyst)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(http.MethodPost, "/v1/feedback/9/apply", nil, authorization.RoleFinanceAdmin)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "conflict", decodeError(t, rec).Type)
}

func TestGetFeedback_NotFound(t *testing.T) {
	ts := newTestServer(t, fakeAuthz{}, nil)

	ts.feedback.EXPECT().
		Get(gomock.Any(), snowflake.ID(404)).
		Return(feedbackdomain.FeedbackEvent{}, feedbackdomain.ErrFeedbackNotFound)

	rec := ts.do(http.MethodGet, "/v1/feedback/404", nil, authorization.RoleReadOnly)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(http.MethodGet, "/v1/feedback/not-an-id", nil, authorization.RoleReadOnly)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListAuditLogs_Forbidden(t *testing.T) {
	ts := newTestServer(t, fakeAuthz{denied: map[string]bool{
		authorization.RoleMarketingUser + "/" + authorization.ActionAuditView: true,
	}}, nil)

	rec := ts.do(http.MethodGet, "/v1/audit", nil, authorization.RoleMarketingUser)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestResolveRule(t *testing.T) {
	ts := newTestServer(t, fakeAuthz{}, nil)

	rec := ts.do(http.MethodGet, "/v1/rules/resolve?rule_type=amortization&target_id=c1&as_of=2024-01-05", nil, authorization.RoleReadOnly)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp struct {
		Data ruledomain.EffectiveRule `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, ruledomain.RuleTypeAmortization, resp.Data.RuleType)
	assert.Equal(t, 12, resp.Data.PeriodMonths)

	rec = ts.do(http.MethodGet, "/v1/rules/resolve?rule_type=bogus", nil, authorization.RoleReadOnly)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRequestRecompute_All(t *testing.T) {
	ts := newTestServer(t, fakeAuthz{}, nil)

	rec := ts.do(http.MethodPost, "/v1/recompute", map[string]any{"all": true, "from": "2024-01-01"}, authorization.RoleFinanceAdmin)

	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	require.Len(t, ts.recompute.enqueued, 2)
	for _, req := range ts.recompute.enqueued {
		assert.Equal(t, recomputedomain.SourceManual, req.SourceType)
		assert.NotEmpty(t, req.SourceID)
		require.NotNil(t, req.RangeStart)
		assert.Equal(t, "2024-01-01", req.RangeStart.Format(time.DateOnly))
	}

	rec = ts.do(http.MethodPost, "/v1/recompute", map[string]any{"all": true, "content_ids": []string{"c1"}}, authorization.RoleFinanceAdmin)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMapError(t *testing.T) {
	cases := map[string]struct {
		err    error
		status int
	}{
		"rule not found":  {err: &ruledomain.ResolutionError{RuleType: ruledomain.RuleTypeAttribution}, status: http.StatusNotFound},
		"fact timeout":    {err: fmt.Errorf("list costs: %w", factdomain.ErrTimeout), status: http.StatusGatewayTimeout},
		"missing impact":  {err: feedbackdomain.ErrMissingImpactAnalysis, status: http.StatusConflict},
		"invalid actor":   {err: feedbackdomain.ErrInvalidActor, status: http.StatusBadRequest},
		"unclassified":    {err: fmt.Errorf("boom"), status: http.StatusInternalServerError},
		"service offline": {err: ErrServiceUnavailable, status: http.StatusServiceUnavailable},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			status, _ := mapError(tc.err)
			assert.Equal(t, tc.status, status)
		})
	}
}
