package scheduler

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/golang/mock/gomock"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/smallbiznis/contentfin/internal/clock"
	"github.com/smallbiznis/contentfin/internal/engine"
	factdomain "github.com/smallbiznis/contentfin/internal/fact/domain"
	obsmetrics "github.com/smallbiznis/contentfin/internal/observability/metrics"
	recomputedomain "github.com/smallbiznis/contentfin/internal/recompute/domain"
	"github.com/smallbiznis/contentfin/internal/recompute/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeRunner struct {
	partitionErr map[string]error
	runErr       map[string]error
	runs         []engine.Partition
	asOfs        []time.Time
}

func (f *fakeRunner) PartitionFor(_ context.Context, contentID string, from, to *time.Time, asOf time.Time) (engine.Partition, error) {
	if err := f.partitionErr[contentID]; err != nil {
		return engine.Partition{}, err
	}
	p := engine.Partition{ContentID: contentID, From: factdomain.DateOf(asOf).AddDate(0, 0, -7), To: factdomain.DateOf(asOf)}
	if from != nil {
		p.From = *from
	}
	if to != nil {
		p.To = *to
	}
	return p, nil
}

func (f *fakeRunner) Run(_ context.Context, partitions []engine.Partition, asOf time.Time) (engine.RunSummary, error) {
	f.runs = append(f.runs, partitions...)
	f.asOfs = append(f.asOfs, asOf)
	for _, p := range partitions {
		if err := f.runErr[p.ContentID]; err != nil {
			return engine.RunSummary{Partitions: len(partitions), Failed: 1}, err
		}
	}
	return engine.RunSummary{Partitions: len(partitions), Rows: len(partitions)}, nil
}

func newTestScheduler(t *testing.T, svc recomputedomain.Service, runner PartitionRunner, cfg Config) (*Scheduler, *clock.FakeClock) {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	fake := clock.NewFakeClock(time.Date(2024, 3, 10, 6, 0, 0, 0, time.UTC))
	return &Scheduler{
		log:       zap.NewNop(),
		cfg:       cfg.withDefaults(),
		genID:     node,
		clock:     fake,
		recompute: svc,
		runner:    runner,
	}, fake
}

func TestRunJobTimeoutDoesNotReturnErrorAndIncrementsTimeout(t *testing.T) {
	registry := prometheus.NewRegistry()
	restore := swapPrometheusRegistry(registry)
	defer restore()

	obsmetrics.ResetSchedulerMetricsForTest()
	obsmetrics.SchedulerWithConfig(obsmetrics.Config{
		ServiceName: "contentfin",
		Environment: "test",
	})

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}

	s := &Scheduler{log: zap.NewNop(), genID: node, clock: clock.NewFakeClock(time.Time{})}
	err = s.runJob(context.Background(), "timeout_job", 0, 5*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	labels := map[string]string{
		"service": "contentfin",
		"env":     "test",
		"job":     "timeout_job",
	}
	if got := getCounterValue(t, registry, "contentfin_scheduler_job_timeouts_total", labels); got != 1 {
		t.Fatalf("expected timeout count 1, got %v", got)
	}

	errorLabels := map[string]string{
		"service": "contentfin",
		"env":     "test",
		"job":     "timeout_job",
		"reason":  obsmetrics.SchedulerJobReasonDeadlineExceeded,
	}
	if got := getCounterValue(t, registry, "contentfin_scheduler_job_errors_total", errorLabels); got != 1 {
		t.Fatalf("expected error count 1, got %v", got)
	}
}

func TestRunJobWrapsBusinessErrors(t *testing.T) {
	restore := swapPrometheusRegistry(prometheus.NewRegistry())
	defer restore()

	s, _ := newTestScheduler(t, nil, nil, Config{})
	boom := errors.New("boom")
	err := s.runJob(context.Background(), "failing_job", 1, time.Second, func(context.Context) error { return boom })
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "failing_job")
}

func TestRecomputeDrainJob_CompletesAndRecordsFailures(t *testing.T) {
	restore := swapPrometheusRegistry(prometheus.NewRegistry())
	defer restore()

	ctrl := gomock.NewController(t)
	svc := mocks.NewMockService(ctrl)

	pinned := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	ok := recomputedomain.Request{ID: 1, ContentID: "c1", AsOf: &pinned, Attempts: 1}
	orphan := recomputedomain.Request{ID: 2, ContentID: "gone", Attempts: 1}
	flaky := recomputedomain.Request{ID: 3, ContentID: "c3", Attempts: 1}

	runner := &fakeRunner{
		partitionErr: map[string]error{"gone": fmt.Errorf("%w: gone", factdomain.ErrContentNotFound)},
		runErr:       map[string]error{"c3": errors.New("db unavailable")},
	}
	s, fake := newTestScheduler(t, svc, runner, Config{BatchSize: 10})

	svc.EXPECT().Claim(gomock.Any(), 10).Return([]recomputedomain.Request{ok, orphan, flaky}, nil)
	svc.EXPECT().Complete(gomock.Any(), ok.ID).Return(nil)
	svc.EXPECT().Fail(gomock.Any(), orphan.ID, gomock.Any(), false).Return(nil)
	svc.EXPECT().Fail(gomock.Any(), flaky.ID, gomock.Any(), true).Return(nil)

	err := s.runJob(context.Background(), JobRecomputeDrain, 10, time.Minute, s.RecomputeDrainJob)
	require.NoError(t, err)

	require.Len(t, runner.runs, 2)
	assert.Equal(t, "c1", runner.runs[0].ContentID)
	assert.Equal(t, pinned, runner.asOfs[0])
	assert.Equal(t, fake.Now(), runner.asOfs[1])
}

func TestRecomputeDrainJob_EmptyQueue(t *testing.T) {
	restore := swapPrometheusRegistry(prometheus.NewRegistry())
	defer restore()

	ctrl := gomock.NewController(t)
	svc := mocks.NewMockService(ctrl)
	runner := &fakeRunner{}
	s, _ := newTestScheduler(t, svc, runner, Config{})

	svc.EXPECT().Claim(gomock.Any(), DefaultConfig().BatchSize).Return(nil, nil)
	require.NoError(t, s.RecomputeDrainJob(context.Background()))
	assert.Empty(t, runner.runs)
}

func TestRunOnce_OnlyRunsEnabledJobs(t *testing.T) {
	restore := swapPrometheusRegistry(prometheus.NewRegistry())
	defer restore()

	ctrl := gomock.NewController(t)
	svc := mocks.NewMockService(ctrl)
	s, fake := newTestScheduler(t, svc, &fakeRunner{}, Config{
		RecoveryThreshold: 10 * time.Minute,
		EnabledJobs:       []string{"RECOVERY_SWEEP"},
	})

	svc.EXPECT().RecoverStale(gomock.Any(), fake.Now().Add(-10*time.Minute)).Return(2, nil)
	require.NoError(t, s.RunOnce(context.Background()))
}

func TestRunOnce_JoinsJobErrors(t *testing.T) {
	restore := swapPrometheusRegistry(prometheus.NewRegistry())
	defer restore()

	ctrl := gomock.NewController(t)
	svc := mocks.NewMockService(ctrl)
	s, _ := newTestScheduler(t, svc, &fakeRunner{}, Config{})

	sweepErr := errors.New("sweep failed")
	claimErr := errors.New("claim failed")
	svc.EXPECT().RecoverStale(gomock.Any(), gomock.Any()).Return(0, sweepErr)
	svc.EXPECT().Claim(gomock.Any(), gomock.Any()).Return(nil, claimErr)

	err := s.RunOnce(context.Background())
	assert.ErrorIs(t, err, sweepErr)
	assert.ErrorIs(t, err, claimErr)
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, isRetryable(factdomain.ErrContentNotFound))
	assert.False(t, isRetryable(fmt.Errorf("wrap: %w", engine.ErrInvalidPartition)))
	assert.True(t, isRetryable(errors.New("connection reset")))
}

func swapPrometheusRegistry(registry *prometheus.Registry) func() {
	oldRegisterer := prometheus.DefaultRegisterer
	oldGatherer := prometheus.DefaultGatherer
	prometheus.DefaultRegisterer = registry
	prometheus.DefaultGatherer = registry
	obsmetrics.ResetSchedulerMetricsForTest()
	return func() {
		prometheus.DefaultRegisterer = oldRegisterer
		prometheus.DefaultGatherer = oldGatherer
		obsmetrics.ResetSchedulerMetricsForTest()
	}
}

func getCounterValue(t *testing.T, registry *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	metricFamilies, err := registry.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range metricFamilies {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.Metric {
			if !labelsMatch(metric, labels) {
				continue
			}
			if metric.Counter == nil {
				t.Fatalf("metric %s is not a counter", name)
			}
			return metric.GetCounter().GetValue()
		}
	}
	t.Fatalf("metric %s with labels %v not found", name, labels)
	return 0
}

func labelsMatch(metric *dto.Metric, labels map[string]string) bool {
	if len(metric.Label) != len(labels) {
		return false
	}
	for _, label := range metric.Label {
		if labels[label.GetName()] != label.GetValue() {
			return false
		}
	}
	return true
}
