package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/smallbiznis/contentfin/internal/authorization"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestClassifySchedulerJobReason(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{name: "deadline", err: context.DeadlineExceeded, want: SchedulerJobReasonDeadlineExceeded},
		{name: "forbidden", err: authorization.ErrForbidden, want: SchedulerJobReasonForbidden},
		{name: "db_lock_timeout", err: &pgconn.PgError{Code: "55P03"}, want: SchedulerJobReasonDBLockTimeout},
		{name: "serialization_failure", err: &pgconn.PgError{Code: "40001"}, want: SchedulerJobReasonSerializationFailure},
		{name: "unique_violation", err: gorm.ErrDuplicatedKey, want: SchedulerJobReasonUniqueViolation},
		{name: "unknown", err: errors.New("boom"), want: SchedulerJobReasonUnknown},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ClassifySchedulerJobReason(tc.err))
		})
	}
}

func TestIsSchedulerErrorRetryable(t *testing.T) {
	assert.True(t, IsSchedulerErrorRetryable(context.DeadlineExceeded))
	assert.True(t, IsSchedulerErrorRetryable(&pgconn.PgError{Code: "40001"}))
	assert.False(t, IsSchedulerErrorRetryable(gorm.ErrRecordNotFound))
	assert.False(t, IsSchedulerErrorRetryable(nil))
}

func TestAddBatchProcessed(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := newSchedulerMetrics(registry, Config{ServiceName: "contentfin", Environment: "test"})

	m.AddBatchProcessed("recompute_drain", "recompute_requests", 3)

	got := testutil.ToFloat64(m.batchProcessed.WithLabelValues("recompute_drain", "recompute_requests"))
	assert.Equal(t, 3.0, got)
}

func TestObservePartitionAndSkippedFacts(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := newSchedulerMetrics(registry, Config{ServiceName: "contentfin", Environment: "test"})

	m.ObservePartition(PartitionOutcomePartial, 20*time.Millisecond)
	m.ObservePartition(PartitionOutcomeOK, 10*time.Millisecond)
	m.ObservePartition(PartitionOutcomeOK, 10*time.Millisecond)
	m.AddFactsSkipped("cost", "invalid_amount", 2)
	m.AddFactsSkipped("cost", "invalid_amount", 0)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.partitions.WithLabelValues(PartitionOutcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.partitions.WithLabelValues(PartitionOutcomePartial)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.factsSkipped.WithLabelValues("cost", "invalid_amount")))
}
