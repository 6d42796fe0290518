package metrics

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("rule_type", "amortization"),
		attribute.String("content_id", "456"),
		attribute.String("reason", "invalid_amount"),
	)
	require.Len(t, attrs, 2)
	keys := []attribute.Key{attrs[0].Key, attrs[1].Key}
	assert.Contains(t, keys, attribute.Key("rule_type"))
	assert.Contains(t, keys, attribute.Key("reason"))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	ctx := context.Background()
	assert.NotPanics(t, func() {
		m.RecordPartition(ctx, "ok")
		m.RecordFactsSkipped(ctx, "cost", "invalid_amount", 2)
		m.RecordFeedbackTransition(ctx, "pending", "approved")
		m.RecordOverrideApplied(ctx, "amortization")
		m.RecordRecomputeEnqueued(ctx, "feedback", 3)
	})
}

func TestNew_WithNoopProvider(t *testing.T) {
	m, err := New(Config{ServiceName: "contentfin"}, noop.NewMeterProvider())
	require.NoError(t, err)
	assert.NotPanics(t, func() {
		m.RecordPartition(context.Background(), "failed")
	})
}
