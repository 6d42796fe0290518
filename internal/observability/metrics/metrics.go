package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes application-level instruments.
type Metrics struct {
	partitionsComputed metric.Int64Counter
	factsSkipped       metric.Int64Counter
	feedbackTransition metric.Int64Counter
	overridesApplied   metric.Int64Counter
	recomputeEnqueued  metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "contentfin"
	}
	meter := provider.Meter(name)

	partitionsComputed, err := meter.Int64Counter("contentfin_partitions_computed_total")
	if err != nil {
		return nil, err
	}
	factsSkipped, err := meter.Int64Counter("contentfin_facts_skipped_total")
	if err != nil {
		return nil, err
	}
	feedbackTransition, err := meter.Int64Counter("contentfin_feedback_transitions_total")
	if err != nil {
		return nil, err
	}
	overridesApplied, err := meter.Int64Counter("contentfin_overrides_applied_total")
	if err != nil {
		return nil, err
	}
	recomputeEnqueued, err := meter.Int64Counter("contentfin_recompute_enqueued_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		partitionsComputed: partitionsComputed,
		factsSkipped:       factsSkipped,
		feedbackTransition: feedbackTransition,
		overridesApplied:   overridesApplied,
		recomputeEnqueued:  recomputeEnqueued,
	}, nil
}

// RecordPartition counts a computed partition by outcome.
func (m *Metrics) RecordPartition(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("outcome", strings.TrimSpace(outcome)))
	m.partitionsComputed.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordFactsSkipped counts facts excluded from aggregation.
func (m *Metrics) RecordFactsSkipped(ctx context.Context, factKind, reason string, count int) {
	if m == nil || count <= 0 {
		return
	}
	attrs := FilterAttributes(
		attribute.String("fact_kind", strings.TrimSpace(factKind)),
		attribute.String("reason", strings.TrimSpace(reason)),
	)
	m.factsSkipped.Add(ctx, int64(count), metric.WithAttributes(attrs...))
}

// RecordFeedbackTransition counts feedback state changes.
func (m *Metrics) RecordFeedbackTransition(ctx context.Context, from, to string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("from_status", strings.TrimSpace(from)),
		attribute.String("to_status", strings.TrimSpace(to)),
	)
	m.feedbackTransition.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordOverrideApplied counts overrides created by rule type.
func (m *Metrics) RecordOverrideApplied(ctx context.Context, ruleType string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("rule_type", strings.TrimSpace(ruleType)))
	m.overridesApplied.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordRecomputeEnqueued counts partitions queued for recomputation.
func (m *Metrics) RecordRecomputeEnqueued(ctx context.Context, sourceType string, count int) {
	if m == nil || count <= 0 {
		return
	}
	attrs := FilterAttributes(attribute.String("source_type", strings.TrimSpace(sourceType)))
	m.recomputeEnqueued.Add(ctx, int64(count), metric.WithAttributes(attrs...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

var allowedLabelKeys = map[attribute.Key]struct{}{
	"outcome":     {},
	"fact_kind":   {},
	"reason":      {},
	"from_status": {},
	"to_status":   {},
	"rule_type":   {},
	"source_type": {},
	"endpoint":    {},
	"status_code": {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
