package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MeterName is the instrumentation scope of every engine instrument.
const MeterName = "quarry"

// Metrics holds the engine instruments. A nil *Metrics records nothing.
type Metrics struct {
	requestDuration metric.Float64Histogram
	requestCounter  metric.Int64Counter
	sourceDuration  metric.Float64Histogram
	sourceRequests  metric.Int64Counter
	sourceFailures  metric.Int64Counter
	batchSize       metric.Int64Histogram
	batchDeduped    metric.Int64Counter
	propagatedNulls metric.Int64Counter
	responseErrors  metric.Int64Counter
}

// NewMetrics creates the instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	return NewMetricsWithMeter(otel.Meter(MeterName))
}

// NewMetricsWithMeter creates the instruments on meter.
func NewMetricsWithMeter(meter metric.Meter) (*Metrics, error) {
	requestDuration, err := meter.Float64Histogram(
		"quarry.request.duration",
		metric.WithDescription("Duration of plan executions in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create request duration histogram: %w", err)
	}

	requestCounter, err := meter.Int64Counter(
		"quarry.requests.total",
		metric.WithDescription("Total number of plan executions"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create request counter: %w", err)
	}

	sourceDuration, err := meter.Float64Histogram(
		"quarry.source.duration",
		metric.WithDescription("Duration of source requests in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create source duration histogram: %w", err)
	}

	sourceRequests, err := meter.Int64Counter(
		"quarry.source.requests",
		metric.WithDescription("Number of requests sent to sources"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create source request counter: %w", err)
	}

	sourceFailures, err := meter.Int64Counter(
		"quarry.source.failures",
		metric.WithDescription("Number of source requests failing at transport level"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create source failure counter: %w", err)
	}

	batchSize, err := meter.Int64Histogram(
		"quarry.batch.size",
		metric.WithDescription("Number of representations sent in one entity batch"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create batch size histogram: %w", err)
	}

	batchDeduped, err := meter.Int64Counter(
		"quarry.batch.deduplicated",
		metric.WithDescription("Number of representations removed as duplicates before dispatch"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create batch dedup counter: %w", err)
	}

	propagatedNulls, err := meter.Int64Counter(
		"quarry.nulls.propagated",
		metric.WithDescription("Number of positions nulled by error propagation"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create propagated nulls counter: %w", err)
	}

	responseErrors, err := meter.Int64Counter(
		"quarry.errors.total",
		metric.WithDescription("Number of errors returned to clients"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create error counter: %w", err)
	}

	return &Metrics{
		requestDuration: requestDuration,
		requestCounter:  requestCounter,
		sourceDuration:  sourceDuration,
		sourceRequests:  sourceRequests,
		sourceFailures:  sourceFailures,
		batchSize:       batchSize,
		batchDeduped:    batchDeduped,
		propagatedNulls: propagatedNulls,
		responseErrors:  responseErrors,
	}, nil
}

// RecordRequest records one plan execution.
func (m *Metrics) RecordRequest(ctx context.Context, duration time.Duration, dataNull bool, errorCount int) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.Bool("data_null", dataNull),
		attribute.Bool("has_errors", errorCount > 0),
	)
	m.requestDuration.Record(ctx, float64(duration.Milliseconds()), attrs)
	m.requestCounter.Add(ctx, 1, attrs)
}

// RecordSourceRequest records one call to a source.
func (m *Metrics) RecordSourceRequest(ctx context.Context, source string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("source", source))
	m.sourceDuration.Record(ctx, float64(duration.Milliseconds()), attrs)
	m.sourceRequests.Add(ctx, 1, attrs)
	if err != nil {
		m.sourceFailures.Add(ctx, 1, attrs)
	}
}

// RecordBatch records the size of an entity batch and how many duplicates it absorbed.
func (m *Metrics) RecordBatch(ctx context.Context, source, typename string, size, deduplicated int) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("source", source),
		attribute.String("typename", typename),
	)
	m.batchSize.Record(ctx, int64(size), attrs)
	if deduplicated > 0 {
		m.batchDeduped.Add(ctx, int64(deduplicated), attrs)
	}
}

func (m *Metrics) RecordPropagatedNulls(ctx context.Context, count int64) {
	if m == nil || count <= 0 {
		return
	}
	m.propagatedNulls.Add(ctx, count)
}

// RecordErrors counts response errors by code.
func (m *Metrics) RecordErrors(ctx context.Context, codes []string) {
	if m == nil {
		return
	}
	for _, code := range codes {
		m.responseErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("code", code)))
	}
}

type metricsContextKey struct{}

// ContextWithMetrics stores metrics in the provided context.
func ContextWithMetrics(ctx context.Context, metrics *Metrics) context.Context {
	return context.WithValue(ctx, metricsContextKey{}, metrics)
}

// MetricsFromContext retrieves metrics from the context, nil when absent.
func MetricsFromContext(ctx context.Context) *Metrics {
	if ctx == nil {
		return nil
	}
	metrics, _ := ctx.Value(metricsContextKey{}).(*Metrics)
	return metrics
}
