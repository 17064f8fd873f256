package trace

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsRecorder records saga engine metrics. Use NewMetricsRecorder() for
// OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordStep records a single step's tool invocation latency and
	// outcome.
	RecordStep(ctx context.Context, toolName string, duration time.Duration, err error)

	// RecordSagaCompletion records a saga reaching a terminal status.
	RecordSagaCompletion(ctx context.Context, status string, duration time.Duration)

	// RecordLockContention records a lock acquisition attempt that found
	// the key already held.
	RecordLockContention(ctx context.Context, key string)

	// RecordDLQDepth records the current DLQ size observed by a
	// reconciler scan.
	RecordDLQDepth(ctx context.Context, depth int64)
}

type otelMetrics struct {
	stepExecutions metric.Int64Counter
	stepLatency    metric.Float64Histogram
	stepErrors     metric.Int64Counter
	sagaRuns       metric.Int64Counter
	sagaLatency    metric.Float64Histogram
	lockContention metric.Int64Counter
	dlqDepth       metric.Int64Histogram
}

var (
	defaultMetrics     *otelMetrics
	defaultMetricsOnce sync.Once
	defaultMetricsErr  error
)

func getDefaultMetrics() (*otelMetrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = newOtelMetrics()
	})
	return defaultMetrics, defaultMetricsErr
}

func newOtelMetrics() (*otelMetrics, error) {
	meter := otel.Meter("sagaengine")

	stepExecutions, err := meter.Int64Counter("sagaengine.step.executions",
		metric.WithDescription("Number of step tool invocations"))
	if err != nil {
		return nil, err
	}
	stepLatency, err := meter.Float64Histogram("sagaengine.step.latency_ms",
		metric.WithDescription("Step tool invocation latency"), metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}
	stepErrors, err := meter.Int64Counter("sagaengine.step.errors",
		metric.WithDescription("Number of step tool invocation errors"))
	if err != nil {
		return nil, err
	}
	sagaRuns, err := meter.Int64Counter("sagaengine.saga.completions",
		metric.WithDescription("Number of sagas reaching a terminal status"))
	if err != nil {
		return nil, err
	}
	sagaLatency, err := meter.Float64Histogram("sagaengine.saga.latency_ms",
		metric.WithDescription("Saga end-to-end latency"), metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}
	lockContention, err := meter.Int64Counter("sagaengine.lock.contention",
		metric.WithDescription("Number of lock acquisition attempts that found the key held"))
	if err != nil {
		return nil, err
	}
	dlqDepth, err := meter.Int64Histogram("sagaengine.dlq.depth",
		metric.WithDescription("DLQ depth observed at reconciler scan time"))
	if err != nil {
		return nil, err
	}

	return &otelMetrics{
		stepExecutions: stepExecutions,
		stepLatency:    stepLatency,
		stepErrors:     stepErrors,
		sagaRuns:       sagaRuns,
		sagaLatency:    sagaLatency,
		lockContention: lockContention,
		dlqDepth:       dlqDepth,
	}, nil
}

// NewMetricsRecorder returns a MetricsRecorder backed by OpenTelemetry. If
// initialization fails, falls back to a no-op recorder and logs a warning.
func NewMetricsRecorder() MetricsRecorder {
	m, err := getDefaultMetrics()
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder", slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

func (m *otelMetrics) RecordStep(ctx context.Context, toolName string, duration time.Duration, err error) {
	attrs := []attribute.KeyValue{attribute.String("tool_name", toolName)}
	m.stepExecutions.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.stepLatency.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))
	if err != nil {
		m.stepErrors.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

func (m *otelMetrics) RecordSagaCompletion(ctx context.Context, status string, duration time.Duration) {
	attrs := []attribute.KeyValue{attribute.String("status", status)}
	m.sagaRuns.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.sagaLatency.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))
}

func (m *otelMetrics) RecordLockContention(ctx context.Context, key string) {
	m.lockContention.Add(ctx, 1, metric.WithAttributes(attribute.String("key", key)))
}

func (m *otelMetrics) RecordDLQDepth(ctx context.Context, depth int64) {
	m.dlqDepth.Record(ctx, depth)
}
