package trace

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	otrace "go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// NoopMetrics is a MetricsRecorder that does nothing. Use when metrics are
// disabled to avoid overhead.
type NoopMetrics struct{}

var _ MetricsRecorder = NoopMetrics{}

func (NoopMetrics) RecordStep(_ context.Context, _ string, _ time.Duration, _ error)  {}
func (NoopMetrics) RecordSagaCompletion(_ context.Context, _ string, _ time.Duration) {}
func (NoopMetrics) RecordLockContention(_ context.Context, _ string)                  {}
func (NoopMetrics) RecordDLQDepth(_ context.Context, _ int64)                         {}

// NoopSpanManager is a SpanManager that does nothing. Use when tracing is
// disabled to avoid overhead.
type NoopSpanManager struct{}

var _ SpanManager = NoopSpanManager{}

var noopSpan = noop.Span{}

func (NoopSpanManager) StartEntrySpan(ctx context.Context, _, _ string) (context.Context, otrace.Span) {
	return ctx, noopSpan
}

func (NoopSpanManager) StartStepSpan(ctx context.Context, _, _ string) (context.Context, otrace.Span) {
	return ctx, noopSpan
}

func (NoopSpanManager) EndSpanWithError(_ otrace.Span, _ error) {}

func (NoopSpanManager) AddSpanEvent(_ context.Context, _ string, _ ...attribute.KeyValue) {}
