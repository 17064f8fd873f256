// Package trace provides the saga engine's tracing (C13), metrics, and
// structured-logging conventions: a span per entry point, trace/correlation
// header propagation on every queue publish and event envelope, and
// counters/histograms for step latency, lock contention, and DLQ depth.
//
// All features are opt-in and have no-op implementations when disabled.
package trace

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracer is the engine's tracer instance, using the global OTel tracer
// provider.
var tracer = otel.Tracer("sagaengine")

// SpanManager handles trace span lifecycle. Use NewSpanManager() for OTel
// tracing or NoopSpanManager{} when disabled.
type SpanManager interface {
	// StartEntrySpan starts a span for an HTTP entry point (execute-step,
	// confirm, outbox-relay, heartbeat-check).
	StartEntrySpan(ctx context.Context, endpoint, executionID string) (context.Context, trace.Span)

	// StartStepSpan starts a span for a single step's tool invocation. It
	// should be a child of the entry span.
	StartStepSpan(ctx context.Context, stepID, toolName string) (context.Context, trace.Span)

	// EndSpanWithError completes a span, optionally recording an error.
	EndSpanWithError(span trace.Span, err error)

	// AddSpanEvent adds an event to the current span in context.
	AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue)
}

type otelSpanManager struct{}

// NewSpanManager returns a SpanManager backed by OpenTelemetry. Configure
// the global tracer provider before calling this (otel.SetTracerProvider).
func NewSpanManager() SpanManager { return &otelSpanManager{} }

func (m *otelSpanManager) StartEntrySpan(ctx context.Context, endpoint, executionID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "sagaengine."+endpoint,
		trace.WithAttributes(
			attribute.String("execution_id", executionID),
		),
		trace.WithSpanKind(trace.SpanKindServer),
	)
}

func (m *otelSpanManager) StartStepSpan(ctx context.Context, stepID, toolName string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "sagaengine.step",
		trace.WithAttributes(
			attribute.String("step_id", stepID),
			attribute.String("tool_name", toolName),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

func (m *otelSpanManager) EndSpanWithError(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

func (m *otelSpanManager) AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	if span == nil || !span.IsRecording() {
		return
	}
	span.AddEvent(name, trace.WithAttributes(attrs...))
}
