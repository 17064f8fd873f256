package trace

import (
	"context"

	"github.com/google/uuid"
	otrace "go.opentelemetry.io/otel/trace"
)

// Header names propagated on every queue publish and event envelope.
const (
	HeaderTraceID       = "x-trace-id"
	HeaderCorrelationID = "x-correlation-id"
)

// IDs bundles the propagated trace and correlation identifiers.
type IDs struct {
	TraceID       string
	CorrelationID string
}

// FromContext derives propagation IDs from the active span, falling back to
// freshly generated UUIDs when no span is recording (e.g. in tests that
// don't wire a tracer). CorrelationID is caller-supplied context and is not
// derivable from the span; callers pass it in as correlationID.
func FromContext(ctx context.Context, correlationID string) IDs {
	ids := IDs{CorrelationID: correlationID}
	span := otrace.SpanFromContext(ctx)
	if span != nil && span.SpanContext().HasTraceID() {
		ids.TraceID = span.SpanContext().TraceID().String()
	} else {
		ids.TraceID = uuid.NewString()
	}
	if ids.CorrelationID == "" {
		ids.CorrelationID = uuid.NewString()
	}
	return ids
}

// Headers renders IDs as the wire header map carried on queue messages and
// event envelopes.
func (ids IDs) Headers() map[string]string {
	return map[string]string{
		HeaderTraceID:       ids.TraceID,
		HeaderCorrelationID: ids.CorrelationID,
	}
}

// IDsFromHeaders extracts propagation IDs from an inbound header map,
// generating fresh ones for anything missing so downstream code never has
// to nil-check.
func IDsFromHeaders(headers map[string]string) IDs {
	ids := IDs{
		TraceID:       headers[HeaderTraceID],
		CorrelationID: headers[HeaderCorrelationID],
	}
	if ids.TraceID == "" {
		ids.TraceID = uuid.NewString()
	}
	if ids.CorrelationID == "" {
		ids.CorrelationID = uuid.NewString()
	}
	return ids
}
