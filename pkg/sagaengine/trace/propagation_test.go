package trace

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromContextGeneratesIDsWhenNoSpan(t *testing.T) {
	ids := FromContext(context.Background(), "")
	assert.NotEmpty(t, ids.TraceID)
	assert.NotEmpty(t, ids.CorrelationID)
}

func TestFromContextPreservesCorrelationID(t *testing.T) {
	ids := FromContext(context.Background(), "corr-123")
	assert.Equal(t, "corr-123", ids.CorrelationID)
}

func TestHeadersRoundTrip(t *testing.T) {
	ids := IDs{TraceID: "trace-1", CorrelationID: "corr-1"}
	headers := ids.Headers()

	assert.Equal(t, "trace-1", headers[HeaderTraceID])
	assert.Equal(t, "corr-1", headers[HeaderCorrelationID])

	parsed := IDsFromHeaders(headers)
	assert.Equal(t, ids, parsed)
}

func TestIDsFromHeadersFillsMissing(t *testing.T) {
	ids := IDsFromHeaders(map[string]string{})
	assert.NotEmpty(t, ids.TraceID)
	assert.NotEmpty(t, ids.CorrelationID)
}
