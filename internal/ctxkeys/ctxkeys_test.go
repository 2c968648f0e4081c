package ctxkeys

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextKeys(t *testing.T) {
	ctx := context.Background()

	_, ok := ExecutionID(ctx)
	assert.False(t, ok)

	ctx = WithExecutionID(ctx, "exec-1")
	ctx = WithReportNodeID(ctx, "node-1")
	ctx = WithTraceID(ctx, "trace-1")

	id, ok := ExecutionID(ctx)
	assert.True(t, ok)
	assert.Equal(t, "exec-1", id)

	node, ok := ReportNodeID(ctx)
	assert.True(t, ok)
	assert.Equal(t, "node-1", node)

	trace, ok := TraceID(ctx)
	assert.True(t, ok)
	assert.Equal(t, "trace-1", trace)

	_, ok = ExecutionID(WithExecutionID(context.Background(), ""))
	assert.False(t, ok)
}
