package ctxkeys

import "context"

// contextKey 用于在 context 中存储值的键类型
type contextKey string

const (
	traceIDKey      contextKey = "trace_id"
	executionIDKey  contextKey = "execution_id"
	reportNodeIDKey contextKey = "report_node_id"
)

// WithTraceID 设置 TraceID
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// TraceID 获取 TraceID
func TraceID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(traceIDKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// WithExecutionID 设置当前执行 ID
func WithExecutionID(ctx context.Context, executionID string) context.Context {
	return context.WithValue(ctx, executionIDKey, executionID)
}

// ExecutionID 获取当前执行 ID
func ExecutionID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(executionIDKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// WithReportNodeID 设置当前报告节点 ID
func WithReportNodeID(ctx context.Context, nodeID string) context.Context {
	return context.WithValue(ctx, reportNodeIDKey, nodeID)
}

// ReportNodeID 获取当前报告节点 ID
func ReportNodeID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(reportNodeIDKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
