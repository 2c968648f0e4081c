package threads

import (
	"context"
	"regexp"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func threadIDs(ops []Operation) []string {
	out := make([]string, len(ops))
	for i, op := range ops {
		out[i] = op.ThreadID
	}
	return out
}

func TestManager_NodeScopes(t *testing.T) {
	m := NewManager(zaptest.NewLogger(t))
	main := NewThread(context.Background(), "sequence")
	defer main.Done()
	m.AssociateThread("exec", main, "")

	m.BeforeReportNodeExecution(main.Context(), "root")
	ops := m.CurrentOperationsByReportNodeID("root")
	require.Len(t, ops, 1)
	assert.Equal(t, main.ID, ops[0].ThreadID)
	assert.Equal(t, "root", ops[0].ReportNodeID)

	m.AfterReportNodeExecution(main.Context(), "root")
	assert.Empty(t, m.CurrentOperationsByReportNodeID("root"))
	assert.Len(t, m.CurrentOperations("exec"), 1, "execution membership is independent of node scopes")
}

func TestManager_ChildJoinsParentScopes(t *testing.T) {
	m := NewManager(nil)
	parent := NewThread(context.Background(), "parallel")
	m.AssociateThread("exec", parent, "")
	m.BeforeReportNodeExecution(parent.Context(), "root")
	m.BeforeReportNodeExecution(parent.Context(), "branch")

	child := NewThread(parent.Context(), "echo")
	m.AssociateThread("exec", child, parent.ID)

	assert.ElementsMatch(t, []string{parent.ID, child.ID}, threadIDs(m.CurrentOperationsByReportNodeID("root")))
	assert.ElementsMatch(t, []string{parent.ID, child.ID}, threadIDs(m.CurrentOperationsByReportNodeID("branch")))
	assert.Equal(t, int64(2), m.LiveThreads())

	m.UnassociateThread(child)
	assert.Equal(t, []string{parent.ID}, threadIDs(m.CurrentOperationsByReportNodeID("root")))
	assert.Equal(t, []string{parent.ID}, threadIDs(m.CurrentOperations("exec")))
	assert.Equal(t, int64(1), m.LiveThreads())

	m.UnassociateThread(child)
	assert.Equal(t, int64(1), m.LiveThreads(), "unassociating twice is a no-op")
}

func TestManager_OperationsSnapshot(t *testing.T) {
	m := NewManager(nil)
	th := NewThread(context.Background(), "echo")
	m.AssociateThread("exec", th, "")
	m.BeforeReportNodeExecution(th.Context(), "n1")

	th.PushOperation("echo hello")
	th.PushOperation("write output")
	ops := m.CurrentOperations("exec")
	require.Len(t, ops, 1)
	assert.Equal(t, []string{"echo hello", "write output"}, ops[0].Operations)
	assert.Equal(t, "n1", ops[0].ReportNodeID)

	ops[0].Operations[0] = "mutated"
	th.PopOperation()
	assert.Equal(t, []string{"echo hello"}, th.Operations())
	th.PopOperation()
	th.PopOperation()
	assert.Empty(t, th.Operations())
}

func TestManager_BeforeExecutionEnd(t *testing.T) {
	var hooked []string
	m := NewManager(zaptest.NewLogger(t), WithInterruptHook(func(th *Thread) { hooked = append(hooked, th.Name) }))
	m.RegisterClass("sleep")
	m.RegisterPattern(regexp.MustCompile(`^poll `))

	sleeper := NewThread(context.Background(), "sleep")
	poller := NewThread(context.Background(), "echo")
	poller.PushOperation("poll endpoint")
	other := NewThread(context.Background(), "echo")
	elsewhere := NewThread(context.Background(), "sleep")
	for _, th := range []*Thread{sleeper, poller, other} {
		m.AssociateThread("exec", th, "")
	}
	m.AssociateThread("exec-2", elsewhere, "")

	n := m.BeforeExecutionEnd(context.Background(), "exec")
	assert.Equal(t, 2, n)
	assert.Equal(t, int64(2), m.Interrupts())
	assert.ElementsMatch(t, []string{"sleep", "echo"}, hooked)

	assert.True(t, sleeper.Interrupted())
	assert.ErrorIs(t, context.Cause(sleeper.Context()), ErrInterrupted)
	assert.True(t, poller.Interrupted())
	assert.False(t, other.Interrupted())
	assert.NoError(t, other.Context().Err())
	assert.False(t, elsewhere.Interrupted())
}

func TestManager_NoThreadInContext(t *testing.T) {
	m := NewManager(nil)
	m.BeforeReportNodeExecution(context.Background(), "n")
	m.AfterReportNodeExecution(context.Background(), "n")
	assert.Empty(t, m.CurrentOperationsByReportNodeID("n"))
}

func TestThread_Context(t *testing.T) {
	th := NewThread(context.Background(), "x")
	got, ok := FromContext(th.Context())
	require.True(t, ok)
	assert.Same(t, th, got)

	_, ok = FromContext(context.Background())
	assert.False(t, ok)

	th.Done()
	assert.Error(t, th.Context().Err())
	assert.False(t, th.Interrupted())
}

func TestManager_ConcurrentSiblings(t *testing.T) {
	m := NewManager(nil)
	parent := NewThread(context.Background(), "parallel")
	m.AssociateThread("exec", parent, "")
	m.BeforeReportNodeExecution(parent.Context(), "root")

	const workers = 32
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			child := NewThread(parent.Context(), "echo")
			m.AssociateThread("exec", child, parent.ID)
			m.BeforeReportNodeExecution(child.Context(), "leaf")
			m.AfterReportNodeExecution(child.Context(), "leaf")
			m.UnassociateThread(child)
			child.Done()
		}()
	}
	wg.Wait()

	assert.Equal(t, []string{parent.ID}, threadIDs(m.CurrentOperationsByReportNodeID("root")))
	assert.Empty(t, m.CurrentOperationsByReportNodeID("leaf"))
	assert.Equal(t, int64(1), m.LiveThreads())
}
