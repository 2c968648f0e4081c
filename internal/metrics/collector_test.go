package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

// =============================================================================
// 🧪 Collector 测试
// =============================================================================

func newTestCollector(t *testing.T) *Collector {
	t.Helper()
	return NewCollector("test", prometheus.NewRegistry(), zap.NewNop())
}

func TestNewCollector(t *testing.T) {
	collector := newTestCollector(t)

	assert.NotNil(t, collector.executionsTotal)
	assert.NotNil(t, collector.nodeExecutionsTotal)
	assert.NotNil(t, collector.evaluationsTotal)
	assert.NotNil(t, collector.liveThreads)
}

func TestNewCollector_SeparateRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		NewCollector("same", prometheus.NewRegistry(), nil)
		NewCollector("same", prometheus.NewRegistry(), nil)
	})
}

func TestCollector_RecordExecution(t *testing.T) {
	collector := newTestCollector(t)

	collector.RecordExecution("passed", 100*time.Millisecond)
	collector.RecordExecution("passed", 50*time.Millisecond)
	collector.RecordExecution("failed", time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(collector.executionsTotal.WithLabelValues("passed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.executionsTotal.WithLabelValues("failed")))
	assert.Equal(t, 1, testutil.CollectAndCount(collector.executionDuration))
}

func TestCollector_RecordNode(t *testing.T) {
	collector := newTestCollector(t)

	collector.RecordNode("echo", "passed", time.Millisecond)
	collector.RecordNode("for", "passed", 10*time.Millisecond)

	assert.Equal(t, 2, testutil.CollectAndCount(collector.nodeExecutionsTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.nodeExecutionsTotal.WithLabelValues("echo", "passed")))
}

func TestCollector_RecordEvaluation(t *testing.T) {
	collector := newTestCollector(t)

	collector.RecordEvaluation("expr", time.Microsecond, nil)
	collector.RecordEvaluation("expr", time.Microsecond, errors.New("boom"))

	assert.Equal(t, 1.0, testutil.ToFloat64(collector.evaluationsTotal.WithLabelValues("expr", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.evaluationsTotal.WithLabelValues("expr", "error")))
}

func TestCollector_ThreadsAndResolvedNodes(t *testing.T) {
	collector := newTestCollector(t)

	collector.RecordResolvedNode()
	collector.RecordResolvedNode()
	collector.SetLiveThreads(3)
	collector.RecordInterrupt()
	collector.RecordScopeRelease()

	assert.Equal(t, 2.0, testutil.ToFloat64(collector.resolvedNodesTotal))
	assert.Equal(t, 3.0, testutil.ToFloat64(collector.liveThreads))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.interruptsTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.scopesReleased))
}
