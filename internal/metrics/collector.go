// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器
type Collector struct {
	// 执行指标
	executionsTotal   *prometheus.CounterVec
	executionDuration prometheus.Histogram

	// 节点指标
	nodeExecutionsTotal *prometheus.CounterVec
	nodeDuration        *prometheus.HistogramVec

	// 表达式指标
	evaluationsTotal   *prometheus.CounterVec
	evaluationDuration *prometheus.HistogramVec

	// 解析计划指标
	resolvedNodesTotal prometheus.Counter

	// 线程指标
	liveThreads     prometheus.Gauge
	interruptsTotal prometheus.Counter

	// 变量作用域指标
	scopesReleased prometheus.Counter

	logger *zap.Logger
}

// NewCollector 创建指标收集器。reg 为 nil 时注册到默认注册表
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// 执行指标
	c.executionsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executions_total",
			Help:      "Total number of plan executions",
		},
		[]string{"status"},
	)

	c.executionDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "execution_duration_seconds",
			Help:      "Plan execution duration in seconds",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
		},
	)

	// 节点指标
	c.nodeExecutionsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "node_executions_total",
			Help:      "Total number of executed report nodes",
		},
		[]string{"type", "status"},
	)

	c.nodeDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "node_duration_seconds",
			Help:      "Report node duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"type"},
	)

	// 表达式指标
	c.evaluationsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evaluations_total",
			Help:      "Total number of expression evaluations",
		},
		[]string{"language", "status"},
	)

	c.evaluationDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "evaluation_duration_seconds",
			Help:      "Expression evaluation duration in seconds",
			Buckets:   []float64{0.00001, 0.0001, 0.001, 0.01, 0.1, 1},
		},
		[]string{"language"},
	)

	// 解析计划指标
	c.resolvedNodesTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolved_nodes_total",
			Help:      "Total number of persisted resolved plan nodes",
		},
	)

	// 线程指标
	c.liveThreads = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "live_threads",
			Help:      "Number of threads associated with running executions",
		},
	)

	c.interruptsTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "interrupts_total",
			Help:      "Total number of thread interrupts requested at execution end",
		},
	)

	c.scopesReleased = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "variable_scopes_released_total",
			Help:      "Total number of released variable scopes",
		},
	)

	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🎯 执行指标记录
// =============================================================================

// RecordExecution 记录一次计划执行
func (c *Collector) RecordExecution(status string, duration time.Duration) {
	c.executionsTotal.WithLabelValues(status).Inc()
	c.executionDuration.Observe(duration.Seconds())
}

// RecordNode 记录一个报告节点
func (c *Collector) RecordNode(artefactType, status string, duration time.Duration) {
	c.nodeExecutionsTotal.WithLabelValues(artefactType, status).Inc()
	c.nodeDuration.WithLabelValues(artefactType).Observe(duration.Seconds())
}

// =============================================================================
// 🧮 表达式指标记录
// =============================================================================

// RecordEvaluation 记录一次表达式求值，签名与 dynamic.EvaluationObserver 一致
func (c *Collector) RecordEvaluation(language string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	c.evaluationsTotal.WithLabelValues(language, status).Inc()
	c.evaluationDuration.WithLabelValues(language).Observe(duration.Seconds())
}

// =============================================================================
// 🌲 解析计划与线程指标记录
// =============================================================================

// RecordResolvedNode 记录一个持久化的解析节点
func (c *Collector) RecordResolvedNode() {
	c.resolvedNodesTotal.Inc()
}

// SetLiveThreads 设置存活线程数
func (c *Collector) SetLiveThreads(n int64) {
	c.liveThreads.Set(float64(n))
}

// RecordInterrupt 记录一次线程中断
func (c *Collector) RecordInterrupt() {
	c.interruptsTotal.Inc()
}

// RecordScopeRelease 记录一次变量作用域释放
func (c *Collector) RecordScopeRelease() {
	c.scopesReleased.Inc()
}
