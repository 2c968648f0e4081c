// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 metrics 提供基于 Prometheus 的计划执行指标采集能力，覆盖
执行、节点、表达式求值、解析计划与线程五个维度。

# 概述

Collector 通过 promauto.With 注册到调用方提供的 Registerer，
测试可使用独立的 prometheus.NewRegistry 避免重复注册。所有指标按
namespace 隔离。

# 主要能力

  - 执行指标：executions_total{status}、execution_duration_seconds。
  - 节点指标：node_executions_total{type,status}、node_duration_seconds{type}。
  - 表达式指标：evaluations_total{language,status}，RecordEvaluation
    可直接作为 dynamic.EvaluationObserver 使用。
  - 解析计划与线程：resolved_nodes_total、live_threads、interrupts_total、
    variable_scopes_released_total。
*/
package metrics
