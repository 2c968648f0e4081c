// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
包 engine 提供计划执行引擎，负责驱动报告树、变量作用域、解析计划与线程管理。

# 概述

Engine 为每次执行创建独立的上下文注册表（execution.Context），
从引擎级注册表继承线程管理器、解析计划构建器与表达式求值器，
并为本次执行创建报告树与变量管理器。

# 节点生命周期

每个节点依次经历：创建报告节点、增量挂载解析计划节点、
登记当前线程、合并变量绑定并解析动态属性、执行处理器、
记录最终状态、释放变量作用域。每个节点产生一个 OpenTelemetry span，
并在配置指标采集器时记录 Prometheus 指标。

# 内置处理器

  - sequence / echo / set / check：顺序执行、输出消息、写变量、断言。
  - for：按计数器循环，多线程时每个循环节点独享一个 goroutine 池。
  - parallel：基于 errgroup 的并行分支，可选后台分支。
  - callPlan：通过选择器解析被引用计划，沿路径检测循环引用。
  - sleep：可被中断的等待。

# 中断

Abort 中断执行的根线程；执行结束时，匹配已注册类型或模式的
残留线程将被中断。
*/
package engine
