// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package main 提供 PlanFlow 命令行入口。

# 概述

cmd/planflow 加载 YAML 配置与计划文件，按配置创建解析计划存储
（memory / redis / gorm / mongo），并通过 engine 执行或预览计划。

# 子命令

  - run：执行计划并输出报告树，非 passed 状态以退出码 1 结束
  - resolve：静态构建解析计划树并输出，不执行任何节点
  - version：显示构建注入的版本信息
*/
package main
