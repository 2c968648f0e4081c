// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package execution 提供执行上下文注册表与执行记录。

# 概述

每次计划执行都运行在一个 Context 中。Context 是一个开放的类型化键值
注册表：键可以是字符串、类型化 Key[T]，也可以是类型标签（按 Go 类型
注册）。上下文只在创建时从父上下文继承（拷贝或一次性计算），不做实时委托。

# 核心类型

  - Context   — 属性注册表，Get / Put / Require / ComputeIfAbsent /
    InheritFromParentOrComputeIfAbsent / Close
  - Key[T]    — 类型化字符串键
  - Execution — 单次执行记录（计划、解析计划根节点、状态、参数、时间）

# 生命周期

Close 按注册逆序释放所有自有的可释放值（io.Closer 或 Close()）。
单个值释放失败只记录日志，不阻塞其余值释放，也不向上传播。
从父上下文继承的值归父上下文所有，不会被子上下文释放。
*/
package execution
