// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package types 提供 PlanFlow 框架的全局共享类型定义。

# 概述

types 是框架最底层的公共包，不依赖任何内部包，为 execution、dynamic、
variables、resolvedplan、threads、engine 等上层模块提供统一的错误契约。

# 核心类型

  - Error / ErrorCode — 结构化错误体系，含 Key 与 Cause
  - MissingDependency / UndefinedVariable / ImmutableVariable / EvaluationError
    — 常用错误构造

# 主要能力

  - 错误工具链：GetErrorCode / IsCode（基于 errors.As，沿 Cause 链查找）
*/
package types
