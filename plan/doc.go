// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package plan 定义计划与制品（artefact）模型以及计划查找。

# 概述

Plan 是静态编写的制品树。每个 Artefact 带有类型、属性（字面量或动态表达式）
以及 before / children / after 三组子节点。callPlan 类型的制品是间接引用，
通过 Selector 文档指向另一个计划。

# 核心类型

  - Artefact       — 计划树节点，Clone / Snapshot / Walk / DynamicFields
  - Plan           — 计划定义，Validate 为缺省 ID 的节点按位置分配稳定 ID
  - Accessor       — 计划查找契约，Get / Select
  - MemoryAccessor — 内存实现，按注册顺序匹配
  - LoadFile / LoadDir — 从 YAML 或 JSON 文件加载计划
*/
package plan
