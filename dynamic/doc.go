// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package dynamic 提供动态值与两类解析器。

# 概述

动态值要么是字面量，要么是表达式加语言标识。表达式最多求值一次，
结果或失败都会被缓存，之后的读取不会重新求值，即使传入不同的绑定。

# 核心类型

  - Value[T]          — 惰性动态值，Evaluate / Get / Clone，JSON 与 YAML 编解码
  - Evaluator         — 外部表达式求值器契约
  - Evaluators        — 按语言分派的求值器注册表
  - ExprEvaluator     — 基于 expr-lang/expr 的默认求值器，带编译缓存
  - FieldResolver     — 对象图解析器，遍历 HasDynamicFields 能力接口
  - Node / Document   — 有序文档树（Null | Bool | Int | String | Object | Array | Dynamic）
  - DocumentResolver  — 文档树解析器

# 失败策略

FieldResolver 将失败缓存在对应的值上，继续遍历，最后以 errors.Join 返回全部
EvaluationError；null 结果保持为 null。

DocumentResolver 从不中断遍历：失败节点被替换为回退值（默认空字符串）并记录
警告；null 结果序列化为空字符串。两个解析器因此在 null 上语义不同。
*/
package dynamic
