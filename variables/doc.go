// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package variables 提供按报告节点划分作用域的层级变量存储。

# 概述

每个报告节点拥有自己的作用域（nodeId -> key -> Variable）。查找沿节点缓存
向上遍历祖先链，最近的作用域优先。节点结束时必须调用 ReleaseVariables
释放其作用域，否则作用域映射会无限增长。已释放的作用域不会被重新创建，
之后的写入返回 RELEASED_SCOPE；祖先链断裂返回 INTERNAL_ERROR。

# 核心操作

  - PutVariable              — 在节点自身作用域声明变量（NORMAL 或 IMMUTABLE）
  - GetVariable              — 可选递归的最近作用域查找
  - UpdateVariable           — 更新最近定义该键的作用域，不可变变量报 ImmutableVariable，
    未定义报 UndefinedVariable
  - SetVariableWithFallback  — 更新失败于未定义时回退到在当前节点声明
  - GetAllVariables / GetAllVariablesForKey / GetFirstVariableMatching — 聚合查询
  - RemoveVariable / ReleaseVariables — 作用域清理
  - NearestLiveScope         — 最近的未释放作用域

# 并发

顶层注册表与每个作用域都使用 sync.Map；作用域通过 LoadOrStore 创建，
先写者创建，其余共享同一实例。更新使用 CompareAndSwap 替换变量指针。
兄弟子树之间没有顺序保证，跨分支共享请使用祖先作用域。
*/
package variables
