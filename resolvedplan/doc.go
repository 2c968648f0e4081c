// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package resolvedplan 维护执行范围内、去除间接引用后的计划镜像树。

# 概述

每个执行过的制品对应一个解析节点（Node）：保存去掉子列表的制品快照、
父节点指针、在父节点中的来源（main、before、after、sub_plan）与位置。
ArtefactHash 由父节点哈希与自身制品 id 派生，因此循环的每次迭代
得到相同的哈希，可用于聚合；经由 callPlan 引用进入的节点使用额外的
跳转分隔符，与内联使用区分。

# 核心类型

  - Store：按 id 存取，按父 id 与执行 id 建立非唯一索引。
    提供内存、Redis、GORM（sqlite/postgres/mysql）与 MongoDB 实现，
    NewStore 按配置选择后端。
  - Builder：BuildResolvedPlan 急切地递归构建整棵树（用于预览），
    Attach 在执行过程中增量挂载节点，使树与实际执行结构一致。
    间接引用沿路径记录已访问计划 id，重复进入时返回 PlanCycle。
  - CachedAccessor：构造时为旧记录一次性回填 executionId，随后把整个
    执行的节点预加载到按位置排序的父 id 索引中；根节点始终直接读取存储。
  - Aggregate / AggregateTree：按哈希对兄弟节点分组并附带报告状态计数。
*/
package resolvedplan
