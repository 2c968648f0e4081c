// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package threads 跟踪执行中的工作线程，提供按报告节点查询与协作式中断。

# 概述

Thread 是执行计划片段的工作单元，携带可取消的 context 与当前操作栈。
Manager 维护两类集合：执行 id 到线程集合，报告节点 id 到线程集合。
子线程关联时会加入父线程当前所在的全部节点集合。集合采用
"首个写入者创建、其余共享同一实例" 的插入语义，不同键互不阻塞。

# 中断

BeforeExecutionEnd 对执行中仍存活、且名称命中 RegisterClass 注册的类别
或名称/操作栈命中 RegisterPattern 正则的线程取消其 context。中断是
协作式的：不检查 context 的工作会继续运行。
*/
package threads
