// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package testutil 提供 PlanFlow 测试的共享工具和辅助函数。

# 概述

testutil 包为各包的单元测试提供统一的辅助能力，避免重复实现
相似的测试基础设施。

# 核心能力

  - 上下文辅助: TestContext / TestContextWithTimeout / CancelledContext，
    自动注册 Cleanup 防止泄漏
  - 断言工具: AssertErrorCode / AssertJSONEqual
  - 异步断言: AssertEventuallyTrue / AssertEventuallyEqual，
    支持超时轮询等待条件满足
  - 等待工具: WaitFor / WaitForChannel
  - 数据工具: MustJSON / MustParseJSON

# 使用示例

	ctx := testutil.TestContext(t)
	_, err := manager.GetVariableAsInt(nodeID, "missing")
	testutil.AssertErrorCode(t, err, types.ErrUndefinedVariable)
*/
package testutil
