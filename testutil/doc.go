// Copyright 2026 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.

/*
Package testutil 提供 appbase 测试共享的辅助函数。

# 核心能力

  - 上下文辅助: TestContext / TestContextWithTimeout / CancelledContext，
    自动注册 Cleanup 防止泄漏
  - 事件记录: Recorder 以并发安全的方式记录 hook 调用顺序
  - 异步断言: AssertEventuallyTrue / AssertEventuallyEqual / WaitFor /
    WaitForChannel / WaitClosed
  - 数据工具: AssertJSONEqual / MustJSON / MustParseJSON

# 使用示例

	ctx := testutil.TestContext(t)
	rec := testutil.NewRecorder()
	require.NoError(t, a.Startup(ctx))
	assert.Equal(t, []string{"b:start", "a:start"}, rec.Events())
*/
package testutil
