// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package main 提供 appbase 示例程序入口。

# 概述

cmd/appbase 注册全部示例插件（httpserver、jsonrpc、heartbeat、monitor、
metrics、wsbridge），由 --plugin 选择要初始化的插件，依赖会被自动带起。
进程收到 SIGINT/SIGTERM 后按启动的逆序关闭插件。

# 主要能力

  - 配置：--config-dir 下的 config.toml / config.yaml，APPBASE_* 环境变量覆盖
  - 日志：zap，级别与格式取自 [log]
  - 追踪：[telemetry] 开启时通过 OTLP gRPC 导出
  - 指标：注册到 Prometheus 默认注册表，metrics 插件在 /metrics 暴露
  - 子命令：version、health
*/
package main
