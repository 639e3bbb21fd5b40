// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 metrics 提供基于 Prometheus 的运行时指标采集能力，覆盖插件生命周期、
关闭协调、消息总线、任务运行时与 HTTP 五个维度。

# 概述

Collector 通过 promauto.With 注册到调用方给定的 Registerer，
未指定时使用默认 Registry。所有指标按 namespace 隔离。

# 核心类型

  - Collector：指标收集器，同时实现 channel.Observer 与
    task.Observer，可直接挂接到消息总线和任务运行时。

# 主要能力

  - 插件指标：状态转换计数、hook 耗时与失败计数、运行中插件数。
  - 关闭指标：未释放 quit handle 数量、关闭耗时。
  - 总线指标：按 topic 统计发布数与滞后丢弃数。
  - 任务指标：按 kind/outcome 统计完成数与耗时。
  - HTTP 指标：请求总数与耗时，状态码归类为 2xx/3xx/4xx/5xx。
*/
package metrics
