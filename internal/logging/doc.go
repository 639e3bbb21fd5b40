// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 logging 根据 config.LogConfig 构建进程级 zap.Logger。

# 主要能力

  - 级别解析：debug/info/warn/error，未知值回退到 info。
  - 编码选择：json（生产，ISO8601 时间戳）或 console（开发，彩色级别）。
  - 调用者与堆栈：由 EnableCaller/EnableStacktrace 控制。
  - MustNew 在构建失败时回退到 zap.NewProduction。
*/
package logging
