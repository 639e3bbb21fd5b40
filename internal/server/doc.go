// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 server 提供 HTTP 服务器生命周期管理与通用中间件，
供 httpserver 等插件在 Startup/Shutdown 钩子中使用。

# 核心类型

  - Manager：封装 net/http.Server 与 net.Listener，提供
    Start/Shutdown/Errors/Addr/IsRunning。Start 同步绑定端口，
    在后台 goroutine 中提供服务。
  - Config：监听地址、读写超时、空闲超时、最大请求头大小与
    优雅关闭超时，可由 config.HTTPConfig 转换。
  - Middleware：http.Handler 装饰器，Chain 负责串联。

# 中间件

  - Recovery：panic 恢复并返回 500。
  - RequestID：注入或透传 X-Request-ID。
  - RequestLogger：记录方法、路径、状态码与耗时。
  - Metrics：通过 HTTPRecorder 记录请求指标，路径做基数归一化。
  - OTelTracing：为每个请求创建 server span。
  - RateLimiter：基于 IP 的令牌桶限流。

信号处理不在本包内，由 app.App.Execute 统一负责。
*/
package server
