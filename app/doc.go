// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 app 提供进程内插件宿主：插件注册与依赖解析、生命周期状态机、
以及基于 quit handle 的协调关闭。

# 概述

App 是显式构造的上下文对象，持有插件注册表、消息总线
（channel.Channels）、任务运行时（task.Runtime）和 quit 信号。
插件通过 Descriptor 声明名称与构造函数，构造函数接收 *App，
返回的实例通过 Requires 声明依赖。

# 生命周期

每个插件依次经过 Registered → Initialized → Started → Stopped。
状态转换只能从紧邻的前一状态发生，其余调用静默返回，因此
Initialize/Startup/Shutdown 可以被多个依赖方重复调用。

  - Register：先占位再构造，随后递归注册依赖，最后做环检测，
    失败时回滚本次调用新增的所有记录。
  - Initialize / Startup：先处理依赖，再调用插件自身钩子。
    Startup 完成后插件名追加到运行列表。
  - Shutdown：只调用自身钩子，不递归。

# 关闭

App.Shutdown 先置 quit 标志，等待所有 QuitHandle 释放，再按启动
顺序的逆序关闭插件。App.Execute 阻塞等待 SIGINT/SIGTERM、ctx
结束或 Quit，然后执行 Shutdown。

# 类型化访问

RunWith 与 With 在持有目标插件锁的情况下对其具体类型执行操作，
类型不匹配时返回 ErrPluginType。
*/
package app
