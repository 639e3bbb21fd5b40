// Package config 提供 appbase 的配置管理功能。
//
// Two views over the same config directory are offered. Config is the typed
// process configuration loaded by Loader (defaults, then config.toml or
// config.yaml, then APPBASE_* environment variables). Options is the
// command-line-first lookup used by plugins: each plugin declares its flags
// under a "group.name" key and reads them back after App.Init, falling back
// to the environment and to the [group] table of the config file.
package config
