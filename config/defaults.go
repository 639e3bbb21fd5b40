// =============================================================================
// 📦 appbase 默认配置
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		App:       DefaultAppConfig(),
		Log:       DefaultLogConfig(),
		Runtime:   DefaultRuntimeConfig(),
		Channel:   DefaultChannelConfig(),
		Shutdown:  DefaultShutdownConfig(),
		HTTP:      DefaultHTTPConfig(),
		Metrics:   DefaultMetricsConfig(),
		Telemetry: DefaultTelemetryConfig(),
	}
}

// DefaultAppConfig 返回默认应用配置
func DefaultAppConfig() AppConfig {
	return AppConfig{
		Name: "appbase",
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultRuntimeConfig 返回默认任务运行时配置
func DefaultRuntimeConfig() RuntimeConfig {
	return RuntimeConfig{
		WorkerThreads:   0,
		BlockingThreads: 512,
	}
}

// DefaultChannelConfig 返回默认消息总线配置
func DefaultChannelConfig() ChannelConfig {
	return ChannelConfig{
		Capacity: 32,
	}
}

// DefaultShutdownConfig 返回默认关闭配置
func DefaultShutdownConfig() ShutdownConfig {
	return ShutdownConfig{
		Timeout:      0,
		WarnInterval: 5 * time.Second,
	}
}

// DefaultHTTPConfig 返回默认 HTTP 配置
func DefaultHTTPConfig() HTTPConfig {
	return HTTPConfig{
		Addr:            "127.0.0.1:8080",
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 15 * time.Second,
	}
}

// DefaultMetricsConfig 返回默认指标配置
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Enabled:   true,
		Namespace: "appbase",
		Path:      "/metrics",
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "appbase",
		SampleRate:   0.1,
	}
}
