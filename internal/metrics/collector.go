// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器
type Collector struct {
	// 插件生命周期指标
	pluginTransitions  *prometheus.CounterVec
	pluginHookDuration *prometheus.HistogramVec
	pluginHookErrors   *prometheus.CounterVec
	pluginsRunning     prometheus.Gauge

	// 关闭协调指标
	quitHandles      prometheus.Gauge
	shutdownDuration prometheus.Histogram

	// 消息总线指标
	channelPublished *prometheus.CounterVec
	channelLagged    *prometheus.CounterVec

	// 任务运行时指标
	tasksFinished *prometheus.CounterVec
	taskDuration  *prometheus.HistogramVec

	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	logger *zap.Logger
}

// NewCollector registers the collector's metrics with reg under namespace.
// A nil reg registers with the default Prometheus registry.
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// 插件生命周期指标
	c.pluginTransitions = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "plugin_transitions_total",
			Help:      "Total number of plugin lifecycle transitions",
		},
		[]string{"plugin", "state"},
	)

	c.pluginHookDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "plugin_hook_duration_seconds",
			Help:      "Plugin lifecycle hook duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		},
		[]string{"plugin", "phase"},
	)

	c.pluginHookErrors = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "plugin_hook_errors_total",
			Help:      "Total number of failed plugin lifecycle hooks",
		},
		[]string{"plugin", "phase"},
	)

	c.pluginsRunning = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "plugins_running",
			Help:      "Number of plugins in the started state",
		},
	)

	// 关闭协调指标
	c.quitHandles = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "quit_handles_outstanding",
			Help:      "Number of quit handles not yet released",
		},
	)

	c.shutdownDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "shutdown_duration_seconds",
			Help:      "Time spent in application shutdown",
			Buckets:   prometheus.DefBuckets,
		},
	)

	// 消息总线指标
	c.channelPublished = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "channel_messages_published_total",
			Help:      "Total number of messages published per topic",
		},
		[]string{"topic"},
	)

	c.channelLagged = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "channel_messages_lagged_total",
			Help:      "Total number of messages skipped by lagging receivers",
		},
		[]string{"topic"},
	)

	// 任务运行时指标
	c.tasksFinished = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_finished_total",
			Help:      "Total number of finished runtime tasks",
		},
		[]string{"kind", "outcome"},
	)

	c.taskDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Runtime task duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	// HTTP 指标
	c.httpRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.logger.Debug("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🔌 插件指标记录
// =============================================================================

// RecordTransition 记录插件状态转换
func (c *Collector) RecordTransition(plugin, state string) {
	c.pluginTransitions.WithLabelValues(plugin, state).Inc()
	switch state {
	case "started":
		c.pluginsRunning.Inc()
	case "stopped":
		c.pluginsRunning.Dec()
	}
}

// RecordHook 记录插件 hook 执行
func (c *Collector) RecordHook(plugin, phase string, duration time.Duration, err error) {
	c.pluginHookDuration.WithLabelValues(plugin, phase).Observe(duration.Seconds())
	if err != nil {
		c.pluginHookErrors.WithLabelValues(plugin, phase).Inc()
	}
}

// SetQuitHandles 记录未释放的 quit handle 数量
func (c *Collector) SetQuitHandles(n int) {
	c.quitHandles.Set(float64(n))
}

// RecordShutdown 记录关闭耗时
func (c *Collector) RecordShutdown(duration time.Duration) {
	c.shutdownDuration.Observe(duration.Seconds())
}

// =============================================================================
// 📨 消息总线指标记录
// =============================================================================

// ObservePublish implements channel.Observer.
func (c *Collector) ObservePublish(topic string, _ int) {
	c.channelPublished.WithLabelValues(topic).Inc()
}

// ObserveLag implements channel.Observer.
func (c *Collector) ObserveLag(topic string, skipped uint64) {
	c.channelLagged.WithLabelValues(topic).Add(float64(skipped))
}

// =============================================================================
// ⚙️ 任务指标记录
// =============================================================================

// ObserveTask implements task.Observer.
func (c *Collector) ObserveTask(kind, outcome string, elapsed time.Duration) {
	c.tasksFinished.WithLabelValues(kind, outcome).Inc()
	c.taskDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
}

// =============================================================================
// 🎯 HTTP 指标记录
// =============================================================================

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// statusCode 将 HTTP 状态码转换为字符串
func statusCode(code int) string {
	switch {
	case code >= 100 && code < 600:
		return strconv.Itoa(code/100) + "xx"
	default:
		return "unknown"
	}
}
