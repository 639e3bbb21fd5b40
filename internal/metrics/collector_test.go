package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func newTestCollector(t *testing.T) *Collector {
	t.Helper()
	return NewCollector("test", prometheus.NewRegistry(), zap.NewNop())
}

// =============================================================================
// 🧪 Collector 测试
// =============================================================================

func TestNewCollector(t *testing.T) {
	c := newTestCollector(t)

	assert.NotNil(t, c.pluginTransitions)
	assert.NotNil(t, c.pluginHookDuration)
	assert.NotNil(t, c.channelPublished)
	assert.NotNil(t, c.tasksFinished)
	assert.NotNil(t, c.httpRequestsTotal)
}

func TestNewCollector_DuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewCollector("dup", reg, nil)
	assert.Panics(t, func() { NewCollector("dup", reg, nil) })
}

func TestCollector_RecordTransition(t *testing.T) {
	c := newTestCollector(t)

	c.RecordTransition("heartbeat", "initialized")
	c.RecordTransition("heartbeat", "started")
	c.RecordTransition("monitor", "started")
	assert.Equal(t, float64(2), testutil.ToFloat64(c.pluginsRunning))

	c.RecordTransition("monitor", "stopped")
	assert.Equal(t, float64(1), testutil.ToFloat64(c.pluginsRunning))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.pluginTransitions.WithLabelValues("heartbeat", "started")))
	assert.Equal(t, 4, testutil.CollectAndCount(c.pluginTransitions))
}

func TestCollector_RecordHook(t *testing.T) {
	c := newTestCollector(t)

	c.RecordHook("jsonrpc", "startup", 10*time.Millisecond, nil)
	c.RecordHook("jsonrpc", "startup", 5*time.Millisecond, errors.New("bind failed"))

	assert.Equal(t, 1, testutil.CollectAndCount(c.pluginHookDuration))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.pluginHookErrors.WithLabelValues("jsonrpc", "startup")))
}

func TestCollector_Shutdown(t *testing.T) {
	c := newTestCollector(t)
	c.SetQuitHandles(3)
	assert.Equal(t, float64(3), testutil.ToFloat64(c.quitHandles))

	c.RecordShutdown(time.Second)
	assert.Equal(t, 1, testutil.CollectAndCount(c.shutdownDuration))
}

func TestCollector_ChannelObserver(t *testing.T) {
	c := newTestCollector(t)

	c.ObservePublish("message", 2)
	c.ObservePublish("message", 0)
	c.ObserveLag("message", 3)

	assert.Equal(t, float64(2), testutil.ToFloat64(c.channelPublished.WithLabelValues("message")))
	assert.Equal(t, float64(3), testutil.ToFloat64(c.channelLagged.WithLabelValues("message")))
}

func TestCollector_TaskObserver(t *testing.T) {
	c := newTestCollector(t)

	c.ObserveTask("async", "ok", time.Millisecond)
	c.ObserveTask("blocking", "panic", time.Millisecond)

	assert.Equal(t, 2, testutil.CollectAndCount(c.tasksFinished))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.tasksFinished.WithLabelValues("blocking", "panic")))
}

func TestCollector_RecordHTTPRequest(t *testing.T) {
	c := newTestCollector(t)

	c.RecordHTTPRequest("POST", "/rpc", 200, 100*time.Millisecond)
	c.RecordHTTPRequest("POST", "/rpc", 429, 50*time.Millisecond)

	assert.Equal(t, float64(1), testutil.ToFloat64(c.httpRequestsTotal.WithLabelValues("POST", "/rpc", "2xx")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.httpRequestsTotal.WithLabelValues("POST", "/rpc", "4xx")))
}

func TestStatusCode(t *testing.T) {
	tests := []struct {
		code     int
		expected string
	}{
		{200, "2xx"},
		{201, "2xx"},
		{301, "3xx"},
		{404, "4xx"},
		{500, "5xx"},
		{503, "5xx"},
		{0, "unknown"},
		{700, "unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, statusCode(tt.code))
	}
}
