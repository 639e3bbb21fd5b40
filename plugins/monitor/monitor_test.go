package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/BaSui01/appbase/app"
	"github.com/BaSui01/appbase/config"
	"github.com/BaSui01/appbase/plugins/heartbeat"
	"github.com/BaSui01/appbase/plugins/httpserver"
	"github.com/BaSui01/appbase/plugins/jsonrpc"
	"github.com/BaSui01/appbase/testutil"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newApp(t *testing.T, opts []app.Option, args ...string) *app.App {
	t.Helper()
	o := config.NewOptions("monitor-test")
	a := app.New(append([]app.Option{app.WithOptions(o), app.WithMetrics(prometheus.NewRegistry())}, opts...)...)
	require.NoError(t, a.Register(Descriptor()))
	base := []string{"--config-dir", t.TempDir(), "--http-addr", "127.0.0.1:0", "--plugin", Name, "--monitor-poll", "5ms"}
	require.NoError(t, o.Parse(append(base, args...)))
	return a
}

func monitor(t *testing.T, a *app.App) *Plugin {
	t.Helper()
	p, err := app.RunWith(a, Name, func(p *Plugin) *Plugin { return p })
	require.NoError(t, err)
	return p
}

func TestMonitor_LogsHeartbeats(t *testing.T) {
	a := newApp(t, nil, "--heartbeat-interval", "10ms")
	ctx := testutil.TestContextWithTimeout(t, 5*time.Second)
	require.NoError(t, a.Init(ctx))
	require.NoError(t, a.Startup(ctx))

	m := monitor(t, a)
	testutil.AssertEventuallyTrue(t, func() bool { return m.Received() >= 2 }, 2*time.Second)
	assert.Equal(t, heartbeat.MsgAlive, m.Last())

	require.NoError(t, a.Shutdown(ctx))
	assert.Equal(t, []string{httpserver.Name, jsonrpc.Name, heartbeat.Name, Name}, a.Registry().Running())
}

func TestMonitor_ReportsLag(t *testing.T) {
	a := newApp(t, []app.Option{app.WithChannelCapacity(2)}, "--heartbeat-interval", "1h")
	ctx := testutil.TestContextWithTimeout(t, 5*time.Second)
	require.NoError(t, a.Init(ctx))

	tx := a.Channels().Get(heartbeat.Topic)
	for i := range 5 {
		tx.Send(i)
	}
	require.NoError(t, a.Startup(ctx))
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })

	m := monitor(t, a)
	testutil.AssertEventuallyTrue(t, func() bool { return m.Received() == 2 }, 2*time.Second)
	assert.Equal(t, uint64(3), m.Skipped())
	assert.Equal(t, "4", m.Last())
}

func TestMonitor_StopsOnQuit(t *testing.T) {
	a := newApp(t, nil, "--heartbeat-interval", "1h")
	ctx := testutil.TestContextWithTimeout(t, 5*time.Second)
	require.NoError(t, a.Init(ctx))
	require.NoError(t, a.Startup(ctx))

	a.Quit()
	require.NoError(t, a.Shutdown(ctx))
	s, _ := a.State(Name)
	assert.Equal(t, app.StateStopped, s)
}

func TestMonitor_InvalidPoll(t *testing.T) {
	a := newApp(t, nil, "--monitor-poll", "0s")
	assert.Error(t, a.Init(context.Background()))
}
