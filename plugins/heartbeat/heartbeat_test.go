package heartbeat

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/BaSui01/appbase/app"
	"github.com/BaSui01/appbase/config"
	"github.com/BaSui01/appbase/plugins/httpserver"
	"github.com/BaSui01/appbase/plugins/jsonrpc"
	"github.com/BaSui01/appbase/testutil"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newApp(t *testing.T, args ...string) *app.App {
	t.Helper()
	o := config.NewOptions("heartbeat-test")
	a := app.New(app.WithOptions(o), app.WithMetrics(prometheus.NewRegistry()))
	require.NoError(t, a.Register(Descriptor()))
	base := []string{"--config-dir", t.TempDir(), "--http-addr", "127.0.0.1:0", "--plugin", Name}
	require.NoError(t, o.Parse(append(base, args...)))
	return a
}

func TestHeartbeat_PublishesAlive(t *testing.T) {
	a := newApp(t, "--heartbeat-interval", "10ms")
	ctx := testutil.TestContextWithTimeout(t, 5*time.Second)

	rx := a.Channels().Subscribe(Topic)
	defer rx.Close()

	require.NoError(t, a.Init(ctx))
	require.NoError(t, a.Startup(ctx))

	for range 3 {
		msg, err := rx.Recv(ctx)
		require.NoError(t, err)
		assert.Equal(t, MsgAlive, msg)
	}

	require.NoError(t, a.Shutdown(ctx))
	s, _ := a.State(Name)
	assert.Equal(t, app.StateStopped, s)
}

func TestHeartbeat_Bounce(t *testing.T) {
	a := newApp(t, "--heartbeat-interval", "1h")
	ctx := testutil.TestContextWithTimeout(t, 5*time.Second)

	rx := a.Channels().Subscribe(Topic)
	defer rx.Close()

	require.NoError(t, a.Init(ctx))
	require.NoError(t, a.Startup(ctx))
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })

	addr, err := httpserver.Addr(a)
	require.NoError(t, err)
	resp, err := http.Post("http://"+addr+jsonrpc.Path, "application/json",
		strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"bounce"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	msg, err := rx.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, MsgBounce, msg)
}

func TestHeartbeat_ShutdownReleasesHandle(t *testing.T) {
	a := newApp(t, "--heartbeat-interval", "1h")
	ctx := testutil.TestContextWithTimeout(t, 5*time.Second)
	require.NoError(t, a.Init(ctx))
	require.NoError(t, a.Startup(ctx))

	// the pending beat holds a handle until quit
	assert.NoError(t, a.Shutdown(ctx))
}

func TestHeartbeat_InvalidInterval(t *testing.T) {
	for _, v := range []string{"soon", "-1s"} {
		a := newApp(t, "--heartbeat-interval", v)
		assert.Error(t, a.Init(context.Background()), v)
	}
}

func TestHeartbeat_RequiresJSONRPC(t *testing.T) {
	a := newApp(t)
	deps, ok := a.Registry().Requires(Name)
	require.True(t, ok)
	assert.Equal(t, []string{jsonrpc.Name}, deps)
}
