package wsbridge

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/BaSui01/appbase/app"
	"github.com/BaSui01/appbase/config"
	"github.com/BaSui01/appbase/plugins/httpserver"
	"github.com/BaSui01/appbase/testutil"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startApp(t *testing.T, opts ...app.Option) (*app.App, *Plugin, string) {
	t.Helper()
	o := config.NewOptions("wsbridge-test")
	a := app.New(append([]app.Option{app.WithOptions(o), app.WithMetrics(prometheus.NewRegistry())}, opts...)...)
	require.NoError(t, a.Register(Descriptor()))
	require.NoError(t, o.Parse([]string{"--config-dir", t.TempDir(), "--http-addr", "127.0.0.1:0", "--plugin", Name}))

	ctx := context.Background()
	require.NoError(t, a.Init(ctx))
	require.NoError(t, a.Startup(ctx))
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })

	p, err := app.RunWith(a, Name, func(p *Plugin) *Plugin { return p })
	require.NoError(t, err)
	addr, err := httpserver.Addr(a)
	require.NoError(t, err)
	return a, p, "ws://" + addr
}

func dial(t *testing.T, ctx context.Context, p *Plugin, url string) *websocket.Conn {
	t.Helper()
	before := p.Connections()
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.CloseNow() })
	testutil.AssertEventuallyTrue(t, func() bool { return p.Connections() > before }, 2*time.Second)
	return conn
}

func TestWSBridge_StreamsTopic(t *testing.T) {
	a, p, base := startApp(t)
	ctx := testutil.TestContextWithTimeout(t, 5*time.Second)

	conn := dial(t, ctx, p, base+"/ws/news")
	a.Channels().Get("news").Send("hello")
	a.Channels().Get("other").Send("ignored")
	a.Channels().Get("news").Send(map[string]int{"n": 1})

	var f Frame
	require.NoError(t, wsjson.Read(ctx, conn, &f))
	assert.Equal(t, Frame{Topic: "news", Message: "hello"}, f)

	f = Frame{}
	require.NoError(t, wsjson.Read(ctx, conn, &f))
	assert.Equal(t, "news", f.Topic)
	assert.Equal(t, map[string]any{"n": float64(1)}, f.Message)
}

func TestWSBridge_ReportsLag(t *testing.T) {
	a, p, base := startApp(t, app.WithChannelCapacity(2))
	ctx := testutil.TestContextWithTimeout(t, 5*time.Second)

	conn := dial(t, ctx, p, base+"/ws/burst")
	for i := range 5 {
		a.Channels().Get("burst").Send(i)
	}

	// the bridge may have read some frames before the burst overflowed
	var lagged uint64
	var last any
	for last != float64(4) {
		var f Frame
		require.NoError(t, wsjson.Read(ctx, conn, &f))
		lagged += f.Lagged
		if f.Lagged == 0 {
			last = f.Message
		}
	}
	assert.LessOrEqual(t, lagged, uint64(3))
}

func TestWSBridge_ClosesOnShutdown(t *testing.T) {
	a, p, base := startApp(t)
	ctx := testutil.TestContextWithTimeout(t, 5*time.Second)

	conn := dial(t, ctx, p, base+"/ws/news")

	// the client must be reading to answer the close handshake
	readErr := make(chan error, 1)
	go func() {
		_, _, err := conn.Read(ctx)
		readErr <- err
	}()
	require.NoError(t, a.Shutdown(ctx))

	err, ok := testutil.WaitForChannel[error](readErr, 2*time.Second)
	require.True(t, ok)
	require.Error(t, err)
	assert.Equal(t, websocket.StatusGoingAway, websocket.CloseStatus(err))
	assert.Zero(t, p.Connections())
}

func TestWSBridge_RejectsWhileQuitting(t *testing.T) {
	a, _, base := startApp(t)
	a.Quit()

	resp, err := http.Get("http" + base[len("ws"):] + "/ws/news")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
