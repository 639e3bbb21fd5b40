package metrics

import (
	"context"
	"io"
	"net/http"
	"testing"

	"github.com/BaSui01/appbase/app"
	"github.com/BaSui01/appbase/config"
	"github.com/BaSui01/appbase/plugins/httpserver"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Scrape(t *testing.T) {
	o := config.NewOptions("metrics-test")
	a := app.New(app.WithOptions(o), app.WithMetrics(prometheus.NewRegistry()))
	require.NoError(t, a.Register(Descriptor()))
	require.NoError(t, o.Parse([]string{"--config-dir", t.TempDir(), "--http-addr", "127.0.0.1:0", "--plugin", Name}))

	ctx := context.Background()
	require.NoError(t, a.Init(ctx))
	require.NoError(t, a.Startup(ctx))
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })

	a.Channels().Get("scrape").Send("x")

	addr, err := httpserver.Addr(a)
	require.NoError(t, err)
	resp, err := http.Get("http://" + addr + Path)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "appbase_plugin_transitions_total")
	assert.Contains(t, string(body), `appbase_channel_messages_published_total{topic="scrape"} 1`)
}

func TestMetrics_PostNotAllowed(t *testing.T) {
	o := config.NewOptions("metrics-test")
	a := app.New(app.WithOptions(o), app.WithMetrics(prometheus.NewRegistry()))
	require.NoError(t, a.Register(Descriptor()))
	require.NoError(t, o.Parse([]string{"--config-dir", t.TempDir(), "--http-addr", "127.0.0.1:0", "--plugin", Name}))

	ctx := context.Background()
	require.NoError(t, a.Init(ctx))
	require.NoError(t, a.Startup(ctx))
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })

	addr, err := httpserver.Addr(a)
	require.NoError(t, err)
	resp, err := http.Post("http://"+addr+Path, "text/plain", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
