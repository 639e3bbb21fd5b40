package main

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/BaSui01/appbase/app"
	"github.com/BaSui01/appbase/plugins/heartbeat"
	"github.com/BaSui01/appbase/plugins/httpserver"
	"github.com/BaSui01/appbase/plugins/jsonrpc"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlugins_RegisterCleanly(t *testing.T) {
	a := app.New()
	for _, d := range plugins() {
		require.NoError(t, a.Register(d), d.Name)
	}
	assert.ElementsMatch(t,
		[]string{"httpserver", "jsonrpc", "heartbeat", "monitor", "metrics", "wsbridge"},
		a.Registry().Names())

	deps, ok := a.Registry().Requires(heartbeat.Name)
	require.True(t, ok)
	assert.Equal(t, []string{jsonrpc.Name}, deps)
	deps, _ = a.Registry().Requires(jsonrpc.Name)
	assert.Equal(t, []string{httpserver.Name}, deps)
}

func TestRun_ExitCodes(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name string
		args []string
		want int
	}{
		{"help", []string{"-h"}, 0},
		{"unknown flag", []string{"--no-such-flag"}, 2},
		{"unknown plugin", []string{"--plugin", "nope"}, 1},
		{"nothing selected", nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"--config-dir", dir}, tt.args...)
			assert.Equal(t, tt.want, run(args, prometheus.NewRegistry()))
		})
	}
}

func TestRun_InvalidConfig(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte("[log]\nlevel = \"loud\"\n"), 0o644))
	assert.Equal(t, 1, run([]string{"--config-dir", dir}, prometheus.NewRegistry()))
}

func TestApplyWorkerThreads(t *testing.T) {
	before := runtime.GOMAXPROCS(0)
	t.Cleanup(func() { runtime.GOMAXPROCS(before) })

	assert.Equal(t, before, applyWorkerThreads(0))
	assert.Equal(t, 1, applyWorkerThreads(1))
	assert.Equal(t, 1, runtime.GOMAXPROCS(0))
}
