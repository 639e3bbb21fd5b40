package logging

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/appbase/config"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"info", zapcore.InfoLevel},
		{"warn", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
		{"verbose", zapcore.InfoLevel},
		{"", zapcore.InfoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.in))
		})
	}
}

func TestNew_JSON(t *testing.T) {
	cfg := config.DefaultLogConfig()
	cfg.Level = "warn"
	cfg.OutputPaths = []string{filepath.Join(t.TempDir(), "app.log")}

	logger, err := New(cfg)
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, logger.Core().Enabled(zapcore.WarnLevel))
	_ = logger.Sync()
}

func TestNew_Console(t *testing.T) {
	cfg := config.DefaultLogConfig()
	cfg.Format = "console"
	cfg.Level = "debug"
	cfg.OutputPaths = nil

	logger, err := New(cfg)
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))
}

func TestNew_BadOutput(t *testing.T) {
	cfg := config.DefaultLogConfig()
	cfg.OutputPaths = []string{filepath.Join(t.TempDir(), "missing", "dir", "app.log")}

	_, err := New(cfg)
	assert.Error(t, err)
	assert.NotNil(t, MustNew(cfg))
}
