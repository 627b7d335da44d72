package logger_test

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/alkime/voiceprint/internal/config"
	"github.com/alkime/voiceprint/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevel(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.Config
		want slog.Level
	}{
		{"development defaults to debug", config.Config{Env: "development", LogLevel: "info"}, slog.LevelDebug},
		{"production info", config.Config{Env: "production", LogLevel: "info"}, slog.LevelInfo},
		{"explicit debug", config.Config{Env: "production", LogLevel: "debug"}, slog.LevelDebug},
		{"warn", config.Config{Env: "production", LogLevel: "warn"}, slog.LevelWarn},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, logger.Level(&tt.cfg))
		})
	}
}

func TestSetupTextLogger(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	log := logger.SetupTextLogger(&config.Config{Env: "production", LogLevel: "info"}, &buf)

	log.Debug("hidden")
	log.Info("shown", "phase", "Idle")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "phase=Idle")
}

func TestOpenLogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "voiceprint.log")

	f, err := logger.OpenLogFile(path)
	require.NoError(t, err)
	_, err = f.WriteString("line\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "line\n", string(data))
}
