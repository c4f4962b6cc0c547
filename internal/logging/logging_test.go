package logging

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"ERROR", slog.LevelError},
		{"bogus", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, parseLevel(tt.in))
		})
	}
}

func TestSetup_FileLogging(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "check.log")

	cfg := Config{Level: "debug", FilePath: path, WriteToStderr: false}
	logger, cleanup, err := Setup(cfg)
	require.NoError(t, err)
	require.NotNil(t, logger)

	logger.Debug("resolved library", slog.String("path", "/usr/lib/libc.so.6"))
	cleanup()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "resolved library")
	// File output is JSON.
	assert.Contains(t, string(data), `"msg"`)
}

func TestSetup_BadFilePath(t *testing.T) {
	cfg := Config{Level: "info", FilePath: filepath.Join(t.TempDir(), "missing", "x.log")}
	_, _, err := Setup(cfg)
	assert.Error(t, err)
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "warn", cfg.Level)
	assert.True(t, cfg.WriteToStderr)
	assert.Empty(t, cfg.FilePath)

	dbg := DebugConfig()
	assert.Equal(t, "debug", dbg.Level)
}
