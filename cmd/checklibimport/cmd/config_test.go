package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cklutz/CheckLibraryImport/internal/config"
)

func TestConfigInit_WritesProjectConfig(t *testing.T) {
	dir := t.TempDir()

	buf, err := newTestRoot(t, "config", "init", dir)

	require.NoError(t, err)
	assert.Contains(t, buf.String(), "created")

	path := filepath.Join(dir, ".checklibimport.yaml")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "check:")
	assert.Contains(t, string(data), "max_file_size_mb:")

	// The generated file round-trips through the loader.
	cfg, err := config.LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.Version)
}

func TestConfigInit_RefusesToOverwrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".checklibimport.yaml")
	require.NoError(t, os.WriteFile(path, []byte("version: 1\n"), 0o644))

	_, err := newTestRoot(t, "config", "init", dir)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
}

func TestConfigInit_ForceOverwrites(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".checklibimport.yaml")
	require.NoError(t, os.WriteFile(path, []byte("bogus"), 0o644))

	_, err := newTestRoot(t, "config", "init", "--force", dir)

	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "check:")
}

func TestConfigShow_RendersEffectiveConfig(t *testing.T) {
	buf, err := newTestRoot(t, "config", "show")

	require.NoError(t, err)
	assert.Contains(t, buf.String(), "version:")
	assert.Contains(t, buf.String(), "workers:")
}

func TestConfigPath_PrintsUserConfigPath(t *testing.T) {
	buf, err := newTestRoot(t, "config", "path")

	require.NoError(t, err)
	assert.Contains(t, buf.String(), filepath.Join("checklibimport", "config.yaml"))
}
