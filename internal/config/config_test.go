package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cklutz/CheckLibraryImport/internal/errors"
)

func TestNewConfig_Defaults(t *testing.T) {
	cfg := NewConfig()

	assert.Equal(t, 1, cfg.Version)
	assert.Positive(t, cfg.Check.Workers)
	assert.False(t, cfg.Check.NoWarn)
	assert.Equal(t, 256, cfg.Check.MaxFileSizeMB)
	assert.Contains(t, cfg.Check.Exclude, "*.resources.dll")
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_NoConfigFileUsesDefaults(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, NewConfig().Check.Workers, cfg.Check.Workers)
}

func TestLoad_ProjectConfigMergesOverDefaults(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	dir := t.TempDir()
	content := `
version: 1
check:
  search_dirs:
    - /opt/native/lib
  exclude:
    - "*.Designer.dll"
  workers: 3
  nowarn: true
  resident:
    - kernel32.dll
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".checklibimport.yaml"), []byte(content), 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, []string{"/opt/native/lib"}, cfg.Check.SearchDirs)
	assert.Equal(t, 3, cfg.Check.Workers)
	assert.True(t, cfg.Check.NoWarn)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, []string{"kernel32.dll"}, cfg.Check.Resident)
	// Exclude patterns accumulate on top of the defaults.
	assert.Contains(t, cfg.Check.Exclude, "*.resources.dll")
	assert.Contains(t, cfg.Check.Exclude, "*.Designer.dll")
}

func TestLoad_UserConfigLowerPrecedenceThanProject(t *testing.T) {
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)
	userDir := filepath.Join(xdg, "checklibimport")
	require.NoError(t, os.MkdirAll(userDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(userDir, "config.yaml"),
		[]byte("check:\n  workers: 2\nlog:\n  level: info\n"), 0o644))

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".checklibimport.yaml"),
		[]byte("check:\n  workers: 7\n"), 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.Check.Workers)
	assert.Equal(t, "info", cfg.Log.Level) // untouched by project config
}

func TestLoad_EnvOverridesWin(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("CHECKLIBIMPORT_WORKERS", "5")
	t.Setenv("CHECKLIBIMPORT_NOWARN", "1")
	t.Setenv("CHECKLIBIMPORT_LOG_LEVEL", "error")

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".checklibimport.yaml"),
		[]byte("check:\n  workers: 2\n"), 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Check.Workers)
	assert.True(t, cfg.Check.NoWarn)
	assert.Equal(t, "error", cfg.Log.Level)
}

func TestLoad_InvalidYAML(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".checklibimport.yaml"),
		[]byte("check: [not a map"), 0o644))

	_, err := Load(dir)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeConfigInvalid, errors.GetCode(err))
}

func TestLoadFile_MissingFileIsError(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeConfigNotFound, errors.GetCode(err))
}

func TestValidate_RejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"negative workers", func(c *Config) { c.Check.Workers = -1 }},
		{"negative max file size", func(c *Config) { c.Check.MaxFileSizeMB = -1 }},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }},
		{"bad exclude pattern", func(c *Config) { c.Check.Exclude = []string{"[unclosed"} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestWriteYAML_RoundTrip(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cfg := NewConfig()
	cfg.Check.Workers = 9
	cfg.Check.SearchDirs = []string{"/x"}

	dir := t.TempDir()
	path := filepath.Join(dir, ".checklibimport.yaml")
	require.NoError(t, cfg.WriteYAML(path))

	loaded, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 9, loaded.Check.Workers)
	assert.Equal(t, []string{"/x"}, loaded.Check.SearchDirs)
}

func TestMaxFileSize(t *testing.T) {
	cfg := NewConfig()
	cfg.Check.MaxFileSizeMB = 2
	assert.Equal(t, int64(2*1024*1024), cfg.MaxFileSize())
}
