// Package config loads checklibimport configuration from YAML files and
// environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/cklutz/CheckLibraryImport/internal/errors"
)

// Config represents the complete checklibimport configuration.
type Config struct {
	Version int         `yaml:"version"`
	Check   CheckConfig `yaml:"check"`
	Log     LogConfig   `yaml:"log"`
}

// CheckConfig configures how declarations are resolved.
type CheckConfig struct {
	// SearchDirs are extra directories consulted before the platform
	// search order when locating target libraries.
	SearchDirs []string `yaml:"search_dirs"`

	// Exclude holds glob patterns for binaries to skip, matched against
	// the file base name.
	Exclude []string `yaml:"exclude"`

	// Workers is the number of binaries checked concurrently.
	Workers int `yaml:"workers"`

	// NoWarn suppresses warning-level findings.
	NoWarn bool `yaml:"nowarn"`

	// MaxFileSizeMB caps the size of candidate binaries.
	MaxFileSizeMB int `yaml:"max_file_size_mb"`

	// Resident lists the load names of modules treated as always present
	// in a process, overriding the platform defaults.
	// Example: ["kernel32.dll", "ntdll.dll"].
	Resident []string `yaml:"resident"`
}

// LogConfig configures diagnostic logging.
type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// defaultExcludePatterns are always excluded: resource satellites never
// carry interop declarations.
var defaultExcludePatterns = []string{
	"*.resources.dll",
}

// NewConfig creates a new Config with sensible defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Check: CheckConfig{
			SearchDirs:    nil,
			Exclude:       defaultExcludePatterns,
			Workers:       runtime.NumCPU(),
			NoWarn:        false,
			MaxFileSizeMB: 256,
			Resident:      nil,
		},
		Log: LogConfig{
			Level: "warn",
			File:  "",
		},
	}
}

// GetUserConfigPath returns the path to the user/global configuration file,
// following the XDG Base Directory specification.
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "checklibimport", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "checklibimport", "config.yaml")
	}
	return filepath.Join(home, ".config", "checklibimport", "config.yaml")
}

// Load builds the effective configuration, applying sources in order of
// increasing precedence:
//  1. Hardcoded defaults
//  2. User/global config (~/.config/checklibimport/config.yaml)
//  3. Project config (.checklibimport.yaml in dir)
//  4. Environment variables (CHECKLIBIMPORT_*)
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if userPath := GetUserConfigPath(); fileExists(userPath) {
		if err := cfg.loadYAML(userPath); err != nil {
			return nil, err
		}
	}

	if err := cfg.loadFromDir(dir); err != nil {
		return nil, err
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile loads an explicitly named configuration file on top of the
// defaults. Unlike Load, a missing file is an error.
func LoadFile(path string) (*Config, error) {
	if !fileExists(path) {
		return nil, errors.Newf(errors.ErrCodeConfigNotFound, "config file %s not found", path)
	}
	cfg := NewConfig()
	if err := cfg.loadYAML(path); err != nil {
		return nil, err
	}
	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFromDir attempts to load .checklibimport.yaml or .yml from dir.
// No config file is fine; defaults apply.
func (c *Config) loadFromDir(dir string) error {
	for _, name := range []string{".checklibimport.yaml", ".checklibimport.yml"} {
		path := filepath.Join(dir, name)
		if fileExists(path) {
			return c.loadYAML(path)
		}
	}
	return nil
}

// loadYAML loads and merges configuration from a YAML file.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(errors.ErrCodeConfigNotFound, err)
	}

	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return errors.New(errors.ErrCodeConfigInvalid,
			fmt.Sprintf("cannot parse %s: %v", path, err), err)
	}

	c.mergeWith(&parsed)
	return nil
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}

	if len(other.Check.SearchDirs) > 0 {
		c.Check.SearchDirs = other.Check.SearchDirs
	}
	if len(other.Check.Exclude) > 0 {
		// Merge with defaults rather than replace.
		c.Check.Exclude = append(c.Check.Exclude, other.Check.Exclude...)
	}
	if other.Check.Workers != 0 {
		c.Check.Workers = other.Check.Workers
	}
	if other.Check.NoWarn {
		c.Check.NoWarn = true
	}
	if other.Check.MaxFileSizeMB != 0 {
		c.Check.MaxFileSizeMB = other.Check.MaxFileSizeMB
	}
	if len(other.Check.Resident) > 0 {
		c.Check.Resident = other.Check.Resident
	}

	if other.Log.Level != "" {
		c.Log.Level = other.Log.Level
	}
	if other.Log.File != "" {
		c.Log.File = other.Log.File
	}
}

// applyEnvOverrides applies CHECKLIBIMPORT_* environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("CHECKLIBIMPORT_SEARCH_DIRS"); v != "" {
		c.Check.SearchDirs = filepath.SplitList(v)
	}
	if v := os.Getenv("CHECKLIBIMPORT_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Check.Workers = n
		}
	}
	if v := os.Getenv("CHECKLIBIMPORT_NOWARN"); v != "" {
		c.Check.NoWarn = strings.ToLower(v) == "true" || v == "1"
	}
	if v := os.Getenv("CHECKLIBIMPORT_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("CHECKLIBIMPORT_LOG_FILE"); v != "" {
		c.Log.File = v
	}
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	if c.Check.Workers < 0 {
		return errors.Newf(errors.ErrCodeConfigInvalid,
			"check.workers must be non-negative, got %d", c.Check.Workers)
	}
	if c.Check.MaxFileSizeMB < 0 {
		return errors.Newf(errors.ErrCodeConfigInvalid,
			"check.max_file_size_mb must be non-negative, got %d", c.Check.MaxFileSizeMB)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Log.Level)] {
		return errors.Newf(errors.ErrCodeConfigInvalid,
			"log.level must be 'debug', 'info', 'warn', or 'error', got %s", c.Log.Level)
	}

	for _, pattern := range c.Check.Exclude {
		if _, err := filepath.Match(pattern, "probe"); err != nil {
			return errors.Newf(errors.ErrCodeConfigInvalid,
				"check.exclude pattern %q is invalid", pattern)
		}
	}
	return nil
}

// MaxFileSize returns the candidate size cap in bytes.
func (c *Config) MaxFileSize() int64 {
	return int64(c.Check.MaxFileSizeMB) * 1024 * 1024
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrap(errors.ErrCodeConfigInvalid, err)
	}
	return nil
}

// fileExists checks if a file exists and is not a directory.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
