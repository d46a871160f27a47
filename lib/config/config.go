// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"slices"

	"gopkg.in/yaml.v3"
)

// EnvironmentVariable names the config file when no --config flag is
// given.
const EnvironmentVariable = "ACTIONFS_CONFIG"

// Environment represents the deployment environment.
type Environment string

const (
	// Development is for local development machines.
	Development Environment = "development"
	// Production is for build farm deployments.
	Production Environment = "production"
)

// Config is the configuration for the actionfs command.
type Config struct {
	// Environment identifies the deployment type (development, production).
	Environment Environment `yaml:"environment"`

	// Store configures the content-addressed store and the fetch
	// service that serves it.
	Store StoreConfig `yaml:"store"`

	// Fetch configures how remote inputs are staged.
	Fetch FetchConfig `yaml:"fetch"`

	// Log configures diagnostic output.
	Log LogConfig `yaml:"log"`

	// Mount configures the FUSE view of an action filesystem.
	Mount MountConfig `yaml:"mount"`

	// Per-environment overrides, applied after the base config is
	// loaded.
	Development *ConfigOverrides `yaml:"development,omitempty"`
	Production  *ConfigOverrides `yaml:"production,omitempty"`
}

// ConfigOverrides contains fields that can be overridden per environment.
type ConfigOverrides struct {
	Store *StoreConfig `yaml:"store,omitempty"`
	Fetch *FetchConfig `yaml:"fetch,omitempty"`
	Log   *LogConfig   `yaml:"log,omitempty"`
}

// StoreConfig configures the store and its fetch service.
type StoreConfig struct {
	// Directory is the root of the on-disk store.
	// Default: ${HOME}/.cache/actionfs/store
	Directory string `yaml:"directory"`

	// SocketPath is the Unix socket the fetch service listens on
	// and the fetch client dials.
	// Default: ${HOME}/.cache/actionfs/actionfs.sock
	SocketPath string `yaml:"socket_path"`

	// Compression lists the codecs the service may use for large
	// bodies. An empty list disables compression.
	// Default: [zstd, lz4]
	Compression []string `yaml:"compression"`
}

// FetchConfig configures staging of remote inputs.
type FetchConfig struct {
	// MaxConcurrent bounds simultaneous downloads.
	// Default: 8
	MaxConcurrent int64 `yaml:"max_concurrent"`

	// Accept lists the codecs the client offers, in preference
	// order.
	// Default: [zstd, lz4]
	Accept []string `yaml:"accept"`

	// SkipVerify disables the digest check of downloaded content.
	// The size is always checked. Ignored in production.
	SkipVerify bool `yaml:"skip_verify"`
}

// LogConfig configures the slog handler.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	// Default: info
	Level string `yaml:"level"`

	// Format is text or json.
	// Default: text (development), json (production)
	Format string `yaml:"format"`
}

// MountConfig configures the FUSE mount.
type MountConfig struct {
	// AllowOther permits other users to access the mount. Requires
	// user_allow_other in /etc/fuse.conf.
	AllowOther bool `yaml:"allow_other"`
}

var (
	compressionNames = []string{"none", "lz4", "zstd"}
	levelNames       = []string{"debug", "info", "warn", "error"}
	formatNames      = []string{"text", "json"}
)

// Default returns the default configuration.
// These defaults are used as a base before loading the config file.
// They exist to give every field a sensible value, not as a fallback:
// the config file is required.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	defaultRoot := filepath.Join(homeDir, ".cache", "actionfs")

	return &Config{
		Environment: Development,
		Store: StoreConfig{
			Directory:   filepath.Join(defaultRoot, "store"),
			SocketPath:  filepath.Join(defaultRoot, "actionfs.sock"),
			Compression: []string{"zstd", "lz4"},
		},
		Fetch: FetchConfig{
			MaxConcurrent: 8,
			Accept:        []string{"zstd", "lz4"},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads configuration from the ACTIONFS_CONFIG environment
// variable. There is no fallback when it is unset.
func Load() (*Config, error) {
	configPath := os.Getenv(EnvironmentVariable)
	if configPath == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of your actionfs.yaml config file, or use --config flag", EnvironmentVariable)
	}

	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path.
//
// The config file is the single source of truth. Environment variables
// do not override config values. The only expansion performed is
// ${HOME} and similar path variables.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}

	cfg.applyEnvironmentOverrides()
	cfg.expandVariables()

	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnvironmentOverrides() {
	var overrides *ConfigOverrides

	switch c.Environment {
	case Development:
		overrides = c.Development
	case Production:
		overrides = c.Production
		// Production never skips digest verification. Without a
		// production section it logs JSON.
		c.Fetch.SkipVerify = false
		if overrides == nil {
			overrides = &ConfigOverrides{Log: &LogConfig{Format: "json"}}
		}
	}

	if overrides == nil {
		return
	}

	if overrides.Store != nil {
		if overrides.Store.Directory != "" {
			c.Store.Directory = overrides.Store.Directory
		}
		if overrides.Store.SocketPath != "" {
			c.Store.SocketPath = overrides.Store.SocketPath
		}
		if overrides.Store.Compression != nil {
			c.Store.Compression = overrides.Store.Compression
		}
	}

	if overrides.Fetch != nil {
		if overrides.Fetch.MaxConcurrent != 0 {
			c.Fetch.MaxConcurrent = overrides.Fetch.MaxConcurrent
		}
		if overrides.Fetch.Accept != nil {
			c.Fetch.Accept = overrides.Fetch.Accept
		}
		if c.Environment != Production {
			c.Fetch.SkipVerify = overrides.Fetch.SkipVerify
		}
	}

	if overrides.Log != nil {
		if overrides.Log.Level != "" {
			c.Log.Level = overrides.Log.Level
		}
		if overrides.Log.Format != "" {
			c.Log.Format = overrides.Log.Format
		}
	}
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in paths.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}

	c.Store.Directory = expandVars(c.Store.Directory, vars)
	c.Store.SocketPath = expandVars(c.Store.SocketPath, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}

	if c.Store.Directory == "" {
		errs = append(errs, fmt.Errorf("store.directory is required"))
	}
	if c.Store.SocketPath == "" {
		errs = append(errs, fmt.Errorf("store.socket_path is required"))
	}
	for _, name := range c.Store.Compression {
		if !slices.Contains(compressionNames, name) {
			errs = append(errs, fmt.Errorf("store.compression: %q must be one of: %v", name, compressionNames))
		}
	}

	if c.Fetch.MaxConcurrent <= 0 {
		errs = append(errs, fmt.Errorf("fetch.max_concurrent must be positive, got %d", c.Fetch.MaxConcurrent))
	}
	for _, name := range c.Fetch.Accept {
		if !slices.Contains(compressionNames, name) {
			errs = append(errs, fmt.Errorf("fetch.accept: %q must be one of: %v", name, compressionNames))
		}
	}

	if !slices.Contains(levelNames, c.Log.Level) {
		errs = append(errs, fmt.Errorf("log.level must be one of: %v", levelNames))
	}
	if !slices.Contains(formatNames, c.Log.Format) {
		errs = append(errs, fmt.Errorf("log.format must be one of: %v", formatNames))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// SlogLevel returns the configured level. Unknown names map to info;
// Validate reports them.
func (l LogConfig) SlogLevel() slog.Level {
	switch l.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// EnsurePaths creates the store directory and the socket's parent.
func (c *Config) EnsurePaths() error {
	paths := []string{
		c.Store.Directory,
		filepath.Dir(c.Store.SocketPath),
	}

	for _, path := range paths {
		if path == "" || path == "." {
			continue
		}
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", path, err)
		}
	}

	return nil
}
