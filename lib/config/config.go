// Copyright 2026 The Switchboard Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment represents the deployment environment.
type Environment string

const (
	// Development is for local development machines.
	Development Environment = "development"
	// Staging is for pre-production testing.
	Staging Environment = "staging"
	// Production is for production deployments.
	Production Environment = "production"
)

// Config is the master configuration for the switchboard server.
type Config struct {
	// Environment identifies the deployment type (development,
	// staging, production).
	Environment Environment `yaml:"environment"`

	// Paths configures directory locations.
	Paths PathsConfig `yaml:"paths"`

	// Agent configures the upstream agent connection.
	Agent AgentConfig `yaml:"agent"`

	// Gateway configures the HTTP/SSE surface.
	Gateway GatewayConfig `yaml:"gateway"`

	// Store configures the coordination store backing session state.
	Store StoreConfig `yaml:"store"`

	// EventLog configures the debug event log.
	EventLog EventLogConfig `yaml:"eventlog"`

	// Logging configures structured log output.
	Logging LoggingConfig `yaml:"logging"`

	// EnvironmentOverrides contains per-environment overrides.
	// These are applied after the base config is loaded.
	Development *ConfigOverrides `yaml:"development,omitempty"`
	Staging     *ConfigOverrides `yaml:"staging,omitempty"`
	Production  *ConfigOverrides `yaml:"production,omitempty"`
}

// ConfigOverrides contains fields that can be overridden per environment.
type ConfigOverrides struct {
	Paths    *PathsConfig    `yaml:"paths,omitempty"`
	Agent    *AgentConfig    `yaml:"agent,omitempty"`
	Gateway  *GatewayConfig  `yaml:"gateway,omitempty"`
	Store    *StoreConfig    `yaml:"store,omitempty"`
	EventLog *EventLogConfig `yaml:"eventlog,omitempty"`
	Logging  *LoggingConfig  `yaml:"logging,omitempty"`
}

// PathsConfig configures directory locations.
type PathsConfig struct {
	// Root is the base directory for switchboard data.
	Root string `yaml:"root"`

	// State is where durable runtime state (the sqlite store) lives.
	State string `yaml:"state"`

	// Logs is where the debug event log lives.
	Logs string `yaml:"logs"`
}

// AgentConfig configures the upstream agent connection.
type AgentConfig struct {
	// BaseURL is the base URL of the agent's HTTP API.
	// Default: http://localhost:4096
	BaseURL string `yaml:"base_url"`
}

// GatewayConfig configures the HTTP/SSE surface.
type GatewayConfig struct {
	// Address is the listen address for the gateway.
	// Default: 127.0.0.1:8815
	Address string `yaml:"address"`

	// HeartbeatInterval is how often open streams emit a comment
	// frame, as a Go duration string. Default: 30s
	HeartbeatInterval string `yaml:"heartbeat_interval"`
}

// StoreConfig configures the coordination store.
type StoreConfig struct {
	// Backend selects the store implementation.
	// Values: "memory" (state lost on restart), "sqlite" (durable).
	// Default: memory (development), sqlite (production)
	Backend string `yaml:"backend"`

	// SQLitePath is the database file for the sqlite backend.
	// Default: ${SWITCHBOARD_ROOT}/state/switchboard.db
	SQLitePath string `yaml:"sqlite_path"`

	// PoolSize is the sqlite connection pool size. Zero uses the
	// pool's default.
	PoolSize int `yaml:"pool_size"`
}

// EventLogConfig configures the debug event log.
type EventLogConfig struct {
	// Enabled turns the event log on.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// Directory is where log files are written.
	// Default: ${SWITCHBOARD_ROOT}/logs
	Directory string `yaml:"directory"`

	// MaxFileSize is the active-file size in bytes at which rotation
	// triggers. Zero uses the log's default.
	MaxFileSize int64 `yaml:"max_file_size"`

	// MaxArchives bounds how many rotated files are kept. Zero uses
	// the log's default.
	MaxArchives int `yaml:"max_archives"`

	// Compression selects the archive algorithm.
	// Values: "none", "zstd", "lz4". Default: zstd
	Compression string `yaml:"compression"`
}

// LoggingConfig configures structured log output.
type LoggingConfig struct {
	// Level is the minimum level emitted.
	// Values: "debug", "info", "warn", "error". Default: info
	Level string `yaml:"level"`

	// Format selects the slog handler.
	// Values: "text", "json". Default: text (development), json
	// (production)
	Format string `yaml:"format"`
}

// Default returns the default configuration: a development profile
// rooted under ~/.cache/switchboard, talking to an agent on
// localhost:4096 with the in-memory store backend. Loaded files merge
// over these defaults, and the server runs directly on them when no
// config file is given.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	defaultRoot := filepath.Join(homeDir, ".cache", "switchboard")

	return &Config{
		Environment: Development,
		Paths: PathsConfig{
			Root:  defaultRoot,
			State: filepath.Join(defaultRoot, "state"),
			Logs:  filepath.Join(defaultRoot, "logs"),
		},
		Agent: AgentConfig{
			BaseURL: "http://localhost:4096",
		},
		Gateway: GatewayConfig{
			Address:           "127.0.0.1:8815",
			HeartbeatInterval: "30s",
		},
		Store: StoreConfig{
			Backend:    "memory",
			SQLitePath: filepath.Join(defaultRoot, "state", "switchboard.db"),
		},
		EventLog: EventLogConfig{
			Enabled:     true,
			Directory:   filepath.Join(defaultRoot, "logs"),
			Compression: "zstd",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads configuration from the SWITCHBOARD_CONFIG environment
// variable.
//
// This is the only way to load configuration without an explicit path.
// There are no fallbacks or defaults - if SWITCHBOARD_CONFIG is not
// set, this fails. This ensures deterministic, auditable configuration
// with no hidden overrides.
func Load() (*Config, error) {
	configPath := os.Getenv("SWITCHBOARD_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("SWITCHBOARD_CONFIG environment variable not set; " +
			"set it to the path of your switchboard.yaml config file, or use --config flag")
	}

	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path.
//
// The config file is the single source of truth. Environment variables
// do not override config values - this ensures deterministic, auditable
// configuration. The only expansion performed is ${HOME} and similar
// path variables for portability.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}

	// Apply environment-specific overrides (development/staging/production
	// sections in the file).
	cfg.applyEnvironmentOverrides()

	// Expand ${HOME} and similar variables in paths for portability.
	cfg.expandVariables()

	return cfg, nil
}

// loadFile loads a single configuration file, merging into the current
// config.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, c)
}

// applyEnvironmentOverrides applies the environment-specific overrides.
func (c *Config) applyEnvironmentOverrides() {
	var overrides *ConfigOverrides

	switch c.Environment {
	case Development:
		overrides = c.Development
	case Staging:
		overrides = c.Staging
	case Production:
		overrides = c.Production
		// Production defaults: durable state, machine-readable logs.
		if overrides == nil {
			overrides = &ConfigOverrides{
				Store: &StoreConfig{
					Backend: "sqlite",
				},
				Logging: &LoggingConfig{
					Format: "json",
				},
			}
		}
	}

	if overrides == nil {
		return
	}

	if overrides.Paths != nil {
		if overrides.Paths.Root != "" {
			c.Paths.Root = overrides.Paths.Root
		}
		if overrides.Paths.State != "" {
			c.Paths.State = overrides.Paths.State
		}
		if overrides.Paths.Logs != "" {
			c.Paths.Logs = overrides.Paths.Logs
		}
	}

	if overrides.Agent != nil {
		if overrides.Agent.BaseURL != "" {
			c.Agent.BaseURL = overrides.Agent.BaseURL
		}
	}

	if overrides.Gateway != nil {
		if overrides.Gateway.Address != "" {
			c.Gateway.Address = overrides.Gateway.Address
		}
		if overrides.Gateway.HeartbeatInterval != "" {
			c.Gateway.HeartbeatInterval = overrides.Gateway.HeartbeatInterval
		}
	}

	if overrides.Store != nil {
		if overrides.Store.Backend != "" {
			c.Store.Backend = overrides.Store.Backend
		}
		if overrides.Store.SQLitePath != "" {
			c.Store.SQLitePath = overrides.Store.SQLitePath
		}
		if overrides.Store.PoolSize != 0 {
			c.Store.PoolSize = overrides.Store.PoolSize
		}
	}

	if overrides.EventLog != nil {
		// Enabled is a bool, so we always apply it from overrides.
		c.EventLog.Enabled = overrides.EventLog.Enabled
		if overrides.EventLog.Directory != "" {
			c.EventLog.Directory = overrides.EventLog.Directory
		}
		if overrides.EventLog.MaxFileSize != 0 {
			c.EventLog.MaxFileSize = overrides.EventLog.MaxFileSize
		}
		if overrides.EventLog.MaxArchives != 0 {
			c.EventLog.MaxArchives = overrides.EventLog.MaxArchives
		}
		if overrides.EventLog.Compression != "" {
			c.EventLog.Compression = overrides.EventLog.Compression
		}
	}

	if overrides.Logging != nil {
		if overrides.Logging.Level != "" {
			c.Logging.Level = overrides.Logging.Level
		}
		if overrides.Logging.Format != "" {
			c.Logging.Format = overrides.Logging.Format
		}
	}
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in paths.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"SWITCHBOARD_ROOT": c.Paths.Root,
		"HOME":             os.Getenv("HOME"),
	}

	c.Paths.Root = expandVars(c.Paths.Root, vars)
	vars["SWITCHBOARD_ROOT"] = c.Paths.Root // Update for dependent paths.

	c.Paths.State = expandVars(c.Paths.State, vars)
	c.Paths.Logs = expandVars(c.Paths.Logs, vars)
	c.Store.SQLitePath = expandVars(c.Store.SQLitePath, vars)
	c.EventLog.Directory = expandVars(c.EventLog.Directory, vars)
}

// expandVars expands ${VAR} and ${VAR:-default} patterns.
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

		// Check provided vars first, then environment.
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

	if c.Environment != Development && c.Environment != Staging && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}

	if c.Agent.BaseURL == "" {
		errs = append(errs, fmt.Errorf("agent.base_url is required"))
	} else if _, err := url.Parse(c.Agent.BaseURL); err != nil {
		errs = append(errs, fmt.Errorf("agent.base_url is not a valid URL: %w", err))
	}

	if c.Gateway.Address == "" {
		errs = append(errs, fmt.Errorf("gateway.address is required"))
	}
	if c.Gateway.HeartbeatInterval != "" {
		if _, err := time.ParseDuration(c.Gateway.HeartbeatInterval); err != nil {
			errs = append(errs, fmt.Errorf("gateway.heartbeat_interval is not a duration: %w", err))
		}
	}

	backendValues := []string{"memory", "sqlite"}
	if !contains(backendValues, c.Store.Backend) {
		errs = append(errs, fmt.Errorf("store.backend must be one of: %v", backendValues))
	}
	if c.Store.Backend == "sqlite" && c.Store.SQLitePath == "" {
		errs = append(errs, fmt.Errorf("store.sqlite_path is required for the sqlite backend"))
	}

	if c.EventLog.Enabled && c.EventLog.Directory == "" {
		errs = append(errs, fmt.Errorf("eventlog.directory is required when eventlog is enabled"))
	}
	compressionValues := []string{"none", "zstd", "lz4"}
	if c.EventLog.Compression != "" && !contains(compressionValues, c.EventLog.Compression) {
		errs = append(errs, fmt.Errorf("eventlog.compression must be one of: %v", compressionValues))
	}

	levelValues := []string{"debug", "info", "warn", "error"}
	if !contains(levelValues, c.Logging.Level) {
		errs = append(errs, fmt.Errorf("logging.level must be one of: %v", levelValues))
	}
	formatValues := []string{"text", "json"}
	if !contains(formatValues, c.Logging.Format) {
		errs = append(errs, fmt.Errorf("logging.format must be one of: %v", formatValues))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// HeartbeatInterval returns the parsed heartbeat interval. Call
// Validate first; an unparseable value falls back to zero, which
// consumers treat as "use the default".
func (c *Config) HeartbeatInterval() time.Duration {
	if c.Gateway.HeartbeatInterval == "" {
		return 0
	}
	interval, err := time.ParseDuration(c.Gateway.HeartbeatInterval)
	if err != nil {
		return 0
	}
	return interval
}

// EnsurePaths creates all configured directories if they don't exist.
func (c *Config) EnsurePaths() error {
	paths := []string{
		c.Paths.Root,
		c.Paths.State,
		c.Paths.Logs,
	}
	if c.EventLog.Enabled {
		paths = append(paths, c.EventLog.Directory)
	}
	if c.Store.Backend == "sqlite" && c.Store.SQLitePath != "" {
		paths = append(paths, filepath.Dir(c.Store.SQLitePath))
	}

	for _, path := range paths {
		if path == "" {
			continue
		}
		if err := os.MkdirAll(path, 0755); err != nil {
			return fmt.Errorf("creating %s: %w", path, err)
		}
	}

	return nil
}

func contains(slice []string, s string) bool {
	for _, v := range slice {
		if v == s {
			return true
		}
	}
	return false
}
