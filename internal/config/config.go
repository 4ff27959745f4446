// Package config provides configuration management for invoicegate.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	gateerrors "github.com/randalmurphal/invoicegate/internal/errors"
)

const (
	// ConfigFileName is the default config file name
	ConfigFileName = "config.yaml"
	// Dir is the project configuration directory
	Dir = ".invoicegate"
	// DefaultWorkflowPath is the workflow definition used when none is configured.
	DefaultWorkflowPath = "configs/workflow.json"
	// DefaultToolsPath is the tool pools file used when none is configured.
	DefaultToolsPath = "configs/tools.yaml"
	// DefaultAppURL is the base of review links.
	DefaultAppURL = "http://localhost:8000"
)

// Database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// DatabaseConfig selects the store backend.
type DatabaseConfig struct {
	// Driver is sqlite (default) or postgres.
	Driver string `yaml:"driver"`
	// Path is the SQLite file path.
	Path string `yaml:"path"`
	// DSN is the Postgres connection string.
	DSN string `yaml:"dsn,omitempty"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// EventsConfig configures cross-process event fan-out.
type EventsConfig struct {
	// RedisURL enables the Redis publisher when set (redis://host:port/db).
	RedisURL string `yaml:"redis_url,omitempty"`
	// Prefix namespaces Redis channels.
	Prefix string `yaml:"prefix"`
}

// TelemetryConfig configures span export.
type TelemetryConfig struct {
	Enabled bool `yaml:"enabled"`
	Pretty  bool `yaml:"pretty"`
}

// Config represents the invoicegate configuration.
type Config struct {
	// Version is the config file version
	Version int `yaml:"version"`

	// WorkflowPath is the JSON workflow definition.
	WorkflowPath string `yaml:"workflow_path"`
	// ToolsPath is the YAML tool pools file.
	ToolsPath string `yaml:"tools_path"`
	// ToolSeed salts deterministic tool selection.
	ToolSeed string `yaml:"tool_seed,omitempty"`
	// AppURL is the base of review links.
	AppURL string `yaml:"app_url"`

	Database  DatabaseConfig  `yaml:"database"`
	Server    ServerConfig    `yaml:"server"`
	Events    EventsConfig    `yaml:"events"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Version:      1,
		WorkflowPath: DefaultWorkflowPath,
		ToolsPath:    DefaultToolsPath,
		AppURL:       DefaultAppURL,
		Database: DatabaseConfig{
			Driver: DriverSQLite,
			Path:   filepath.Join(Dir, "invoicegate.db"),
		},
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 8000,
		},
		Events: EventsConfig{
			Prefix: "invoicegate:events",
		},
	}
}

// Validate checks values that cannot be defaulted.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Database.Driver) {
	case DriverSQLite:
		if c.Database.Path == "" {
			return gateerrors.ConfigInvalid("database.path", "sqlite requires a path")
		}
	case DriverPostgres:
		if c.Database.DSN == "" {
			return gateerrors.ConfigInvalid("database.dsn", "postgres requires a dsn (DB_CONN)")
		}
	default:
		return gateerrors.ConfigInvalid("database.driver",
			fmt.Sprintf("unknown driver %q (want sqlite or postgres)", c.Database.Driver))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return gateerrors.ConfigInvalid("server.port", fmt.Sprintf("port %d out of range", c.Server.Port))
	}
	if c.WorkflowPath == "" {
		return gateerrors.ConfigInvalid("workflow_path", "must not be empty")
	}
	if c.ToolsPath == "" {
		return gateerrors.ConfigInvalid("tools_path", "must not be empty")
	}
	return nil
}

// Load loads configuration from the current directory.
func Load() (*Config, error) {
	tc, err := LoadWithSourcesFrom(".")
	if err != nil {
		return nil, err
	}
	return tc.Config, nil
}

// LoadFrom loads a single config file over the defaults, without env overrides.
func LoadFrom(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, gateerrors.ConfigInvalid(path, err.Error())
	}
	return cfg, nil
}

// SaveTo writes the config as YAML, creating parent directories.
func (c *Config) SaveTo(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}
