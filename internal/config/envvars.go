package config

import (
	"os"
	"strconv"
	"strings"
)

// EnvVarMapping defines the mapping between environment variables and config paths.
var EnvVarMapping = map[string]string{
	"INVOICEGATE_WORKFLOW":      "workflow_path",
	"INVOICEGATE_TOOLS":         "tools_path",
	"INVOICEGATE_TOOL_SEED":     "tool_seed",
	"INVOICEGATE_APP_URL":       "app_url",
	"INVOICEGATE_DB_DRIVER":     "database.driver",
	"INVOICEGATE_DB_PATH":       "database.path",
	"INVOICEGATE_DB_DSN":        "database.dsn",
	"INVOICEGATE_HOST":          "server.host",
	"INVOICEGATE_PORT":          "server.port",
	"INVOICEGATE_REDIS_URL":     "events.redis_url",
	"INVOICEGATE_EVENTS_PREFIX": "events.prefix",
	"INVOICEGATE_TRACE":         "telemetry.enabled",
	"INVOICEGATE_TRACE_PRETTY":  "telemetry.pretty",
}

// LegacyEnvVars are the unprefixed names the demo deployment uses. They
// apply before the INVOICEGATE_* names, which win on conflict.
var LegacyEnvVars = map[string]string{
	"TOOLS_CONFIG": "tools_path",
	"APP_URL":      "app_url",
	"DB_CONN":      "database.dsn",
	"REDIS_URL":    "events.redis_url",
}

// ApplyEnvVars applies environment variable overrides to a TrackedConfig.
// Returns a list of paths that were overridden.
func ApplyEnvVars(tc *TrackedConfig) []string {
	var overridden []string
	for _, mapping := range []map[string]string{LegacyEnvVars, EnvVarMapping} {
		for envVar, configPath := range mapping {
			value := os.Getenv(envVar)
			if value == "" {
				continue
			}
			if applyEnvVar(tc.Config, configPath, value) {
				tc.SetSource(configPath, SourceEnv)
				overridden = append(overridden, configPath)
			}
		}
	}

	// A postgres DSN from the environment implies the driver unless the
	// driver was set explicitly.
	if tc.GetSource("database.dsn") == SourceEnv && tc.GetSource("database.driver") != SourceEnv &&
		isPostgresDSN(tc.Config.Database.DSN) {
		tc.Config.Database.Driver = DriverPostgres
		tc.SetSource("database.driver", SourceEnv)
	}
	return overridden
}

func isPostgresDSN(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
}

// applyEnvVar applies a single environment variable to the config.
// Returns true if the value was applied.
func applyEnvVar(cfg *Config, path string, value string) bool {
	switch path {
	case "workflow_path":
		cfg.WorkflowPath = value
	case "tools_path":
		cfg.ToolsPath = value
	case "tool_seed":
		cfg.ToolSeed = value
	case "app_url":
		cfg.AppURL = value
	case "database.driver":
		cfg.Database.Driver = strings.ToLower(value)
	case "database.path":
		cfg.Database.Path = value
	case "database.dsn":
		cfg.Database.DSN = value
	case "server.host":
		cfg.Server.Host = value
	case "server.port":
		port, err := strconv.Atoi(value)
		if err != nil {
			return false
		}
		cfg.Server.Port = port
	case "events.redis_url":
		cfg.Events.RedisURL = value
	case "events.prefix":
		cfg.Events.Prefix = value
	case "telemetry.enabled":
		cfg.Telemetry.Enabled = parseBool(value)
	case "telemetry.pretty":
		cfg.Telemetry.Pretty = parseBool(value)
	default:
		return false
	}
	return true
}

func parseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
