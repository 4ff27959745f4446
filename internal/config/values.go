package config

import (
	"fmt"
	"strconv"
)

// AllConfigPaths returns every settable config path in dot notation.
func AllConfigPaths() []string {
	return []string{
		"workflow_path",
		"tools_path",
		"tool_seed",
		"app_url",
		"database.driver",
		"database.path",
		"database.dsn",
		"server.host",
		"server.port",
		"events.redis_url",
		"events.prefix",
		"telemetry.enabled",
		"telemetry.pretty",
	}
}

// GetValue returns the string form of a config path.
func (c *Config) GetValue(path string) (string, error) {
	switch path {
	case "workflow_path":
		return c.WorkflowPath, nil
	case "tools_path":
		return c.ToolsPath, nil
	case "tool_seed":
		return c.ToolSeed, nil
	case "app_url":
		return c.AppURL, nil
	case "database.driver":
		return c.Database.Driver, nil
	case "database.path":
		return c.Database.Path, nil
	case "database.dsn":
		return redactDSN(c.Database.DSN), nil
	case "server.host":
		return c.Server.Host, nil
	case "server.port":
		return strconv.Itoa(c.Server.Port), nil
	case "events.redis_url":
		return c.Events.RedisURL, nil
	case "events.prefix":
		return c.Events.Prefix, nil
	case "telemetry.enabled":
		return strconv.FormatBool(c.Telemetry.Enabled), nil
	case "telemetry.pretty":
		return strconv.FormatBool(c.Telemetry.Pretty), nil
	}
	return "", fmt.Errorf("unknown config key: %s", path)
}

// redactDSN hides everything but the scheme of a non-empty DSN.
func redactDSN(dsn string) string {
	if dsn == "" {
		return ""
	}
	if isPostgresDSN(dsn) {
		return "postgres://***"
	}
	return "***"
}
