package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	gateerrors "github.com/randalmurphal/invoicegate/internal/errors"
	"github.com/randalmurphal/invoicegate/internal/workflow"
)

// LoadWithSources loads configuration from the current directory with
// source tracking.
func LoadWithSources() (*TrackedConfig, error) {
	return LoadWithSourcesFrom(".")
}

// LoadWithSourcesFrom loads configuration rooted at dir.
// Load order (later sources override earlier):
//  1. Built-in defaults
//  2. Project config (<dir>/.invoicegate/config.yaml)
//  3. Environment variables (legacy names, then INVOICEGATE_*)
func LoadWithSourcesFrom(dir string) (*TrackedConfig, error) {
	tc := NewTrackedConfig()

	projectPath := filepath.Join(dir, Dir, ConfigFileName)
	if _, err := os.Stat(projectPath); err == nil {
		if err := mergeFromFile(tc, projectPath, SourceProject); err != nil {
			return nil, err // Project config errors are fatal
		}
	}

	ApplyEnvVars(tc)
	return tc, nil
}

// LoadWithSourcesFile loads defaults, then the config file at path, then
// environment overrides. Used for an explicit --config.
func LoadWithSourcesFile(path string) (*TrackedConfig, error) {
	tc := NewTrackedConfig()
	if err := mergeFromFile(tc, path, SourceFlag); err != nil {
		return nil, err
	}
	ApplyEnvVars(tc)
	return tc, nil
}

// Override sets a single config path from a CLI flag.
func (tc *TrackedConfig) Override(path, value string) bool {
	if !applyEnvVar(tc.Config, path, value) {
		return false
	}
	tc.SetSource(path, SourceFlag)
	return true
}

// mergeFromFile merges configuration from a file into tc.
func mergeFromFile(tc *TrackedConfig, path string, source ConfigSource) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return gateerrors.ConfigInvalid(path, err.Error())
	}
	if err := yaml.Unmarshal(data, tc.Config); err != nil {
		return gateerrors.ConfigInvalid(path, err.Error())
	}
	for _, key := range flattenKeys("", raw) {
		tc.SetSourceWithPath(key, source, path)
	}
	return nil
}

// flattenKeys returns dotted paths for every leaf in m.
func flattenKeys(prefix string, m map[string]any) []string {
	var out []string
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if sub, ok := v.(map[string]any); ok {
			out = append(out, flattenKeys(key, sub)...)
			continue
		}
		out = append(out, key)
	}
	return out
}

// LoadDotEnv loads KEY=VALUE files into the process environment. Missing
// files are skipped; variables already set are not overwritten. With no
// arguments ".env" is loaded.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// LoadWorkflow reads a JSON workflow definition and resolves {{ENV}}
// references. A missing file yields the built-in definition.
func LoadWorkflow(path string) (workflow.Definition, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return workflow.DefaultDefinition(), nil
	}
	if err != nil {
		return workflow.Definition{}, fmt.Errorf("read workflow %s: %w", path, err)
	}

	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return workflow.Definition{}, gateerrors.ConfigInvalid(path, err.Error())
	}
	resolved, err := json.Marshal(ResolveEnvRefs(raw, os.LookupEnv))
	if err != nil {
		return workflow.Definition{}, fmt.Errorf("encode workflow: %w", err)
	}

	var def workflow.Definition
	if err := json.Unmarshal(resolved, &def); err != nil {
		return workflow.Definition{}, gateerrors.ConfigInvalid(path, err.Error())
	}
	if def.WorkflowName == "" {
		def.WorkflowName = workflow.DefaultDefinition().WorkflowName
	}
	if err := def.Validate(); err != nil {
		return workflow.Definition{}, err
	}
	return def, nil
}

// toolsFile is the layout of the tool pools YAML.
type toolsFile struct {
	Pools map[string][]string `yaml:"pools"`
}

// LoadToolPools reads the capability => tools map under the "pools" key.
// A missing file yields nil so callers fall back to the built-in pools.
func LoadToolPools(path string) (map[string][]string, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read tools %s: %w", path, err)
	}

	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, gateerrors.ConfigInvalid(path, err.Error())
	}
	resolved, err := yaml.Marshal(ResolveEnvRefs(raw, os.LookupEnv))
	if err != nil {
		return nil, fmt.Errorf("encode tools: %w", err)
	}
	var tf toolsFile
	if err := yaml.Unmarshal(resolved, &tf); err != nil {
		return nil, gateerrors.ConfigInvalid(path, err.Error())
	}
	if tf.Pools == nil {
		tf.Pools = map[string][]string{}
	}
	return tf.Pools, nil
}

// ResolveEnvRefs replaces strings of the form "{{KEY}}" with the value of
// KEY from lookup, recursing into maps and slices. Unknown keys keep the
// literal reference.
func ResolveEnvRefs(v any, lookup func(string) (string, bool)) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = ResolveEnvRefs(val, lookup)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = ResolveEnvRefs(val, lookup)
		}
		return out
	case string:
		if strings.HasPrefix(t, "{{") && strings.HasSuffix(t, "}}") && len(t) >= 4 {
			key := strings.TrimSpace(t[2 : len(t)-2])
			if val, ok := lookup(key); ok {
				return val
			}
		}
		return t
	default:
		return v
	}
}
