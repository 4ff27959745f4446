package config

import "fmt"

// ConfigSource names the layer a setting was taken from. Layers apply in
// declaration order; a later layer wins.
type ConfigSource string

const (
	SourceDefault ConfigSource = "default"
	SourceProject ConfigSource = "project" // .invoicegate/config.yaml or --config
	SourceEnv     ConfigSource = "env"     // INVOICEGATE_* variables
	SourceFlag    ConfigSource = "flag"    // CLI flags and explicit files
)

// TrackedSource is the layer of one setting plus the file it came from.
type TrackedSource struct {
	Source ConfigSource
	Path   string
}

func (ts TrackedSource) String() string {
	if ts.Path != "" {
		return fmt.Sprintf("%s: %s", ts.Source, ts.Path)
	}
	return string(ts.Source)
}

// TrackedConfig is a merged Config that remembers which layer set each
// dotted path ("database.dsn", "server.port").
type TrackedConfig struct {
	Config  *Config
	Sources map[string]TrackedSource
}

// NewTrackedConfig starts from Default with every path unattributed.
func NewTrackedConfig() *TrackedConfig {
	return &TrackedConfig{Config: Default(), Sources: map[string]TrackedSource{}}
}

// SetSource attributes path to a layer without a file.
func (tc *TrackedConfig) SetSource(path string, source ConfigSource) {
	tc.SetSourceWithPath(path, source, "")
}

// SetSourceWithPath attributes path to a layer and the file that set it.
func (tc *TrackedConfig) SetSourceWithPath(path string, source ConfigSource, filePath string) {
	tc.Sources[path] = TrackedSource{Source: source, Path: filePath}
}

// GetSource returns the layer of path, SourceDefault when unattributed.
func (tc *TrackedConfig) GetSource(path string) ConfigSource {
	return tc.GetTrackedSource(path).Source
}

func (tc *TrackedConfig) GetTrackedSource(path string) TrackedSource {
	ts, ok := tc.Sources[path]
	if !ok {
		return TrackedSource{Source: SourceDefault}
	}
	return ts
}
