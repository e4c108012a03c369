// Package config provides configuration structures and loading for cargowhy.
package config

import (
	"path/filepath"
	"runtime"
	"time"
)

// Config represents the complete application configuration.
type Config struct {
	Project  ProjectConfig  `yaml:"project" mapstructure:"project"`
	Build    BuildConfig    `yaml:"build" mapstructure:"build"`
	Analysis AnalysisConfig `yaml:"analysis" mapstructure:"analysis"`
	Output   OutputConfig   `yaml:"output" mapstructure:"output"`
	Logging  LoggingConfig  `yaml:"logging" mapstructure:"logging"`
}

// ProjectConfig locates the cargo workspace and its build cache.
type ProjectConfig struct {
	Path      string `yaml:"path" mapstructure:"path"`             // workspace root (directory with Cargo.toml)
	CacheRoot string `yaml:"cache_root" mapstructure:"cache_root"` // cargo target directory; defaults to <path>/target
	Profile   string `yaml:"profile" mapstructure:"profile"`       // cargo profile passed as --profile; empty uses cargo's default
}

// BuildConfig controls the cargo invocation.
type BuildConfig struct {
	Command       string        `yaml:"command" mapstructure:"command"` // cargo executable
	Args          []string      `yaml:"args" mapstructure:"args"`       // subcommand and its arguments, e.g. [build, --workspace]
	Timeout       time.Duration `yaml:"timeout" mapstructure:"timeout"` // 0 disables the timeout
	EnvFile       string        `yaml:"env_file" mapstructure:"env_file"`
	UnitGraphFile string        `yaml:"unit_graph_file" mapstructure:"unit_graph_file"` // read the unit graph instead of asking cargo
}

// AnalysisConfig tunes the diagnosis.
type AnalysisConfig struct {
	Workers       int `yaml:"workers" mapstructure:"workers"`
	HashCacheSize int `yaml:"hash_cache_size" mapstructure:"hash_cache_size"`
}

// OutputConfig controls report rendering.
type OutputConfig struct {
	Format      string `yaml:"format" mapstructure:"format"` // text, json or yaml
	Color       string `yaml:"color" mapstructure:"color"`   // auto, always or never
	Width       int    `yaml:"width" mapstructure:"width"`   // 0 disables truncation
	Suggestions bool   `yaml:"suggestions" mapstructure:"suggestions"`
}

// LoggingConfig represents logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`   // debug, info, warn, error
	Format string `yaml:"format" mapstructure:"format"` // json or text
	Output string `yaml:"output" mapstructure:"output"` // stdout, stderr, or file path
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() *Config {
	return &Config{
		Project: ProjectConfig{
			Path: ".",
		},
		Build: BuildConfig{
			Command: "cargo",
			Args:    []string{"build"},
			Timeout: 30 * time.Minute,
		},
		Analysis: AnalysisConfig{
			Workers:       runtime.NumCPU(),
			HashCacheSize: 4096,
		},
		Output: OutputConfig{
			Format:      "text",
			Color:       "auto",
			Suggestions: true,
		},
		Logging: LoggingConfig{
			Level:  "warn",
			Format: "text",
			Output: "stderr",
		},
	}
}

// TargetDir returns the cargo target directory holding the fingerprint records.
func (c *Config) TargetDir() string {
	if c.Project.CacheRoot != "" {
		return c.Project.CacheRoot
	}
	return filepath.Join(c.Project.Path, "target")
}

// CargoArgs returns the configured cargo arguments with the profile applied.
// The profile goes before a "--" separator so cargo reads it, not the test
// binary.
func (c *Config) CargoArgs() []string {
	args := append([]string(nil), c.Build.Args...)
	if c.Project.Profile == "" {
		return args
	}
	profile := []string{"--profile", c.Project.Profile}
	for i, a := range args {
		if a == "--" {
			return append(append(args[:i:i], profile...), args[i:]...)
		}
	}
	return append(args, profile...)
}

// UseColor reports whether text output should be coloured.
func (o OutputConfig) UseColor(isTerminal bool) bool {
	switch o.Color {
	case "always":
		return true
	case "never":
		return false
	default:
		return isTerminal
	}
}

// Overrides holds values set on the command line. Zero values leave the
// configuration unchanged.
type Overrides struct {
	ProjectPath   string
	CacheRoot     string
	Profile       string
	Args          []string
	Timeout       time.Duration
	EnvFile       string
	UnitGraphFile string
	Workers       int
	Format        string
	Color         string
	Width         int
	LogLevel      string
	LogFormat     string
}

// ApplyOverrides applies CLI flag overrides to the configuration.
// Only non-zero/non-empty values are applied.
func (c *Config) ApplyOverrides(o Overrides) {
	if o.ProjectPath != "" {
		c.Project.Path = o.ProjectPath
	}
	if o.CacheRoot != "" {
		c.Project.CacheRoot = o.CacheRoot
	}
	if o.Profile != "" {
		c.Project.Profile = o.Profile
	}
	if len(o.Args) > 0 {
		c.Build.Args = append([]string(nil), o.Args...)
	}
	if o.Timeout > 0 {
		c.Build.Timeout = o.Timeout
	}
	if o.EnvFile != "" {
		c.Build.EnvFile = o.EnvFile
	}
	if o.UnitGraphFile != "" {
		c.Build.UnitGraphFile = o.UnitGraphFile
	}
	if o.Workers > 0 {
		c.Analysis.Workers = o.Workers
	}
	if o.Format != "" {
		c.Output.Format = o.Format
	}
	if o.Color != "" {
		c.Output.Color = o.Color
	}
	if o.Width > 0 {
		c.Output.Width = o.Width
	}
	if o.LogLevel != "" {
		c.Logging.Level = o.LogLevel
	}
	if o.LogFormat != "" {
		c.Logging.Format = o.LogFormat
	}
}
