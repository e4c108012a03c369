package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/dbsmedya/cargowhy/internal/config"
)

// Version information (set via ldflags at build time)
var (
	Version = "0.0.1-dev"
	Commit  = "unknown"
)

// CLI flags that override config file values
var (
	cfgFile       string
	logLevel      string
	logFormat     string
	projectPath   string
	targetDir     string
	profile       string
	timeout       time.Duration
	envFile       string
	unitGraphFile string
	workers       int
	outputFormat  string
	colorMode     string
	width         int
)

var rootCmd = &cobra.Command{
	Use:   "cargowhy [flags] [-- cargo arguments]",
	Short: "Explain why cargo rebuilt your crates",
	Long: `cargowhy runs a cargo build, compares every rebuilt unit's persisted
fingerprint with its current inputs, and reduces the rebuild set to the
root causes that triggered it.

Features:
  - Per-unit reasons: env variables, files, flags, features, dependencies
  - Cascades collapsed under the unit that started them
  - Text, JSON and YAML reports
  - Suggestions for the most common rebuild triggers

Running cargowhy without a subcommand is the same as 'cargowhy diagnose'.`,
	Version:      Version,
	Args:         cobra.ArbitraryArgs,
	SilenceUsage: true,
	RunE:         runDiagnose,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	// Config file flag
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"Path to configuration file (default: ./cargowhy.yaml if present)")

	// Logging overrides
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"Override log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "",
		"Override log format (json, text)")

	// Project overrides
	rootCmd.PersistentFlags().StringVarP(&projectPath, "project", "p", "",
		"Override workspace root (directory with Cargo.toml)")
	rootCmd.PersistentFlags().StringVar(&targetDir, "target-dir", "",
		"Override cargo target directory holding the fingerprints")
	rootCmd.PersistentFlags().StringVar(&profile, "profile", "",
		"Override cargo profile")

	// Build overrides
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 0,
		"Override cargo timeout (e.g. 10m)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "",
		"Override dotenv file applied to the cargo environment")
	rootCmd.PersistentFlags().StringVar(&unitGraphFile, "unit-graph", "",
		"Read the unit graph from a file instead of asking cargo")

	// Analysis and output overrides
	rootCmd.PersistentFlags().IntVarP(&workers, "workers", "j", 0,
		"Override number of concurrent unit diagnoses")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "format", "o", "",
		"Override report format (text, json, yaml)")
	rootCmd.PersistentFlags().StringVar(&colorMode, "color", "",
		"Override colour mode (auto, always, never)")
	rootCmd.PersistentFlags().IntVar(&width, "width", 0,
		"Override maximum line width of the text report")
}

// GetConfigFile returns the config file path
func GetConfigFile() string {
	return cfgFile
}

// GetCLIOverrides returns the CLI flag override values. args are the cargo
// arguments given after the flags.
func GetCLIOverrides(args []string) config.Overrides {
	return config.Overrides{
		ProjectPath:   projectPath,
		CacheRoot:     targetDir,
		Profile:       profile,
		Args:          args,
		Timeout:       timeout,
		EnvFile:       envFile,
		UnitGraphFile: unitGraphFile,
		Workers:       workers,
		Format:        outputFormat,
		Color:         colorMode,
		Width:         width,
		LogLevel:      logLevel,
		LogFormat:     logFormat,
	}
}

// loadConfig loads the configuration file, applies the command line
// overrides and validates the result.
func loadConfig(args []string) (*config.Config, error) {
	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	cfg.ApplyOverrides(GetCLIOverrides(args))

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
