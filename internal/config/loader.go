package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment variables that override settings,
// e.g. CARGOWHY_OUTPUT_FORMAT=json.
const EnvPrefix = "CARGOWHY"

// DefaultConfigName is the file searched for when no path is given.
const DefaultConfigName = "cargowhy"

// Load reads configuration from the specified file path.
// With an empty path, cargowhy.yaml is looked up in the current directory
// and its absence is not an error. CARGOWHY_* variables override file values.
func Load(configPath string) (*Config, error) {
	v := newViper()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		v.SetConfigName(DefaultConfigName)
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	return LoadFromViper(v)
}

// LoadFromViper creates a Config from an existing Viper instance.
// Useful for testing or when Viper is configured externally.
func LoadFromViper(v *viper.Viper) (*Config, error) {
	cfg := DefaultConfig()

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	substituteEnvVars(cfg)
	return cfg, nil
}

// newViper returns a Viper instance that knows every key, so that
// environment variables bind even when the file does not mention them.
func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	d := DefaultConfig()
	v.SetDefault("project.path", d.Project.Path)
	v.SetDefault("project.cache_root", d.Project.CacheRoot)
	v.SetDefault("project.profile", d.Project.Profile)
	v.SetDefault("build.command", d.Build.Command)
	v.SetDefault("build.args", d.Build.Args)
	v.SetDefault("build.timeout", d.Build.Timeout)
	v.SetDefault("build.env_file", d.Build.EnvFile)
	v.SetDefault("build.unit_graph_file", d.Build.UnitGraphFile)
	v.SetDefault("analysis.workers", d.Analysis.Workers)
	v.SetDefault("analysis.hash_cache_size", d.Analysis.HashCacheSize)
	v.SetDefault("output.format", d.Output.Format)
	v.SetDefault("output.color", d.Output.Color)
	v.SetDefault("output.width", d.Output.Width)
	v.SetDefault("output.suggestions", d.Output.Suggestions)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.output", d.Logging.Output)
	return v
}

// envVarPattern matches ${VAR_NAME} or $VAR_NAME patterns
var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// substituteEnvVars replaces ${VAR_NAME} patterns in path-like settings.
func substituteEnvVars(cfg *Config) {
	cfg.Project.Path = expandEnvVar(cfg.Project.Path)
	cfg.Project.CacheRoot = expandEnvVar(cfg.Project.CacheRoot)
	cfg.Build.Command = expandEnvVar(cfg.Build.Command)
	cfg.Build.EnvFile = expandEnvVar(cfg.Build.EnvFile)
	cfg.Build.UnitGraphFile = expandEnvVar(cfg.Build.UnitGraphFile)
	cfg.Logging.Output = expandEnvVar(cfg.Logging.Output)
}

// expandEnvVar expands environment variables in the format ${VAR} or $VAR.
func expandEnvVar(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		var varName string
		if strings.HasPrefix(match, "${") {
			varName = match[2 : len(match)-1]
		} else {
			varName = match[1:]
		}

		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		// Return original if env var not found
		return match
	})
}

// LoadEnvFile reads the dotenv file configured for the build. The values
// are applied on top of the process environment for cargo and for
// re-measuring recorded environment variables. An empty path yields nil.
func (b BuildConfig) LoadEnvFile() (map[string]string, error) {
	if b.EnvFile == "" {
		return nil, nil
	}
	env, err := godotenv.Read(b.EnvFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read env file %s: %w", b.EnvFile, err)
	}
	return env, nil
}
