package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dbsmedya/cargowhy/internal/config"
	"github.com/dbsmedya/cargowhy/internal/diagnose"
	"github.com/dbsmedya/cargowhy/internal/graph"
	"github.com/dbsmedya/cargowhy/internal/logger"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration and run preflight checks",
	Long: `Validate checks the configuration file and the workspace without
running a build.

Checks performed:
  - Configuration syntax and values
  - Cargo.toml in the project path
  - Cargo executable on the PATH
  - Readable unit graph file and env file, when configured
  - Acyclic unit graph, when a unit graph file is configured

Example:
  cargowhy validate --config cargowhy.yaml`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	configFile := GetConfigFile()

	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	cfg.ApplyOverrides(GetCLIOverrides(nil))

	fmt.Fprintf(outputWriter, "\n=== Configuration Validation ===\n")
	if configFile != "" {
		fmt.Fprintf(outputWriter, "Config file: %s\n", configFile)
	}
	fmt.Fprintf(outputWriter, "Project: %s\n", cfg.Project.Path)
	fmt.Fprintf(outputWriter, "Target dir: %s\n\n", cfg.TargetDir())

	if err := cfg.Validate(); err != nil {
		var verrs config.ValidationErrors
		if errors.As(err, &verrs) {
			for _, e := range verrs {
				fmt.Fprintf(outputWriter, "❌ %s\n", e.Error())
			}
		} else {
			fmt.Fprintf(outputWriter, "❌ %v\n", err)
		}
		return fmt.Errorf("configuration is invalid")
	}
	fmt.Fprintf(outputWriter, "✅ Configuration is valid\n")

	log, err := logger.New(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Sync()

	checker, err := diagnose.NewPreflightChecker(cfg, log)
	if err != nil {
		return err
	}
	if err := checker.RunAllChecks(); err != nil {
		fmt.Fprintf(outputWriter, "❌ Preflight checks failed: %v\n", err)
		return fmt.Errorf("validation failed")
	}
	fmt.Fprintf(outputWriter, "✅ Preflight checks passed\n")

	if path := cfg.Build.UnitGraphFile; path != "" {
		g, err := graph.BuildFromFile(path)
		if err != nil {
			fmt.Fprintf(outputWriter, "❌ Unit graph: %v\n", err)
			return fmt.Errorf("validation failed")
		}
		fmt.Fprintf(outputWriter, "✅ Unit graph: %d units, %d dependencies, acyclic\n", g.NodeCount(), g.EdgeCount())
	}

	fmt.Fprintln(outputWriter, "\n=== Validation Complete ===")
	return nil
}
