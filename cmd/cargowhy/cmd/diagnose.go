package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/gookit/color"
	"github.com/spf13/cobra"

	"github.com/dbsmedya/cargowhy/internal/buildrun"
	"github.com/dbsmedya/cargowhy/internal/config"
	"github.com/dbsmedya/cargowhy/internal/diagnose"
	"github.com/dbsmedya/cargowhy/internal/logger"
	"github.com/dbsmedya/cargowhy/internal/report"
)

var (
	showBuildOutput bool
	noSuggestions   bool
)

var diagnoseCmd = &cobra.Command{
	Use:   "diagnose [flags] [-- cargo arguments]",
	Short: "Build the workspace and explain what was rebuilt",
	Long: `Diagnose runs cargo with fingerprint logging, re-measures the inputs of
every unit cargo rebuilt and reports the root causes.

The diagnosis follows these steps:
  1. Load the unit graph (from cargo or --unit-graph)
  2. Run the build and parse which units were compiled
  3. Compare each unit's persisted fingerprint with its current inputs
  4. Collapse rebuild cascades under the units that started them

Arguments after -- replace build.args from the configuration.

Example:
  cargowhy diagnose -- build --workspace
  cargowhy diagnose --format json -- check --release`,
	Args: cobra.ArbitraryArgs,
	RunE: runDiagnose,
}

func init() {
	for _, c := range []*cobra.Command{rootCmd, diagnoseCmd} {
		c.Flags().BoolVar(&showBuildOutput, "show-build-output", false,
			"Copy cargo's output to stderr while it runs")
		c.Flags().BoolVar(&noSuggestions, "no-suggestions", false,
			"Omit suggestions from the text report")
	}

	rootCmd.AddCommand(diagnoseCmd)
}

func runDiagnose(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(args)
	if err != nil {
		return err
	}
	if noSuggestions {
		cfg.Output.Suggestions = false
	}

	// Fail on a bad format before spending a build on it
	renderer, err := report.NewRenderer(cfg.Output.Format, report.TextOptions{
		Color:       cfg.Output.UseColor(color.SupportColor()),
		Width:       cfg.Output.Width,
		Suggestions: cfg.Output.Suggestions,
	})
	if err != nil {
		return err
	}

	// Initialize logger
	log, err := logger.New(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Sync()

	log.Infow("Starting diagnosis",
		"config", GetConfigFile(),
		"project", cfg.Project.Path,
		"args", cfg.CargoArgs(),
	)

	checker, err := diagnose.NewPreflightChecker(cfg, log)
	if err != nil {
		return err
	}
	if err := checker.RunAllChecks(); err != nil {
		return fmt.Errorf("preflight checks failed: %w", err)
	}

	env, err := cfg.Build.LoadEnvFile()
	if err != nil {
		return err
	}

	ctx := buildrun.SetupSignalHandlerWithCallback(func(sig os.Signal) {
		log.Warnw("Received shutdown signal - stopping cargo...", "signal", sig.String())
	})

	pipeline, err := diagnose.NewPipeline(cfg, newRunner(cfg, env, log), env, log)
	if err != nil {
		return err
	}

	result, err := pipeline.Run(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
			return fmt.Errorf("diagnosis cancelled: %w", err)
		}
		return fmt.Errorf("diagnosis failed: %w", err)
	}

	if result.BuildExitCode != 0 {
		log.Warnw("The build failed; only units cargo got to are diagnosed",
			"exit_code", result.BuildExitCode)
	}
	log.Infow("Diagnosis finished",
		"run_id", result.RunID,
		"rebuilt", len(result.Rebuilt),
		"roots", result.Report.RootCount,
		"duration", result.Duration,
	)

	return renderer.Render(outputWriter, result.Report)
}

func newRunner(cfg *config.Config, env map[string]string, log *logger.Logger) *buildrun.Runner {
	if cfg.Project.CacheRoot != "" {
		merged := make(map[string]string, len(env)+1)
		for k, v := range env {
			merged[k] = v
		}
		merged["CARGO_TARGET_DIR"] = cfg.Project.CacheRoot
		env = merged
	}
	opts := buildrun.Options{
		Command: cfg.Build.Command,
		Dir:     cfg.Project.Path,
		Env:     env,
		Timeout: cfg.Build.Timeout,
		Log:     log,
	}
	if showBuildOutput {
		opts.Stderr = os.Stderr
	}
	return buildrun.NewRunner(opts)
}
