package diagnose

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/dbsmedya/cargowhy/internal/config"
	"github.com/dbsmedya/cargowhy/internal/logger"
)

// PreflightError represents a preflight check failure.
type PreflightError struct {
	Check   string
	Message string
	Paths   []string
}

func (e *PreflightError) Error() string {
	if len(e.Paths) > 0 {
		return fmt.Sprintf("%s: %s (paths: %v)", e.Check, e.Message, e.Paths)
	}
	return fmt.Sprintf("%s: %s", e.Check, e.Message)
}

// PreflightChecker checks the environment before cargo is run.
type PreflightChecker struct {
	cfg      *config.Config
	logger   *logger.Logger
	lookPath func(string) (string, error)
}

// NewPreflightChecker creates a new preflight checker.
func NewPreflightChecker(cfg *config.Config, log *logger.Logger) (*PreflightChecker, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &PreflightChecker{cfg: cfg, logger: log, lookPath: exec.LookPath}, nil
}

// RunAllChecks runs all preflight checks and stops at the first failure.
func (p *PreflightChecker) RunAllChecks() error {
	p.logger.Info("Running preflight checks...")

	if err := p.ValidateWorkspace(); err != nil {
		return err
	}
	if err := p.ValidateCargo(); err != nil {
		return err
	}
	if err := p.ValidateUnitGraphFile(); err != nil {
		return err
	}
	if err := p.ValidateEnvFile(); err != nil {
		return err
	}
	p.WarnMissingTargetDir()

	p.logger.Info("All preflight checks PASSED")
	return nil
}

// ValidateWorkspace checks that the project path holds a Cargo.toml.
func (p *PreflightChecker) ValidateWorkspace() error {
	manifest := filepath.Join(p.cfg.Project.Path, "Cargo.toml")
	info, err := os.Stat(manifest)
	if err != nil || info.IsDir() {
		return &PreflightError{
			Check:   "workspace",
			Message: "no Cargo.toml found in the project path",
			Paths:   []string{manifest},
		}
	}
	p.logger.Debugw("Workspace found", "manifest", manifest)
	return nil
}

// ValidateCargo checks that the cargo executable resolves.
func (p *PreflightChecker) ValidateCargo() error {
	path, err := p.lookPath(p.cfg.Build.Command)
	if err != nil {
		return &PreflightError{
			Check:   "cargo",
			Message: fmt.Sprintf("cannot find %q: %v", p.cfg.Build.Command, err),
		}
	}
	p.logger.Debugw("Cargo found", "path", path)
	return nil
}

// ValidateUnitGraphFile checks that a configured unit graph file is readable.
func (p *PreflightChecker) ValidateUnitGraphFile() error {
	path := p.cfg.Build.UnitGraphFile
	if path == "" {
		return nil
	}
	return checkFile("unit_graph", "unit graph file is not readable", path)
}

// ValidateEnvFile checks that a configured dotenv file is readable.
func (p *PreflightChecker) ValidateEnvFile() error {
	path := p.cfg.Build.EnvFile
	if path == "" {
		return nil
	}
	return checkFile("env_file", "env file is not readable", path)
}

// WarnMissingTargetDir logs a warning when no build cache exists yet. Every
// unit of the first build then has no previous record.
func (p *PreflightChecker) WarnMissingTargetDir() {
	dir := p.cfg.TargetDir()
	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		p.logger.Warnw("Target directory does not exist; every unit will be reported without a previous record",
			"target_dir", dir)
	}
}

func checkFile(check, message, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return &PreflightError{Check: check, Message: message, Paths: []string{path}}
	}
	return f.Close()
}
