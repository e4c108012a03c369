package diagnose

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/dbsmedya/cargowhy/internal/buildrun"
	"github.com/dbsmedya/cargowhy/internal/config"
	"github.com/dbsmedya/cargowhy/internal/fingerprint"
	"github.com/dbsmedya/cargowhy/internal/graph"
	"github.com/dbsmedya/cargowhy/internal/logger"
	"github.com/dbsmedya/cargowhy/internal/report"
	"github.com/dbsmedya/cargowhy/internal/trace"
	"github.com/dbsmedya/cargowhy/internal/unit"
)

// BuildRunner runs cargo. *buildrun.Runner implements it.
type BuildRunner interface {
	Run(ctx context.Context, args []string) (*buildrun.Result, error)
	UnitGraph(ctx context.Context, args []string) ([]byte, error)
}

// Result contains the outcome and statistics of a diagnostic run.
type Result struct {
	RunID         string
	StartedAt     time.Time
	CompletedAt   time.Time
	Duration      time.Duration
	BuildExitCode int
	Graph         *graph.Graph
	Rebuilt       []unit.ID
	Trace         *trace.Trace
	Outcome       *Outcome
	Report        *report.Report
}

// Pipeline runs cargo and diagnoses what it rebuilt.
type Pipeline struct {
	cfg    *config.Config
	runner BuildRunner
	env    map[string]string
	logger *logger.Logger
}

// NewPipeline creates a pipeline. env holds the dotenv overrides that were
// also given to the runner; they win over the process environment when
// recorded variables are re-read.
func NewPipeline(cfg *config.Config, runner BuildRunner, env map[string]string, log *logger.Logger) (*Pipeline, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}
	if runner == nil {
		return nil, fmt.Errorf("build runner is nil")
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Pipeline{cfg: cfg, runner: runner, env: env, logger: log}, nil
}

// Run executes one diagnostic run. Any error is fatal and no report is
// produced.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	result := &Result{
		RunID:     uuid.NewString(),
		StartedAt: time.Now(),
	}
	log := p.logger.WithRun(result.RunID)
	args := p.cfg.CargoArgs()

	workspace, err := filepath.Abs(p.cfg.Project.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve project path: %w", err)
	}

	g, err := p.LoadGraph(ctx, args)
	if err != nil {
		return nil, err
	}
	result.Graph = g
	log.Infow("Unit graph loaded", "units", g.NodeCount(), "edges", g.EdgeCount())

	// cargo overwrites a unit's record when it rebuilds it, so the records
	// from before the build are read now.
	store := fingerprint.NewStore(p.cfg.TargetDir())
	snapshot := store.Snapshot(locations(g))
	log.Debugw("Fingerprint records captured", "records", snapshot.Len(), "target_dir", store.Root())

	res, err := p.runner.Run(ctx, args)
	if err != nil {
		return nil, err
	}
	result.BuildExitCode = res.ExitCode

	tr, err := trace.Parse(bytes.NewReader(res.Stderr))
	if err != nil {
		return nil, fmt.Errorf("failed to parse build output: %w", err)
	}
	result.Trace = tr

	rebuilt, err := g.ApplyTrace(tr, workspace)
	if err != nil {
		return nil, err
	}
	result.Rebuilt = rebuilt
	log.Infow("Build finished",
		"exit_code", res.ExitCode,
		"rebuilt", len(rebuilt),
		"hints", len(tr.Hints()),
		"duration", res.Duration,
	)

	orch, err := NewOrchestrator(g, snapshot, store, Options{
		Workers:       p.cfg.Analysis.Workers,
		Root:          workspace,
		LookupEnv:     p.lookupEnv,
		HashCacheSize: p.cfg.Analysis.HashCacheSize,
		Log:           log,
	})
	if err != nil {
		return nil, err
	}
	outcome, err := orch.Diagnose(ctx, rebuilt)
	if err != nil {
		return nil, err
	}
	result.Outcome = outcome

	result.Report = report.Build(outcome.Forest, g, report.Options{
		RunID:    result.RunID,
		Command:  append([]string{p.cfg.Build.Command}, res.Args...),
		Failures: outcome.Failures,
	})

	result.CompletedAt = time.Now()
	result.Duration = result.CompletedAt.Sub(result.StartedAt)
	return result, nil
}

// LoadGraph reads the unit graph from the configured file, or asks cargo.
func (p *Pipeline) LoadGraph(ctx context.Context, args []string) (*graph.Graph, error) {
	if path := p.cfg.Build.UnitGraphFile; path != "" {
		g, err := graph.BuildFromFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load unit graph: %w", err)
		}
		return g, nil
	}

	data, err := p.runner.UnitGraph(ctx, args)
	if err != nil {
		return nil, err
	}
	g, err := graph.BuildFromJSON(data)
	if err != nil {
		return nil, fmt.Errorf("failed to build unit graph: %w", err)
	}
	return g, nil
}

// locations returns the record location of every unit of g.
func locations(g *graph.Graph) []fingerprint.Location {
	ids := g.AllNodes()
	locs := make([]fingerprint.Location, 0, len(ids))
	for _, id := range ids {
		if node := g.GetNode(id); node != nil {
			locs = append(locs, fingerprint.LocationOf(node))
		}
	}
	return locs
}

func (p *Pipeline) lookupEnv(name string) (string, bool) {
	if v, ok := p.env[name]; ok {
		return v, true
	}
	return os.LookupEnv(name)
}
