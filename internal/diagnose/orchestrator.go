// Package diagnose runs a complete rebuild diagnosis: it observes and diffs
// every rebuilt unit, then reduces the rebuild set to its root causes.
package diagnose

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/dbsmedya/cargowhy/internal/diff"
	"github.com/dbsmedya/cargowhy/internal/fingerprint"
	"github.com/dbsmedya/cargowhy/internal/graph"
	"github.com/dbsmedya/cargowhy/internal/logger"
	"github.com/dbsmedya/cargowhy/internal/report"
	"github.com/dbsmedya/cargowhy/internal/rootcause"
	"github.com/dbsmedya/cargowhy/internal/unit"
)

// Options configures an Orchestrator.
type Options struct {
	Workers       int    // concurrent unit diagnoses; values below 1 mean 1
	Root          string // workspace root for relative recorded paths
	LookupEnv     func(string) (string, bool)
	HashCacheSize int
	Log           *logger.Logger
}

// Outcome is the result of diagnosing a rebuild set.
type Outcome struct {
	Forest   *rootcause.Forest
	Reasons  map[unit.ID][]diff.Reason // full diff per rebuilt unit
	Failures []report.Failure          // units whose record could not be used, in rebuild order
}

// Orchestrator diagnoses the rebuild set of one run against a unit graph.
type Orchestrator struct {
	graph    *graph.Graph
	previous fingerprint.Loader
	current  fingerprint.Loader
	opts     Options
	logger   *logger.Logger
}

// NewOrchestrator creates an orchestrator reading the records from before
// the build from previous and the records the build left from current.
func NewOrchestrator(g *graph.Graph, previous, current fingerprint.Loader, opts Options) (*Orchestrator, error) {
	if g == nil {
		return nil, fmt.Errorf("graph is nil")
	}
	if previous == nil || current == nil {
		return nil, fmt.Errorf("record loader is nil")
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	log := opts.Log
	if log == nil {
		log = logger.NewNop()
	}
	return &Orchestrator{graph: g, previous: previous, current: current, opts: opts, logger: log}, nil
}

// Diagnose observes and diffs every unit of rebuilt concurrently, then
// reduces the results to a cause forest.
//
// A record that cannot be used degrades that unit to ForcedOrUnknown and is
// listed in Failures. An inconsistent graph, a cancelled context or a
// rebuilt unit missing from the graph fails the whole diagnosis; no partial
// outcome is returned.
func (o *Orchestrator) Diagnose(ctx context.Context, rebuilt []unit.ID) (*Outcome, error) {
	if err := o.graph.Validate(); err != nil {
		o.logger.Errorw("Unit graph is not acyclic", "error", err)
		return nil, fmt.Errorf("invalid unit graph: %w", err)
	}
	for _, id := range rebuilt {
		if !o.graph.HasNode(id) {
			return nil, fmt.Errorf("%w: rebuilt unit %s is not in the unit graph", graph.ErrGraphInconsistent, id)
		}
	}

	// The observer and its memo live for this call only.
	observer, err := fingerprint.NewObserver(o.previous, o.current, o.graph, fingerprint.Options{
		Root:          o.opts.Root,
		LookupEnv:     o.opts.LookupEnv,
		HashCacheSize: o.opts.HashCacheSize,
	})
	if err != nil {
		return nil, err
	}

	o.logger.Infow("Diagnosing rebuilt units",
		"rebuilt", len(rebuilt),
		"workers", o.opts.Workers,
	)

	var (
		mu       sync.Mutex
		reasons  = make(map[unit.ID][]diff.Reason, len(rebuilt))
		failures = make(map[unit.ID]report.Failure)
	)

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(o.opts.Workers)
	for _, id := range rebuilt {
		eg.Go(func() error {
			rs, failure, err := o.diagnoseUnit(egCtx, observer, id)
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			reasons[id] = rs
			if failure != nil {
				failures[id] = *failure
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	forest, err := rootcause.Reduce(rebuilt, o.graph, reasons)
	if err != nil {
		return nil, err
	}

	out := &Outcome{Forest: forest, Reasons: reasons}
	seen := make(map[unit.ID]bool, len(failures))
	for _, id := range rebuilt {
		if f, ok := failures[id]; ok && !seen[id] {
			seen[id] = true
			out.Failures = append(out.Failures, f)
		}
	}

	o.logger.Infow("Diagnosis complete",
		"rebuilt", forest.TotalRebuilt,
		"roots", forest.RootCount(),
		"failures", len(out.Failures),
	)
	return out, nil
}

// diagnoseUnit returns the reasons of one unit: the record diff merged
// with the dirty reasons cargo reported. Record errors are absorbed; any
// other error is fatal.
func (o *Orchestrator) diagnoseUnit(ctx context.Context, observer *fingerprint.Observer, id unit.ID) ([]diff.Reason, *report.Failure, error) {
	persisted, observed, err := observer.Observe(ctx, id)
	if err == nil {
		return diff.Merge(diff.Diff(persisted, observed), o.hintReasons(observer, id, persisted, observed)), nil, nil
	}

	var recErr *fingerprint.RecordError
	if !errors.As(err, &recErr) {
		return nil, nil, err
	}

	log := o.logger.WithUnit(id)
	reported := o.hintReasons(observer, id, nil, observed)
	if errors.Is(err, fingerprint.ErrRecordMissing) {
		log.Debugw("No persisted fingerprint record", "path", recErr.Path, "hints", len(reported))
		return diff.Merge(diff.Diff(nil, observed), reported), nil, nil
	}

	log.Warnw("Fingerprint record unusable; relying on cargo's own reasons", "error", err, "hints", len(reported))
	return diff.Merge([]diff.Reason{diff.ForcedOrUnknown(err.Error())}, reported),
		&report.Failure{Unit: id, Error: err.Error()}, nil
}

// hintReasons converts the dirty reasons cargo logged for id.
func (o *Orchestrator) hintReasons(observer *fingerprint.Observer, id unit.ID, persisted, observed *fingerprint.Record) []diff.Reason {
	node := o.graph.GetNode(id)
	if node == nil || len(node.Hints) == 0 {
		return nil
	}
	base := o.opts.Root
	if node.PackageDir != "" {
		base = node.PackageDir
	}
	hc := diff.HintContext{
		Unit:      id,
		Persisted: persisted,
		Observed:  observed,
		Dependency: func(name string) (unit.ID, bool) {
			return o.graph.DependencyNamed(id, name)
		},
		Env: observer.CurrentEnv,
		File: func(path string) fingerprint.Signature {
			if !filepath.IsAbs(path) && base != "" {
				path = filepath.Join(base, path)
			}
			return observer.CurrentFile(path)
		},
	}

	var out []diff.Reason
	for _, h := range node.Hints {
		if r, ok := diff.FromHint(h, hc); ok {
			out = append(out, r)
		}
	}
	return out
}
