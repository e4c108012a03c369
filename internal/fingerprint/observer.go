package fingerprint

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/dbsmedya/cargowhy/internal/graph"
	"github.com/dbsmedya/cargowhy/internal/unit"
)

// DefaultHashCacheSize bounds the file hash cache when Options leaves it unset.
const DefaultHashCacheSize = 4096

// Options configures an Observer.
type Options struct {
	Root          string                           // workspace root; relative file paths resolve against it
	LookupEnv     func(name string) (string, bool) // defaults to os.LookupEnv
	HashCacheSize int
}

type fileKey struct {
	path  string
	mtime int64
	size  int64
}

// observation is the memoized result for one unit.
type observation struct {
	persisted *Record
	observed  *Record
	recErr    *RecordError
}

// currentRecord is the record a unit has on disk after the build.
type currentRecord struct {
	rec    *Record
	recErr *RecordError
}

// Observer pairs the record each unit had before the build with the record
// observed after it. One Observer serves one diagnostic run; its memo is
// never shared across runs. It is safe for concurrent use.
type Observer struct {
	previous  Loader
	current   Loader
	graph     *graph.Graph
	root      string
	lookupEnv func(string) (string, bool)
	hashes    *lru.Cache[fileKey, string]

	mu      sync.Mutex
	sf      singleflight.Group
	memo    map[unit.ID]*observation
	records map[unit.ID]*currentRecord
}

// NewObserver creates an Observer reading the records from before the build
// from previous and the records the build left from current.
func NewObserver(previous, current Loader, g *graph.Graph, opts Options) (*Observer, error) {
	size := opts.HashCacheSize
	if size <= 0 {
		size = DefaultHashCacheSize
	}
	cache, err := lru.New[fileKey, string](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create file hash cache: %w", err)
	}
	lookup := opts.LookupEnv
	if lookup == nil {
		lookup = os.LookupEnv
	}
	return &Observer{
		previous:  previous,
		current:   current,
		graph:     g,
		root:      opts.Root,
		lookupEnv: lookup,
		hashes:    cache,
		memo:      make(map[unit.ID]*observation),
		records:   make(map[unit.ID]*currentRecord),
	}, nil
}

// Observe returns the record id had before the build and the record
// observed now.
//
// When the earlier record cannot be used the returned error is a
// *RecordError and persisted is nil; observed is still returned. Any other
// error (context cancellation, a unit missing from the graph) is fatal for
// the run.
func (o *Observer) Observe(ctx context.Context, id unit.ID) (persisted, observed *Record, err error) {
	v, err := o.once(ctx, "observe/", id, o.memoObservation, func() (any, error) {
		return o.compute(ctx, id)
	})
	if err != nil {
		return nil, nil, err
	}
	obs := v.(*observation)
	if obs.recErr != nil {
		return obs.persisted, obs.observed, obs.recErr
	}
	return obs.persisted, obs.observed, nil
}

// ObservedHash returns cargo's current fingerprint hash of id, or "" when
// the unit has no usable record now.
func (o *Observer) ObservedHash(ctx context.Context, id unit.ID) (string, error) {
	cur, err := o.currentOf(ctx, id)
	if err != nil {
		return "", err
	}
	if cur.rec == nil {
		return "", nil
	}
	return cur.rec.Fingerprint(), nil
}

// CurrentEnv returns the live value of an environment variable.
func (o *Observer) CurrentEnv(name string) EnvVar {
	value, set := o.lookupEnv(name)
	return EnvVar{Name: name, Value: value, Set: set}
}

// CurrentFile returns the content signature of path now. Relative paths
// resolve against the workspace root. An unreadable file has an unknown
// signature.
func (o *Observer) CurrentFile(path string) Signature {
	sig, err := o.measure(path)
	if err != nil {
		return Signature{Kind: SigUnknown}
	}
	return sig
}

// once memoizes fn per unit. Concurrent callers for the same unit share a
// single computation.
func (o *Observer) once(ctx context.Context, prefix string, id unit.ID, cached func(unit.ID) (any, bool), fn func() (any, error)) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if v, ok := cached(id); ok {
		return v, nil
	}
	v, err, _ := o.sf.Do(prefix+id.Profile+"/"+id.Key(), func() (any, error) {
		if v, ok := cached(id); ok {
			return v, nil
		}
		return fn()
	})
	return v, err
}

func (o *Observer) memoObservation(id unit.ID) (any, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	obs, ok := o.memo[id]
	return obs, ok
}

func (o *Observer) memoRecord(id unit.ID) (any, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	cur, ok := o.records[id]
	return cur, ok
}

func (o *Observer) currentOf(ctx context.Context, id unit.ID) (*currentRecord, error) {
	v, err := o.once(ctx, "current/", id, o.memoRecord, func() (any, error) {
		node := o.graph.GetNode(id)
		if node == nil {
			return nil, fmt.Errorf("%w: unit %s is not in the unit graph", graph.ErrGraphInconsistent, id)
		}
		cur := &currentRecord{}
		rec, err := o.current.Load(LocationOf(node))
		if err != nil {
			cur.recErr = asRecordError(id, err)
		} else {
			cur.rec = o.resolveDeps(id, rec)
		}
		o.mu.Lock()
		o.records[id] = cur
		o.mu.Unlock()
		return cur, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*currentRecord), nil
}

func (o *Observer) compute(ctx context.Context, id unit.ID) (*observation, error) {
	node := o.graph.GetNode(id)
	if node == nil {
		return nil, fmt.Errorf("%w: unit %s is not in the unit graph", graph.ErrGraphInconsistent, id)
	}
	cur, err := o.currentOf(ctx, id)
	if err != nil {
		return nil, err
	}

	obs := &observation{}
	loc := LocationOf(node)
	if cur.rec != nil {
		loc.Dir = cur.rec.Dir()
	}
	persisted, err := o.previous.Load(loc)
	if err != nil {
		obs.recErr = asRecordError(id, err)
	} else {
		obs.persisted = o.resolveDeps(id, persisted)
	}

	f := Fields{
		SchemaVersion: SchemaCurrent,
		Unit:          id,
		Profile:       id.Profile,
		Features:      node.Features,
	}
	switch {
	case cur.rec != nil:
		f.SchemaVersion = cur.rec.SchemaVersion()
		f.Dir = cur.rec.Dir()
		f.Hash = cur.rec.Hash()
		f.Flags = cur.rec.Flags()
		f.Settings = cur.rec.Settings()
		f.Features = cur.rec.Features()
		f.Env = cur.rec.Env()
		f.Deps = cur.rec.Deps()
	case obs.persisted != nil:
		f.SchemaVersion = obs.persisted.SchemaVersion()
		f.Flags = obs.persisted.Flags()
		f.Settings = obs.persisted.Settings()
	}

	if obs.persisted != nil {
		seen := make(map[string]bool, len(f.Env))
		for _, e := range f.Env {
			seen[e.Name] = true
		}
		for _, e := range obs.persisted.Env() {
			if !seen[e.Name] {
				f.Env = append(f.Env, o.CurrentEnv(e.Name))
			}
		}
	}

	if cur.rec == nil {
		for _, dep := range o.graph.GetDeps(id) {
			hash, err := o.ObservedHash(ctx, dep)
			if err != nil {
				return nil, err
			}
			f.Deps = append(f.Deps, DepEntry{Unit: dep, Name: o.graph.ExternName(id, dep), Hash: hash})
		}
	}

	obs.observed = NewRecord(f)
	o.mu.Lock()
	o.memo[id] = obs
	o.mu.Unlock()
	return obs, nil
}

// resolveDeps maps the dependency names of a cargo record onto units of
// the graph. Names the graph does not know keep a unit with only a name.
func (o *Observer) resolveDeps(id unit.ID, rec *Record) *Record {
	deps := rec.Deps()
	for i, d := range deps {
		if !d.Unit.IsZero() {
			continue
		}
		if dep, ok := o.graph.DependencyNamed(id, d.Name); ok {
			deps[i].Unit = dep
			continue
		}
		deps[i].Unit = unit.ID{Name: unit.NormalizeName(d.Name), Profile: id.Profile}
	}
	return rec.withDeps(deps)
}

func asRecordError(id unit.ID, err error) *RecordError {
	var recErr *RecordError
	if errors.As(err, &recErr) {
		return recErr
	}
	return &RecordError{Unit: id, Kind: ErrRecordCorrupt, Cause: err}
}

// measure hashes a file, reusing the hash while its mtime and size are
// unchanged.
func (o *Observer) measure(path string) (Signature, error) {
	full := path
	if !filepath.IsAbs(full) && o.root != "" {
		full = filepath.Join(o.root, full)
	}
	info, err := os.Stat(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Signature{Kind: SigMissing}, nil
		}
		return Signature{}, err
	}

	key := fileKey{path: full, mtime: info.ModTime().UnixNano(), size: info.Size()}
	if h, ok := o.hashes.Get(key); ok {
		return Signature{Kind: SigHash, Hash: h}, nil
	}
	h, err := HashFile(full)
	if err != nil {
		return Signature{}, err
	}
	o.hashes.Add(key, h)
	return Signature{Kind: SigHash, Hash: h}, nil
}

// HashFile returns the hex sha256 of a file's content.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
