package diagnose

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dbsmedya/cargowhy/internal/buildrun"
	"github.com/dbsmedya/cargowhy/internal/config"
	"github.com/dbsmedya/cargowhy/internal/fingerprint"
	"github.com/dbsmedya/cargowhy/internal/graph"
	"github.com/dbsmedya/cargowhy/internal/unit"
)

var (
	coreID = unit.New("core", "0.1.0", unit.KindLib, "debug", []string{"std"})
	appID  = unit.New("app", "0.1.0", unit.KindBin, "debug", nil)
)

// Fingerprint directories and file stems as cargo names them for the
// workspace. The directory suffix matches -C metadata in buildTrace.
const (
	coreDir  = "core-aa"
	appDir   = "app-bb"
	coreStem = "lib-core"
	appStem  = "bin-app"
)

// cargoRecord is a fingerprint record in cargo's on-disk format.
type cargoRecord struct {
	Features []string
	Env      []fingerprint.EnvVar // written as RerunIfEnvChanged entries
	Deps     []cargoDep
	Hash     uint64 // written to the hash file next to the record
}

type cargoDep struct {
	Name string
	Hash uint64
}

func (r cargoRecord) json(t *testing.T) []byte {
	t.Helper()
	quoted := make([]string, len(r.Features))
	for i, f := range r.Features {
		quoted[i] = strconv.Quote(f)
	}
	deps := make([]any, 0, len(r.Deps))
	for i, d := range r.Deps {
		deps = append(deps, []any{uint64(4000 + i), d.Name, false, d.Hash})
	}
	local := []any{map[string]any{"CheckDepInfo": map[string]any{"dep_info": "dep-info", "checksum": false}}}
	for _, e := range r.Env {
		var val any
		if e.Set {
			val = e.Value
		}
		local = append(local, map[string]any{"RerunIfEnvChanged": map[string]any{"var": e.Name, "val": val}})
	}
	data, err := json.Marshal(map[string]any{
		"rustc":             uint64(13),
		"features":          "[" + strings.Join(quoted, ", ") + "]",
		"declared_features": "[]",
		"target":            uint64(21),
		"profile":           uint64(34),
		"path":              uint64(55),
		"deps":              deps,
		"local":             local,
		"rustflags":         []string{},
		"config":            uint64(0),
		"compile_kind":      uint64(0),
	})
	require.NoError(t, err)
	return data
}

// coreRecord is core's record when built with CORE_MODE=mode.
func coreRecord(mode string, hash uint64) cargoRecord {
	return cargoRecord{
		Features: []string{"std"},
		Env:      []fingerprint.EnvVar{{Name: "CORE_MODE", Value: mode, Set: true}},
		Hash:     hash,
	}
}

// appRecord is app's record when built against a core with coreHash.
func appRecord(coreHash, hash uint64) cargoRecord {
	return cargoRecord{Deps: []cargoDep{{Name: "core", Hash: coreHash}}, Hash: hash}
}

// workspace is a cargo workspace on disk: app (bin) depends on core (lib).
// newWorkspace leaves the records of a build with CORE_MODE=fast.
type workspace struct {
	root   string
	target string
}

func newWorkspace(t *testing.T) *workspace {
	t.Helper()
	ws := &workspace{root: t.TempDir()}
	ws.target = filepath.Join(ws.root, "target")

	ws.writeFile(t, "Cargo.toml", "[workspace]\nmembers = [\"core\"]\n")
	ws.writeFile(t, "core/src/lib.rs", "pub fn core() {}")
	ws.writeFile(t, "src/main.rs", "fn main() {}")

	ws.writeRecord(t, coreDir, coreStem, coreRecord("fast", 0x1111))
	ws.writeRecord(t, appDir, appStem, appRecord(0x1111, 0x2222))
	return ws
}

func (ws *workspace) writeFile(t *testing.T, rel, content string) {
	t.Helper()
	path := filepath.Join(ws.root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func (ws *workspace) recordPath(dir, stem string) string {
	return filepath.Join(ws.target, "debug", ".fingerprint", dir, stem+".json")
}

// writeRecord stores a record and its hash file the way cargo does and
// returns the record path.
func (ws *workspace) writeRecord(t *testing.T, dir, stem string, rec cargoRecord) string {
	t.Helper()
	path := ws.recordPath(dir, stem)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, rec.json(t), 0o644))
	require.NoError(t, os.WriteFile(strings.TrimSuffix(path, ".json"), []byte(fingerprint.FormatHash(rec.Hash)), 0o644))
	return path
}

// age moves the modification time of a record back by d.
func (ws *workspace) age(t *testing.T, dir, stem string, d time.Duration) {
	t.Helper()
	at := time.Now().Add(-d)
	require.NoError(t, os.Chtimes(ws.recordPath(dir, stem), at, at))
}

func (ws *workspace) store() *fingerprint.Store {
	return fingerprint.NewStore(ws.target)
}

// snapshot captures the records of every unit of g, as the pipeline does
// before running cargo.
func (ws *workspace) snapshot(g *graph.Graph) *fingerprint.Snapshot {
	return ws.store().Snapshot(locations(g))
}

// unitGraph returns cargo --unit-graph output for the workspace with the
// given features enabled on core.
func (ws *workspace) unitGraph(t *testing.T, coreFeatures ...string) []byte {
	t.Helper()
	if len(coreFeatures) == 0 {
		coreFeatures = []string{"std"}
	}
	type target struct {
		Kind       []string `json:"kind"`
		CrateTypes []string `json:"crate_types"`
		Name       string   `json:"name"`
		SrcPath    string   `json:"src_path"`
	}
	type dep struct {
		Index      int    `json:"index"`
		ExternName string `json:"extern_name"`
	}
	type unitJSON struct {
		PkgID        string            `json:"pkg_id"`
		Target       target            `json:"target"`
		Profile      map[string]string `json:"profile"`
		Mode         string            `json:"mode"`
		Features     []string          `json:"features"`
		Dependencies []dep             `json:"dependencies"`
	}
	dev := map[string]string{"name": "dev"}
	doc := map[string]any{
		"version": 1,
		"units": []unitJSON{
			{
				PkgID:    "core 0.1.0 (path+file://" + filepath.ToSlash(filepath.Join(ws.root, "core")) + ")",
				Target:   target{Kind: []string{"lib"}, CrateTypes: []string{"lib"}, Name: "core", SrcPath: filepath.Join(ws.root, "core", "src", "lib.rs")},
				Profile:  dev,
				Mode:     "build",
				Features: coreFeatures,
			},
			{
				PkgID:        "app 0.1.0 (path+file://" + filepath.ToSlash(ws.root) + ")",
				Target:       target{Kind: []string{"bin"}, CrateTypes: []string{"bin"}, Name: "app", SrcPath: filepath.Join(ws.root, "src", "main.rs")},
				Profile:      dev,
				Mode:         "build",
				Dependencies: []dep{{Index: 0, ExternName: "core"}},
			},
		},
		"roots": []int{1},
	}
	data, err := json.Marshal(doc)
	require.NoError(t, err)
	return data
}

func (ws *workspace) graph(t *testing.T, coreFeatures ...string) *graph.Graph {
	t.Helper()
	g, err := graph.BuildFromJSON(ws.unitGraph(t, coreFeatures...))
	require.NoError(t, err)
	return g
}

// buildTrace is the verbose stderr of a build that recompiled both units,
// followed by extra lines such as cargo's dirty reasons.
func buildTrace(extra ...string) string {
	lines := []string{
		"   Compiling core v0.1.0 (/ws/core)",
		"     Running `rustc --crate-name core --edition=2021 core/src/lib.rs --crate-type lib --cfg 'feature=\"std\"' -C opt-level=0 -C metadata=aa`",
		"   Compiling app v0.1.0 (/ws)",
		"     Running `rustc --crate-name app --edition=2021 src/main.rs --crate-type bin -C opt-level=0 -C metadata=bb`",
	}
	lines = append(lines, extra...)
	lines = append(lines, "    Finished `dev` profile [unoptimized + debuginfo] target(s) in 0.52s")
	return strings.Join(lines, "\n")
}

func (ws *workspace) config() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Project.Path = ws.root
	cfg.Analysis.Workers = 2
	return cfg
}

// fakeRunner stands in for cargo. build runs where cargo would compile and
// rewrite the fingerprint records.
type fakeRunner struct {
	graph    []byte
	stderr   string
	exitCode int
	err      error
	build    func()

	graphCalls int
	runArgs    []string
}

func (f *fakeRunner) Run(_ context.Context, args []string) (*buildrun.Result, error) {
	f.runArgs = args
	if f.err != nil {
		return nil, f.err
	}
	if f.build != nil {
		f.build()
	}
	return &buildrun.Result{
		Args:     append(append([]string(nil), args...), "-v"),
		ExitCode: f.exitCode,
		Stderr:   []byte(f.stderr),
	}, nil
}

func (f *fakeRunner) UnitGraph(_ context.Context, _ []string) ([]byte, error) {
	f.graphCalls++
	return f.graph, nil
}
