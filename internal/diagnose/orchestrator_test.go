package diagnose

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbsmedya/cargowhy/internal/diff"
	"github.com/dbsmedya/cargowhy/internal/fingerprint"
	"github.com/dbsmedya/cargowhy/internal/graph"
	"github.com/dbsmedya/cargowhy/internal/trace"
	"github.com/dbsmedya/cargowhy/internal/unit"
)

func newTestOrchestrator(t *testing.T, ws *workspace, g *graph.Graph, previous fingerprint.Loader, env map[string]string) *Orchestrator {
	t.Helper()
	o, err := NewOrchestrator(g, previous, ws.store(), Options{
		Workers: 4,
		Root:    ws.root,
		LookupEnv: func(name string) (string, bool) {
			v, ok := env[name]
			return v, ok
		},
	})
	require.NoError(t, err)
	return o
}

func TestNewOrchestrator_Validation(t *testing.T) {
	store := fingerprint.NewStore("x")

	_, err := NewOrchestrator(nil, store, store, Options{})
	assert.Error(t, err)

	_, err = NewOrchestrator(graph.NewGraph(), nil, store, Options{})
	assert.Error(t, err)

	_, err = NewOrchestrator(graph.NewGraph(), store, nil, Options{})
	assert.Error(t, err)

	o, err := NewOrchestrator(graph.NewGraph(), store, store, Options{Workers: 0})
	require.NoError(t, err)
	assert.Equal(t, 1, o.opts.Workers)
}

func TestDiagnose_EnvChangePropagates(t *testing.T) {
	ws := newWorkspace(t)
	g := ws.graph(t)
	before := ws.snapshot(g)
	ws.writeRecord(t, coreDir, coreStem, coreRecord("slow", 0x3333))
	ws.writeRecord(t, appDir, appStem, appRecord(0x3333, 0x4444))
	o := newTestOrchestrator(t, ws, g, before, map[string]string{"CORE_MODE": "slow"})

	out, err := o.Diagnose(context.Background(), []unit.ID{coreID, appID})
	require.NoError(t, err)

	require.Equal(t, 1, out.Forest.RootCount())
	root := out.Forest.Roots[0]
	assert.Equal(t, coreID, root.Unit)
	require.Len(t, root.Reasons, 1)
	assert.Equal(t, diff.KindEnvChanged, root.Reasons[0].Kind)
	assert.Equal(t, "CORE_MODE", root.Reasons[0].Env.Var)

	require.Len(t, root.Children, 1)
	assert.Equal(t, appID, root.Children[0].Unit)
	assert.Equal(t, 1, root.Children[0].Distance)

	require.Len(t, out.Reasons[appID], 1)
	dep := out.Reasons[appID][0]
	assert.Equal(t, diff.KindDependencyChanged, dep.Kind)
	assert.Equal(t, coreID, dep.Dependency.Dep)
	assert.Equal(t, fingerprint.FormatHash(0x1111), dep.Dependency.OldHash)
	assert.Equal(t, fingerprint.FormatHash(0x3333), dep.Dependency.NewHash)
	assert.Empty(t, out.Failures)
	assert.Equal(t, 2, out.Forest.TotalRebuilt)
}

func TestDiagnose_FileChangeReportedByCargo(t *testing.T) {
	ws := newWorkspace(t)
	g := ws.graph(t)
	before := ws.snapshot(g)
	ws.writeFile(t, "core/src/lib.rs", "pub fn core() -> u8 { 1 }")
	g.GetNode(coreID).Hints = []trace.Hint{{
		Package: "core",
		Version: "0.1.0",
		Kind:    trace.HintFileChanged,
		Subject: "src/lib.rs",
		Summary: "the file `src/lib.rs` has changed",
	}}
	o := newTestOrchestrator(t, ws, g, before, map[string]string{"CORE_MODE": "fast"})

	out, err := o.Diagnose(context.Background(), []unit.ID{coreID})
	require.NoError(t, err)

	require.Equal(t, 1, out.Forest.RootCount())
	root := out.Forest.Roots[0]
	assert.False(t, root.Synthetic)
	require.Len(t, root.Reasons, 1)
	r := root.Reasons[0]
	assert.Equal(t, diff.KindFileChanged, r.Kind)
	assert.Equal(t, "src/lib.rs", r.File.Path)
	assert.Equal(t, fingerprint.SigUnknown, r.File.Old.Kind)

	want, err := fingerprint.HashFile(filepath.Join(ws.root, "core", "src", "lib.rs"))
	require.NoError(t, err)
	assert.Equal(t, fingerprint.Signature{Kind: fingerprint.SigHash, Hash: want}, r.File.New, "resolved against the package directory")
}

func TestDiagnose_FeatureFlipFindsEarlierRecord(t *testing.T) {
	ws := newWorkspace(t)
	ws.age(t, coreDir, coreStem, time.Hour)
	g := ws.graph(t, "simd", "std")
	before := ws.snapshot(g)

	// Enabling a feature gives the unit a new fingerprint directory; the
	// old one stays behind.
	flipped := unit.New("core", "0.1.0", unit.KindLib, "debug", []string{"simd", "std"})
	ws.writeRecord(t, "core-cc", coreStem, cargoRecord{
		Features: []string{"simd", "std"},
		Env:      coreRecord("fast", 0).Env,
		Hash:     0x5555,
	})
	ws.writeRecord(t, appDir, appStem, appRecord(0x5555, 0x6666))
	o := newTestOrchestrator(t, ws, g, before, map[string]string{"CORE_MODE": "fast"})

	out, err := o.Diagnose(context.Background(), []unit.ID{flipped, appID})
	require.NoError(t, err)

	assert.Empty(t, out.Failures)
	require.Equal(t, 1, out.Forest.RootCount())
	root := out.Forest.Roots[0]
	assert.Equal(t, flipped, root.Unit)
	require.Len(t, root.Reasons, 1)
	assert.Equal(t, diff.KindFeatureChanged, root.Reasons[0].Kind)
	assert.Equal(t, []string{"std"}, root.Reasons[0].Features.Old)
	assert.Equal(t, []string{"simd", "std"}, root.Reasons[0].Features.New)

	require.Len(t, root.Children, 1)
	assert.Equal(t, appID, root.Children[0].Unit)
}

func TestDiagnose_MissingRecordIsNotAFailure(t *testing.T) {
	ws := newWorkspace(t)
	require.NoError(t, os.RemoveAll(filepath.Dir(ws.recordPath(coreDir, coreStem))))
	g := ws.graph(t)
	before := ws.snapshot(g)
	ws.writeRecord(t, coreDir, coreStem, coreRecord("fast", 0x1111))
	o := newTestOrchestrator(t, ws, g, before, map[string]string{"CORE_MODE": "fast"})

	out, err := o.Diagnose(context.Background(), []unit.ID{coreID, appID})
	require.NoError(t, err)

	assert.Empty(t, out.Failures)
	require.Equal(t, 1, out.Forest.RootCount())
	root := out.Forest.Roots[0]
	assert.Equal(t, coreID, root.Unit)
	require.Len(t, root.Reasons, 1)
	assert.Equal(t, diff.KindForcedOrUnknown, root.Reasons[0].Kind)
	assert.Equal(t, diff.NoPreviousRecord, root.Reasons[0].Detail)
	require.Len(t, root.Children, 1)
	assert.Equal(t, appID, root.Children[0].Unit)
}

func TestDiagnose_CorruptRecordDegrades(t *testing.T) {
	ws := newWorkspace(t)
	require.NoError(t, os.WriteFile(ws.recordPath(coreDir, coreStem), []byte("{not json"), 0o644))
	g := ws.graph(t)
	before := ws.snapshot(g)
	ws.writeRecord(t, coreDir, coreStem, coreRecord("fast", 0x1111))
	o := newTestOrchestrator(t, ws, g, before, map[string]string{"CORE_MODE": "fast"})

	out, err := o.Diagnose(context.Background(), []unit.ID{coreID, appID})
	require.NoError(t, err)

	require.Len(t, out.Failures, 1)
	assert.Equal(t, coreID, out.Failures[0].Unit)
	assert.NotEmpty(t, out.Failures[0].Error)

	require.Len(t, out.Reasons[coreID], 1)
	assert.Equal(t, diff.KindForcedOrUnknown, out.Reasons[coreID][0].Kind)
	assert.Equal(t, out.Failures[0].Error, out.Reasons[coreID][0].Detail)

	require.Equal(t, 1, out.Forest.RootCount())
	assert.Equal(t, coreID, out.Forest.Roots[0].Unit)
}

func TestDiagnose_CargoReasonReplacesUnusableRecord(t *testing.T) {
	ws := newWorkspace(t)
	require.NoError(t, os.WriteFile(ws.recordPath(coreDir, coreStem), []byte("{not json"), 0o644))
	g := ws.graph(t)
	before := ws.snapshot(g)
	ws.writeRecord(t, coreDir, coreStem, coreRecord("slow", 0x3333))
	g.GetNode(coreID).Hints = []trace.Hint{{Package: "core", Kind: trace.HintEnvChanged, Subject: "CORE_MODE"}}
	o := newTestOrchestrator(t, ws, g, before, map[string]string{"CORE_MODE": "slow"})

	out, err := o.Diagnose(context.Background(), []unit.ID{coreID})
	require.NoError(t, err)

	require.Len(t, out.Failures, 1, "the record is still reported as unusable")
	require.Len(t, out.Reasons[coreID], 1)
	r := out.Reasons[coreID][0]
	assert.Equal(t, diff.KindEnvChanged, r.Kind)
	assert.Equal(t, "CORE_MODE", r.Env.Var)
	require.NotNil(t, r.Env.New)
	assert.Equal(t, "slow", *r.Env.New)
	assert.Nil(t, r.Env.Old)
}

func TestDiagnose_NothingIntrinsicBecomesSyntheticRoot(t *testing.T) {
	ws := newWorkspace(t)
	g := ws.graph(t)
	o := newTestOrchestrator(t, ws, g, ws.snapshot(g), map[string]string{"CORE_MODE": "fast"})

	out, err := o.Diagnose(context.Background(), []unit.ID{appID})
	require.NoError(t, err)

	assert.Empty(t, out.Reasons[appID])
	require.Equal(t, 1, out.Forest.RootCount())
	assert.True(t, out.Forest.Roots[0].Synthetic)
}

func TestDiagnose_EmptyRebuildSet(t *testing.T) {
	ws := newWorkspace(t)
	g := ws.graph(t)
	o := newTestOrchestrator(t, ws, g, ws.store(), nil)

	out, err := o.Diagnose(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, out.Forest.RootCount())
	assert.Zero(t, out.Forest.TotalRebuilt)
}

func TestDiagnose_UnitNotInGraph(t *testing.T) {
	ws := newWorkspace(t)
	g := ws.graph(t)
	o := newTestOrchestrator(t, ws, g, ws.store(), nil)

	stranger := unit.New("stranger", "1.0.0", unit.KindLib, "debug", nil)
	_, err := o.Diagnose(context.Background(), []unit.ID{coreID, stranger})
	require.Error(t, err)
	assert.ErrorIs(t, err, graph.ErrGraphInconsistent)
}

func TestDiagnose_CyclicGraph(t *testing.T) {
	a := unit.New("a", "1.0.0", unit.KindLib, "debug", nil)
	b := unit.New("b", "1.0.0", unit.KindLib, "debug", nil)
	g := graph.NewGraph()
	g.AddNode(a, nil)
	g.AddNode(b, nil)
	g.AddEdge(a, b)
	g.AddEdge(b, a)

	store := fingerprint.NewStore(t.TempDir())
	o, err := NewOrchestrator(g, store, store, Options{})
	require.NoError(t, err)

	_, err = o.Diagnose(context.Background(), []unit.ID{a, b})
	require.Error(t, err)
	assert.ErrorIs(t, err, graph.ErrCycleDetected)
}

func TestDiagnose_Cancelled(t *testing.T) {
	ws := newWorkspace(t)
	g := ws.graph(t)
	o := newTestOrchestrator(t, ws, g, ws.store(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := o.Diagnose(ctx, []unit.ID{coreID, appID})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
