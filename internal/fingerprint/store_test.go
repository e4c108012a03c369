package fingerprint

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbsmedya/cargowhy/internal/graph"
)

// cargoFixture describes a record in cargo's on-disk format.
type cargoFixture struct {
	Rustc     uint64
	Profile   uint64
	Features  []string
	Rustflags []string
	Deps      []fixtureDep
	Env       []EnvVar // written as RerunIfEnvChanged entries
	DepInfo   string   // written as a CheckDepInfo entry
	Legacy    bool     // three-field dependency entries
}

type fixtureDep struct {
	Name string
	Hash uint64
}

func (f cargoFixture) json(t *testing.T) []byte {
	t.Helper()
	quoted := make([]string, len(f.Features))
	for i, name := range f.Features {
		quoted[i] = strconv.Quote(name)
	}
	deps := make([]any, 0, len(f.Deps))
	for i, d := range f.Deps {
		pkgID := uint64(9000 + i)
		if f.Legacy {
			deps = append(deps, []any{pkgID, d.Name, d.Hash})
		} else {
			deps = append(deps, []any{pkgID, d.Name, false, d.Hash})
		}
	}
	local := []any{}
	if f.DepInfo != "" {
		local = append(local, map[string]any{"CheckDepInfo": map[string]any{"dep_info": f.DepInfo, "checksum": false}})
	}
	for _, e := range f.Env {
		var val any
		if e.Set {
			val = e.Value
		}
		local = append(local, map[string]any{"RerunIfEnvChanged": map[string]any{"var": e.Name, "val": val}})
	}
	rustflags := f.Rustflags
	if rustflags == nil {
		rustflags = []string{}
	}
	data, err := json.Marshal(map[string]any{
		"rustc":             f.Rustc,
		"features":          "[" + strings.Join(quoted, ", ") + "]",
		"declared_features": "[]",
		"target":            uint64(7),
		"profile":           f.Profile,
		"path":              uint64(9),
		"deps":              deps,
		"local":             local,
		"rustflags":         rustflags,
		"config":            uint64(0),
		"compile_kind":      uint64(0),
	})
	require.NoError(t, err)
	return data
}

// writeFingerprint stores a record and its hash file the way cargo lays
// them out and returns the record path.
func writeFingerprint(t *testing.T, target, dir, stem string, data []byte, hash uint64) string {
	t.Helper()
	path := filepath.Join(target, "debug", fingerprintDir, dir, stem+".json")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, data, 0o644))
	if hash != 0 {
		require.NoError(t, os.WriteFile(strings.TrimSuffix(path, ".json"), []byte(FormatHash(hash)), 0o644))
	}
	return path
}

func setModTime(t *testing.T, path string, at time.Time) {
	t.Helper()
	require.NoError(t, os.Chtimes(path, at, at))
}

var coreLoc = Location{Unit: coreID, Stem: "lib-core_utils"}

func TestLocationOf(t *testing.T) {
	tests := []struct {
		name string
		node graph.Node
		want string
	}{
		{"lib", graph.Node{ID: coreID, Target: "core_utils", TargetKind: "lib", Mode: "build"}, "lib-core_utils"},
		{"proc macro", graph.Node{ID: coreID, Target: "derive_it", TargetKind: "proc-macro", Mode: "build"}, "lib-derive_it"},
		{"bin", graph.Node{ID: appID, Target: "app-cli", TargetKind: "bin", Mode: "build"}, "bin-app-cli"},
		{"unit tests of a lib", graph.Node{ID: coreID, Target: "core_utils", TargetKind: "lib", Mode: "test"}, "test-lib-core_utils"},
		{"integration test", graph.Node{ID: appID, Target: "api", TargetKind: "test", Mode: "test"}, "test-integration-test-api"},
		{"bench", graph.Node{ID: appID, Target: "speed", TargetKind: "bench", Mode: "bench"}, "test-bench-speed"},
		{"example", graph.Node{ID: appID, Target: "demo", TargetKind: "example", Mode: "build"}, "example-demo"},
		{"build script", graph.Node{ID: coreID, Target: "build-script-build", TargetKind: "custom-build", Mode: "build"}, "build-script-build-script-build"},
		{"build script run", graph.Node{ID: coreID, Target: "build-script-build", TargetKind: "custom-build", Mode: "run-custom-build"}, "run-build-script-build-script-build"},
		{"docs", graph.Node{ID: coreID, Target: "core_utils", TargetKind: "lib", Mode: "doc"}, "doc-lib-core_utils"},
		{"no target details", graph.Node{ID: appID}, "bin-app"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loc := LocationOf(&tt.node)
			assert.Equal(t, tt.want, loc.Stem)
			assert.Equal(t, tt.node.ID, loc.Unit)
		})
	}

	node := graph.Node{ID: coreID, Target: "core_utils", TargetKind: "lib", Invocation: graph.Invocation{Metadata: "0a0b"}}
	assert.Equal(t, "0a0b", LocationOf(&node).Meta)
}

func TestStore_Load(t *testing.T) {
	target := t.TempDir()
	fixture := cargoFixture{
		Rustc:    11,
		Profile:  21,
		Features: []string{"std"},
		Deps:     []fixtureDep{{Name: "libc", Hash: 42}},
		Env:      []EnvVar{{Name: "CORE_MODE", Value: "fast", Set: true}},
		DepInfo:  "lib-core_utils",
	}
	writeFingerprint(t, target, "core-utils-0123456789abcdef", "lib-core_utils", fixture.json(t), 0xfeed)
	writeFingerprint(t, target, "core-utils-extra-0123456789abcdef", "lib-core_utils", []byte("{"), 0)

	rec, err := NewStore(target).Load(coreLoc)
	require.NoError(t, err)

	assert.Equal(t, SchemaCurrent, rec.SchemaVersion())
	assert.Equal(t, coreID, rec.Unit())
	assert.Equal(t, "core-utils-0123456789abcdef", rec.Dir())
	assert.Equal(t, FormatHash(0xfeed), rec.Fingerprint())
	assert.Equal(t, []string{"std"}, rec.Features())
	assert.Equal(t, []DepEntry{{Name: "libc", Hash: FormatHash(42)}}, rec.Deps())
	assert.Equal(t, []EnvVar{{Name: "CORE_MODE", Value: "fast", Set: true}}, rec.Env())

	rustc, _ := rec.Setting(SettingRustc)
	assert.Equal(t, "11", rustc)
	depInfo, _ := rec.Setting(SettingDepInfo)
	assert.Equal(t, "lib-core_utils", depInfo)
}

func TestStore_LoadMissing(t *testing.T) {
	_, err := NewStore(t.TempDir()).Load(coreLoc)
	require.Error(t, err)

	var recErr *RecordError
	require.True(t, errors.As(err, &recErr))
	assert.True(t, errors.Is(err, ErrRecordMissing))
	assert.Contains(t, recErr.Path, "lib-core_utils.json")
}

func TestStore_LoadCorrupt(t *testing.T) {
	target := t.TempDir()
	path := writeFingerprint(t, target, "core-utils-0123456789abcdef", "lib-core_utils", []byte("{not json"), 0)

	_, err := NewStore(target).Load(coreLoc)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRecordCorrupt))

	var recErr *RecordError
	require.True(t, errors.As(err, &recErr))
	assert.Equal(t, path, recErr.Path)
}

func TestStore_LoadUnsupported(t *testing.T) {
	target := t.TempDir()
	writeFingerprint(t, target, "core-utils-0123456789abcdef", "lib-core_utils", []byte(`{"schema_version": 2, "unit": {}}`), 0)

	_, err := NewStore(target).Load(coreLoc)
	assert.True(t, errors.Is(err, ErrSchemaUnsupported))
}

func TestStore_LoadDirectoryInsteadOfFile(t *testing.T) {
	target := t.TempDir()
	path := filepath.Join(target, "debug", fingerprintDir, "core-utils-0123456789abcdef", "lib-core_utils.json")
	require.NoError(t, os.MkdirAll(path, 0o755))

	_, err := NewStore(target).Load(coreLoc)
	assert.True(t, errors.Is(err, ErrRecordCorrupt))
}

func TestStore_PicksDirectory(t *testing.T) {
	target := t.TempDir()
	now := time.Now()
	for i, dir := range []string{"core-utils-aaaa", "core-utils-bbbb", "core-utils-cccc"} {
		path := writeFingerprint(t, target, dir, "lib-core_utils", cargoFixture{Rustc: uint64(i + 1)}.json(t), 0)
		age := map[string]time.Duration{"core-utils-aaaa": 3 * time.Hour, "core-utils-bbbb": time.Hour, "core-utils-cccc": 2 * time.Hour}[dir]
		setModTime(t, path, now.Add(-age))
	}
	store := NewStore(target)

	tests := []struct {
		name    string
		loc     Location
		wantDir string
	}{
		{"newest without hints", coreLoc, "core-utils-bbbb"},
		{"metadata suffix", Location{Unit: coreID, Stem: coreLoc.Stem, Meta: "cccc"}, "core-utils-cccc"},
		{"directory wins over metadata", Location{Unit: coreID, Stem: coreLoc.Stem, Dir: "core-utils-aaaa", Meta: "cccc"}, "core-utils-aaaa"},
		{"unknown directory falls back to newest", Location{Unit: coreID, Stem: coreLoc.Stem, Dir: "core-utils-ffff"}, "core-utils-bbbb"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := store.Load(tt.loc)
			require.NoError(t, err)
			assert.Equal(t, tt.wantDir, rec.Dir())
		})
	}
}

func TestSnapshot_KeepsEarlierRecords(t *testing.T) {
	target := t.TempDir()
	writeFingerprint(t, target, "core-utils-aaaa", "lib-core_utils", cargoFixture{Rustc: 1}.json(t), 0x1)
	store := NewStore(target)

	snap := store.Snapshot([]Location{coreLoc, coreLoc})
	assert.Equal(t, 1, snap.Len())
	assert.False(t, snap.TakenAt().IsZero())

	writeFingerprint(t, target, "core-utils-aaaa", "lib-core_utils", cargoFixture{Rustc: 2}.json(t), 0x2)

	before, err := snap.Load(coreLoc)
	require.NoError(t, err)
	after, err := store.Load(coreLoc)
	require.NoError(t, err)

	rustc, _ := before.Setting(SettingRustc)
	assert.Equal(t, "1", rustc)
	assert.Equal(t, FormatHash(0x1), before.Fingerprint())
	rustc, _ = after.Setting(SettingRustc)
	assert.Equal(t, "2", rustc)
}

func TestSnapshot_NewDirectoryFallsBackToNewest(t *testing.T) {
	target := t.TempDir()
	writeFingerprint(t, target, "core-utils-aaaa", "lib-core_utils", cargoFixture{Features: []string{"std"}}.json(t), 0)
	snap := NewStore(target).Snapshot([]Location{coreLoc})

	writeFingerprint(t, target, "core-utils-bbbb", "lib-core_utils", cargoFixture{Features: []string{"extra", "std"}}.json(t), 0)

	rec, err := snap.Load(Location{Unit: coreID, Stem: coreLoc.Stem, Dir: "core-utils-bbbb", Meta: "bbbb"})
	require.NoError(t, err)
	assert.Equal(t, "core-utils-aaaa", rec.Dir())
	assert.Equal(t, []string{"std"}, rec.Features())
}

func TestSnapshot_Missing(t *testing.T) {
	snap := NewStore(t.TempDir()).Snapshot([]Location{coreLoc})
	assert.Equal(t, 0, snap.Len())

	_, err := snap.Load(coreLoc)
	assert.True(t, errors.Is(err, ErrRecordMissing))

	_, err = snap.Load(Location{Unit: appID, Stem: "bin-app"})
	assert.True(t, errors.Is(err, ErrRecordMissing), "units not captured are missing")
}
