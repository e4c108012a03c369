package diff

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"

	"github.com/dbsmedya/cargowhy/internal/fingerprint"
	"github.com/dbsmedya/cargowhy/internal/trace"
	"github.com/dbsmedya/cargowhy/internal/unit"
)

func hintContext() HintContext {
	before := baseFields()
	after := baseFields()
	after.Env[0].Value = "2"
	after.Deps[0].Hash = "h1-new"
	after.Settings[1].Value = "7"
	return HintContext{
		Unit:      libID,
		Persisted: fingerprint.NewRecord(before),
		Observed:  fingerprint.NewRecord(after),
		Dependency: func(name string) (unit.ID, bool) {
			if unit.NormalizeName(name) == "dep_a" {
				return depA, true
			}
			return unit.ID{}, false
		},
		Env: func(name string) fingerprint.EnvVar {
			return fingerprint.EnvVar{Name: name, Value: "live", Set: true}
		},
		File: func(path string) fingerprint.Signature {
			return fingerprint.Signature{Kind: fingerprint.SigHash, Hash: "now-" + path}
		},
	}
}

func TestFromHint(t *testing.T) {
	unknown := fingerprint.Signature{Kind: fingerprint.SigUnknown}

	tests := []struct {
		name string
		hint trace.Hint
		want Reason
	}{
		{
			name: "env with logged values",
			hint: trace.Hint{Kind: trace.HintEnvChanged, Subject: "CC", Old: trace.Value{Text: "gcc", Set: true}, Logged: true},
			want: Reason{Kind: KindEnvChanged, Env: &EnvChange{Var: "CC", Old: strPtr("gcc")}},
		},
		{
			name: "env from the records",
			hint: trace.Hint{Kind: trace.HintEnvChanged, Subject: "FOO"},
			want: Reason{Kind: KindEnvChanged, Env: &EnvChange{Var: "FOO", Old: strPtr("1"), New: strPtr("2")}},
		},
		{
			name: "env not in any record",
			hint: trace.Hint{Kind: trace.HintEnvChanged, Subject: "OPENSSL_DIR"},
			want: Reason{Kind: KindEnvChanged, Env: &EnvChange{Var: "OPENSSL_DIR", New: strPtr("live"), Note: "previous value not recorded"}},
		},
		{
			name: "file changed",
			hint: trace.Hint{Kind: trace.HintFileChanged, Subject: "src/lib.rs"},
			want: FileChanged("src/lib.rs", unknown, fingerprint.Signature{Kind: fingerprint.SigHash, Hash: "now-src/lib.rs"}, "newer than the last build"),
		},
		{
			name: "file missing",
			hint: trace.Hint{Kind: trace.HintFileMissing, Subject: "build.rs"},
			want: FileChanged("build.rs", unknown, fingerprint.Signature{Kind: fingerprint.SigMissing}, "file removed"),
		},
		{
			name: "dependency rebuilt",
			hint: trace.Hint{Kind: trace.HintDependencyRebuilt, Subject: "dep-a"},
			want: DependencyChanged(depA, "h1", "h1-new"),
		},
		{
			name: "dependency rebuilt with equal hashes",
			hint: trace.Hint{Kind: trace.HintDependencyRebuilt, Subject: "dep_b"},
			want: DependencyChanged(unit.ID{Name: "dep_b", Profile: "debug"}, "", ""),
		},
		{
			name: "dependency info with logged fingerprints",
			hint: trace.Hint{Kind: trace.HintDependencyInfo, Subject: "dep_a", Old: trace.Value{Text: "1", Set: true}, New: trace.Value{Text: "2", Set: true}, Logged: true},
			want: DependencyChanged(depA, fingerprint.FormatHash(1), fingerprint.FormatHash(2)),
		},
		{
			name: "features with logged values",
			hint: trace.Hint{Kind: trace.HintFeatures, Old: trace.Value{Text: `["default"]`, Set: true}, New: trace.Value{Text: `["default", "std"]`, Set: true}, Logged: true},
			want: FeatureChanged([]string{"default"}, []string{"default", "std"}),
		},
		{
			name: "rustflags from the records",
			hint: trace.Hint{Kind: trace.HintRustflags},
			want: FlagsChanged([]string{"-C", "opt-level=0"}, []string{"-C", "opt-level=0"}),
		},
		{
			name: "profile configuration",
			hint: trace.Hint{Kind: trace.HintProfileConfig},
			want: SettingChanged(fingerprint.SettingProfile, "2", "7"),
		},
		{
			name: "toolchain with unchanged records",
			hint: trace.Hint{Kind: trace.HintRustc},
			want: SettingChanged(fingerprint.SettingRustc, "", ""),
		},
		{
			name: "forced",
			hint: trace.Hint{Kind: trace.HintForced},
			want: ForcedOrUnknown("forced by cargo"),
		},
		{
			name: "fresh build",
			hint: trace.Hint{Kind: trace.HintFreshBuild},
			want: ForcedOrUnknown(NoPreviousRecord),
		},
		{
			name: "unclassified",
			hint: trace.Hint{Kind: "LocalLengthsChanged", Summary: "LocalLengthsChanged"},
			want: ForcedOrUnknown("cargo reported: LocalLengthsChanged"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := FromHint(tt.hint, hintContext())
			assert.True(t, ok)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("FromHint() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFromHint_WithoutRecords(t *testing.T) {
	hc := HintContext{Unit: libID}

	got, ok := FromHint(trace.Hint{Kind: trace.HintFileChanged, Subject: "src/lib.rs"}, hc)
	assert.True(t, ok)
	assert.Equal(t, fingerprint.SigUnknown, got.File.New.Kind)

	got, ok = FromHint(trace.Hint{Kind: trace.HintDependencyRebuilt, Subject: "core"}, hc)
	assert.True(t, ok)
	assert.Equal(t, unit.ID{Name: "core", Profile: "debug"}, got.Dependency.Dep)

	got, ok = FromHint(trace.Hint{Kind: trace.HintEnvChanged, Subject: "CC"}, hc)
	assert.True(t, ok)
	assert.Nil(t, got.Env.New)
	assert.Equal(t, "previous value not recorded", got.Env.Note)

	_, ok = FromHint(trace.Hint{Kind: trace.HintUnknown}, hc)
	assert.False(t, ok, "a hint without any text carries nothing")
}

func TestMerge(t *testing.T) {
	env := EnvChanged("FOO", fingerprint.EnvVar{Name: "FOO", Value: "1", Set: true}, fingerprint.EnvVar{Name: "FOO", Value: "2", Set: true})
	dep := DependencyChanged(depA, "h1", "h2")
	file := FileChanged("src/lib.rs", fingerprint.Signature{Kind: fingerprint.SigUnknown}, fingerprint.Signature{Kind: fingerprint.SigUnknown}, "")

	tests := []struct {
		name     string
		found    []Reason
		reported []Reason
		want     []Reason
	}{
		{
			name:     "reported reasons fill in what the records miss",
			found:    []Reason{dep},
			reported: []Reason{file, DependencyChanged(depA, "", "")},
			want:     []Reason{file, dep},
		},
		{
			name:     "duplicates keep the record's version",
			found:    []Reason{env},
			reported: []Reason{EnvChanged("FOO", fingerprint.EnvVar{}, fingerprint.EnvVar{})},
			want:     []Reason{env},
		},
		{
			name:     "specific reasons replace forced or unknown",
			found:    []Reason{ForcedOrUnknown(NoPreviousRecord)},
			reported: []Reason{dep},
			want:     []Reason{dep},
		},
		{
			name:     "forced or unknown from the records wins when nothing is specific",
			found:    []Reason{ForcedOrUnknown(NoPreviousRecord)},
			reported: []Reason{ForcedOrUnknown("forced by cargo")},
			want:     []Reason{ForcedOrUnknown(NoPreviousRecord)},
		},
		{
			name:     "reported forced or unknown",
			reported: []Reason{ForcedOrUnknown("forced by cargo")},
			want:     []Reason{ForcedOrUnknown("forced by cargo")},
		},
		{
			name: "nothing",
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Merge(tt.found, tt.reported)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Merge() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
