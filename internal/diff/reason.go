// Package diff compares a unit's persisted fingerprint record with its
// observed record and reports why they differ.
package diff

import (
	"fmt"
	"strings"

	"github.com/dbsmedya/cargowhy/internal/fingerprint"
	"github.com/dbsmedya/cargowhy/internal/unit"
)

// Kind tags a Reason.
type Kind string

// Reason kinds, in reporting precedence.
const (
	KindEnvChanged        Kind = "EnvChanged"
	KindFileChanged       Kind = "FileChanged"
	KindFlagsChanged      Kind = "FlagsChanged"
	KindFeatureChanged    Kind = "FeatureChanged"
	KindDependencyChanged Kind = "DependencyChanged"
	KindForcedOrUnknown   Kind = "ForcedOrUnknown"
)

func (k Kind) precedence() int {
	switch k {
	case KindEnvChanged:
		return 0
	case KindFileChanged:
		return 1
	case KindFlagsChanged:
		return 2
	case KindFeatureChanged:
		return 3
	case KindDependencyChanged:
		return 4
	default:
		return 5
	}
}

// EnvChange is a declared environment variable whose value changed.
// A nil value means the variable was unset. Note is set when a value is
// not known.
type EnvChange struct {
	Var  string  `json:"var" yaml:"var"`
	Old  *string `json:"old" yaml:"old"`
	New  *string `json:"new" yaml:"new"`
	Note string  `json:"note,omitempty" yaml:"note,omitempty"`
}

// FileChange is an input file whose signature changed. Note explains a
// change of signature method.
type FileChange struct {
	Path string                `json:"path" yaml:"path"`
	Old  fingerprint.Signature `json:"old" yaml:"old"`
	New  fingerprint.Signature `json:"new" yaml:"new"`
	Note string                `json:"note,omitempty" yaml:"note,omitempty"`
}

// ListChange carries the full old and new value of a flag list or feature
// set. For a hashed build setting, Setting names it and the lists hold its
// single value, or nothing when the value is not known.
type ListChange struct {
	Setting string   `json:"setting,omitempty" yaml:"setting,omitempty"`
	Old     []string `json:"old" yaml:"old"`
	New     []string `json:"new" yaml:"new"`
}

// DependencyChange is a dependency whose fingerprint hash changed.
// An empty hash means unknown.
type DependencyChange struct {
	Dep     unit.ID `json:"dep" yaml:"dep"`
	OldHash string  `json:"old_hash" yaml:"old_hash"`
	NewHash string  `json:"new_hash" yaml:"new_hash"`
}

// Reason is one cause of a unit being dirty. Exactly the field matching
// Kind is set; ForcedOrUnknown uses Detail only.
type Reason struct {
	Kind       Kind              `json:"kind" yaml:"kind"`
	Env        *EnvChange        `json:"env,omitempty" yaml:"env,omitempty"`
	File       *FileChange       `json:"file,omitempty" yaml:"file,omitempty"`
	Flags      *ListChange       `json:"flags,omitempty" yaml:"flags,omitempty"`
	Features   *ListChange       `json:"features,omitempty" yaml:"features,omitempty"`
	Dependency *DependencyChange `json:"dependency,omitempty" yaml:"dependency,omitempty"`
	Detail     string            `json:"detail,omitempty" yaml:"detail,omitempty"`
}

func envValue(e fingerprint.EnvVar) *string {
	if !e.Set {
		return nil
	}
	v := e.Value
	return &v
}

// EnvChanged reports a changed environment variable.
func EnvChanged(name string, old, new fingerprint.EnvVar) Reason {
	return Reason{Kind: KindEnvChanged, Env: &EnvChange{Var: name, Old: envValue(old), New: envValue(new)}}
}

// FileChanged reports a changed input file.
func FileChanged(path string, old, new fingerprint.Signature, note string) Reason {
	return Reason{Kind: KindFileChanged, File: &FileChange{Path: path, Old: old, New: new, Note: note}}
}

// FlagsChanged reports a changed compiler flag list.
func FlagsChanged(old, new []string) Reason {
	return Reason{Kind: KindFlagsChanged, Flags: &ListChange{Old: clone(old), New: clone(new)}}
}

// SettingChanged reports a changed build setting such as the profile or
// target configuration. An empty value means unknown.
func SettingChanged(name, old, new string) Reason {
	return Reason{Kind: KindFlagsChanged, Flags: &ListChange{Setting: name, Old: single(old), New: single(new)}}
}

// FeatureChanged reports a changed feature set.
func FeatureChanged(old, new []string) Reason {
	return Reason{Kind: KindFeatureChanged, Features: &ListChange{Old: clone(old), New: clone(new)}}
}

// DependencyChanged reports a dependency whose fingerprint changed.
func DependencyChanged(dep unit.ID, oldHash, newHash string) Reason {
	return Reason{Kind: KindDependencyChanged, Dependency: &DependencyChange{Dep: dep, OldHash: oldHash, NewHash: newHash}}
}

// ForcedOrUnknown reports a rebuild no recorded input explains.
func ForcedOrUnknown(detail string) Reason {
	return Reason{Kind: KindForcedOrUnknown, Detail: detail}
}

func single(v string) []string {
	if v == "" {
		return []string{}
	}
	return []string{v}
}

func clone(s []string) []string {
	if s == nil {
		return []string{}
	}
	return append([]string(nil), s...)
}

// Describe renders the reason as one line of text.
func (r Reason) Describe() string {
	switch r.Kind {
	case KindEnvChanged:
		if r.Env.Note != "" {
			return fmt.Sprintf("env %s changed, now %s (%s)", r.Env.Var, displayValue(r.Env.New), r.Env.Note)
		}
		return fmt.Sprintf("env %s %s", r.Env.Var, describeEnv(r.Env.Old, r.Env.New))
	case KindFileChanged:
		msg := fmt.Sprintf("file %s changed (%s -> %s)", r.File.Path, r.File.Old, r.File.New)
		if r.File.Note != "" {
			msg += ": " + r.File.Note
		}
		return msg
	case KindFlagsChanged:
		if r.Flags.Setting != "" {
			label := settingLabel(r.Flags.Setting)
			if len(r.Flags.Old) == 0 && len(r.Flags.New) == 0 {
				return label + " changed"
			}
			return fmt.Sprintf("%s changed: %s -> %s", label, singleOrUnknown(r.Flags.Old), singleOrUnknown(r.Flags.New))
		}
		return fmt.Sprintf("flags changed: %s -> %s", joinOrNone(r.Flags.Old), joinOrNone(r.Flags.New))
	case KindFeatureChanged:
		msg := fmt.Sprintf("features changed: %s -> %s", joinOrNone(r.Features.Old), joinOrNone(r.Features.New))
		added, removed := setDelta(r.Features.Old, r.Features.New)
		var delta []string
		for _, f := range added {
			delta = append(delta, "+"+f)
		}
		for _, f := range removed {
			delta = append(delta, "-"+f)
		}
		if len(delta) > 0 {
			msg += " (" + strings.Join(delta, " ") + ")"
		}
		return msg
	case KindDependencyChanged:
		if r.Dependency.OldHash == "" && r.Dependency.NewHash == "" {
			return fmt.Sprintf("dependency %s was rebuilt", r.Dependency.Dep)
		}
		return fmt.Sprintf("dependency %s changed (%s -> %s)",
			r.Dependency.Dep, shortHash(r.Dependency.OldHash), shortHash(r.Dependency.NewHash))
	case KindForcedOrUnknown:
		if r.Detail == "" {
			return "forced or unknown: no input change detected"
		}
		return "forced or unknown: " + r.Detail
	default:
		return string(r.Kind)
	}
}

func describeEnv(old, new *string) string {
	switch {
	case old != nil && new != nil:
		return fmt.Sprintf("changed from %q to %q", *old, *new)
	case old != nil:
		return fmt.Sprintf("was unset (was %q)", *old)
	case new != nil:
		return fmt.Sprintf("was set to %q", *new)
	default:
		return "changed"
	}
}

func displayValue(v *string) string {
	if v == nil {
		return "unset"
	}
	return fmt.Sprintf("%q", *v)
}

var settingLabels = map[string]string{
	fingerprint.SettingRustc:            "compiler version",
	fingerprint.SettingTarget:           "target configuration",
	fingerprint.SettingProfile:          "profile configuration",
	fingerprint.SettingPath:             "source path",
	fingerprint.SettingMetadata:         "package metadata",
	fingerprint.SettingConfig:           "config settings",
	fingerprint.SettingCompileKind:      "compile kind",
	fingerprint.SettingDeclaredFeatures: "declared features",
	fingerprint.SettingDepInfo:          "dep-info file",
	fingerprint.SettingPrecalculated:    "precalculated inputs",
	fingerprint.SettingRerunIfChanged:   "rerun-if-changed paths",
}

func settingLabel(name string) string {
	if label, ok := settingLabels[name]; ok {
		return label
	}
	return name
}

func singleOrUnknown(s []string) string {
	if len(s) == 0 {
		return "unknown"
	}
	return strings.Join(s, " ")
}

func joinOrNone(s []string) string {
	if len(s) == 0 {
		return "(none)"
	}
	return "[" + strings.Join(s, " ") + "]"
}

func shortHash(h string) string {
	if h == "" {
		return "unknown"
	}
	if len(h) > 12 {
		return h[:12]
	}
	return h
}

func setDelta(old, new []string) (added, removed []string) {
	oldSet := make(map[string]bool, len(old))
	for _, v := range old {
		oldSet[v] = true
	}
	newSet := make(map[string]bool, len(new))
	for _, v := range new {
		newSet[v] = true
		if !oldSet[v] {
			added = append(added, v)
		}
	}
	for _, v := range old {
		if !newSet[v] {
			removed = append(removed, v)
		}
	}
	return added, removed
}

// Suggestions returns actionable hints for the reason.
func (r Reason) Suggestions() []string {
	switch r.Kind {
	case KindEnvChanged:
		return envSuggestions(r.Env.Var)
	case KindFileChanged:
		return fileSuggestions(r.File.Path)
	case KindFlagsChanged:
		if r.Flags.Setting != "" {
			return settingSuggestions(r.Flags.Setting)
		}
		return []string{
			"Different development environments (nix-shell, different toolchains) pass different flags",
			"Use consistent RUSTFLAGS across builds or use cargo profiles",
		}
	case KindFeatureChanged:
		return []string{
			"Different cargo commands (e.g. --features vs --all-features) select different features",
			"Use consistent feature flags or expect rebuilds when changing features",
		}
	case KindDependencyChanged:
		return dependencySuggestions(r.Dependency.Dep)
	case KindForcedOrUnknown:
		return []string{
			"No recorded input changed: the build may have been forced or its output removed",
		}
	default:
		return nil
	}
}

func envSuggestions(name string) []string {
	switch {
	case name == "CC" || name == "CXX":
		return []string{
			"Ensure consistent compiler environment across builds",
			"Consider using direnv or similar tools to manage environment",
		}
	case name == "CARGO_TARGET_DIR":
		return []string{"Use consistent CARGO_TARGET_DIR or avoid setting it"}
	case name == "RUSTFLAGS" || name == "RUSTC_FLAGS":
		return []string{
			"Ensure consistent build flags across builds",
			"Consider using cargo profiles instead of environment variables",
		}
	case name == "PATH":
		return []string{
			"Ensure consistent PATH across builds",
			"Check if new tools were added or removed from PATH",
		}
	case strings.HasPrefix(name, "CARGO_"):
		return []string{"Check your cargo configuration and environment variables"}
	default:
		return []string{"Ensure consistent environment between builds"}
	}
}

func settingSuggestions(name string) []string {
	switch name {
	case fingerprint.SettingRustc:
		return []string{"The toolchain changed: pin it with rust-toolchain.toml"}
	case fingerprint.SettingProfile:
		return []string{"Profile settings changed in Cargo.toml or through CARGO_PROFILE_* variables"}
	case fingerprint.SettingTarget, fingerprint.SettingCompileKind:
		return []string{"Build the same targets for the same platform, or expect rebuilds when switching"}
	case fingerprint.SettingConfig:
		return []string{"Cargo configuration (.cargo/config.toml or CARGO_* variables) changed"}
	case fingerprint.SettingRerunIfChanged, fingerprint.SettingPrecalculated:
		return []string{"The build script reported different inputs than in the previous build"}
	default:
		return []string{"A build setting cargo tracks changed between builds"}
	}
}

func fileSuggestions(path string) []string {
	base := path[strings.LastIndexAny(path, `/\`)+1:]
	switch {
	case base == "Cargo.toml" || base == "Cargo.lock":
		return []string{"Project configuration changed. This triggers rebuilds of affected crates"}
	case base == "build.rs":
		return []string{"Build script changed. This often triggers rebuilds of multiple crates"}
	case strings.HasSuffix(base, ".rs"):
		return []string{
			"Source file modified",
			"Only top-level files are recorded; changes in modules it includes are reported through it",
		}
	default:
		return []string{"A file that affects the build process was modified"}
	}
}

func dependencySuggestions(dep unit.ID) []string {
	switch {
	case dep.Kind == unit.KindBuildScript || dep.Kind == unit.KindRunScript:
		return []string{
			"Environment variables or system dependencies read by the build script changed",
		}
	case strings.HasSuffix(dep.Name, "_sys"):
		return []string{
			"The underlying C library or its detection (pkg-config, cmake) changed",
		}
	default:
		return []string{
			"The dependency changed without being rebuilt in this run (e.g. a swapped prebuilt artifact)",
		}
	}
}
