package diff

import (
	"sort"
	"strconv"

	"github.com/dbsmedya/cargowhy/internal/fingerprint"
	"github.com/dbsmedya/cargowhy/internal/trace"
	"github.com/dbsmedya/cargowhy/internal/unit"
)

// HintContext supplies what FromHint needs beyond the hint itself.
type HintContext struct {
	Unit      unit.ID
	Persisted *fingerprint.Record // record before the build, or nil
	Observed  *fingerprint.Record // record after the build, or nil

	// Dependency resolves a dependency name as cargo printed it.
	Dependency func(name string) (unit.ID, bool)
	// Env returns the current value of a variable.
	Env func(name string) fingerprint.EnvVar
	// File returns the current signature of a file cargo named.
	File func(path string) fingerprint.Signature
}

// dirty reasons that name a hashed build setting
var hintSettings = map[string]string{
	trace.HintDeclaredFeatures: fingerprint.SettingDeclaredFeatures,
	trace.HintTargetConfig:     fingerprint.SettingTarget,
	trace.HintProfileConfig:    fingerprint.SettingProfile,
	trace.HintRustc:            fingerprint.SettingRustc,
	trace.HintConfigSettings:   fingerprint.SettingConfig,
	trace.HintCompileKind:      fingerprint.SettingCompileKind,
	trace.HintMetadata:         fingerprint.SettingMetadata,
	trace.HintSourcePath:       fingerprint.SettingPath,
}

// FromHint turns a dirty reason cargo reported into a Reason. Values cargo
// did not print are taken from the records. It returns false for a hint
// that carries nothing.
func FromHint(h trace.Hint, hc HintContext) (Reason, bool) {
	switch h.Kind {
	case trace.HintEnvChanged:
		return hc.envReason(h), true
	case trace.HintFileChanged, trace.HintFileMissing:
		return hc.fileReason(h), true
	case trace.HintDependencyRebuilt, trace.HintDependencyInfo:
		return hc.dependencyReason(h), true
	case trace.HintFeatures:
		if h.Logged {
			return FeatureChanged(trace.List(h.Old.Text), trace.List(h.New.Text)), true
		}
		var old, cur []string
		if hc.Persisted != nil {
			old = hc.Persisted.Features()
		}
		if hc.Observed != nil {
			cur = hc.Observed.Features()
		}
		return FeatureChanged(old, cur), true
	case trace.HintRustflags:
		if h.Logged {
			return FlagsChanged(trace.List(h.Old.Text), trace.List(h.New.Text)), true
		}
		var old, cur []string
		if hc.Persisted != nil {
			old = hc.Persisted.Flags()
		}
		if hc.Observed != nil {
			cur = hc.Observed.Flags()
		}
		return FlagsChanged(old, cur), true
	case trace.HintForced:
		return ForcedOrUnknown("forced by cargo"), true
	case trace.HintFreshBuild:
		return ForcedOrUnknown(NoPreviousRecord), true
	}
	if setting, ok := hintSettings[h.Kind]; ok {
		return hc.settingReason(setting), true
	}
	if h.Summary == "" {
		return Reason{}, false
	}
	return ForcedOrUnknown("cargo reported: " + h.Summary), true
}

func (hc HintContext) envReason(h trace.Hint) Reason {
	name := h.Subject
	if h.Logged {
		return EnvChanged(name,
			fingerprint.EnvVar{Name: name, Value: h.Old.Text, Set: h.Old.Set},
			fingerprint.EnvVar{Name: name, Value: h.New.Text, Set: h.New.Set})
	}

	cur := fingerprint.EnvVar{Name: name}
	if e, ok := hc.lookupObserved(name); ok {
		cur = e
	} else if hc.Env != nil {
		cur = hc.Env(name)
	}
	if hc.Persisted != nil {
		if old, ok := hc.Persisted.LookupEnv(name); ok {
			return EnvChanged(name, old, cur)
		}
	}
	r := EnvChanged(name, fingerprint.EnvVar{Name: name}, cur)
	r.Env.Note = "previous value not recorded"
	return r
}

func (hc HintContext) lookupObserved(name string) (fingerprint.EnvVar, bool) {
	if hc.Observed == nil {
		return fingerprint.EnvVar{}, false
	}
	return hc.Observed.LookupEnv(name)
}

func (hc HintContext) fileReason(h trace.Hint) Reason {
	unknown := fingerprint.Signature{Kind: fingerprint.SigUnknown}
	if h.Kind == trace.HintFileMissing {
		return FileChanged(h.Subject, unknown, fingerprint.Signature{Kind: fingerprint.SigMissing}, "file removed")
	}
	cur := unknown
	if hc.File != nil {
		cur = hc.File(h.Subject)
	}
	return FileChanged(h.Subject, unknown, cur, "newer than the last build")
}

func (hc HintContext) dependencyReason(h trace.Hint) Reason {
	dep := unit.ID{Name: unit.NormalizeName(h.Subject), Profile: hc.Unit.Profile}
	if hc.Dependency != nil {
		if id, ok := hc.Dependency(h.Subject); ok {
			dep = id
		}
	}

	var oldHash, newHash string
	if hc.Persisted != nil {
		oldHash, _ = hc.Persisted.DepHash(dep)
	}
	if hc.Observed != nil {
		newHash, _ = hc.Observed.DepHash(dep)
	}
	if h.Logged {
		if v, err := strconv.ParseUint(h.Old.Text, 10, 64); err == nil {
			oldHash = fingerprint.FormatHash(v)
		}
		if v, err := strconv.ParseUint(h.New.Text, 10, 64); err == nil {
			newHash = fingerprint.FormatHash(v)
		}
	}
	if oldHash == newHash {
		oldHash, newHash = "", ""
	}
	return DependencyChanged(dep, oldHash, newHash)
}

func (hc HintContext) settingReason(name string) Reason {
	var old, cur string
	if hc.Persisted != nil {
		old, _ = hc.Persisted.Setting(name)
	}
	if hc.Observed != nil {
		cur, _ = hc.Observed.Setting(name)
	}
	if old == cur {
		old, cur = "", ""
	}
	return SettingChanged(name, old, cur)
}

// Merge combines the reasons found by comparing records with the reasons
// cargo reported. A reason already present is dropped, and ForcedOrUnknown
// is kept only when nothing more specific is known. The result is ordered
// by category and keeps the order within each.
func Merge(found, reported []Reason) []Reason {
	var out, unknown []Reason
	seen := make(map[string]bool)
	for _, list := range [][]Reason{found, reported} {
		for _, r := range list {
			if r.Kind == KindForcedOrUnknown {
				unknown = append(unknown, r)
				continue
			}
			key := r.key()
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, r)
		}
	}
	if len(out) == 0 {
		if len(unknown) > 0 {
			return unknown[:1]
		}
		return nil
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Kind.precedence() < out[j].Kind.precedence()
	})
	return out
}

// key identifies what a reason is about, for de-duplication.
func (r Reason) key() string {
	switch r.Kind {
	case KindEnvChanged:
		return "env/" + r.Env.Var
	case KindFileChanged:
		return "file/" + r.File.Path
	case KindFlagsChanged:
		return "flags/" + r.Flags.Setting
	case KindFeatureChanged:
		return "features"
	case KindDependencyChanged:
		return "dep/" + r.Dependency.Dep.Profile + "/" + r.Dependency.Dep.Key()
	default:
		return string(r.Kind) + "/" + r.Detail
	}
}
