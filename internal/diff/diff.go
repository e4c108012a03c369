package diff

import (
	"fmt"
	"slices"

	"github.com/dbsmedya/cargowhy/internal/fingerprint"
	"github.com/dbsmedya/cargowhy/internal/unit"
)

// NoPreviousRecord is the ForcedOrUnknown detail used for a unit without a
// persisted record.
const NoPreviousRecord = "no previous fingerprint record"

// Diff compares a persisted record with the observed one and returns every
// difference, in the order env, files, flags and settings, features, deps.
// Within a category, entries follow the persisted record's order, then
// entries only the observed record has. Identical records yield an empty
// list.
//
// A nil persisted record yields a single ForcedOrUnknown reason.
func Diff(persisted, observed *fingerprint.Record) []Reason {
	if persisted == nil {
		return []Reason{ForcedOrUnknown(NoPreviousRecord)}
	}
	if observed == nil {
		return []Reason{ForcedOrUnknown("current inputs could not be observed")}
	}

	var reasons []Reason
	reasons = append(reasons, diffEnv(persisted, observed)...)
	reasons = append(reasons, diffFiles(persisted.Files(), observed.Files())...)
	if !slices.Equal(persisted.Flags(), observed.Flags()) {
		reasons = append(reasons, FlagsChanged(persisted.Flags(), observed.Flags()))
	}
	reasons = append(reasons, diffSettings(persisted, observed)...)
	if !slices.Equal(persisted.Features(), observed.Features()) {
		reasons = append(reasons, FeatureChanged(persisted.Features(), observed.Features()))
	}
	reasons = append(reasons, diffDeps(persisted.Deps(), observed.Deps())...)
	return reasons
}

// diffEnv only considers variables the persisted record declared; a variable
// that was never an input cannot have caused the rebuild.
func diffEnv(persisted, observed *fingerprint.Record) []Reason {
	var reasons []Reason
	for _, old := range persisted.Env() {
		cur, ok := observed.LookupEnv(old.Name)
		if !ok {
			cur = fingerprint.EnvVar{Name: old.Name}
		}
		if old.Set != cur.Set || old.Value != cur.Value {
			reasons = append(reasons, EnvChanged(old.Name, old, cur))
		}
	}
	return reasons
}

// diffSettings compares the hashed build settings both records carry.
func diffSettings(persisted, observed *fingerprint.Record) []Reason {
	var reasons []Reason
	for _, old := range persisted.Settings() {
		cur, ok := observed.Setting(old.Name)
		if ok && cur != old.Value {
			reasons = append(reasons, SettingChanged(old.Name, old.Value, cur))
		}
	}
	return reasons
}

func diffFiles(persisted, observed []fingerprint.FileEntry) []Reason {
	current := make(map[string]fingerprint.Signature, len(observed))
	for _, f := range observed {
		current[f.Path] = f.Sig
	}

	var reasons []Reason
	known := make(map[string]bool, len(persisted))
	for _, old := range persisted {
		known[old.Path] = true
		sig, ok := current[old.Path]
		if !ok {
			sig = fingerprint.Signature{Kind: fingerprint.SigMissing}
		}
		if old.Sig.Kind != sig.Kind {
			reasons = append(reasons, FileChanged(old.Path, old.Sig, sig, methodNote(old.Sig.Kind, sig.Kind)))
			continue
		}
		if !old.Sig.Equal(sig) {
			reasons = append(reasons, FileChanged(old.Path, old.Sig, sig, ""))
		}
	}
	for _, f := range observed {
		if !known[f.Path] && f.Sig.Kind != fingerprint.SigMissing {
			reasons = append(reasons, FileChanged(f.Path, fingerprint.Signature{Kind: fingerprint.SigMissing}, f.Sig, "file created"))
		}
	}
	return reasons
}

func methodNote(old, cur fingerprint.SigKind) string {
	switch {
	case cur == fingerprint.SigMissing:
		return "file removed"
	case old == fingerprint.SigMissing:
		return "file created"
	default:
		return fmt.Sprintf("signature method changed: %s -> %s", old, cur)
	}
}

func diffDeps(persisted, observed []fingerprint.DepEntry) []Reason {
	current := make(map[unit.ID]string, len(observed))
	for _, d := range observed {
		current[d.Unit] = d.Hash
	}

	var reasons []Reason
	known := make(map[unit.ID]bool, len(persisted))
	for _, old := range persisted {
		known[old.Unit] = true
		if cur := current[old.Unit]; cur != old.Hash {
			reasons = append(reasons, DependencyChanged(old.Unit, old.Hash, cur))
		}
	}
	for _, d := range observed {
		if !known[d.Unit] {
			reasons = append(reasons, DependencyChanged(d.Unit, "", d.Hash))
		}
	}
	return reasons
}
