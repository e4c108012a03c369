// Package unit provides the identity of a compilation unit for cargowhy.
package unit

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// Target kinds reported by cargo.
const (
	KindLib         = "lib"
	KindBin         = "bin"
	KindTest        = "test"
	KindBench       = "bench"
	KindExample     = "example"
	KindBuildScript = "build-script"
	KindProcMacro   = "proc-macro"
	KindRunScript   = "run-build-script"
)

// ID is the stable identity of one compilation unit. It is the join key
// between the unit graph, fingerprint records and rebuild events.
type ID struct {
	Name        string `json:"name" yaml:"name"`
	Version     string `json:"version" yaml:"version"`
	Kind        string `json:"kind" yaml:"kind"`
	Target      string `json:"target,omitempty" yaml:"target,omitempty"`
	Profile     string `json:"profile" yaml:"profile"`
	FeatureHash string `json:"feature_hash" yaml:"feature_hash"`
}

// New creates an ID, normalizing the crate name and hashing the feature set.
func New(name, version, kind, profile string, features []string) ID {
	return ID{
		Name:        NormalizeName(name),
		Version:     strings.TrimPrefix(version, "v"),
		Kind:        kind,
		Profile:     profile,
		FeatureHash: FeatureHash(features),
	}
}

// WithTarget returns a copy of id naming a specific target of the package.
// It is needed when one package has several targets of the same kind.
func (id ID) WithTarget(target string) ID {
	id.Target = NormalizeName(target)
	return id
}

// NormalizeName maps a crate name to its canonical form.
// Hyphens and underscores are equivalent in crate names.
func NormalizeName(name string) string {
	return strings.ReplaceAll(strings.TrimSpace(name), "-", "_")
}

// FeatureHash returns a short stable hash of a feature set.
// Order and duplicates do not matter.
func FeatureHash(features []string) string {
	set := SortedSet(features)
	sum := sha256.Sum256([]byte(strings.Join(set, ",")))
	return hex.EncodeToString(sum[:])[:16]
}

// SortedSet returns the distinct, sorted values of in.
func SortedSet(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// String renders the unit as "name vX.Y.Z (kind, profile)".
func (id ID) String() string {
	if id.Version == "" && id.Kind == "" {
		return id.Name
	}
	if id.Target != "" && id.Target != id.Name {
		return fmt.Sprintf("%s v%s (%s %s, %s)", id.Name, id.Version, id.Kind, id.Target, id.Profile)
	}
	return fmt.Sprintf("%s v%s (%s, %s)", id.Name, id.Version, id.Kind, id.Profile)
}

// Key returns a filesystem-safe key for the unit, unique per profile.
func (id ID) Key() string {
	if id.Target != "" && id.Target != id.Name {
		return fmt.Sprintf("%s-%s-%s-%s-%s", id.Name, id.Version, id.Kind, id.Target, id.FeatureHash)
	}
	return fmt.Sprintf("%s-%s-%s-%s", id.Name, id.Version, id.Kind, id.FeatureHash)
}

// IsZero reports whether id is the zero value.
func (id ID) IsZero() bool {
	return id == ID{}
}

// Less orders units by name, version, kind, profile and feature hash.
func (id ID) Less(other ID) bool {
	if id.Name != other.Name {
		return id.Name < other.Name
	}
	if id.Version != other.Version {
		return id.Version < other.Version
	}
	if id.Kind != other.Kind {
		return id.Kind < other.Kind
	}
	if id.Target != other.Target {
		return id.Target < other.Target
	}
	if id.Profile != other.Profile {
		return id.Profile < other.Profile
	}
	return id.FeatureHash < other.FeatureHash
}

// Sort sorts ids in place using Less.
func Sort(ids []ID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i].Less(ids[j]) })
}
