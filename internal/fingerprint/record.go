// Package fingerprint reads cargo's persisted per-unit fingerprint records
// and builds the freshly observed records they are compared against.
package fingerprint

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/elliotchance/orderedmap/v2"

	"github.com/dbsmedya/cargowhy/internal/unit"
)

// SigKind identifies how a file's content signature was measured.
type SigKind string

const (
	SigHash    SigKind = "hash"    // sha256 of the file content
	SigMtime   SigKind = "mtime"   // modification time and size
	SigMissing SigKind = "missing" // file did not exist
	SigUnknown SigKind = "unknown" // not recorded
)

// Signature is the content signature of one input file.
type Signature struct {
	Kind       SigKind `json:"kind" yaml:"kind"`
	Hash       string  `json:"hash,omitempty" yaml:"hash,omitempty"`
	MtimeNanos int64   `json:"mtime_ns,omitempty" yaml:"mtime_ns,omitempty"`
	Size       int64   `json:"size,omitempty" yaml:"size,omitempty"`
}

// Equal reports whether two signatures describe the same content.
func (s Signature) Equal(other Signature) bool {
	return s == other
}

func (s Signature) String() string {
	switch s.Kind {
	case SigHash:
		h := s.Hash
		if len(h) > 12 {
			h = h[:12]
		}
		return "hash " + h
	case SigMtime:
		return fmt.Sprintf("mtime %d size %d", s.MtimeNanos, s.Size)
	case SigMissing:
		return "missing"
	default:
		return string(s.Kind)
	}
}

// EnvVar is one declared environment input. Set is false when the variable
// was not defined.
type EnvVar struct {
	Name  string `json:"name" yaml:"name"`
	Value string `json:"value,omitempty" yaml:"value,omitempty"`
	Set   bool   `json:"set" yaml:"set"`
}

// Display renders the value, or <unset>.
func (e EnvVar) Display() string {
	if !e.Set {
		return "<unset>"
	}
	return strconv.Quote(e.Value)
}

// FileEntry is one input file and its signature.
type FileEntry struct {
	Path string    `json:"path" yaml:"path"`
	Sig  Signature `json:"sig" yaml:"sig"`
}

// DepEntry is one dependency and the dependency's own fingerprint hash.
// Name is the crate name the record uses for it.
type DepEntry struct {
	Unit unit.ID `json:"unit" yaml:"unit"`
	Name string  `json:"name,omitempty" yaml:"name,omitempty"`
	Hash string  `json:"hash" yaml:"hash"`
}

// Setting is one hashed build setting of a record: the compiler version,
// the profile and target configuration, and similar values cargo stores
// as opaque hashes.
type Setting struct {
	Name  string `json:"name" yaml:"name"`
	Value string `json:"value" yaml:"value"`
}

// Setting names.
const (
	SettingRustc            = "rustc"
	SettingTarget           = "target"
	SettingProfile          = "profile"
	SettingPath             = "path"
	SettingMetadata         = "metadata"
	SettingConfig           = "config"
	SettingCompileKind      = "compile_kind"
	SettingDeclaredFeatures = "declared_features"
	SettingDepInfo          = "dep_info"
	SettingPrecalculated    = "precalculated"
	SettingRerunIfChanged   = "rerun_if_changed"
)

// Fields carries the inputs for NewRecord.
type Fields struct {
	SchemaVersion int
	Unit          unit.ID
	Profile       string
	Dir           string // fingerprint directory the record was read from
	Hash          string // cargo's own fingerprint hash, if known
	Env           []EnvVar
	Files         []FileEntry
	Flags         []string
	Settings      []Setting
	Features      []string
	Deps          []DepEntry
}

// Record is an immutable snapshot of one unit's build inputs.
// A new build produces a new Record; records are never patched.
type Record struct {
	schemaVersion int
	unit          unit.ID
	profile       string
	dir           string
	hash          string
	env           *orderedmap.OrderedMap[string, EnvVar]
	files         []FileEntry
	flags         []string
	settings      *orderedmap.OrderedMap[string, string]
	features      []string
	deps          []DepEntry
}

// NewRecord builds a Record, copying every slice in f.
// Duplicate env or setting names keep their first position and last value.
func NewRecord(f Fields) *Record {
	env := orderedmap.NewOrderedMap[string, EnvVar]()
	for _, e := range f.Env {
		env.Set(e.Name, e)
	}
	settings := orderedmap.NewOrderedMap[string, string]()
	for _, s := range f.Settings {
		settings.Set(s.Name, s.Value)
	}
	profile := f.Profile
	if profile == "" {
		profile = f.Unit.Profile
	}
	return &Record{
		schemaVersion: f.SchemaVersion,
		unit:          f.Unit,
		profile:       profile,
		dir:           f.Dir,
		hash:          f.Hash,
		env:           env,
		files:         append([]FileEntry(nil), f.Files...),
		flags:         append([]string(nil), f.Flags...),
		settings:      settings,
		features:      unit.SortedSet(f.Features),
		deps:          append([]DepEntry(nil), f.Deps...),
	}
}

// SchemaVersion returns the on-disk schema the record was read from.
func (r *Record) SchemaVersion() int { return r.schemaVersion }

// Unit returns the unit the record describes.
func (r *Record) Unit() unit.ID { return r.unit }

// Profile returns the build profile.
func (r *Record) Profile() string { return r.profile }

// Dir returns the fingerprint directory the record was read from, or "".
func (r *Record) Dir() string { return r.dir }

// Hash returns cargo's fingerprint hash of the unit, or "" when unknown.
func (r *Record) Hash() string { return r.hash }

// Env returns the declared environment inputs in record order.
func (r *Record) Env() []EnvVar {
	out := make([]EnvVar, 0, r.env.Len())
	for el := r.env.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value)
	}
	return out
}

// LookupEnv returns the recorded value of name.
func (r *Record) LookupEnv(name string) (EnvVar, bool) {
	return r.env.Get(name)
}

// Files returns the input files in record order.
func (r *Record) Files() []FileEntry { return append([]FileEntry(nil), r.files...) }

// Flags returns the compiler flags in invocation order.
func (r *Record) Flags() []string { return append([]string(nil), r.flags...) }

// Settings returns the hashed build settings in record order.
func (r *Record) Settings() []Setting {
	out := make([]Setting, 0, r.settings.Len())
	for el := r.settings.Front(); el != nil; el = el.Next() {
		out = append(out, Setting{Name: el.Key, Value: el.Value})
	}
	return out
}

// Setting returns the recorded value of a build setting.
func (r *Record) Setting(name string) (string, bool) {
	return r.settings.Get(name)
}

// Features returns the enabled features, sorted.
func (r *Record) Features() []string { return append([]string(nil), r.features...) }

// Deps returns the dependencies in record order.
func (r *Record) Deps() []DepEntry { return append([]DepEntry(nil), r.deps...) }

// DepHash returns the hash the record holds for dependency id.
func (r *Record) DepHash(id unit.ID) (string, bool) {
	for _, d := range r.deps {
		if d.Unit == id {
			return d.Hash, true
		}
	}
	return "", false
}

// withDeps returns a copy of r with its dependency list replaced.
func (r *Record) withDeps(deps []DepEntry) *Record {
	out := *r
	out.deps = append([]DepEntry(nil), deps...)
	return &out
}

// Fingerprint returns cargo's hash of the unit when the record carries one,
// else a stable hash over every input of the record. In the latter case a
// dependency contributes only its own hash and dependency order does not
// matter.
func (r *Record) Fingerprint() string {
	if r.hash != "" {
		return r.hash
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "unit\x00%s\x00profile\x00%s\n", r.unit.Key(), r.profile)
	for el := r.env.Front(); el != nil; el = el.Next() {
		fmt.Fprintf(&sb, "env\x00%s\x00%t\x00%s\n", el.Value.Name, el.Value.Set, el.Value.Value)
	}
	for _, f := range r.files {
		fmt.Fprintf(&sb, "file\x00%s\x00%s\x00%s\x00%d\x00%d\n", f.Path, f.Sig.Kind, f.Sig.Hash, f.Sig.MtimeNanos, f.Sig.Size)
	}
	fmt.Fprintf(&sb, "flags\x00%s\n", strings.Join(r.flags, "\x00"))
	for el := r.settings.Front(); el != nil; el = el.Next() {
		fmt.Fprintf(&sb, "setting\x00%s\x00%s\n", el.Key, el.Value)
	}
	for el := r.settings.Front(); el != nil; el = el.Next() {
		fmt.Fprintf(&sb, "setting\x00%s\x00%s\n", el.Key, el.Value)
	}
	fmt.Fprintf(&sb, "features\x00%s\n", strings.Join(r.features, "\x00"))
	deps := append([]DepEntry(nil), r.deps...)
	sort.SliceStable(deps, func(i, j int) bool { return deps[i].Unit.Less(deps[j].Unit) })
	for _, d := range deps {
		fmt.Fprintf(&sb, "dep\x00%s\x00%s\x00%s\n", d.Unit.Key(), d.Unit.Profile, d.Hash)
	}
	sum := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(sum[:])
}

// FormatHash renders a cargo fingerprint hash the way cargo writes it next
// to a record: the little-endian bytes of the value in hex.
func FormatHash(v uint64) string {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return hex.EncodeToString(b[:])
}
