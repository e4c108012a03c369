package fingerprint

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dbsmedya/cargowhy/internal/graph"
	"github.com/dbsmedya/cargowhy/internal/unit"
)

const fingerprintDir = ".fingerprint"

// Loader reads persisted records.
type Loader interface {
	Load(loc Location) (*Record, error)
}

// Location identifies where cargo keeps the record of a unit:
// <target>/<profile>/.fingerprint/<package>-<hash>/<stem>.json. The hash
// part depends on features and other settings, so a unit is found by
// package and stem, with Dir and Meta narrowing the choice.
type Location struct {
	Unit unit.ID
	Stem string // file name without extension, e.g. lib-core or test-bin-app
	Dir  string // preferred directory name under .fingerprint
	Meta string // unit hash of the current invocation, if known
}

// LocationOf derives the record location of a unit graph node.
func LocationOf(node *graph.Node) Location {
	return Location{Unit: node.ID, Stem: fileStem(node), Meta: node.Invocation.Metadata}
}

// fileStem mirrors cargo's naming of fingerprint files: a mode prefix, a
// description of the target kind, and the target name.
func fileStem(node *graph.Node) string {
	var flavor string
	switch node.Mode {
	case "test", "bench", "doctest":
		flavor = "test-"
	case "doc":
		flavor = "doc-"
	case "run-custom-build":
		flavor = "run-"
	}
	name := node.Target
	if name == "" {
		name = node.ID.Name
	}
	return flavor + targetDescription(node.TargetKind, node.ID.Kind) + "-" + name
}

func targetDescription(targetKind, unitKind string) string {
	switch targetKind {
	case "lib", "rlib", "dylib", "cdylib", "staticlib", "proc-macro":
		return "lib"
	case "bin":
		return "bin"
	case "test":
		return "integration-test"
	case "bench", "example":
		return targetKind
	case "custom-build":
		return "build-script"
	}
	switch unitKind {
	case unit.KindBuildScript, unit.KindRunScript:
		return "build-script"
	case unit.KindBin, unit.KindExample, unit.KindBench:
		return unitKind
	case unit.KindTest:
		return "integration-test"
	default:
		return "lib"
	}
}

// Store reads records from a cargo target directory. It never writes.
type Store struct {
	root string
}

// NewStore creates a Store rooted at a target directory.
func NewStore(root string) *Store {
	return &Store{root: root}
}

// Root returns the target directory the store reads from.
func (s *Store) Root() string {
	return s.root
}

// Dir returns the fingerprint directory of a profile.
func (s *Store) Dir(profile string) string {
	return filepath.Join(s.root, profile, fingerprintDir)
}

// Load reads and decodes the record at loc as it is on disk now.
// No matching record yields a *RecordError wrapping ErrRecordMissing.
func (s *Store) Load(loc Location) (*Record, error) {
	entries, err := listDir(s.Dir(loc.Unit.Profile))
	if err != nil {
		return nil, &RecordError{Unit: loc.Unit, Path: s.Dir(loc.Unit.Profile), Kind: ErrRecordCorrupt, Cause: err}
	}
	return pick(readCandidates(s.Dir(loc.Unit.Profile), entries, loc), loc).decode(loc, s.Dir(loc.Unit.Profile))
}

// Snapshot reads the records of locs into memory. Taken before a build, it
// keeps the records the build is about to overwrite.
func (s *Store) Snapshot(locs []Location) *Snapshot {
	snap := &Snapshot{
		takenAt: time.Now(),
		dirs:    make(map[string]string),
		entries: make(map[string][]candidate),
		errs:    make(map[string]error),
	}
	listings := make(map[string][]os.DirEntry)
	listErrs := make(map[string]error)
	for _, loc := range locs {
		dir := s.Dir(loc.Unit.Profile)
		key := snapshotKey(loc)
		if _, done := snap.dirs[key]; done {
			continue
		}
		snap.dirs[key] = dir
		entries, listed := listings[dir]
		if !listed {
			entries, listErrs[dir] = listDir(dir)
			listings[dir] = entries
		}
		if err := listErrs[dir]; err != nil {
			snap.errs[key] = err
			continue
		}
		snap.entries[key] = readCandidates(dir, entries, loc)
	}
	return snap
}

// Snapshot holds records as they were when it was taken.
type Snapshot struct {
	takenAt time.Time
	dirs    map[string]string
	entries map[string][]candidate
	errs    map[string]error
}

// TakenAt returns when the snapshot was taken.
func (s *Snapshot) TakenAt() time.Time { return s.takenAt }

// Len returns the number of records captured.
func (s *Snapshot) Len() int {
	n := 0
	for _, cands := range s.entries {
		n += len(cands)
	}
	return n
}

// Load decodes the captured record at loc. A unit whose current directory
// did not exist before the build falls back to the newest record of the
// same package and target.
func (s *Snapshot) Load(loc Location) (*Record, error) {
	key := snapshotKey(loc)
	if err := s.errs[key]; err != nil {
		return nil, &RecordError{Unit: loc.Unit, Path: s.dirs[key], Kind: ErrRecordCorrupt, Cause: err}
	}
	return pick(s.entries[key], loc).decode(loc, s.dirs[key])
}

func snapshotKey(loc Location) string {
	return loc.Unit.Profile + "/" + loc.Unit.Name + "/" + loc.Stem
}

// candidate is one record file of a unit, read into memory.
type candidate struct {
	dir     string // directory name under .fingerprint
	path    string
	modTime time.Time
	data    []byte
	hash    string
	err     error
}

func listDir(dir string) ([]os.DirEntry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil && errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	return entries, err
}

// readCandidates reads every <package>-<hash>/<stem>.json below fpDir that
// belongs to the unit at loc.
func readCandidates(fpDir string, entries []os.DirEntry, loc Location) []candidate {
	var out []candidate
	for _, e := range entries {
		if !e.IsDir() || !belongsTo(e.Name(), loc.Unit.Name) {
			continue
		}
		path := filepath.Join(fpDir, e.Name(), loc.Stem+".json")
		info, err := os.Stat(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			out = append(out, candidate{dir: e.Name(), path: path, err: err})
			continue
		}
		c := candidate{dir: e.Name(), path: path, modTime: info.ModTime()}
		if info.IsDir() {
			c.err = fmt.Errorf("%s is a directory", path)
			out = append(out, c)
			continue
		}
		c.data, c.err = os.ReadFile(path)
		if hash, err := os.ReadFile(strings.TrimSuffix(path, ".json")); err == nil {
			c.hash = strings.TrimSpace(string(hash))
		}
		out = append(out, c)
	}
	return out
}

// belongsTo reports whether a fingerprint directory name such as
// "my-core-0123456789abcdef" belongs to package name.
func belongsTo(dirName, name string) bool {
	i := strings.LastIndexByte(dirName, '-')
	return i > 0 && unit.NormalizeName(dirName[:i]) == name
}

// pick chooses the record of loc: the directory named by loc.Dir, then the
// one ending in loc.Meta, then the most recently written.
func pick(cands []candidate, loc Location) *candidate {
	if len(cands) == 0 {
		return nil
	}
	if loc.Dir != "" {
		for i := range cands {
			if cands[i].dir == loc.Dir {
				return &cands[i]
			}
		}
	}
	if loc.Meta != "" {
		for i := range cands {
			if strings.HasSuffix(cands[i].dir, "-"+loc.Meta) {
				return &cands[i]
			}
		}
	}
	sorted := append([]candidate(nil), cands...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].modTime.Equal(sorted[j].modTime) {
			return sorted[i].modTime.After(sorted[j].modTime)
		}
		return sorted[i].dir < sorted[j].dir
	})
	return &sorted[0]
}

func (c *candidate) decode(loc Location, fpDir string) (*Record, error) {
	if c == nil {
		return nil, &RecordError{Unit: loc.Unit, Path: filepath.Join(fpDir, "*", loc.Stem+".json"), Kind: ErrRecordMissing}
	}
	if c.err != nil {
		return nil, &RecordError{Unit: loc.Unit, Path: c.path, Kind: ErrRecordCorrupt, Cause: c.err}
	}
	rec, err := decode(c.data, loc.Unit, c.dir, c.hash)
	if err != nil {
		var recErr *RecordError
		if errors.As(err, &recErr) {
			recErr.Path = c.path
		}
		return nil, err
	}
	return rec, nil
}
