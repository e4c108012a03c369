package graph

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path"
	"strings"

	"github.com/dbsmedya/cargowhy/internal/unit"
)

// UnitGraphVersion is the cargo --unit-graph format version understood.
const UnitGraphVersion = 1

type unitGraphJSON struct {
	Version int             `json:"version"`
	Units   []unitGraphUnit `json:"units"`
	Roots   []int           `json:"roots"`
}

type unitGraphUnit struct {
	PkgID  string `json:"pkg_id"`
	Target struct {
		Kind       []string `json:"kind"`
		CrateTypes []string `json:"crate_types"`
		Name       string   `json:"name"`
		SrcPath    string   `json:"src_path"`
	} `json:"target"`
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
	Mode         string   `json:"mode"`
	Features     []string `json:"features"`
	Dependencies []struct {
		Index      int    `json:"index"`
		ExternName string `json:"extern_name"`
	} `json:"dependencies"`
}

// Builder constructs a dependency graph from cargo's unit graph output.
type Builder struct {
	data []byte
}

// NewBuilder creates a new graph builder for the output of
// `cargo build --unit-graph -Z unstable-options`.
func NewBuilder(data []byte) *Builder {
	return &Builder{data: data}
}

// Build constructs the dependency graph. Every failure wraps ErrGraphInconsistent.
func (b *Builder) Build() (*Graph, error) {
	var raw unitGraphJSON
	if err := json.Unmarshal(b.data, &raw); err != nil {
		return nil, fmt.Errorf("%w: failed to parse unit graph: %v", ErrGraphInconsistent, err)
	}
	if raw.Version != UnitGraphVersion {
		return nil, fmt.Errorf("%w: unsupported unit graph version %d", ErrGraphInconsistent, raw.Version)
	}

	g := NewGraph()
	ids := make([]unit.ID, len(raw.Units))
	for i, u := range raw.Units {
		node, err := newNode(u)
		if err != nil {
			return nil, fmt.Errorf("%w: unit %d: %v", ErrGraphInconsistent, i, err)
		}
		ids[i] = node.ID
		// cargo may list the same unit once per platform; they share an identity.
		if g.HasNode(node.ID) {
			continue
		}
		g.AddNode(node.ID, node)
	}

	for i, u := range raw.Units {
		for _, dep := range u.Dependencies {
			if dep.Index < 0 || dep.Index >= len(ids) {
				return nil, fmt.Errorf("%w: unit %s depends on unknown unit index %d", ErrGraphInconsistent, ids[i], dep.Index)
			}
			if ids[dep.Index] == ids[i] {
				continue
			}
			g.AddEdge(ids[i], ids[dep.Index])
			if dep.ExternName != "" {
				node := g.GetNode(ids[i])
				if node.ExternNames == nil {
					node.ExternNames = make(map[unit.ID]string)
				}
				if _, ok := node.ExternNames[ids[dep.Index]]; !ok {
					node.ExternNames[ids[dep.Index]] = dep.ExternName
				}
			}
		}
	}

	for _, idx := range raw.Roots {
		if idx < 0 || idx >= len(ids) {
			return nil, fmt.Errorf("%w: unknown root unit index %d", ErrGraphInconsistent, idx)
		}
		g.GetNode(ids[idx]).IsRoot = true
	}

	// Validate graph structure (fail fast on cycles)
	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("graph validation failed: %w", err)
	}

	return g, nil
}

func newNode(u unitGraphUnit) (*Node, error) {
	name, version, err := ParsePackageID(u.PkgID)
	if err != nil {
		return nil, err
	}
	targetKind := ""
	if len(u.Target.Kind) > 0 {
		targetKind = u.Target.Kind[0]
	}
	kind := unitKind(targetKind, u.Mode)
	id := unit.New(name, version, kind, profileDir(u.Profile.Name), u.Features)
	switch kind {
	case unit.KindBin, unit.KindTest, unit.KindBench, unit.KindExample:
		if unit.NormalizeName(u.Target.Name) != id.Name {
			id = id.WithTarget(u.Target.Name)
		}
	}

	return &Node{
		ID:         id,
		PackageID:  u.PkgID,
		Target:     u.Target.Name,
		TargetKind: targetKind,
		SrcPath:    u.Target.SrcPath,
		PackageDir: packageDir(u.PkgID),
		Mode:       u.Mode,
		Features:   unit.SortedSet(u.Features),
	}, nil
}

// packageDir returns the local directory of a path package id such as
// "path+file:///w/core#0.1.0" or "core 0.1.0 (path+file:///w/core)".
func packageDir(id string) string {
	source := id
	if open := strings.IndexByte(id, '('); open >= 0 && strings.HasSuffix(id, ")") {
		source = id[open+1 : len(id)-1]
	}
	if !strings.HasPrefix(source, "path+file://") {
		return ""
	}
	source = strings.TrimPrefix(source, "path+file://")
	if i := strings.IndexAny(source, "#?"); i >= 0 {
		source = source[:i]
	}
	if dir, err := url.PathUnescape(source); err == nil {
		return dir
	}
	return source
}

// unitKind maps cargo's target kind and compile mode onto a unit kind.
func unitKind(targetKind, mode string) string {
	switch mode {
	case "run-custom-build":
		return unit.KindRunScript
	case "test":
		if targetKind == "bench" {
			return unit.KindBench
		}
		return unit.KindTest
	case "bench":
		return unit.KindBench
	}
	switch targetKind {
	case "custom-build":
		return unit.KindBuildScript
	case "lib", "rlib", "dylib", "cdylib", "staticlib":
		return unit.KindLib
	case "":
		return unit.KindLib
	default:
		return targetKind
	}
}

// profileDir maps a cargo profile name onto its target directory.
func profileDir(profile string) string {
	switch profile {
	case "", "dev", "test":
		return "debug"
	case "bench":
		return "release"
	default:
		return profile
	}
}

// ParsePackageID extracts name and version from a cargo package id. Both the
// legacy "name 1.0.0 (source)" form and the package id spec form
// "source#name@1.0.0" (or "source#1.0.0") are accepted.
func ParsePackageID(id string) (name, version string, err error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", "", fmt.Errorf("empty package id")
	}

	if hash := strings.LastIndexByte(id, '#'); hash >= 0 {
		frag := id[hash+1:]
		if at := strings.LastIndexByte(frag, '@'); at >= 0 {
			name, version = frag[:at], frag[at+1:]
		} else {
			source := id[:hash]
			if q := strings.IndexByte(source, '?'); q >= 0 {
				source = source[:q]
			}
			name, version = path.Base(strings.TrimSuffix(source, "/")), frag
		}
	} else {
		fields := strings.Fields(id)
		if len(fields) < 2 {
			return "", "", fmt.Errorf("malformed package id %q", id)
		}
		name, version = fields[0], fields[1]
	}

	if name == "" || version == "" {
		return "", "", fmt.Errorf("malformed package id %q", id)
	}
	return unit.NormalizeName(name), strings.TrimPrefix(version, "v"), nil
}

// BuildFromJSON is a convenience function that builds a graph from unit graph JSON.
func BuildFromJSON(data []byte) (*Graph, error) {
	return NewBuilder(data).Build()
}

// BuildFromFile reads a saved unit graph and builds it.
func BuildFromFile(filename string) (*Graph, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read unit graph %s: %w", filename, err)
	}
	return BuildFromJSON(data)
}
