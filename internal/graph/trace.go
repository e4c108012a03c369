package graph

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/dbsmedya/cargowhy/internal/trace"
	"github.com/dbsmedya/cargowhy/internal/unit"
)

// ApplyTrace matches every invocation of a build trace to its unit, records
// the invocation on the node and attaches cargo's own dirty hints. It returns
// the rebuild set in the order cargo ran the units. Relative source paths in
// the trace are resolved against workspace.
//
// An invocation that matches no unit wraps ErrGraphInconsistent.
func (g *Graph) ApplyTrace(tr *trace.Trace, workspace string) ([]unit.ID, error) {
	var rebuilt []unit.ID
	seen := make(map[unit.ID]bool)

	for _, inv := range tr.Invocations() {
		id, ok := g.matchInvocation(inv, workspace)
		if !ok {
			return nil, fmt.Errorf("%w: rebuilt unit %s (%s, %s) not found in unit graph",
				ErrGraphInconsistent, inv.CrateName, inv.Kind, inv.SrcPath)
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		rebuilt = append(rebuilt, id)

		node := g.Nodes[id]
		node.Invocation = Invocation{
			Flags:    append([]string(nil), inv.Flags...),
			Metadata: inv.Metadata,
			Observed: true,
			Line:     inv.Line,
		}
	}

	for _, h := range tr.Hints() {
		for _, id := range rebuilt {
			if hintMatches(g.Nodes[id], h) {
				g.Nodes[id].Hints = append(g.Nodes[id].Hints, h)
			}
		}
	}

	return rebuilt, nil
}

func (g *Graph) matchInvocation(inv trace.Invocation, workspace string) (unit.ID, bool) {
	if inv.Kind == unit.KindRunScript {
		for _, id := range g.order {
			if id.Kind == unit.KindRunScript && id.Name == inv.CrateName {
				return id, true
			}
		}
		return unit.ID{}, false
	}

	src := inv.SrcPath
	if src != "" && !filepath.IsAbs(src) && workspace != "" {
		src = filepath.Join(workspace, src)
	}

	var sameKind, samePath []unit.ID
	for _, id := range g.order {
		if !samePathAs(g.Nodes[id].SrcPath, src, inv.SrcPath) {
			continue
		}
		samePath = append(samePath, id)
		if id.Kind == inv.Kind {
			sameKind = append(sameKind, id)
		}
	}

	candidates := sameKind
	if len(candidates) == 0 {
		candidates = samePath
	}
	if len(candidates) == 0 {
		return unit.ID{}, false
	}

	featureHash := unit.FeatureHash(inv.Features)
	for _, id := range candidates {
		if id.FeatureHash == featureHash {
			return id, true
		}
	}
	return candidates[0], true
}

func samePathAs(nodePath, resolved, raw string) bool {
	if nodePath == "" || raw == "" {
		return false
	}
	nodePath = filepath.Clean(nodePath)
	if nodePath == filepath.Clean(resolved) {
		return true
	}
	if filepath.IsAbs(raw) {
		return false
	}
	return strings.HasSuffix(nodePath, string(filepath.Separator)+filepath.Clean(raw))
}

// hintMatches reports whether a hint reported by cargo concerns node.
func hintMatches(node *Node, h trace.Hint) bool {
	if h.Package != node.ID.Name {
		return false
	}
	if h.Version != "" && h.Version != node.ID.Version {
		return false
	}
	if h.Target == "" {
		return true
	}
	if strings.HasPrefix(h.Target, "build-script-") {
		return node.ID.Kind == unit.KindBuildScript || node.ID.Kind == unit.KindRunScript
	}
	return unit.NormalizeName(h.Target) == unit.NormalizeName(node.Target)
}
