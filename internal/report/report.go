// Package report converts a cause forest into the report model consumed by
// the text and structured renderers.
package report

import (
	"github.com/dbsmedya/cargowhy/internal/diff"
	"github.com/dbsmedya/cargowhy/internal/graph"
	"github.com/dbsmedya/cargowhy/internal/rootcause"
	"github.com/dbsmedya/cargowhy/internal/unit"
)

// Reason is a dirty reason with its rendered description.
type Reason struct {
	diff.Reason `yaml:",inline"`
	Description string   `json:"description" yaml:"description"`
	Suggestions []string `json:"suggestions,omitempty" yaml:"suggestions,omitempty"`
}

// Hint is a dirty reason cargo itself logged for the unit, in cargo's
// wording. The reasons derived from it are already part of Reasons.
type Hint struct {
	Kind    string `json:"kind" yaml:"kind"`
	Summary string `json:"summary" yaml:"summary"`
}

// Node is one unit of the report tree.
type Node struct {
	Unit         unit.ID   `json:"unit" yaml:"unit"`
	Label        string    `json:"label" yaml:"label"`
	Reasons      []Reason  `json:"reasons" yaml:"reasons"`
	Synthetic    bool      `json:"synthetic,omitempty" yaml:"synthetic,omitempty"`
	Distance     int       `json:"distance" yaml:"distance"`
	Hints        []Hint    `json:"hints,omitempty" yaml:"hints,omitempty"`
	AlsoCausedBy []unit.ID `json:"also_caused_by,omitempty" yaml:"also_caused_by,omitempty"`
	Children     []*Node   `json:"children" yaml:"children"`
}

// Summary counts the intrinsic reasons of the report by category.
type Summary struct {
	Env          int `json:"env" yaml:"env"`
	Files        int `json:"files" yaml:"files"`
	Flags        int `json:"flags" yaml:"flags"`
	Features     int `json:"features" yaml:"features"`
	Dependencies int `json:"dependencies" yaml:"dependencies"`
	Unknown      int `json:"unknown" yaml:"unknown"`
}

// Total returns the number of counted reasons.
func (s Summary) Total() int {
	return s.Env + s.Files + s.Flags + s.Features + s.Dependencies + s.Unknown
}

// Tips returns general advice for the overall shape of the rebuild. A
// single trigger gets none; its suggestions are specific enough.
func (s Summary) Tips() []string {
	total := s.Total()
	if total <= 1 {
		return nil
	}
	var tips []string
	if s.Env > s.Dependencies && s.Env > 0 {
		tips = append(tips, "Use direnv or nix-shell for consistent environments")
	}
	if s.Dependencies > 0 {
		tips = append(tips,
			"Try 'cargo build --keep-going' for better CI performance",
			"Consider workspace dependencies to reduce cascades")
	}
	if total > 10 {
		tips = append(tips, "Many triggers detected - consider incremental changes")
	}
	return tips
}

func (s *Summary) add(k diff.Kind) {
	switch k {
	case diff.KindEnvChanged:
		s.Env++
	case diff.KindFileChanged:
		s.Files++
	case diff.KindFlagsChanged:
		s.Flags++
	case diff.KindFeatureChanged:
		s.Features++
	case diff.KindDependencyChanged:
		s.Dependencies++
	default:
		s.Unknown++
	}
}

// Failure is a unit whose record could not be used.
type Failure struct {
	Unit  unit.ID `json:"unit" yaml:"unit"`
	Error string  `json:"error" yaml:"error"`
}

// Report is the complete result of one diagnostic run.
type Report struct {
	RunID        string    `json:"run_id" yaml:"run_id"`
	Command      []string  `json:"command,omitempty" yaml:"command,omitempty"`
	RootCount    int       `json:"root_count" yaml:"root_count"`
	TotalRebuilt int       `json:"total_rebuilt" yaml:"total_rebuilt"`
	Roots        []*Node   `json:"roots" yaml:"roots"`
	Summary      Summary   `json:"summary" yaml:"summary"`
	Failures     []Failure `json:"failures,omitempty" yaml:"failures,omitempty"`
}

// Options carries run metadata that is not part of the forest.
type Options struct {
	RunID    string
	Command  []string
	Failures []Failure
}

// Build converts forest into a report. Hints are taken from g when it is
// not nil. Build does no analysis of its own; the report mirrors the forest.
func Build(forest *rootcause.Forest, g *graph.Graph, opts Options) *Report {
	r := &Report{
		RunID:    opts.RunID,
		Command:  opts.Command,
		Roots:    []*Node{},
		Failures: opts.Failures,
	}
	if forest == nil {
		return r
	}
	r.RootCount = forest.RootCount()
	r.TotalRebuilt = forest.TotalRebuilt
	for _, root := range forest.Roots {
		r.Roots = append(r.Roots, convert(root, g, &r.Summary))
	}
	return r
}

func convert(n *rootcause.CauseNode, g *graph.Graph, s *Summary) *Node {
	out := &Node{
		Unit:         n.Unit,
		Label:        n.Unit.String(),
		Reasons:      make([]Reason, 0, len(n.Reasons)),
		Synthetic:    n.Synthetic,
		Distance:     n.Distance,
		AlsoCausedBy: n.AlsoCausedBy,
		Children:     make([]*Node, 0, len(n.Children)),
	}
	for _, reason := range n.Reasons {
		s.add(reason.Kind)
		out.Reasons = append(out.Reasons, Reason{
			Reason:      reason,
			Description: reason.Describe(),
			Suggestions: reason.Suggestions(),
		})
	}
	if g != nil {
		if node := g.GetNode(n.Unit); node != nil {
			for _, h := range node.Hints {
				out.Hints = append(out.Hints, Hint{Kind: h.Kind, Summary: h.Summary})
			}
		}
	}
	for _, c := range n.Children {
		out.Children = append(out.Children, convert(c, g, s))
	}
	return out
}

// Walk visits every node depth-first, parents before children.
func (r *Report) Walk(fn func(n *Node, depth int)) {
	var walk func(n *Node, depth int)
	walk = func(n *Node, depth int) {
		fn(n, depth)
		for _, c := range n.Children {
			walk(c, depth+1)
		}
	}
	for _, root := range r.Roots {
		walk(root, 0)
	}
}
