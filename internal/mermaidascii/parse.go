package mermaidascii

import (
	"fmt"
	"strings"

	"github.com/elliotchance/orderedmap/v2"
)

type edge struct {
	to    string
	label string
}

// graphProperties is a parsed flowchart. Nodes and edges keep their
// declaration order.
type graphProperties struct {
	direction string
	labels    *orderedmap.OrderedMap[string, string]
	edges     *orderedmap.OrderedMap[string, []edge]
}

func newGraphProperties() *graphProperties {
	return &graphProperties{
		direction: "TD",
		labels:    orderedmap.NewOrderedMap[string, string](),
		edges:     orderedmap.NewOrderedMap[string, []edge](),
	}
}

// addNode declares id. A later non-empty label replaces an earlier one.
func (p *graphProperties) addNode(id, label string) {
	cur, ok := p.labels.Get(id)
	if !ok || (label != "" && label != cur) {
		if label == "" {
			label = id
		}
		p.labels.Set(id, label)
	}
}

func (p *graphProperties) addEdge(from, to, label string) {
	edges, _ := p.edges.Get(from)
	p.edges.Set(from, append(edges, edge{to: to, label: label}))
}

// reversed returns the graph with every edge flipped.
func (p *graphProperties) reversed() *graphProperties {
	out := newGraphProperties()
	out.direction = p.direction
	for el := p.labels.Front(); el != nil; el = el.Next() {
		out.labels.Set(el.Key, el.Value)
	}
	for el := p.edges.Front(); el != nil; el = el.Next() {
		for _, e := range el.Value {
			out.addEdge(e.to, el.Key, e.label)
		}
	}
	return out
}

var directions = map[string]bool{"TD": true, "TB": true, "LR": true, "RL": true, "BT": true}

// mermaidFileToMap parses the graph subset used here: a "graph <dir>"
// header, bare node declarations, and chains of "-->" links with optional
// "|label|" and "id[label]" forms. Statements may be split by ';'.
func mermaidFileToMap(input string) (*graphProperties, error) {
	p := newGraphProperties()
	header := false

	for n, raw := range strings.Split(input, "\n") {
		for _, stmt := range strings.Split(raw, ";") {
			stmt = strings.TrimSpace(stmt)
			if stmt == "" || strings.HasPrefix(stmt, "%%") {
				continue
			}
			if !header {
				header = true
				keyword, dir, _ := strings.Cut(stmt, " ")
				if keyword == "graph" || keyword == "flowchart" {
					dir = strings.TrimSpace(dir)
					if dir != "" {
						if !directions[dir] {
							return nil, fmt.Errorf("line %d: unknown direction %q", n+1, dir)
						}
						p.direction = dir
					}
					continue
				}
			}
			if err := parseStatement(p, stmt); err != nil {
				return nil, fmt.Errorf("line %d: %w", n+1, err)
			}
		}
	}
	return p, nil
}

func parseStatement(p *graphProperties, stmt string) error {
	parts := strings.Split(stmt, "-->")
	prev, label, err := parseNode(parts[0], false)
	if err != nil {
		return err
	}
	p.addNode(prev, label)

	for _, part := range parts[1:] {
		part = strings.TrimSpace(part)
		edgeLabel := ""
		if strings.HasPrefix(part, "|") {
			end := strings.Index(part[1:], "|")
			if end < 0 {
				return fmt.Errorf("unterminated edge label in %q", stmt)
			}
			edgeLabel = strings.TrimSpace(part[1 : end+1])
			part = part[end+2:]
		}
		id, label, err := parseNode(part, true)
		if err != nil {
			return err
		}
		p.addNode(id, label)
		p.addEdge(prev, id, edgeLabel)
		prev = id
	}
	return nil
}

// parseNode reads "id", "id[label]" or `id["label"]`.
func parseNode(s string, target bool) (id, label string, err error) {
	s = strings.TrimSpace(s)
	if s == "" {
		if target {
			return "", "", fmt.Errorf("link without a target node")
		}
		return "", "", fmt.Errorf("link without a source node")
	}
	open := strings.IndexAny(s, "[(")
	if open < 0 {
		if strings.ContainsAny(s, " \t") {
			return "", "", fmt.Errorf("invalid node %q", s)
		}
		return s, "", nil
	}

	closer := "]"
	if s[open] == '(' {
		closer = ")"
	}
	if !strings.HasSuffix(s, closer) {
		return "", "", fmt.Errorf("unterminated label in %q", s)
	}
	id = strings.TrimSpace(s[:open])
	if id == "" {
		return "", "", fmt.Errorf("node label without an id in %q", s)
	}
	label = strings.TrimSpace(s[open+1 : len(s)-1])
	label = strings.TrimSuffix(strings.TrimPrefix(label, `"`), `"`)
	return id, label, nil
}
