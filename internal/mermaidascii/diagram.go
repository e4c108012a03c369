// Package mermaidascii draws mermaid flowcharts as text trees for the terminal.
package mermaidascii

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnsupportedDiagram is returned for mermaid diagram types other than
// graph and flowchart.
var ErrUnsupportedDiagram = errors.New("unsupported diagram type")

// Diagram is a parsed mermaid diagram.
type Diagram interface {
	Parse(input string) error
	Render(config *Config) (string, error)
	Type() string
}

// DiagramFactory picks the diagram implementation from the first
// declaration in input. Input without a declaration is treated as a graph.
func DiagramFactory(input string) (Diagram, error) {
	for _, line := range strings.Split(strings.TrimSpace(input), "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "%%") {
			continue
		}
		keyword, _, _ := strings.Cut(trimmed, " ")
		switch keyword {
		case "graph", "flowchart":
			return &GraphDiagram{}, nil
		case "sequenceDiagram", "classDiagram", "stateDiagram", "stateDiagram-v2",
			"erDiagram", "gantt", "pie", "journey", "gitGraph", "mindmap", "timeline":
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedDiagram, keyword)
		}
		break
	}
	return &GraphDiagram{}, nil
}

// GraphDiagram is a mermaid graph or flowchart.
type GraphDiagram struct {
	properties *graphProperties
}

func (gd *GraphDiagram) Parse(input string) error {
	properties, err := mermaidFileToMap(input)
	if err != nil {
		return err
	}
	gd.properties = properties
	return nil
}

func (gd *GraphDiagram) Render(config *Config) (string, error) {
	if gd.properties == nil {
		return "", fmt.Errorf("graph diagram not parsed: call Parse() before Render()")
	}

	if config == nil {
		config = DefaultConfig()
	}
	return drawMap(gd.properties, config), nil
}

func (gd *GraphDiagram) Type() string {
	return "graph"
}
