package mermaidascii

import (
	"errors"
	"fmt"
	"strings"
)

// ErrEmptyDiagram is returned for input without any statement.
var ErrEmptyDiagram = errors.New("empty diagram")

// sharedNote explains seenMarker in the legend.
const sharedNote = "shared dependency, drawn in full above"

// RenderDiagram draws a mermaid graph as a text tree. A nil config uses
// DefaultConfig. With config.Legend set, a tree that repeats a node ends
// with a line explaining the repeat marker.
func RenderDiagram(input string, config *Config) (string, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if strings.TrimSpace(input) == "" {
		return "", ErrEmptyDiagram
	}

	diag, err := DiagramFactory(input)
	if err != nil {
		return "", fmt.Errorf("failed to detect diagram type: %w", err)
	}
	if err := diag.Parse(input); err != nil {
		return "", fmt.Errorf("failed to parse %s diagram: %w", diag.Type(), err)
	}

	output, err := diag.Render(config)
	if err != nil {
		return "", fmt.Errorf("failed to render %s diagram: %w", diag.Type(), err)
	}
	return output, nil
}

// legend is the line that explains seenMarker.
func legend() string {
	return strings.TrimSpace(seenMarker) + " " + sharedNote
}
