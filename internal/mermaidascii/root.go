package mermaidascii

// Config controls how a diagram is drawn.
type Config struct {
	UseAscii bool // draw with plain ASCII instead of box-drawing characters
	Color    bool // colour node names with ANSI escapes
	MaxWidth int  // truncate lines to this many columns; 0 disables
	Legend   bool // explain the repeat marker below a tree that uses it
}

// DefaultConfig returns the configuration used when none is given.
func DefaultConfig() *Config {
	return &Config{}
}

// connector sets for tree drawing
type glyphs struct {
	branch, last, pipe, space string
}

var (
	unicodeGlyphs = glyphs{branch: "├── ", last: "└── ", pipe: "│   ", space: "    "}
	asciiGlyphs   = glyphs{branch: "|-- ", last: "`-- ", pipe: "|   ", space: "    "}
)

// seenMarker follows a node that was already drawn higher up.
const seenMarker = " (*)"
