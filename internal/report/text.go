package report

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/gookit/color"
	"github.com/mattn/go-runewidth"
)

// TextOptions controls the human readable rendering.
type TextOptions struct {
	Color       bool // emit ANSI colours
	Width       int  // truncate lines to this many columns; 0 disables
	Suggestions bool // print suggestions below each reason
}

// TextRenderer writes the report as an indented tree, one line per unit.
type TextRenderer struct {
	opts TextOptions
}

// NewTextRenderer creates a text renderer.
func NewTextRenderer(opts TextOptions) *TextRenderer {
	return &TextRenderer{opts: opts}
}

var (
	rootStyle   = color.Style{color.FgRed, color.OpBold}
	reasonStyle = color.Style{color.FgYellow}
	hintStyle   = color.Style{color.FgGray}
	childStyle  = color.Style{color.FgCyan}
	headStyle   = color.Style{color.OpBold}
	tipStyle    = color.Style{color.FgGreen}
)

// Render implements Renderer.
func (t *TextRenderer) Render(w io.Writer, r *Report) error {
	bw := bufio.NewWriter(w)

	if r.TotalRebuilt == 0 {
		t.line(bw, headStyle, "Nothing was rebuilt.")
	} else {
		t.line(bw, headStyle, fmt.Sprintf("%d %s rebuilt, %d root %s",
			r.TotalRebuilt, plural(r.TotalRebuilt, "unit", "units"),
			r.RootCount, plural(r.RootCount, "cause", "causes")))
		for _, root := range r.Roots {
			t.line(bw, nil, "")
			t.node(bw, root, "", "", true)
		}
	}

	if len(r.Failures) > 0 {
		t.line(bw, nil, "")
		t.line(bw, headStyle, "Records that could not be used:")
		for _, f := range r.Failures {
			t.line(bw, reasonStyle, fmt.Sprintf("  %s: %s", f.Unit, f.Error))
		}
	}

	if r.TotalRebuilt > 0 {
		t.summary(bw, r.Summary)
	}
	return bw.Flush()
}

// node writes n and its subtree. lead prefixes n's own line, pad prefixes
// every line below it.
func (t *TextRenderer) node(w io.Writer, n *Node, lead, pad string, root bool) {
	style, label := childStyle, n.Label
	if root {
		style = rootStyle
		if n.Synthetic {
			label += " (no intrinsic cause found)"
		}
	}
	if len(n.AlsoCausedBy) > 0 {
		others := make([]string, 0, len(n.AlsoCausedBy))
		for _, id := range n.AlsoCausedBy {
			others = append(others, id.String())
		}
		label += " [also caused by " + strings.Join(others, "; ") + "]"
	}
	t.line(w, style, lead+label)

	for _, reason := range n.Reasons {
		t.line(w, reasonStyle, pad+"  * "+reason.Description)
		if t.opts.Suggestions {
			for _, s := range reason.Suggestions {
				t.line(w, tipStyle, pad+"      -> "+s)
			}
		}
	}
	for _, h := range n.Hints {
		t.line(w, hintStyle, pad+"  cargo: "+h.Summary)
	}

	for i, c := range n.Children {
		if i == len(n.Children)-1 {
			t.node(w, c, pad+"└── ", pad+"    ", false)
		} else {
			t.node(w, c, pad+"├── ", pad+"│   ", false)
		}
	}
}

func (t *TextRenderer) summary(w io.Writer, s Summary) {
	t.line(w, nil, "")
	t.line(w, headStyle, "Summary:")
	rows := []struct {
		label string
		count int
	}{
		{"env variables", s.Env},
		{"files", s.Files},
		{"config changes", s.Flags + s.Features},
		{"dependencies", s.Dependencies},
		{"unknown", s.Unknown},
	}
	width := 0
	for _, row := range rows {
		width = max(width, runewidth.StringWidth(row.label))
	}
	for _, row := range rows {
		if row.count == 0 {
			continue
		}
		t.line(w, nil, fmt.Sprintf("  %s  %d", runewidth.FillRight(row.label, width), row.count))
	}

	tips := s.Tips()
	if len(tips) == 0 {
		return
	}
	t.line(w, nil, "")
	t.line(w, headStyle, "Tips:")
	for _, tip := range tips {
		t.line(w, tipStyle, "  - "+tip)
	}
}

// line writes one line, truncated to the configured width before colouring
// so escape sequences are never cut.
func (t *TextRenderer) line(w io.Writer, style color.Style, s string) {
	if t.opts.Width > 0 && runewidth.StringWidth(s) > t.opts.Width {
		s = runewidth.Truncate(s, t.opts.Width, "…")
	}
	if t.opts.Color && len(style) > 0 && s != "" {
		s = style.Sprint(s)
	}
	fmt.Fprintln(w, s)
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
