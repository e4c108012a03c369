package mermaidascii

import (
	"strings"

	"github.com/gookit/color"
	"github.com/mattn/go-runewidth"
)

var (
	rootStyle = color.Style{color.OpBold}
	seenStyle = color.Style{color.FgGray}
	linkStyle = color.Style{color.FgCyan}
)

// drawMap draws the graph as a tree. Nodes without incoming links are the
// roots, in declaration order. A node reachable twice is expanded the first
// time only. BT and RL graphs are drawn from their other end.
func drawMap(p *graphProperties, config *Config) string {
	if p.direction == "BT" || p.direction == "RL" {
		p = p.reversed()
	}
	g := unicodeGlyphs
	if config.UseAscii {
		g = asciiGlyphs
	}
	d := &drawer{props: p, config: config, glyphs: g, drawn: make(map[string]bool)}

	incoming := make(map[string]int)
	for el := p.edges.Front(); el != nil; el = el.Next() {
		for _, e := range el.Value {
			incoming[e.to]++
		}
	}
	for el := p.labels.Front(); el != nil; el = el.Next() {
		if incoming[el.Key] == 0 {
			d.draw(el.Key, "", "", "", true)
		}
	}
	// Nodes only reachable through a cycle.
	for el := p.labels.Front(); el != nil; el = el.Next() {
		if !d.drawn[el.Key] {
			d.draw(el.Key, "", "", "", true)
		}
	}
	if config.Legend && d.repeated {
		d.sb.WriteString("\n" + legend() + "\n")
	}
	return d.sb.String()
}

type drawer struct {
	props  *graphProperties
	config *Config
	glyphs glyphs
	drawn  map[string]bool
	sb     strings.Builder

	repeated bool // a node was drawn a second time
}

func (d *drawer) draw(id, lead, pad, link string, root bool) {
	label, _ := d.props.labels.Get(id)
	if link != "" {
		link = "[" + link + "] "
	}

	seen := d.drawn[id]
	d.drawn[id] = true

	name := label
	style := color.Style(nil)
	switch {
	case seen:
		name += seenMarker
		style = seenStyle
		d.repeated = true
	case root:
		style = rootStyle
	}
	d.line(lead, link, name, style)
	if seen {
		return
	}

	edges, _ := d.props.edges.Get(id)
	for i, e := range edges {
		if i == len(edges)-1 {
			d.draw(e.to, pad+d.glyphs.last, pad+d.glyphs.space, e.label, false)
		} else {
			d.draw(e.to, pad+d.glyphs.branch, pad+d.glyphs.pipe, e.label, false)
		}
	}
}

// line writes lead, link and name, truncated before colouring so escape
// sequences are never cut.
func (d *drawer) line(lead, link, name string, style color.Style) {
	if w := d.config.MaxWidth; w > 0 && runewidth.StringWidth(lead+link+name) > w {
		rest := w - runewidth.StringWidth(lead+link)
		if rest < 1 {
			d.sb.WriteString(runewidth.Truncate(lead+link+name, w, "…"))
			d.sb.WriteByte('\n')
			return
		}
		name = runewidth.Truncate(name, rest, "…")
	}
	if d.config.Color {
		if link != "" {
			link = linkStyle.Sprint(link)
		}
		if len(style) > 0 {
			name = style.Sprint(name)
		}
	}
	d.sb.WriteString(lead)
	d.sb.WriteString(link)
	d.sb.WriteString(name)
	d.sb.WriteByte('\n')
}
