package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/gookit/color"
	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"github.com/dbsmedya/cargowhy/internal/config"
	"github.com/dbsmedya/cargowhy/internal/diagnose"
	"github.com/dbsmedya/cargowhy/internal/graph"
	"github.com/dbsmedya/cargowhy/internal/logger"
	"github.com/dbsmedya/cargowhy/internal/mermaidascii"
	"github.com/dbsmedya/cargowhy/internal/unit"
)

// outputWriter is used for printing output, can be overridden in tests
var outputWriter io.Writer = os.Stdout

// setOutputWriter sets the output writer (used for testing)
func setOutputWriter(w io.Writer) {
	outputWriter = w
}

// resetOutputWriter resets output to stdout (used for testing)
func resetOutputWriter() {
	outputWriter = os.Stdout
}

var graphMermaid bool

var graphCmd = &cobra.Command{
	Use:   "graph [flags] [-- cargo arguments]",
	Short: "Show the unit graph of a build",
	Long: `Graph loads the unit graph cargo would build and displays it without
building anything.

The output shows:
  - Dependency tree (units first, their dependencies below)
  - Build order (dependencies first)

Use --mermaid to print mermaid flowchart syntax instead.

Example:
  cargowhy graph -- build --workspace
  cargowhy graph --unit-graph unit-graph.json --mermaid`,
	Args: cobra.ArbitraryArgs,
	RunE: runGraph,
}

func init() {
	graphCmd.Flags().BoolVar(&graphMermaid, "mermaid", false,
		"Print mermaid flowchart syntax")

	rootCmd.AddCommand(graphCmd)
}

func runGraph(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(args)
	if err != nil {
		return err
	}

	log, err := logger.New(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Sync()

	pipeline, err := diagnose.NewPipeline(cfg, newRunner(cfg, nil, log), nil, log)
	if err != nil {
		return err
	}
	g, err := pipeline.LoadGraph(context.Background(), cfg.CargoArgs())
	if err != nil {
		return err
	}

	order, err := g.BuildOrder()
	if err != nil {
		return fmt.Errorf("failed to generate build order: %w", err)
	}
	ids := nodeIDs(order)

	if graphMermaid {
		fmt.Fprint(outputWriter, generateMermaidSyntax(g, order, ids))
		return nil
	}

	if err := printMermaidTree(cfg, g, order, ids); err != nil {
		return fmt.Errorf("failed to render tree: %w", err)
	}

	fmt.Fprintln(outputWriter)
	printSection("Build Order (dependencies first)")
	for i, id := range order {
		printOrderItem(i+1, id, g.GetNode(id))
	}
	return nil
}

// printHeader prints a formatted header
func printHeader(format string, args ...interface{}) {
	title := fmt.Sprintf(format, args...)
	width := runewidth.StringWidth(title) + 4
	fmt.Fprintln(outputWriter, strings.Repeat("=", width))
	fmt.Fprintf(outputWriter, "  %s\n", title)
	fmt.Fprintln(outputWriter, strings.Repeat("=", width))
}

// printSection prints a section header
func printSection(title string) {
	fmt.Fprintf(outputWriter, "[%s]\n", title)
	fmt.Fprintln(outputWriter, strings.Repeat("-", runewidth.StringWidth(title)+2))
}

// printOrderItem prints a unit in the build order list
func printOrderItem(num int, id unit.ID, node *graph.Node) {
	numStr := fmt.Sprintf("[%d]", num)
	if node != nil && node.IsRoot {
		fmt.Fprintf(outputWriter, "  %s %s (requested)\n", numStr, id)
		return
	}
	fmt.Fprintf(outputWriter, "  %s %s\n", numStr, id)
}

// printMermaidTree draws the graph through mermaidascii next to a summary
func printMermaidTree(cfg *config.Config, g *graph.Graph, order []unit.ID, ids map[unit.ID]string) error {
	output, err := mermaidascii.RenderDiagram(generateMermaidSyntax(g, order, ids), &mermaidascii.Config{
		Color:    cfg.Output.UseColor(color.SupportColor()),
		MaxWidth: cfg.Output.Width,
		Legend:   true,
	})
	if err != nil {
		return err
	}

	profileName := cfg.Project.Profile
	if profileName == "" {
		profileName = "(cargo default)"
	}
	summaryLines := []string{
		"[ Graph Summary ]",
		strings.Repeat("-", 17),
		fmt.Sprintf("Units:        %d", g.NodeCount()),
		fmt.Sprintf("Dependencies: %d", g.EdgeCount()),
		fmt.Sprintf("Requested:    %d", len(requestedUnits(g, order))),
		fmt.Sprintf("Leaves:       %d", len(g.LeafNodes())),
		"",
		"[ Build ]",
		strings.Repeat("-", 9),
		fmt.Sprintf("Command:      %s %s", cfg.Build.Command, strings.Join(cfg.CargoArgs(), " ")),
		fmt.Sprintf("Profile:      %s", profileName),
		fmt.Sprintf("Target dir:   %s", cfg.TargetDir()),
	}

	fmt.Fprintln(outputWriter)
	printHeader("Unit Graph")
	fmt.Fprintln(outputWriter)

	printSideBySide(output, summaryLines, 4)
	return nil
}

// printSideBySide prints two blocks of text side by side
// padding is the minimum spaces between the two columns
func printSideBySide(leftContent string, rightLines []string, padding int) {
	leftLines := strings.Split(strings.TrimRight(leftContent, "\n"), "\n")

	leftWidth := 0
	for _, line := range leftLines {
		leftWidth = max(leftWidth, visualWidth(line))
	}

	maxHeight := max(len(leftLines), len(rightLines))
	for i := 0; i < maxHeight; i++ {
		leftPart := ""
		rightPart := ""
		if i < len(leftLines) {
			leftPart = leftLines[i]
		}
		if i < len(rightLines) {
			rightPart = rightLines[i]
		}

		fmt.Fprint(outputWriter, leftPart)
		if rightPart == "" {
			fmt.Fprintln(outputWriter)
			continue
		}
		spacesNeeded := leftWidth - visualWidth(leftPart) + padding
		if spacesNeeded > 0 {
			fmt.Fprint(outputWriter, strings.Repeat(" ", spacesNeeded))
		}
		fmt.Fprintln(outputWriter, rightPart)
	}
}

// visualWidth returns the terminal width of s, ignoring colour escapes
func visualWidth(s string) int {
	return runewidth.StringWidth(color.ClearCode(s))
}

// requestedUnits returns the units cargo was asked for, in build order
func requestedUnits(g *graph.Graph, order []unit.ID) []unit.ID {
	var out []unit.ID
	for _, id := range order {
		if node := g.GetNode(id); node != nil && node.IsRoot {
			out = append(out, id)
		}
	}
	return out
}

// nodeIDs assigns short mermaid node IDs in build order
func nodeIDs(order []unit.ID) map[unit.ID]string {
	ids := make(map[unit.ID]string, len(order))
	for i, id := range order {
		ids[id] = fmt.Sprintf("u%d", i)
	}
	return ids
}

// generateMermaidSyntax creates mermaid flowchart syntax with links from
// each unit to its dependencies. Requested units come first so they are
// drawn as the roots.
func generateMermaidSyntax(g *graph.Graph, order []unit.ID, ids map[unit.ID]string) string {
	var sb strings.Builder
	sb.WriteString("graph TD\n")

	declared := make([]unit.ID, 0, len(order))
	declared = append(declared, requestedUnits(g, order)...)
	for i := len(order) - 1; i >= 0; i-- {
		if node := g.GetNode(order[i]); node == nil || !node.IsRoot {
			declared = append(declared, order[i])
		}
	}

	for _, id := range declared {
		sb.WriteString(fmt.Sprintf("    %s[\"%s\"]\n", ids[id], sanitizeLabel(id.String())))
	}
	for _, id := range declared {
		for _, dep := range g.GetDeps(id) {
			sb.WriteString(fmt.Sprintf("    %s --> %s\n", ids[id], ids[dep]))
		}
	}
	return sb.String()
}

// sanitizeLabel removes characters that end a mermaid label or statement
func sanitizeLabel(s string) string {
	return strings.NewReplacer(
		`"`, "'",
		"]", ")",
		";", ",",
		"-->", "->",
	).Replace(s)
}
