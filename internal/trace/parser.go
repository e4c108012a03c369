// Package trace parses the verbose stderr output of a cargo build: which
// units were compiled, with which rustc invocation, and the dirty reasons
// cargo's own fingerprint log reported for them.
package trace

import (
	"bufio"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/elliotchance/orderedmap/v2"

	"github.com/dbsmedya/cargowhy/internal/unit"
)

const maxLineSize = 16 << 20

// Invocation is one compiler or build-script execution seen in the trace.
type Invocation struct {
	CrateName string
	Kind      string
	SrcPath   string
	Features  []string
	Flags     []string // user and profile flags, cargo bookkeeping removed
	Metadata  string   // unit hash from -C extra-filename, or -C metadata
	Line      int
}

func (inv Invocation) key() string {
	return inv.SrcPath + "|" + inv.CrateName + "|" + inv.Kind + "|" + unit.FeatureHash(inv.Features)
}

// Package is a package cargo announced as "Compiling".
type Package struct {
	Name    string
	Version string
}

// Hint is a dirty reason reported by cargo itself.
type Hint struct {
	Package string // normalized package name
	Version string
	Target  string // empty when cargo did not say
	Kind    string
	Subject string // the variable, file or dependency the reason names
	Old     Value
	New     Value
	Logged  bool // Old and New were printed by cargo
	Summary string
}

// Value is a value printed with a dirty reason. Set is false for an unset
// environment variable.
type Value struct {
	Text string
	Set  bool
}

func (v Value) String() string {
	if !v.Set {
		return "<unset>"
	}
	return fmt.Sprintf("%q", v.Text)
}

// Trace is the parsed content of one build's stderr.
type Trace struct {
	invocations *orderedmap.OrderedMap[string, Invocation]
	compiling   []Package
	hints       []Hint
	seenHints   map[Hint]bool
	lines       int
}

func newTrace() *Trace {
	return &Trace{
		invocations: orderedmap.NewOrderedMap[string, Invocation](),
		seenHints:   make(map[Hint]bool),
	}
}

// Invocations returns the unit invocations in the order cargo ran them.
func (t *Trace) Invocations() []Invocation {
	out := make([]Invocation, 0, t.invocations.Len())
	for el := t.invocations.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value)
	}
	return out
}

// Compiling returns the packages announced as compiling.
func (t *Trace) Compiling() []Package { return append([]Package(nil), t.compiling...) }

// Hints returns cargo's own dirty reasons, de-duplicated, in trace order.
func (t *Trace) Hints() []Hint { return append([]Hint(nil), t.hints...) }

// Lines returns the number of lines read.
func (t *Trace) Lines() int { return t.lines }

var (
	runningRe   = regexp.MustCompile("^\\s*Running `(.*)`\\s*$")
	compilingRe = regexp.MustCompile(`^\s*Compiling (\S+) v(\S+)`)
	dirtyLineRe = regexp.MustCompile(`^\s*Dirty (\S+) v(\S+)[^:]*: (.*)$`)
	targetRe    = regexp.MustCompile(`target="([^"]*)"|target=([^\s}:"]+)`)
)

// Parse reads a cargo stderr stream.
func Parse(r io.Reader) (*Trace, error) {
	t := newTrace()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		t.lines++
		t.parseLine(scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read build output at line %d: %w", t.lines+1, err)
	}
	return t, nil
}

func (t *Trace) parseLine(line string) {
	if m := runningRe.FindStringSubmatch(line); m != nil {
		if inv, ok := parseInvocation(m[1]); ok {
			inv.Line = t.lines
			if _, seen := t.invocations.Get(inv.key()); !seen {
				t.invocations.Set(inv.key(), inv)
			}
		}
		return
	}
	if m := compilingRe.FindStringSubmatch(line); m != nil {
		t.compiling = append(t.compiling, Package{Name: unit.NormalizeName(m[1]), Version: m[2]})
		return
	}
	if m := dirtyLineRe.FindStringSubmatch(line); m != nil {
		h := parseDirtyMessage(strings.TrimSpace(m[3]))
		h.Package = unit.NormalizeName(m[1])
		h.Version = m[2]
		t.addHint(h)
		return
	}
	if idx := strings.Index(line, "dirty: "); idx >= 0 && strings.Contains(line, "fingerprint") {
		h := parseLogReason(strings.TrimSpace(line[idx+len("dirty: "):]))
		h.Package, h.Version = packageContext(line)
		h.Target = targetContext(line)
		t.addHint(h)
	}
}

func (t *Trace) addHint(h Hint) {
	if t.seenHints[h] {
		return
	}
	t.seenHints[h] = true
	t.hints = append(t.hints, h)
}

// packageContext extracts the package from
// `prepare_target{force=false package_id=libz-sys v1.1.23 target="build-script-build"}`.
func packageContext(line string) (name, version string) {
	idx := strings.Index(line, "package_id=")
	if idx < 0 {
		return "unknown", ""
	}
	rest := line[idx+len("package_id="):]
	end := len(rest)
	if i := strings.Index(rest, " target="); i >= 0 {
		end = i
	} else if i := strings.IndexByte(rest, '}'); i >= 0 {
		end = i
	}
	id := strings.TrimSpace(rest[:end])

	if hash := strings.LastIndexByte(id, '#'); hash >= 0 {
		frag := id[hash+1:]
		if at := strings.LastIndexByte(frag, '@'); at > 0 {
			return unit.NormalizeName(frag[:at]), frag[at+1:]
		}
		source := strings.TrimSuffix(id[:hash], "/")
		if q := strings.IndexByte(source, '?'); q >= 0 {
			source = source[:q]
		}
		return unit.NormalizeName(source[strings.LastIndexByte(source, '/')+1:]), frag
	}
	fields := strings.Fields(id)
	switch len(fields) {
	case 0:
		return "unknown", ""
	case 1:
		return unit.NormalizeName(fields[0]), ""
	default:
		return unit.NormalizeName(fields[0]), strings.TrimPrefix(fields[1], "v")
	}
}

func targetContext(line string) string {
	m := targetRe.FindStringSubmatch(line)
	if m == nil {
		return ""
	}
	if m[1] != "" {
		return m[1]
	}
	return m[2]
}

// parseInvocation recognizes rustc and build-script executions.
func parseInvocation(cmdline string) (Invocation, bool) {
	args, err := Split(cmdline)
	if err != nil || len(args) == 0 {
		return Invocation{}, false
	}
	// Newer cargo prefixes the command with KEY=VALUE environment.
	for len(args) > 0 && isEnvAssignment(args[0]) {
		args = args[1:]
	}
	if len(args) == 0 {
		return Invocation{}, false
	}

	prog := filepath.Base(args[0])
	prog = strings.TrimSuffix(prog, ".exe")
	switch {
	case prog == "rustc" || prog == "clippy-driver" || strings.HasSuffix(prog, "-rustc"):
		return parseRustc(args[1:]), true
	case strings.HasPrefix(prog, "build-script-"):
		return parseBuildScriptRun(args[0]), true
	default:
		return Invocation{}, false
	}
}

func isEnvAssignment(arg string) bool {
	eq := strings.IndexByte(arg, '=')
	if eq <= 0 {
		return false
	}
	for _, r := range arg[:eq] {
		if !(r == '_' || r >= 'A' && r <= 'Z' || r >= 'a' && r <= 'z' || r >= '0' && r <= '9') {
			return false
		}
	}
	return true
}

// flags whose value is cargo bookkeeping rather than a user or profile choice
var bookkeepingFlags = map[string]bool{
	"--crate-name":   true,
	"--crate-type":   true,
	"--out-dir":      true,
	"-L":             true,
	"--extern":       true,
	"--emit":         true,
	"--check-cfg":    true,
	"--error-format": true,
	"--json":         true,
	"--edition":      true,
	"--cap-lints":    true,
}

var bookkeepingCodegen = []string{"metadata=", "extra-filename=", "incremental="}

func parseRustc(args []string) Invocation {
	var inv Invocation
	var crateTypes []string
	test := false

	for i := 0; i < len(args); i++ {
		arg := args[i]
		name, value, hasValue := splitFlag(arg)

		switch {
		case name == "--test":
			test = true
			continue
		case name == "--cfg" || name == "-C":
			if !hasValue && i+1 < len(args) {
				i++
				value = args[i]
			}
			if name == "--cfg" && strings.HasPrefix(value, "feature=") {
				inv.Features = append(inv.Features, strings.Trim(strings.TrimPrefix(value, "feature="), `"`))
				continue
			}
			if name == "-C" && hasPrefixAny(value, bookkeepingCodegen) {
				switch {
				case strings.HasPrefix(value, "extra-filename="):
					inv.Metadata = strings.TrimPrefix(strings.TrimPrefix(value, "extra-filename="), "-")
				case strings.HasPrefix(value, "metadata=") && inv.Metadata == "":
					inv.Metadata = strings.TrimPrefix(value, "metadata=")
				}
				continue
			}
			inv.Flags = append(inv.Flags, name, value)
			continue
		case bookkeepingFlags[name]:
			if !hasValue && i+1 < len(args) {
				i++
				value = args[i]
			}
			switch name {
			case "--crate-name":
				inv.CrateName = value
			case "--crate-type":
				crateTypes = append(crateTypes, value)
			}
			continue
		case strings.HasPrefix(arg, "--diagnostic-width"):
			continue
		case !strings.HasPrefix(arg, "-") && strings.HasSuffix(arg, ".rs") && inv.SrcPath == "":
			inv.SrcPath = arg
			continue
		}
		inv.Flags = append(inv.Flags, arg)
	}

	inv.Kind = rustcKind(inv.CrateName, inv.SrcPath, crateTypes, test)
	inv.Features = unit.SortedSet(inv.Features)
	return inv
}

func rustcKind(crateName, srcPath string, crateTypes []string, test bool) string {
	slash := filepath.ToSlash(srcPath)
	switch {
	case test && strings.Contains(slash, "benches/"):
		return unit.KindBench
	case test:
		return unit.KindTest
	case crateName == "build_script_build":
		return unit.KindBuildScript
	}
	for _, ct := range crateTypes {
		switch ct {
		case "proc-macro":
			return unit.KindProcMacro
		case "bin":
			if strings.Contains(slash, "examples/") {
				return unit.KindExample
			}
			return unit.KindBin
		}
	}
	return unit.KindLib
}

// parseBuildScriptRun handles target/<profile>/build/<pkg>-<hash>/build-script-build.
func parseBuildScriptRun(path string) Invocation {
	dir := filepath.Base(filepath.Dir(path))
	if i := strings.LastIndexByte(dir, '-'); i > 0 {
		dir = dir[:i]
	}
	return Invocation{CrateName: unit.NormalizeName(dir), Kind: unit.KindRunScript}
}

func splitFlag(arg string) (name, value string, hasValue bool) {
	if strings.HasPrefix(arg, "--") {
		if eq := strings.IndexByte(arg, '='); eq > 0 {
			return arg[:eq], arg[eq+1:], true
		}
		return arg, "", false
	}
	if len(arg) > 2 && (strings.HasPrefix(arg, "-C") || strings.HasPrefix(arg, "-L")) {
		return arg[:2], arg[2:], true
	}
	return arg, "", false
}

func hasPrefixAny(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}
