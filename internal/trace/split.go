package trace

import (
	"fmt"
	"strings"
)

// Split splits a command line the way cargo quotes it in verbose output:
// whitespace separated, with single quotes, double quotes and backslash
// escapes.
func Split(cmdline string) ([]string, error) {
	var (
		args    []string
		sb      strings.Builder
		inArg   bool
		quote   rune
		escaped bool
	)
	for _, ch := range cmdline {
		switch {
		case escaped:
			sb.WriteRune(ch)
			escaped = false
		case quote != 0:
			switch {
			case ch == quote:
				quote = 0
			case ch == '\\' && quote == '"':
				escaped = true
			default:
				sb.WriteRune(ch)
			}
		case ch == '\\':
			escaped = true
			inArg = true
		case ch == '\'' || ch == '"':
			quote = ch
			inArg = true
		case ch == ' ' || ch == '\t':
			if inArg {
				args = append(args, sb.String())
				sb.Reset()
				inArg = false
			}
		default:
			sb.WriteRune(ch)
			inArg = true
		}
	}
	if quote != 0 {
		return nil, fmt.Errorf("unterminated %c quote in %q", quote, cmdline)
	}
	if escaped {
		return nil, fmt.Errorf("trailing backslash in %q", cmdline)
	}
	if inArg {
		args = append(args, sb.String())
	}
	return args, nil
}
