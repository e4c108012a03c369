// Package buildrun invokes cargo for a diagnostic run.
package buildrun

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/dbsmedya/cargowhy/internal/logger"
)

// Errors of the external build step. Both are fatal for a run.
var (
	ErrBuildInvocationFailed   = errors.New("build invocation failed")
	ErrBuildInvocationTimedOut = errors.New("build invocation timed out")
)

// FingerprintLog is the CARGO_LOG filter that makes cargo log why each unit
// is dirty.
const FingerprintLog = "cargo::core::compiler::fingerprint=info"

// stderrTail bounds the cargo output quoted in error messages.
const stderrTail = 2048

// waitDelay bounds how long output is drained after cargo is killed.
const waitDelay = 2 * time.Second

// Options configures a Runner.
type Options struct {
	Command string            // cargo executable; defaults to "cargo"
	Dir     string            // working directory, the workspace root
	Env     map[string]string // applied on top of the process environment
	Timeout time.Duration     // 0 disables the timeout
	Stderr  io.Writer         // receives a copy of cargo's stderr when set
	Log     *logger.Logger
}

// Result is the outcome of a build invocation.
type Result struct {
	Args     []string
	ExitCode int
	Stderr   []byte
	Duration time.Duration
}

// Runner runs cargo.
type Runner struct {
	opts Options
	log  *logger.Logger
}

// NewRunner creates a Runner.
func NewRunner(opts Options) *Runner {
	if opts.Command == "" {
		opts.Command = "cargo"
	}
	log := opts.Log
	if log == nil {
		log = logger.NewNop()
	}
	return &Runner{opts: opts, log: log.Named("cargo")}
}

// Run runs a verbose cargo build with fingerprint logging and returns its
// stderr. args start with the cargo subcommand.
//
// Failing to start cargo wraps ErrBuildInvocationFailed and exceeding the
// timeout wraps ErrBuildInvocationTimedOut. A non-zero exit is logged and
// returned in Result; the trace up to the failure is still usable. Without
// a Stderr mirror, cargo's lines go to the debug log.
func (r *Runner) Run(ctx context.Context, args []string) (*Result, error) {
	args = verbose(args)

	var stderr bytes.Buffer
	var errOut io.Writer = &stderr
	switch {
	case r.opts.Stderr != nil:
		errOut = io.MultiWriter(&stderr, r.opts.Stderr)
	case r.log.DebugEnabled():
		lines := r.log.LineWriter()
		defer lines.Close()
		errOut = io.MultiWriter(&stderr, lines)
	}

	res, err := r.exec(ctx, args, map[string]string{"CARGO_LOG": FingerprintLog}, io.Discard, errOut)
	if err != nil {
		return nil, err
	}
	res.Stderr = stderr.Bytes()
	if res.ExitCode != 0 {
		r.log.Warnw("cargo exited with a non-zero status; diagnosing the units it ran",
			"exit_code", res.ExitCode, "args", strings.Join(args, " "))
	}
	return res, nil
}

// UnitGraph asks cargo for the unit graph of the same build. The query runs
// with RUSTC_BOOTSTRAP=1 so a stable cargo accepts -Z unstable-options; the
// build itself never does.
func (r *Runner) UnitGraph(ctx context.Context, args []string) ([]byte, error) {
	args = unitGraphArgs(args)

	var stdout, stderr bytes.Buffer
	res, err := r.exec(ctx, args, map[string]string{"RUSTC_BOOTSTRAP": "1"}, &stdout, &stderr)
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return nil, fmt.Errorf("%w: %s %s exited with status %d: %s", ErrBuildInvocationFailed,
			r.opts.Command, strings.Join(args, " "), res.ExitCode, tail(stderr.Bytes()))
	}
	return stdout.Bytes(), nil
}

func (r *Runner) exec(ctx context.Context, args []string, extraEnv map[string]string, stdout, stderr io.Writer) (*Result, error) {
	if r.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, r.opts.Command, args...)
	cmd.Dir = r.opts.Dir
	cmd.Env = mergeEnv(os.Environ(), r.opts.Env, extraEnv)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = waitDelay

	r.log.Debugw("running cargo", "command", r.opts.Command, "args", strings.Join(args, " "), "dir", r.opts.Dir)
	start := time.Now()
	err := cmd.Run()
	res := &Result{Args: args, Duration: time.Since(start)}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return nil, fmt.Errorf("%w: %s %s did not finish within %s", ErrBuildInvocationTimedOut,
			r.opts.Command, strings.Join(args, " "), r.opts.Timeout)
	}
	if ctx.Err() != nil {
		return nil, fmt.Errorf("%w: %v", ErrBuildInvocationFailed, ctx.Err())
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
	default:
		return nil, fmt.Errorf("%w: %s: %v", ErrBuildInvocationFailed, r.opts.Command, err)
	}

	r.log.Debugw("cargo finished", "exit_code", res.ExitCode, "duration", res.Duration)
	return res, nil
}

// verbose adds -v unless the arguments already ask for verbose output.
func verbose(args []string) []string {
	out := append([]string(nil), args...)
	for _, a := range out {
		if a == "--" {
			break
		}
		if a == "--verbose" || (strings.HasPrefix(a, "-v") && strings.Trim(a[1:], "v") == "") {
			return out
		}
	}
	return insertBeforeSeparator(out, "-v")
}

// unitGraphArgs turns build arguments into a unit graph query.
func unitGraphArgs(args []string) []string {
	out := make([]string, 0, len(args)+3)
	for _, a := range args {
		if a == "-v" || a == "-vv" || a == "--verbose" {
			continue
		}
		out = append(out, a)
	}
	return insertBeforeSeparator(out, "--unit-graph", "-Z", "unstable-options")
}

func insertBeforeSeparator(args []string, extra ...string) []string {
	i := slices.Index(args, "--")
	if i < 0 {
		return append(args, extra...)
	}
	return slices.Concat(args[:i], extra, args[i:])
}

// mergeEnv overlays maps on base, later maps winning. The result is sorted
// by name so the child environment is deterministic.
func mergeEnv(base []string, overlays ...map[string]string) []string {
	env := make(map[string]string, len(base))
	for _, kv := range base {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}
	for _, m := range overlays {
		for k, v := range m {
			env[k] = v
		}
	}
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

func tail(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > stderrTail {
		s = "..." + s[len(s)-stderrTail:]
	}
	return s
}
