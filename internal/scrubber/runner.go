package scrubber

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"scrubapi/internal/config"
)

// Argument placeholders substituted by a Runner with the backend-local paths
// of Invocation.Input and Invocation.Output.
const (
	InputToken  = "{in}"
	OutputToken = "{out}"
)

var (
	// ErrToolUnavailable means the tool is not installed or failed its probe.
	ErrToolUnavailable = errors.New("scrub tool unavailable")
	// ErrExecutionFailed means the tool ran but did not produce a usable result.
	ErrExecutionFailed = errors.New("scrub execution failed")
)

// Invocation describes one external tool call in backend-neutral terms.
// Input and Output are always local paths; a remote backend is responsible for
// moving bytes across.
type Invocation struct {
	Tool string
	Args []string
	// Input is read by the tool through InputToken.
	Input string
	// Output is collected after the tool exits, when set.
	Output string
	// SeedOutput copies Input to Output before running, for tools that only
	// edit files in place.
	SeedOutput bool
}

// Result carries the captured streams of a finished invocation.
type Result struct {
	Stdout []byte
	Stderr []byte
}

// ExitError reports a tool that exited with a non-zero status.
type ExitError struct {
	Tool   string
	Args   []string
	Code   int
	Stderr string
	Err    error
}

func (e *ExitError) Error() string {
	command := strings.TrimSpace(e.Tool + " " + strings.Join(e.Args, " "))
	if e.Stderr != "" {
		return fmt.Sprintf("%s: exit %d: %s", command, e.Code, e.Stderr)
	}
	return fmt.Sprintf("%s: exit %d", command, e.Code)
}

func (e *ExitError) Unwrap() error { return e.Err }

// Runner executes scrubbing tools on some backend: the local machine, or a
// remote shell. Strategies are written against this interface only.
type Runner interface {
	Name() string
	// LookPath reports ErrToolUnavailable when tool cannot be resolved.
	LookPath(ctx context.Context, tool string) error
	Run(ctx context.Context, inv Invocation) (Result, error)
}

// NewRunner builds the backend selected by cfg.Runner.
func NewRunner(cfg config.ScrubConfig) (Runner, error) {
	switch strings.ToLower(cfg.Runner) {
	case "", "local":
		return NewLocalRunner(), nil
	case "ssh":
		return NewSSHRunner(cfg.SSH)
	default:
		return nil, fmt.Errorf("scrubber: unknown runner %q", cfg.Runner)
	}
}

// LocalRunner runs tools as child processes of this service.
type LocalRunner struct {
	lookPath  func(string) (string, error)
	waitDelay time.Duration
}

// NewLocalRunner resolves tools on PATH.
func NewLocalRunner() *LocalRunner {
	return &LocalRunner{lookPath: exec.LookPath, waitDelay: 2 * time.Second}
}

func (r *LocalRunner) Name() string { return "local" }

func (r *LocalRunner) LookPath(_ context.Context, tool string) error {
	if _, err := r.lookPath(tool); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrToolUnavailable, tool, err)
	}
	return nil
}

// Run executes the tool with stdout and stderr captured. A context deadline
// kills the process; the returned error then wraps the context error.
func (r *LocalRunner) Run(ctx context.Context, inv Invocation) (Result, error) {
	binary, err := r.lookPath(inv.Tool)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %s: %v", ErrToolUnavailable, inv.Tool, err)
	}
	if inv.SeedOutput {
		if err := copyFile(inv.Input, inv.Output); err != nil {
			return Result{}, fmt.Errorf("seed %s: %w", inv.Output, err)
		}
	}

	args := expandArgs(inv.Args, inv.Input, inv.Output)

	var stdout, stderr bytes.Buffer
	command := exec.CommandContext(ctx, binary, args...)
	command.Stdout = &stdout
	command.Stderr = &stderr
	command.WaitDelay = r.waitDelay

	err = command.Run()
	res := Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	if err == nil {
		return res, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return res, fmt.Errorf("%s: %w", inv.Tool, ctxErr)
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return res, &ExitError{
			Tool:   inv.Tool,
			Args:   args,
			Code:   exitErr.ExitCode(),
			Stderr: strings.TrimSpace(stderr.String()),
			Err:    err,
		}
	}
	return res, fmt.Errorf("%s: %w", inv.Tool, err)
}

func expandArgs(args []string, input, output string) []string {
	out := make([]string, len(args))
	for i, a := range args {
		a = strings.ReplaceAll(a, InputToken, input)
		out[i] = strings.ReplaceAll(a, OutputToken, output)
	}
	return out
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
