// Package run executes external tools through argv vectors.
//
// Every call is bounded by a wall-clock timeout and captures both output
// streams. Commands are never passed through a shell; callers build
// argument vectors and the facade reports one uniform failure type.
package run

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// DefaultTimeout bounds a subprocess call when the caller's context
// carries no deadline of its own.
const DefaultTimeout = 30 * time.Second

// stderrTailLimit caps how much captured stderr an error carries.
const stderrTailLimit = 2048

// Runner executes external commands.
// This interface allows mocking command execution in tests.
type Runner interface {
	// Run executes a command and returns its trimmed stdout.
	// A non-zero exit status is an error.
	Run(ctx context.Context, dir, name string, args ...string) (string, error)

	// Probe executes a command and reports its exit status without
	// treating a non-zero status as an error. Spawn failures, timeouts
	// and cancellation still return an error.
	Probe(ctx context.Context, dir, name string, args ...string) (*Result, error)
}

// Result carries the outcome of a Probe call.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// ExecRunner is the default Runner backed by os/exec.
type ExecRunner struct {
	// Timeout overrides DefaultTimeout when positive.
	Timeout time.Duration
}

// NewExecRunner creates the default runner.
func NewExecRunner() *ExecRunner {
	return &ExecRunner{}
}

func (r *ExecRunner) timeout() time.Duration {
	if r.Timeout > 0 {
		return r.Timeout
	}
	return DefaultTimeout
}

// Run executes the command and returns its trimmed stdout.
func (r *ExecRunner) Run(ctx context.Context, dir, name string, args ...string) (string, error) {
	res, cmdErr := r.exec(ctx, dir, name, args...)
	if cmdErr != nil {
		return "", cmdErr
	}
	if res.ExitCode != 0 {
		return "", &CommandError{
			Name:     name,
			Args:     args,
			Dir:      dir,
			ExitCode: res.ExitCode,
			Stderr:   res.Stderr,
		}
	}
	return strings.TrimSpace(res.Stdout), nil
}

// Probe executes the command and reports its exit status.
func (r *ExecRunner) Probe(ctx context.Context, dir, name string, args ...string) (*Result, error) {
	res, cmdErr := r.exec(ctx, dir, name, args...)
	if cmdErr != nil {
		return nil, cmdErr
	}
	return res, nil
}

func (r *ExecRunner) exec(ctx context.Context, dir, name string, args ...string) (*Result, *CommandError) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout())
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := &Result{
		Stdout: stdout.String(),
		Stderr: tail(stderr.String(), stderrTailLimit),
	}
	if err == nil {
		return res, nil
	}

	// A plain non-zero exit with a live context is a valid probe answer.
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && ctx.Err() == nil {
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	}

	cmdErr := &CommandError{
		Name:     name,
		Args:     args,
		Dir:      dir,
		ExitCode: -1,
		Stderr:   res.Stderr,
		Err:      err,
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		cmdErr.Err = ctxErr
		cmdErr.Timeout = errors.Is(ctxErr, context.DeadlineExceeded)
	}
	return nil, cmdErr
}

// CommandError represents a failed command execution.
type CommandError struct {
	Name     string
	Args     []string
	Dir      string
	ExitCode int
	Stderr   string
	Timeout  bool
	Err      error
}

// Command reconstructs the argv line for display.
func (e *CommandError) Command() string {
	return strings.Join(append([]string{e.Name}, e.Args...), " ")
}

func (e *CommandError) Error() string {
	switch {
	case e.Timeout:
		return fmt.Sprintf("%s: timed out", e.Command())
	case e.Stderr != "":
		return fmt.Sprintf("%s: exit %d: %s", e.Command(), e.ExitCode, e.Stderr)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Command(), e.Err)
	default:
		return fmt.Sprintf("%s: exit %d", e.Command(), e.ExitCode)
	}
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
