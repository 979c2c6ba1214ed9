// Package runtest provides a scriptable fake run.Runner for tests.
package runtest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/wrenhall/village/internal/run"
)

// Call records one invocation seen by the fake.
type Call struct {
	Dir  string
	Name string
	Args []string
}

// Command reconstructs the argv line.
func (c Call) Command() string {
	return strings.Join(append([]string{c.Name}, c.Args...), " ")
}

// Response scripts the outcome of one invocation.
type Response struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Err      error
}

// Runner is a fake run.Runner. Stub responses by exact argv line or by
// prefix; unmatched commands fail loudly so tests never pass by accident.
type Runner struct {
	mu       sync.Mutex
	calls    []Call
	exact    map[string][]Response
	prefixes []prefixStub
}

type prefixStub struct {
	prefix string
	resp   Response
}

// New creates an empty fake runner.
func New() *Runner {
	return &Runner{exact: make(map[string][]Response)}
}

// Stub queues a response for an exact argv line, e.g.
// "tmux has-session -t village". Repeated stubs for the same line are
// consumed in order; the last one sticks.
func (r *Runner) Stub(cmdline string, resp Response) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.exact[cmdline] = append(r.exact[cmdline], resp)
}

// StubPrefix registers a response for any argv line with the given prefix.
// Exact stubs win over prefix stubs; earlier prefixes win over later ones.
func (r *Runner) StubPrefix(prefix string, resp Response) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prefixes = append(r.prefixes, prefixStub{prefix: prefix, resp: resp})
}

// Calls returns a copy of every recorded invocation.
func (r *Runner) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Call, len(r.calls))
	copy(out, r.calls)
	return out
}

// CommandLines returns the argv line of every recorded invocation.
func (r *Runner) CommandLines() []string {
	calls := r.Calls()
	lines := make([]string, len(calls))
	for i, c := range calls {
		lines[i] = c.Command()
	}
	return lines
}

func (r *Runner) next(call Call) (Response, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call)

	line := call.Command()
	if queue, ok := r.exact[line]; ok && len(queue) > 0 {
		resp := queue[0]
		if len(queue) > 1 {
			r.exact[line] = queue[1:]
		}
		return resp, nil
	}
	for _, p := range r.prefixes {
		if strings.HasPrefix(line, p.prefix) {
			return p.resp, nil
		}
	}
	return Response{}, fmt.Errorf("runtest: unstubbed command %q", line)
}

// Run implements run.Runner.
func (r *Runner) Run(_ context.Context, dir, name string, args ...string) (string, error) {
	resp, err := r.next(Call{Dir: dir, Name: name, Args: args})
	if err != nil {
		return "", err
	}
	if resp.Err != nil {
		return "", resp.Err
	}
	if resp.ExitCode != 0 {
		return "", &run.CommandError{
			Name:     name,
			Args:     args,
			Dir:      dir,
			ExitCode: resp.ExitCode,
			Stderr:   resp.Stderr,
		}
	}
	return strings.TrimSpace(resp.Stdout), nil
}

// Probe implements run.Runner.
func (r *Runner) Probe(_ context.Context, dir, name string, args ...string) (*run.Result, error) {
	resp, err := r.next(Call{Dir: dir, Name: name, Args: args})
	if err != nil {
		return nil, err
	}
	if resp.Err != nil {
		return nil, resp.Err
	}
	return &run.Result{
		Stdout:   resp.Stdout,
		Stderr:   resp.Stderr,
		ExitCode: resp.ExitCode,
	}, nil
}
