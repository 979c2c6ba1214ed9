// Package tasksource consumes the external ready-task backend. The backend
// is a separate CLI; village only invokes it and parses its newline output,
// one ready task per line: a task id token followed by free-form metadata.
package tasksource

import (
	"context"
	"os/exec"
	"regexp"
	"strings"

	verrors "github.com/wrenhall/village/internal/errors"
	"github.com/wrenhall/village/internal/run"
)

// Task is one intake item from the backend.
type Task struct {
	ID       string
	Metadata string
	Agent    string
}

// agentPattern matches the three tolerated metadata forms: agent:X,
// agent=X, agent/X. The set is closed; anything else falls back to the
// configured default.
var agentPattern = regexp.MustCompile(`\bagent[:=/]([A-Za-z0-9._-]+)`)

// ExtractAgent pulls the agent label out of a metadata line. The first
// match wins; no match yields fallback.
func ExtractAgent(metadata, fallback string) string {
	m := agentPattern.FindStringSubmatch(metadata)
	if m == nil {
		return fallback
	}
	return m[1]
}

// Source lists ready tasks by invoking the configured backend command.
type Source struct {
	runner       run.Runner
	argv         []string
	defaultAgent string
}

// New builds a source around the backend argv, e.g. ["bd", "ready"].
func New(runner run.Runner, argv []string, defaultAgent string) *Source {
	return &Source{runner: runner, argv: argv, defaultAgent: defaultAgent}
}

// Available reports whether a backend command is configured at all.
func (s *Source) Available() bool {
	return len(s.argv) > 0 && s.argv[0] != ""
}

// List returns the ready tasks in the backend's order. A missing backend
// binary or an empty listing is an empty slice, not an error; the
// orchestrator simply has no work.
func (s *Source) List(ctx context.Context) ([]Task, error) {
	if !s.Available() {
		return nil, nil
	}

	out, err := s.runner.Run(ctx, "", s.argv[0], s.argv[1:]...)
	if err != nil {
		if isNotInstalled(err) {
			return nil, nil
		}
		return nil, verrors.ErrSubprocess("list ready tasks", err)
	}
	return ParseList(out, s.defaultAgent), nil
}

func isNotInstalled(err error) bool {
	return verrors.Is(err, exec.ErrNotFound)
}

// ParseList parses the backend's newline output. Blank lines are skipped;
// each remaining line is "<task_id> <metadata...>".
func ParseList(out, defaultAgent string) []Task {
	var tasks []Task
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		id, meta, _ := strings.Cut(line, " ")
		meta = strings.TrimSpace(meta)
		tasks = append(tasks, Task{
			ID:       id,
			Metadata: meta,
			Agent:    ExtractAgent(meta, defaultAgent),
		})
	}
	return tasks
}
