// Package lock owns the per-task lock files that stake a task's claim on
// a tmux pane. A lock is a plain key=value text file so humans can cat it;
// parsing never fails hard, a malformed file is returned with Corrupted set
// so callers can decide whether to ignore it (probes) or remove it (cleanup).
package lock

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	verrors "github.com/wrenhall/village/internal/errors"
	"github.com/wrenhall/village/internal/tmux"
)

// Suffix is the file extension for lock files.
const Suffix = ".lock"

// State is the task lifecycle state recorded inside a lock.
type State string

const (
	StateQueued     State = "queued"
	StateInProgress State = "in_progress"
	StatePaused     State = "paused"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
)

// knownStates gates parsing: a state= line with any other value marks the
// lock corrupted rather than silently round-tripping garbage.
var knownStates = map[State]bool{
	StateQueued:     true,
	StateInProgress: true,
	StatePaused:     true,
	StateCompleted:  true,
	StateFailed:     true,
}

// legalTransitions is the closed state graph. Terminal states have no exits.
var legalTransitions = map[State][]State{
	StateQueued:     {StateInProgress},
	StateInProgress: {StatePaused, StateCompleted, StateFailed},
	StatePaused:     {StateInProgress},
}

// Transition is one recorded state change in a lock's history.
type Transition struct {
	TS      time.Time `json:"ts"`
	From    State     `json:"from"`
	To      State     `json:"to"`
	Context string    `json:"context,omitempty"`
}

// Status is the liveness classification of a lock against a pane set.
type Status string

const (
	StatusActive Status = "ACTIVE"
	StatusStale  Status = "STALE"
)

// Lock is one parsed lock file. When Corrupted is true only TaskID (derived
// from the filename) and Path are trustworthy; Reason says what was wrong.
type Lock struct {
	TaskID    string
	Pane      string
	Window    string
	Agent     string
	ClaimedAt time.Time
	State     State
	History   []Transition

	Path      string
	Corrupted bool
	Reason    string
}

// IsActive reports whether the lock's pane is present in the given pane set.
// Corrupted locks are never active.
func (l *Lock) IsActive(panes tmux.PaneSet) bool {
	if l.Corrupted {
		return false
	}
	return panes.Has(l.Pane)
}

// StatusAgainst classifies the lock as ACTIVE or STALE for the pane set.
func (l *Lock) StatusAgainst(panes tmux.PaneSet) Status {
	if l.IsActive(panes) {
		return StatusActive
	}
	return StatusStale
}

// Age returns how long ago the lock was claimed.
func (l *Lock) Age(now time.Time) time.Duration {
	return now.Sub(l.ClaimedAt)
}

// marshal renders the lock in canonical key order so that writing, parsing
// and re-writing a lock yields byte-identical files.
func (l *Lock) marshal() ([]byte, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "id=%s\n", l.TaskID)
	fmt.Fprintf(&b, "pane=%s\n", l.Pane)
	fmt.Fprintf(&b, "window=%s\n", l.Window)
	fmt.Fprintf(&b, "agent=%s\n", l.Agent)
	fmt.Fprintf(&b, "claimed_at=%s\n", l.ClaimedAt.UTC().Format(time.RFC3339))
	if l.State != "" {
		fmt.Fprintf(&b, "state=%s\n", l.State)
	}
	if len(l.History) > 0 {
		hist, err := json.Marshal(l.History)
		if err != nil {
			return nil, fmt.Errorf("marshal state history: %w", err)
		}
		fmt.Fprintf(&b, "state_history=%s\n", hist)
	}
	return []byte(b.String()), nil
}

// Registry reads and writes lock files under a single directory.
type Registry struct {
	dir string
	now func() time.Time
}

// NewRegistry returns a registry rooted at dir. The directory is created
// lazily on the first write.
func NewRegistry(dir string) *Registry {
	return &Registry{dir: dir, now: time.Now}
}

// WithClock overrides the registry clock. Tests use this to pin history
// timestamps.
func (r *Registry) WithClock(now func() time.Time) *Registry {
	r.now = now
	return r
}

// Dir returns the lock directory.
func (r *Registry) Dir() string { return r.dir }

// Path returns the lock file path for a task id.
func (r *Registry) Path(taskID string) string {
	return filepath.Join(r.dir, taskID+Suffix)
}

// TaskIDFromPath derives the task id from a lock file path.
func TaskIDFromPath(path string) string {
	return strings.TrimSuffix(filepath.Base(path), Suffix)
}

// Parse reads one lock file. It never returns an error for malformed
// content: the lock comes back with Corrupted set and Reason explaining why.
// Only I/O failures (other than the file missing) surface as errors.
func Parse(path string) (*Lock, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return parseBytes(path, data), nil
}

func parseBytes(path string, data []byte) *Lock {
	l := &Lock{TaskID: TaskIDFromPath(path), Path: path}

	corrupt := func(format string, args ...any) *Lock {
		l.Corrupted = true
		l.Reason = fmt.Sprintf(format, args...)
		return l
	}

	var id string
	seen := map[string]bool{}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			// Unknown lines are ignored for forward compatibility.
			continue
		}
		seen[key] = true
		switch key {
		case "id":
			id = value
		case "pane":
			l.Pane = value
		case "window":
			l.Window = value
		case "agent":
			l.Agent = value
		case "claimed_at":
			ts, err := time.Parse(time.RFC3339, value)
			if err != nil {
				return corrupt("invalid claimed_at %q", value)
			}
			l.ClaimedAt = ts.UTC()
		case "state":
			if !knownStates[State(value)] {
				return corrupt("unknown state %q", value)
			}
			l.State = State(value)
		case "state_history":
			if err := json.Unmarshal([]byte(value), &l.History); err != nil {
				return corrupt("invalid state_history: %v", err)
			}
		}
	}

	for _, required := range []string{"id", "pane", "window", "agent", "claimed_at"} {
		if !seen[required] {
			return corrupt("missing %s", required)
		}
	}
	if id != l.TaskID {
		return corrupt("id %q does not match filename", id)
	}
	return l
}

// Get returns the lock for a task id, or nil when no lock file exists.
func (r *Registry) Get(taskID string) (*Lock, error) {
	l, err := Parse(r.Path(taskID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, verrors.ErrSubprocess("read lock", err)
	}
	return l, nil
}

// List returns every *.lock file in the registry, corrupted ones included,
// sorted by task id. A missing directory is an empty registry.
func (r *Registry) List() ([]*Lock, error) {
	entries, err := os.ReadDir(r.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, verrors.ErrSubprocess("list locks", err)
	}

	var locks []*Lock
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), Suffix) {
			continue
		}
		l, err := Parse(filepath.Join(r.dir, entry.Name()))
		if err != nil {
			return nil, verrors.ErrSubprocess("read lock", err)
		}
		locks = append(locks, l)
	}
	sort.Slice(locks, func(i, j int) bool { return locks[i].TaskID < locks[j].TaskID })
	return locks, nil
}

// Write persists the lock atomically: the content lands in a uniquely named
// temp file in the same directory and is renamed over the final path, so
// concurrent readers only ever observe complete lock files.
func (r *Registry) Write(l *Lock) error {
	if l.TaskID == "" {
		return &verrors.VillageError{
			Kind: verrors.KindLockValidation,
			What: "write lock",
			Why:  "lock has no task id",
		}
	}
	if l.Corrupted {
		return &verrors.VillageError{
			Kind: verrors.KindLockValidation,
			What: "write lock",
			Why:  "refusing to write a corrupted lock",
		}
	}
	data, err := l.marshal()
	if err != nil {
		return verrors.ErrSubprocess("write lock", err)
	}
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return verrors.ErrSubprocess("create lock directory", err)
	}

	path := r.Path(l.TaskID)
	tmp := path + ".tmp." + uuid.NewString()[:8]
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return verrors.ErrSubprocess("write lock", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return verrors.ErrSubprocess("write lock", err)
	}
	l.Path = path
	return nil
}

// Remove deletes the lock file for a task. Removing an absent lock is a
// no-op so cleanup paths stay idempotent.
func (r *Registry) Remove(taskID string) error {
	err := os.Remove(r.Path(taskID))
	if err != nil && !os.IsNotExist(err) {
		return verrors.ErrSubprocess("remove lock", err)
	}
	return nil
}

// Transition moves a task's lock to a new state, appending the change to
// state_history and rewriting the file atomically. A lock without a state
// line is treated as in_progress, which is what the executor writes.
func (r *Registry) Transition(taskID string, to State, context string) (*Lock, error) {
	l, err := r.Get(taskID)
	if err != nil {
		return nil, err
	}
	if l == nil {
		return nil, ErrNoLock(taskID)
	}
	if l.Corrupted {
		return nil, verrors.ErrCorruptLock(l.TaskID, l.Path, l.Reason)
	}

	from := l.State
	if from == "" {
		from = StateInProgress
	}
	if !transitionLegal(from, to) {
		return nil, &verrors.VillageError{
			Kind: verrors.KindUserInput,
			What: "change task state",
			Why:  fmt.Sprintf("cannot move task %s from %s to %s", taskID, from, to),
			Fix:  "run 'village locks' to see the task's current state",
		}
	}

	l.State = to
	l.History = append(l.History, Transition{
		TS:      r.now().UTC().Truncate(time.Second),
		From:    from,
		To:      to,
		Context: context,
	})
	if err := r.Write(l); err != nil {
		return nil, err
	}
	return l, nil
}

func transitionLegal(from, to State) bool {
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ErrNoLock reports that a task has no lock file.
func ErrNoLock(taskID string) *verrors.VillageError {
	return &verrors.VillageError{
		Kind: verrors.KindUserInput,
		What: "find lock",
		Why:  fmt.Sprintf("no lock file exists for task %s", taskID),
		Fix:  "run 'village locks' to list held locks",
	}
}

// Evaluate classifies every parseable lock as ACTIVE or STALE against the
// pane set. Corrupted locks are skipped; they are neither alive nor safely
// removable here, only cleanup handles them.
func Evaluate(locks []*Lock, panes tmux.PaneSet) map[string]Status {
	statuses := make(map[string]Status, len(locks))
	for _, l := range locks {
		if l.Corrupted {
			continue
		}
		statuses[l.TaskID] = l.StatusAgainst(panes)
	}
	return statuses
}

// Active returns the subset of locks that are ACTIVE against the pane set,
// sorted by task id.
func Active(locks []*Lock, panes tmux.PaneSet) []*Lock {
	var active []*Lock
	for _, l := range locks {
		if l.IsActive(panes) {
			active = append(active, l)
		}
	}
	return active
}
