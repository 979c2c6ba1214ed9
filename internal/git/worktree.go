package git

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	verrors "github.com/wrenhall/village/internal/errors"
)

// ErrCollision marks a worktree creation that hit an existing path or
// branch. Callers match it with errors.Is and apply the suffix-retry
// policy; every other failure is terminal.
var ErrCollision = errors.New("worktree collision")

// Worktree describes one managed worktree.
type Worktree struct {
	TaskID string
	Path   string
	Branch string
	Head   string
}

// Worktrees manages the git worktrees village creates for tasks. It owns
// the directory layout <dir>/<task_id> and the worktree-<task_id> branch
// namespace, and nothing else: locks and panes are other packages' business.
type Worktrees struct {
	g   *Context
	dir string
}

// NewWorktrees returns a manager storing worktrees under dir.
func NewWorktrees(g *Context, dir string) *Worktrees {
	return &Worktrees{g: g, dir: dir}
}

// Dir returns the directory worktrees are created under.
func (w *Worktrees) Dir() string { return w.dir }

// PathFor returns the worktree path a task would occupy.
func (w *Worktrees) PathFor(taskID string) string {
	return filepath.Join(w.dir, taskID)
}

// Create makes branch worktree-<taskID> at HEAD and checks it out into
// <dir>/<taskID>. An existing path or branch yields ErrCollision before
// git is even invoked; git-reported "already exists" failures map to the
// same kind. A stale registration (directory gone, git still tracking it)
// is pruned and the add retried once.
func (w *Worktrees) Create(ctx context.Context, taskID string) (*Worktree, error) {
	if err := ValidateTaskID(taskID); err != nil {
		return nil, verrors.ErrUsage(err.Error())
	}

	branch := BranchName(taskID)
	path := w.PathFor(taskID)

	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("%w: path %s already exists", ErrCollision, path)
	}
	exists, err := w.g.BranchExists(ctx, branch)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("%w: branch %s already exists", ErrCollision, branch)
	}

	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return nil, verrors.ErrSubprocess("create worktrees directory", err)
	}

	if err := w.add(ctx, branch, path); err != nil {
		return nil, err
	}

	head, err := w.g.Head(ctx)
	if err != nil {
		return nil, err
	}
	return &Worktree{TaskID: taskID, Path: path, Branch: branch, Head: head}, nil
}

func (w *Worktrees) add(ctx context.Context, branch, path string) error {
	res, err := w.g.probe(ctx, "worktree", "add", "-b", branch, path, "HEAD")
	if err != nil {
		return verrors.ErrSubprocess("create worktree", err)
	}
	if res.ExitCode == 0 {
		return nil
	}
	if collisionOutput(res.Stderr) {
		// The preflight can miss a registration whose directory was
		// deleted by hand. Prune and retry once before giving up.
		if _, perr := w.g.probe(ctx, "worktree", "prune"); perr == nil {
			retry, rerr := w.g.probe(ctx, "worktree", "add", "-b", branch, path, "HEAD")
			if rerr == nil && retry.ExitCode == 0 {
				return nil
			}
			if rerr == nil {
				res = retry
			}
		}
		if collisionOutput(res.Stderr) {
			return fmt.Errorf("%w: %s", ErrCollision, strings.TrimSpace(res.Stderr))
		}
	}
	return verrors.ErrSubprocess("create worktree", &exitError{stderr: res.Stderr, code: res.ExitCode})
}

func collisionOutput(stderr string) bool {
	return strings.Contains(stderr, "already exists") ||
		strings.Contains(stderr, "already checked out") ||
		strings.Contains(stderr, "already used by worktree")
}

type exitError struct {
	stderr string
	code   int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("git exited %d: %s", e.code, strings.TrimSpace(e.stderr))
}

// Get returns the worktree for a task, or false when none exists.
func (w *Worktrees) Get(ctx context.Context, taskID string) (*Worktree, bool, error) {
	all, err := w.List(ctx)
	if err != nil {
		return nil, false, err
	}
	for _, wt := range all {
		if wt.TaskID == taskID {
			return wt, true, nil
		}
	}
	return nil, false, nil
}

// List returns every managed worktree, parsed from the porcelain listing.
// Worktrees outside the managed directory (the main checkout included)
// are filtered out.
func (w *Worktrees) List(ctx context.Context) ([]*Worktree, error) {
	out, err := w.g.git(ctx, "worktree", "list", "--porcelain")
	if err != nil {
		return nil, verrors.ErrSubprocess("list worktrees", err)
	}

	var all []*Worktree
	for _, block := range strings.Split(out, "\n\n") {
		wt := parsePorcelainBlock(block)
		if wt == nil {
			continue
		}
		rel, err := filepath.Rel(w.dir, wt.Path)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			continue
		}
		// The branch is authoritative for identity; a renamed directory
		// still belongs to the task its branch names.
		if id, ok := TaskIDFromBranch(wt.Branch); ok {
			wt.TaskID = id
		} else {
			wt.TaskID = filepath.Base(wt.Path)
		}
		all = append(all, wt)
	}
	return all, nil
}

func parsePorcelainBlock(block string) *Worktree {
	wt := &Worktree{}
	for _, line := range strings.Split(block, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "worktree "):
			wt.Path = strings.TrimPrefix(line, "worktree ")
		case strings.HasPrefix(line, "HEAD "):
			wt.Head = strings.TrimPrefix(line, "HEAD ")
		case strings.HasPrefix(line, "branch "):
			wt.Branch = strings.TrimPrefix(strings.TrimPrefix(line, "branch "), "refs/heads/")
		}
	}
	if wt.Path == "" {
		return nil
	}
	return wt
}

// Untracked returns directories under the worktrees dir that git does not
// know about, usually the remains of a worktree removed with rm -rf.
func (w *Worktrees) Untracked(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(w.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, verrors.ErrSubprocess("read worktrees directory", err)
	}

	tracked := map[string]bool{}
	all, err := w.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, wt := range all {
		tracked[wt.TaskID] = true
	}

	var untracked []string
	for _, entry := range entries {
		if entry.IsDir() && !tracked[entry.Name()] {
			untracked = append(untracked, entry.Name())
		}
	}
	return untracked, nil
}

// Remove deletes a task's worktree, its branch, and any stale
// registration. Removing an absent worktree is a no-op so cleanup can
// re-run safely.
func (w *Worktrees) Remove(ctx context.Context, taskID string) error {
	path := w.PathFor(taskID)

	res, err := w.g.probe(ctx, "worktree", "remove", "--force", path)
	if err != nil {
		return verrors.ErrSubprocess("remove worktree", err)
	}
	if res.ExitCode != 0 {
		// Not a registered worktree; clear the directory if it lingers.
		if err := os.RemoveAll(path); err != nil {
			return verrors.ErrSubprocess("remove worktree directory", err)
		}
	}

	if _, err := w.g.probe(ctx, "branch", "-D", BranchName(taskID)); err != nil {
		return verrors.ErrSubprocess("delete worktree branch", err)
	}
	if _, err := w.g.probe(ctx, "worktree", "prune"); err != nil {
		return verrors.ErrSubprocess("prune worktrees", err)
	}
	return nil
}
