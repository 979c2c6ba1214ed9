// Package git wraps the git subprocess surface village needs: repository
// root resolution, worktree create/list/remove, and branch naming. It knows
// nothing about locks or tmux panes.
package git

import (
	"context"
	"path/filepath"
	"strings"

	verrors "github.com/wrenhall/village/internal/errors"
	"github.com/wrenhall/village/internal/run"
)

// Context is a handle on one git repository, pinned to its resolved root.
type Context struct {
	root   string
	runner run.Runner
}

// NewContext resolves the repository root from dir via rev-parse and
// validates that dir is inside a work tree.
func NewContext(ctx context.Context, runner run.Runner, dir string) (*Context, error) {
	res, err := runner.Probe(ctx, dir, "git", "rev-parse", "--show-toplevel")
	if err != nil {
		return nil, verrors.ErrSubprocess("locate git repository", err)
	}
	if res.ExitCode != 0 {
		return nil, verrors.ErrNotRepo(dir)
	}
	root := strings.TrimSpace(res.Stdout)
	if root == "" {
		return nil, verrors.ErrNotRepo(dir)
	}
	return &Context{root: filepath.Clean(root), runner: runner}, nil
}

// Root returns the absolute repository root.
func (g *Context) Root() string { return g.root }

// git runs a git command at the repository root and returns trimmed stdout.
func (g *Context) git(ctx context.Context, args ...string) (string, error) {
	out, err := g.runner.Run(ctx, g.root, "git", args...)
	return strings.TrimSpace(out), err
}

// probe runs a git command where a non-zero exit is an answer, not a failure.
func (g *Context) probe(ctx context.Context, args ...string) (*run.Result, error) {
	return g.runner.Probe(ctx, g.root, "git", args...)
}

// Head returns the abbreviated commit id of HEAD.
func (g *Context) Head(ctx context.Context) (string, error) {
	out, err := g.git(ctx, "rev-parse", "--short", "HEAD")
	if err != nil {
		return "", verrors.ErrSubprocess("read HEAD", err)
	}
	return out, nil
}

// BranchExists reports whether a local branch with the given name exists.
func (g *Context) BranchExists(ctx context.Context, name string) (bool, error) {
	res, err := g.probe(ctx, "show-ref", "--verify", "--quiet", "refs/heads/"+name)
	if err != nil {
		return false, verrors.ErrSubprocess("check branch", err)
	}
	return res.ExitCode == 0, nil
}
