package git

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wrenhall/village/internal/run/runtest"
)

func newTestWorktrees(t *testing.T, r *runtest.Runner) *Worktrees {
	t.Helper()
	r.Stub("git rev-parse --show-toplevel", runtest.Response{Stdout: "/repo"})
	g, err := NewContext(context.Background(), r, "/repo")
	require.NoError(t, err)
	return NewWorktrees(g, filepath.Join(t.TempDir(), "worktrees"))
}

func TestCreate_Succeeds(t *testing.T) {
	r := runtest.New()
	w := newTestWorktrees(t, r)
	path := w.PathFor("bd-a3f8")

	r.Stub("git show-ref --verify --quiet refs/heads/worktree-bd-a3f8", runtest.Response{ExitCode: 1})
	r.Stub("git worktree add -b worktree-bd-a3f8 "+path+" HEAD", runtest.Response{ExitCode: 0})
	r.Stub("git rev-parse --short HEAD", runtest.Response{Stdout: "f00dcafe"})

	wt, err := w.Create(context.Background(), "bd-a3f8")
	require.NoError(t, err)
	assert.Equal(t, "bd-a3f8", wt.TaskID)
	assert.Equal(t, path, wt.Path)
	assert.Equal(t, "worktree-bd-a3f8", wt.Branch)
	assert.Equal(t, "f00dcafe", wt.Head)
}

func TestCreate_PathCollision(t *testing.T) {
	r := runtest.New()
	w := newTestWorktrees(t, r)
	require.NoError(t, os.MkdirAll(w.PathFor("bd-a3f8"), 0o755))

	_, err := w.Create(context.Background(), "bd-a3f8")
	assert.ErrorIs(t, err, ErrCollision)
	// Collision is decided before git runs anything beyond root resolution.
	assert.Len(t, r.Calls(), 1)
}

func TestCreate_BranchCollision(t *testing.T) {
	r := runtest.New()
	w := newTestWorktrees(t, r)
	r.Stub("git show-ref --verify --quiet refs/heads/worktree-bd-a3f8", runtest.Response{ExitCode: 0})

	_, err := w.Create(context.Background(), "bd-a3f8")
	assert.ErrorIs(t, err, ErrCollision)
}

func TestCreate_StaleRegistrationPrunedAndRetried(t *testing.T) {
	r := runtest.New()
	w := newTestWorktrees(t, r)
	path := w.PathFor("bd-a3f8")

	r.Stub("git show-ref --verify --quiet refs/heads/worktree-bd-a3f8", runtest.Response{ExitCode: 1})
	r.Stub("git worktree add -b worktree-bd-a3f8 "+path+" HEAD", runtest.Response{
		ExitCode: 128,
		Stderr:   "fatal: '" + path + "' already used by worktree",
	})
	r.Stub("git worktree prune", runtest.Response{ExitCode: 0})
	r.Stub("git worktree add -b worktree-bd-a3f8 "+path+" HEAD", runtest.Response{ExitCode: 0})
	r.Stub("git rev-parse --short HEAD", runtest.Response{Stdout: "f00dcafe"})

	wt, err := w.Create(context.Background(), "bd-a3f8")
	require.NoError(t, err)
	assert.Equal(t, path, wt.Path)
	assert.Contains(t, r.CommandLines(), "git worktree prune")
}

func TestCreate_GitReportsCollision(t *testing.T) {
	r := runtest.New()
	w := newTestWorktrees(t, r)
	path := w.PathFor("bd-a3f8")

	r.Stub("git show-ref --verify --quiet refs/heads/worktree-bd-a3f8", runtest.Response{ExitCode: 1})
	r.StubPrefix("git worktree add -b worktree-bd-a3f8 "+path, runtest.Response{
		ExitCode: 128,
		Stderr:   "fatal: a branch named 'worktree-bd-a3f8' already exists",
	})
	r.Stub("git worktree prune", runtest.Response{ExitCode: 0})

	_, err := w.Create(context.Background(), "bd-a3f8")
	assert.ErrorIs(t, err, ErrCollision)
}

func TestCreate_RejectsInvalidTaskID(t *testing.T) {
	r := runtest.New()
	w := newTestWorktrees(t, r)

	_, err := w.Create(context.Background(), "../escape")
	require.Error(t, err)
}

const porcelainListing = `worktree /repo
HEAD aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa
branch refs/heads/main

worktree %s/bd-a3f8
HEAD bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb
branch refs/heads/worktree-bd-a3f8

worktree %s/gh-1204
HEAD cccccccccccccccccccccccccccccccccccccccc
detached`

func TestList_FiltersToManagedDir(t *testing.T) {
	r := runtest.New()
	w := newTestWorktrees(t, r)

	out := porcelainListing
	out = strings.ReplaceAll(out, "%s", w.Dir())
	r.Stub("git worktree list --porcelain", runtest.Response{Stdout: out})

	all, err := w.List(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "bd-a3f8", all[0].TaskID)
	assert.Equal(t, "worktree-bd-a3f8", all[0].Branch)
	assert.Equal(t, "gh-1204", all[1].TaskID)
	assert.Empty(t, all[1].Branch)
}

func TestList_BranchNamesTheTask(t *testing.T) {
	r := runtest.New()
	w := newTestWorktrees(t, r)

	// A hand-renamed directory keeps the identity its branch carries.
	out := "worktree " + filepath.Join(w.Dir(), "bd-a3f8-moved") + "\n" +
		"HEAD bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb\n" +
		"branch refs/heads/worktree-bd-a3f8"
	r.Stub("git worktree list --porcelain", runtest.Response{Stdout: out})

	all, err := w.List(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "bd-a3f8", all[0].TaskID)
	assert.Equal(t, filepath.Join(w.Dir(), "bd-a3f8-moved"), all[0].Path)
}

func TestUntracked(t *testing.T) {
	r := runtest.New()
	w := newTestWorktrees(t, r)
	require.NoError(t, os.MkdirAll(w.PathFor("bd-a3f8"), 0o755))
	require.NoError(t, os.MkdirAll(w.PathFor("leftover"), 0o755))

	out := "worktree " + w.PathFor("bd-a3f8") + "\nHEAD bbbb\nbranch refs/heads/worktree-bd-a3f8"
	r.Stub("git worktree list --porcelain", runtest.Response{Stdout: out})

	untracked, err := w.Untracked(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"leftover"}, untracked)
}

func TestRemove_FallsBackToDirectoryRemoval(t *testing.T) {
	r := runtest.New()
	w := newTestWorktrees(t, r)
	path := w.PathFor("bd-a3f8")
	require.NoError(t, os.MkdirAll(path, 0o755))

	r.Stub("git worktree remove --force "+path, runtest.Response{
		ExitCode: 128,
		Stderr:   "fatal: '" + path + "' is not a working tree",
	})
	r.Stub("git branch -D worktree-bd-a3f8", runtest.Response{ExitCode: 1})
	r.Stub("git worktree prune", runtest.Response{ExitCode: 0})

	require.NoError(t, w.Remove(context.Background(), "bd-a3f8"))
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}
