package reconcile

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wrenhall/village/internal/config"
	"github.com/wrenhall/village/internal/events"
	"github.com/wrenhall/village/internal/git"
	"github.com/wrenhall/village/internal/lock"
	"github.com/wrenhall/village/internal/run/runtest"
	"github.com/wrenhall/village/internal/tmux"
)

var testNow = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

type fixture struct {
	rec   *Reconciler
	cfg   *config.Config
	locks *lock.Registry
	log   *events.Log
	r     *runtest.Runner
}

func newFixture(t *testing.T, panes string) *fixture {
	t.Helper()
	cfg := config.Defaults(t.TempDir())

	r := runtest.New()
	r.Stub("git rev-parse --show-toplevel", runtest.Response{Stdout: cfg.GitRoot})
	r.Stub("tmux list-panes -s -t village -F #{pane_id}", runtest.Response{Stdout: panes})
	g, err := git.NewContext(context.Background(), r, cfg.GitRoot)
	require.NoError(t, err)

	locks := lock.NewRegistry(cfg.LocksDir())
	log := events.NewLog(cfg.EventsPath()).WithClock(func() time.Time { return testNow })
	rec := New(cfg, locks, git.NewWorktrees(g, cfg.WorktreesDir), tmux.NewClient(r), log)
	return &fixture{rec: rec, cfg: cfg, locks: locks, log: log, r: r}
}

func (f *fixture) writeLock(t *testing.T, taskID, pane string) {
	t.Helper()
	require.NoError(t, f.locks.Write(&lock.Lock{
		TaskID:    taskID,
		Pane:      pane,
		Window:    "worker-1-" + taskID,
		Agent:     "worker",
		ClaimedAt: testNow.Add(-time.Hour),
	}))
}

// stubWorktreeListing registers a porcelain listing for the given task ids.
func (f *fixture) stubWorktreeListing(ids ...string) {
	out := ""
	for _, id := range ids {
		out += "worktree " + filepath.Join(f.cfg.WorktreesDir, id) + "\n"
		out += "HEAD aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa\n"
		out += "branch refs/heads/worktree-" + id + "\n\n"
	}
	f.r.StubPrefix("git worktree list --porcelain", runtest.Response{Stdout: out})
}

func TestBuild_ClassifiesDrift(t *testing.T) {
	f := newFixture(t, "%12\n")
	f.writeLock(t, "alive", "%12")
	f.writeLock(t, "stale", "%99")
	f.stubWorktreeListing("alive", "stale", "orphan")

	plan, err := f.rec.Build(context.Background(), "")
	require.NoError(t, err)

	require.Len(t, plan.StaleLocks, 1)
	assert.Equal(t, "stale", plan.StaleLocks[0].TaskID)
	require.Len(t, plan.OrphanWorktrees, 1)
	assert.Equal(t, "orphan", plan.OrphanWorktrees[0].TaskID)
	require.Len(t, plan.StaleWorktrees, 1)
	assert.Equal(t, "stale", plan.StaleWorktrees[0].TaskID)
	assert.Empty(t, plan.UntrackedDirs)
	assert.False(t, plan.Empty())
}

func TestBuild_CorruptedLocksEnterPlan(t *testing.T) {
	f := newFixture(t, "%12\n")
	require.NoError(t, os.MkdirAll(f.cfg.LocksDir(), 0o755))
	bad := filepath.Join(f.cfg.LocksDir(), "broken.lock")
	require.NoError(t, os.WriteFile(bad, []byte("id=mismatch\n"), 0o644))
	f.stubWorktreeListing()

	plan, err := f.rec.Build(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, plan.StaleLocks, 1)
	assert.True(t, plan.StaleLocks[0].Corrupted)
}

func TestBuild_UntrackedDirs(t *testing.T) {
	f := newFixture(t, "")
	require.NoError(t, os.MkdirAll(filepath.Join(f.cfg.WorktreesDir, "leftover"), 0o755))
	f.stubWorktreeListing()

	plan, err := f.rec.Build(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, []string{"leftover"}, plan.UntrackedDirs)
}

func TestBuild_ProtectedTasksNeverEnterPlan(t *testing.T) {
	f := newFixture(t, "")
	f.cfg.ProtectedTasks = []string{"keep-*"}
	f.writeLock(t, "keep-1", "%99")
	f.writeLock(t, "drop-1", "%99")
	f.stubWorktreeListing()

	plan, err := f.rec.Build(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, plan.StaleLocks, 1)
	assert.Equal(t, "drop-1", plan.StaleLocks[0].TaskID)
}

func TestBuild_ProtectedBaseIDShieldsRetries(t *testing.T) {
	f := newFixture(t, "")
	f.cfg.ProtectedTasks = []string{"bd-a3f8"}
	f.writeLock(t, "bd-a3f8-2", "%99")
	f.writeLock(t, "gh-1", "%99")
	f.stubWorktreeListing("bd-a3f8-2")

	plan, err := f.rec.Build(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, plan.StaleLocks, 1)
	assert.Equal(t, "gh-1", plan.StaleLocks[0].TaskID)
	assert.Empty(t, plan.StaleWorktrees)
	assert.Empty(t, plan.OrphanWorktrees)
}

func TestBuild_FilterScopesThePlan(t *testing.T) {
	f := newFixture(t, "")
	f.writeLock(t, "bd-1", "%99")
	f.writeLock(t, "gh-1", "%99")
	f.stubWorktreeListing()

	plan, err := f.rec.Build(context.Background(), "bd-*")
	require.NoError(t, err)
	require.Len(t, plan.StaleLocks, 1)
	assert.Equal(t, "bd-1", plan.StaleLocks[0].TaskID)
}

func TestBuild_DoesNotMutate(t *testing.T) {
	f := newFixture(t, "")
	f.writeLock(t, "stale", "%99")
	f.stubWorktreeListing()

	_, err := f.rec.Build(context.Background(), "")
	require.NoError(t, err)

	l, err := f.locks.Get("stale")
	require.NoError(t, err)
	assert.NotNil(t, l)
	all, err := f.log.Read()
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestApply_RemovesAndLogsInOrder(t *testing.T) {
	f := newFixture(t, "%12\n")
	f.writeLock(t, "alive", "%12")
	f.writeLock(t, "stale", "%99")
	f.stubWorktreeListing("alive", "stale", "orphan")

	f.r.StubPrefix("git worktree remove --force", runtest.Response{ExitCode: 0})
	f.r.StubPrefix("git branch -D", runtest.Response{ExitCode: 0})
	f.r.Stub("git worktree prune", runtest.Response{ExitCode: 0})

	plan, err := f.rec.Build(context.Background(), "")
	require.NoError(t, err)
	require.NoError(t, f.rec.Apply(context.Background(), plan))

	// The stale lock is gone, the live one stays.
	l, err := f.locks.Get("stale")
	require.NoError(t, err)
	assert.Nil(t, l)
	l, err = f.locks.Get("alive")
	require.NoError(t, err)
	assert.NotNil(t, l)

	all, err := f.log.Read()
	require.NoError(t, err)
	require.Len(t, all, 3)
	// Stale lock first, with its pane; then orphan; then stale worktree.
	assert.Equal(t, "stale", all[0].TaskID)
	assert.Equal(t, "%99", all[0].Pane)
	assert.Equal(t, events.ResultOK, all[0].Result)
	assert.Equal(t, "orphan", all[1].TaskID)
	assert.Equal(t, "stale", all[2].TaskID)
	for _, e := range all {
		assert.Equal(t, "cleanup", e.Cmd)
	}
}

func TestApply_FailureIsRecordedAndDoesNotStopThePass(t *testing.T) {
	f := newFixture(t, "")
	f.writeLock(t, "stale", "%99")
	f.stubWorktreeListing("orphan")
	f.r.StubPrefix("git worktree remove --force", runtest.Response{
		Err: assert.AnError,
	})

	plan, err := f.rec.Build(context.Background(), "")
	require.NoError(t, err)
	err = f.rec.Apply(context.Background(), plan)
	require.Error(t, err)

	all, logErr := f.log.Read()
	require.NoError(t, logErr)
	require.Len(t, all, 2)
	assert.Equal(t, events.ResultOK, all[0].Result)
	assert.Equal(t, events.ResultError, all[1].Result)
}
