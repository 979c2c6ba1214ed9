package runtime

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wrenhall/village/internal/config"
	"github.com/wrenhall/village/internal/run/runtest"
	"github.com/wrenhall/village/internal/tmux"
)

func newTestRuntime(t *testing.T, r *runtest.Runner, backendOnPath bool) (*Runtime, *config.Config) {
	t.Helper()
	cfg := config.Defaults(t.TempDir())
	rt := New(cfg, tmux.NewClient(r))
	rt.lookPath = func(string) (string, error) {
		if backendOnPath {
			return "/usr/local/bin/bd", nil
		}
		return "", errors.New("not found")
	}
	return rt, cfg
}

func TestPlanInit_ColdWorld(t *testing.T) {
	r := runtest.New()
	r.Stub("tmux has-session -t village", runtest.Response{ExitCode: 1})
	rt, cfg := newTestRuntime(t, r, false)

	plan, err := rt.PlanInit(context.Background(), true)
	require.NoError(t, err)

	assert.True(t, plan.NeedsSession)
	assert.True(t, plan.NeedsDashboard)
	assert.True(t, plan.NeedsTaskBackendInit)
	assert.Equal(t, []string{cfg.VillageDir, cfg.LocksDir(), cfg.WorktreesDir}, plan.NeedsDirectories)
	assert.False(t, plan.Empty())
}

func TestPlanInit_WarmWorldIsEmpty(t *testing.T) {
	r := runtest.New()
	r.Stub("tmux has-session -t village", runtest.Response{ExitCode: 0})
	r.Stub("tmux list-windows -t village -F #{window_name}", runtest.Response{Stdout: "dashboard\nworker-1-bd-a3f8\n"})
	rt, cfg := newTestRuntime(t, r, true)
	require.NoError(t, os.MkdirAll(cfg.LocksDir(), 0o755))
	require.NoError(t, os.MkdirAll(cfg.WorktreesDir, 0o755))

	plan, err := rt.PlanInit(context.Background(), true)
	require.NoError(t, err)

	assert.True(t, plan.Empty())
	assert.False(t, plan.NeedsTaskBackendInit)
}

func TestPlanInit_NoDashboard(t *testing.T) {
	r := runtest.New()
	r.Stub("tmux has-session -t village", runtest.Response{ExitCode: 1})
	rt, _ := newTestRuntime(t, r, true)

	plan, err := rt.PlanInit(context.Background(), false)
	require.NoError(t, err)
	assert.False(t, plan.NeedsDashboard)
}

func TestExecuteInit_CreatesEverything(t *testing.T) {
	r := runtest.New()
	r.Stub("tmux has-session -t village", runtest.Response{ExitCode: 1})
	r.Stub("tmux new-session -d -s village", runtest.Response{ExitCode: 0})
	rt, cfg := newTestRuntime(t, r, true)
	r.Stub("tmux new-window -d -t village: -n dashboard -c "+cfg.GitRoot, runtest.Response{ExitCode: 0})
	r.Stub("tmux send-keys -t village:dashboard -l village status --watch", runtest.Response{ExitCode: 0})
	r.Stub("tmux send-keys -t village:dashboard Enter", runtest.Response{ExitCode: 0})

	plan, err := rt.PlanInit(context.Background(), true)
	require.NoError(t, err)
	require.NoError(t, rt.ExecuteInit(context.Background(), plan))

	assert.DirExists(t, cfg.LocksDir())
	assert.DirExists(t, cfg.WorktreesDir)
	assert.Contains(t, r.CommandLines(), "tmux new-session -d -s village")
}

func TestExecuteInit_EmptyPlanRunsNothing(t *testing.T) {
	r := runtest.New()
	rt, _ := newTestRuntime(t, r, true)

	require.NoError(t, rt.ExecuteInit(context.Background(), &InitPlan{}))
	assert.Empty(t, r.Calls())
}

func TestShutdown(t *testing.T) {
	r := runtest.New()
	r.Stub("tmux has-session -t village", runtest.Response{ExitCode: 0})
	r.Stub("tmux has-session -t village", runtest.Response{ExitCode: 0})
	r.Stub("tmux kill-session -t village", runtest.Response{ExitCode: 0})
	rt, _ := newTestRuntime(t, r, true)

	killed, err := rt.Shutdown(context.Background())
	require.NoError(t, err)
	assert.True(t, killed)
}

func TestShutdown_AbsentSessionIsNoOp(t *testing.T) {
	r := runtest.New()
	r.Stub("tmux has-session -t village", runtest.Response{ExitCode: 1})
	rt, _ := newTestRuntime(t, r, true)

	killed, err := rt.Shutdown(context.Background())
	require.NoError(t, err)
	assert.False(t, killed)
	assert.NotContains(t, r.CommandLines(), "tmux kill-session -t village")
}
