package queue

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wrenhall/village/internal/config"
	verrors "github.com/wrenhall/village/internal/errors"
	"github.com/wrenhall/village/internal/events"
	"github.com/wrenhall/village/internal/lock"
	"github.com/wrenhall/village/internal/run/runtest"
	"github.com/wrenhall/village/internal/tasksource"
	"github.com/wrenhall/village/internal/tmux"
)

var testNow = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

type fixture struct {
	sched *Scheduler
	cfg   *config.Config
	locks *lock.Registry
	log   *events.Log
	r     *runtest.Runner
}

// newFixture builds a scheduler whose backend reports the given ready
// lines and whose session holds the given panes.
func newFixture(t *testing.T, readyLines string, panes []string) *fixture {
	t.Helper()
	cfg := config.Defaults(t.TempDir())

	r := runtest.New()
	r.Stub("bd ready", runtest.Response{Stdout: readyLines})
	paneOut := ""
	for _, p := range panes {
		paneOut += p + "\n"
	}
	r.Stub("tmux list-panes -s -t village -F #{pane_id}", runtest.Response{Stdout: paneOut})

	locks := lock.NewRegistry(cfg.LocksDir())
	log := events.NewLog(cfg.EventsPath()).WithClock(func() time.Time { return testNow })
	sched := NewScheduler(cfg,
		tasksource.New(r, cfg.TaskSourceCmd, cfg.DefaultAgent),
		locks,
		tmux.NewClient(r),
		log)
	return &fixture{sched: sched, cfg: cfg, locks: locks, log: log, r: r}
}

func writeLock(t *testing.T, reg *lock.Registry, taskID, pane string) {
	t.Helper()
	require.NoError(t, reg.Write(&lock.Lock{
		TaskID:    taskID,
		Pane:      pane,
		Window:    "worker-1-" + taskID,
		Agent:     "worker",
		ClaimedAt: testNow.Add(-time.Hour),
	}))
}

func taskIDs(tasks []tasksource.Task) []string {
	ids := make([]string, len(tasks))
	for i, task := range tasks {
		ids[i] = task.ID
	}
	return ids
}

func TestBuildPlan_PartitionsReadyList(t *testing.T) {
	f := newFixture(t, "t1 agent:build\nt2\nt3\nt4\n", []string{"%1"})
	writeLock(t, f.locks, "t2", "%1")
	f.cfg.MaxWorkers = 3

	plan, err := f.sched.BuildPlan(context.Background(), Options{})
	require.NoError(t, err)

	assert.Equal(t, 3, plan.ConcurrencyLimit)
	assert.Equal(t, 1, plan.ActiveWorkers)
	assert.Equal(t, 2, plan.SlotsAvailable)

	assert.Equal(t, []string{"t1", "t3"}, taskIDs(plan.Available))
	require.Len(t, plan.Blocked, 2)
	assert.Equal(t, "t2", plan.Blocked[0].Task.ID)
	assert.Equal(t, SkipActiveLock, plan.Blocked[0].Reason)
	assert.Equal(t, "t4", plan.Blocked[1].Task.ID)
	assert.Equal(t, SkipConcurrencyLimit, plan.Blocked[1].Reason)

	// Available and blocked partition the ready list.
	assert.Len(t, plan.Available, len(plan.Ready)-len(plan.Blocked))
	assert.LessOrEqual(t, len(plan.Available), plan.SlotsAvailable)
	assert.Equal(t, "build", plan.Available[0].Agent)
}

func TestBuildPlan_ConcurrencyCapBlocksEverything(t *testing.T) {
	f := newFixture(t, "t1\nt2\nt3\n", []string{"%1", "%2"})
	writeLock(t, f.locks, "w1", "%1")
	writeLock(t, f.locks, "w2", "%2")
	f.cfg.MaxWorkers = 2

	plan, err := f.sched.BuildPlan(context.Background(), Options{})
	require.NoError(t, err)

	assert.Empty(t, plan.Available)
	assert.Equal(t, 0, plan.SlotsAvailable)
	require.Len(t, plan.Blocked, 3)
	for _, b := range plan.Blocked {
		assert.Equal(t, SkipConcurrencyLimit, b.Reason)
	}
}

func TestBuildPlan_StaleLocksDoNotCountAgainstBudget(t *testing.T) {
	f := newFixture(t, "t1\n", []string{"%1"})
	writeLock(t, f.locks, "w1", "%99") // pane gone, lock stale
	f.cfg.MaxWorkers = 1

	plan, err := f.sched.BuildPlan(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, 0, plan.ActiveWorkers)
	assert.Equal(t, []string{"t1"}, taskIDs(plan.Available))
}

func TestBuildPlan_DedupBlocksRecentTask(t *testing.T) {
	f := newFixture(t, "bd-a3f8\n", nil)
	f.cfg.QueueTTLMinutes = 5
	twoMinAgo := testNow.Add(-2 * time.Minute).Format(time.RFC3339)
	require.NoError(t, f.log.Append(events.Event{Cmd: "queue", TaskID: "bd-a3f8", Result: events.ResultOK, TS: twoMinAgo}))

	plan, err := f.sched.BuildPlan(context.Background(), Options{})
	require.NoError(t, err)
	require.Len(t, plan.Blocked, 1)
	assert.Equal(t, SkipRecentlyExecuted, plan.Blocked[0].Reason)

	// --force bypasses the dedup window.
	f.r.Stub("bd ready", runtest.Response{Stdout: "bd-a3f8\n"})
	f.r.Stub("tmux list-panes -s -t village -F #{pane_id}", runtest.Response{Stdout: ""})
	forced, err := f.sched.BuildPlan(context.Background(), Options{Force: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"bd-a3f8"}, taskIDs(forced.Available))
}

func TestBuildPlan_ZeroTTLDisablesDedup(t *testing.T) {
	f := newFixture(t, "bd-a3f8\n", nil)
	f.cfg.QueueTTLMinutes = 0
	require.NoError(t, f.log.OK("bd-a3f8", "queue", "%2"))

	plan, err := f.sched.BuildPlan(context.Background(), Options{})
	require.NoError(t, err)
	assert.Len(t, plan.Available, 1)
}

func TestBuildPlan_DedupTestRunsBeforeLockTest(t *testing.T) {
	f := newFixture(t, "bd-a3f8\n", []string{"%1"})
	writeLock(t, f.locks, "bd-a3f8", "%1")
	f.cfg.QueueTTLMinutes = 5
	require.NoError(t, f.log.Append(events.Event{
		Cmd: "queue", TaskID: "bd-a3f8", Result: events.ResultOK,
		TS: testNow.Add(-time.Minute).Format(time.RFC3339),
	}))

	plan, err := f.sched.BuildPlan(context.Background(), Options{})
	require.NoError(t, err)
	require.Len(t, plan.Blocked, 1)
	assert.Equal(t, SkipRecentlyExecuted, plan.Blocked[0].Reason)
}

func TestBuildPlan_EmptyReadyList(t *testing.T) {
	f := newFixture(t, "", nil)

	plan, err := f.sched.BuildPlan(context.Background(), Options{})
	require.NoError(t, err)
	assert.Empty(t, plan.Ready)
	assert.Empty(t, plan.Available)
	assert.Empty(t, plan.Blocked)
}

func TestBuildPlan_Deterministic(t *testing.T) {
	lines := "t1\nt2\nt3\n"
	f := newFixture(t, lines, []string{"%1"})
	writeLock(t, f.locks, "t2", "%1")
	f.cfg.MaxWorkers = 2

	first, err := f.sched.BuildPlan(context.Background(), Options{})
	require.NoError(t, err)

	f.r.Stub("bd ready", runtest.Response{Stdout: lines})
	f.r.Stub("tmux list-panes -s -t village -F #{pane_id}", runtest.Response{Stdout: "%1\n"})
	second, err := f.sched.BuildPlan(context.Background(), Options{})
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestBuildPlan_AgentOverride(t *testing.T) {
	f := newFixture(t, "t1 agent:build\nt2\n", nil)

	plan, err := f.sched.BuildPlan(context.Background(), Options{Agent: "review"})
	require.NoError(t, err)
	for _, task := range plan.Available {
		assert.Equal(t, "review", task.Agent)
	}
}

type fakeStarter struct {
	failing map[string]error
	started []string
}

func (s *fakeStarter) Start(_ context.Context, task tasksource.Task) (string, error) {
	if err, ok := s.failing[task.ID]; ok {
		return "", err
	}
	s.started = append(s.started, task.ID)
	return fmt.Sprintf("%%%d", len(s.started)), nil
}

func TestExecute_DispatchesInIntakeOrder(t *testing.T) {
	f := newFixture(t, "t1\nt2\nt3\n", nil)
	plan, err := f.sched.BuildPlan(context.Background(), Options{})
	require.NoError(t, err)

	starter := &fakeStarter{}
	res, err := f.sched.Execute(context.Background(), plan, 2, starter)
	require.NoError(t, err)

	assert.Equal(t, []string{"t1", "t2"}, starter.started)
	assert.Equal(t, verrors.ExitOK, res.ExitCode())

	all, err := f.log.Read()
	require.NoError(t, err)
	require.Len(t, all, 2)
	for i, e := range all {
		assert.Equal(t, "queue", e.Cmd)
		assert.Empty(t, e.Result, "the scheduler only writes start records")
		assert.Equal(t, plan.Available[i].ID, e.TaskID)
	}
}

func TestExecute_PartialFailureExitCode(t *testing.T) {
	f := newFixture(t, "t1\nt2\n", nil)
	plan, err := f.sched.BuildPlan(context.Background(), Options{})
	require.NoError(t, err)

	starter := &fakeStarter{failing: map[string]error{"t2": errors.New("window create failed")}}
	res, err := f.sched.Execute(context.Background(), plan, 2, starter)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Started())
	assert.Equal(t, 1, res.Failed())
	assert.Equal(t, verrors.ExitPartial, res.ExitCode())
}

func TestExecute_AllFailuresExitCode(t *testing.T) {
	f := newFixture(t, "t1\n", nil)
	plan, err := f.sched.BuildPlan(context.Background(), Options{})
	require.NoError(t, err)

	starter := &fakeStarter{failing: map[string]error{"t1": errors.New("boom")}}
	res, err := f.sched.Execute(context.Background(), plan, 1, starter)
	require.NoError(t, err)
	assert.Equal(t, verrors.ExitFailure, res.ExitCode())
}

func TestExecute_NothingToDoIsBlocked(t *testing.T) {
	f := newFixture(t, "", nil)
	plan, err := f.sched.BuildPlan(context.Background(), Options{})
	require.NoError(t, err)

	res, err := f.sched.Execute(context.Background(), plan, 3, &fakeStarter{})
	require.NoError(t, err)
	assert.Equal(t, verrors.ExitBlocked, res.ExitCode())
}

func TestExecute_StopsOnInterrupt(t *testing.T) {
	f := newFixture(t, "t1\nt2\n", nil)
	plan, err := f.sched.BuildPlan(context.Background(), Options{})
	require.NoError(t, err)

	starter := &fakeStarter{failing: map[string]error{"t1": verrors.ErrInterrupted("resume")}}
	res, err := f.sched.Execute(context.Background(), plan, 2, starter)
	require.Error(t, err)
	assert.Equal(t, verrors.KindInterrupted, verrors.KindOf(err))
	assert.Len(t, res.Outcomes, 1)
	assert.Empty(t, starter.started)
}
