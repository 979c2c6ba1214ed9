package cli

import (
	"context"
	"os"

	"github.com/wrenhall/village/internal/config"
	verrors "github.com/wrenhall/village/internal/errors"
	"github.com/wrenhall/village/internal/events"
	"github.com/wrenhall/village/internal/executor"
	"github.com/wrenhall/village/internal/git"
	"github.com/wrenhall/village/internal/lock"
	"github.com/wrenhall/village/internal/probe"
	"github.com/wrenhall/village/internal/queue"
	"github.com/wrenhall/village/internal/reconcile"
	"github.com/wrenhall/village/internal/run"
	"github.com/wrenhall/village/internal/runtime"
	"github.com/wrenhall/village/internal/tasksource"
	"github.com/wrenhall/village/internal/tmux"
)

// newRunner builds the subprocess runner. Tests swap it for a stub.
var newRunner = func() run.Runner { return run.NewExecRunner() }

// app holds one invocation's wired collaborators. Everything is
// constructed up front from the repository the process runs in; no
// lazy singletons, no globals beyond the flag variables.
type app struct {
	cfg       *config.Config
	runner    run.Runner
	git       *git.Context
	panes     *tmux.Client
	locks     *lock.Registry
	log       *events.Log
	worktrees *git.Worktrees
	source    *tasksource.Source
}

// newApp resolves the repository root, loads configuration, and wires
// the component graph for one command.
func newApp(ctx context.Context) (*app, error) {
	runner := newRunner()

	wd, err := os.Getwd()
	if err != nil {
		return nil, verrors.ErrSubprocess("resolve working directory", err)
	}
	g, err := git.NewContext(ctx, runner, wd)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(g.Root(), cfgFile)
	if err != nil {
		return nil, err
	}

	return &app{
		cfg:       cfg,
		runner:    runner,
		git:       g,
		panes:     tmux.NewClient(runner, tmux.WithCacheTTL(cfg.PaneCacheTTL())),
		locks:     lock.NewRegistry(cfg.LocksDir()),
		log:       events.NewLog(cfg.EventsPath()),
		worktrees: git.NewWorktrees(g, cfg.WorktreesDir),
		source:    tasksource.New(runner, cfg.TaskSourceCmd, cfg.DefaultAgent),
	}, nil
}

func (a *app) prober() *probe.Prober {
	return probe.New(a.cfg, a.locks, a.worktrees, a.panes, a.source)
}

func (a *app) scheduler() *queue.Scheduler {
	return queue.NewScheduler(a.cfg, a.source, a.locks, a.panes, a.log)
}

func (a *app) executor() *executor.Executor {
	return executor.New(a.cfg, a.worktrees, a.panes, a.locks, a.log)
}

func (a *app) reconciler() *reconcile.Reconciler {
	return reconcile.New(a.cfg, a.locks, a.worktrees, a.panes, a.log)
}

func (a *app) runtime() *runtime.Runtime {
	return runtime.New(a.cfg, a.panes)
}
