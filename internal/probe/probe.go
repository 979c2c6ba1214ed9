// Package probe assesses the orchestrator's world without touching it:
// are the directories and session there, is work waiting, what drifted.
// The observations are independent, so they are gathered concurrently;
// the verdict and suggested next actions are pure functions of them.
package probe

import (
	"context"
	"fmt"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/wrenhall/village/internal/config"
	"github.com/wrenhall/village/internal/git"
	"github.com/wrenhall/village/internal/lock"
	"github.com/wrenhall/village/internal/tasksource"
	"github.com/wrenhall/village/internal/tmux"
)

// WorkAvailability is the probe's verdict on pending work.
type WorkAvailability string

const (
	WorkAvailable WorkAvailability = "available"
	WorkNone      WorkAvailability = "none"
	WorkUnknown   WorkAvailability = "unknown"
)

// Action is one suggested next step, in priority order.
type Action struct {
	Action   string `json:"action"`
	Reason   string `json:"reason"`
	Blocking bool   `json:"blocking"`
}

// Assessment is the full readiness picture.
type Assessment struct {
	EnvironmentReady   bool             `json:"environment_ready"`
	RuntimeReady       bool             `json:"runtime_ready"`
	WorkAvailable      WorkAvailability `json:"work_available"`
	Orphans            int              `json:"orphans"`
	StaleLocks         int              `json:"stale_locks"`
	CorruptedLocks     int              `json:"corrupted_locks"`
	UntrackedWorktrees int              `json:"untracked_worktrees"`
	ActiveWorkers      int              `json:"active_workers"`
	ReadyTasks         int              `json:"ready_tasks"`

	SuggestedActions []Action `json:"-"`
}

// Prober gathers assessments.
type Prober struct {
	cfg       *config.Config
	locks     *lock.Registry
	worktrees *git.Worktrees
	panes     *tmux.Client
	source    *tasksource.Source
}

// New wires a prober.
func New(cfg *config.Config, locks *lock.Registry, worktrees *git.Worktrees, panes *tmux.Client, source *tasksource.Source) *Prober {
	return &Prober{cfg: cfg, locks: locks, worktrees: worktrees, panes: panes, source: source}
}

// Assess builds the readiness picture. Read-only by construction: every
// collaborator it calls is a probe.
func (p *Prober) Assess(ctx context.Context) (*Assessment, error) {
	a := &Assessment{WorkAvailable: WorkUnknown}

	var (
		panes     tmux.PaneSet
		locks     []*lock.Lock
		worktrees []*git.Worktree
		untracked []string
		ready     []tasksource.Task
		readyErr  error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		panes, err = p.panes.Panes(gctx, p.cfg.SessionName, true)
		return err
	})
	g.Go(func() error {
		exists, err := p.panes.SessionExists(gctx, p.cfg.SessionName)
		a.RuntimeReady = exists
		return err
	})
	g.Go(func() error {
		var err error
		locks, err = p.locks.List()
		return err
	})
	g.Go(func() error {
		var err error
		worktrees, err = p.worktrees.List(gctx)
		if err != nil {
			return err
		}
		untracked, err = p.worktrees.Untracked(gctx)
		return err
	})
	g.Go(func() error {
		// A broken task backend downgrades work to "unknown" rather
		// than failing the whole probe.
		ready, readyErr = p.source.List(gctx)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	a.EnvironmentReady = dirExists(p.cfg.VillageDir) && dirExists(p.cfg.WorktreesDir)
	a.UntrackedWorktrees = len(untracked)

	activeIDs := map[string]bool{}
	for _, l := range locks {
		switch {
		case l.Corrupted:
			a.CorruptedLocks++
		case l.IsActive(panes):
			a.ActiveWorkers++
			activeIDs[l.TaskID] = true
		default:
			a.StaleLocks++
		}
	}
	for _, wt := range worktrees {
		if !activeIDs[wt.TaskID] {
			a.Orphans++
		}
	}

	if readyErr == nil && p.source.Available() {
		a.ReadyTasks = len(ready)
		if len(ready) > 0 {
			a.WorkAvailable = WorkAvailable
		} else {
			a.WorkAvailable = WorkNone
		}
	}

	a.SuggestedActions = suggest(a)
	return a, nil
}

// suggest applies the fixed priority policy. A blocking suggestion ends
// the list; informational ones accumulate.
func suggest(a *Assessment) []Action {
	if !a.EnvironmentReady || !a.RuntimeReady {
		return []Action{{
			Action:   "up",
			Reason:   "environment or session is not initialized",
			Blocking: true,
		}}
	}

	var actions []Action
	if a.Orphans > 0 || a.StaleLocks > 0 || a.CorruptedLocks > 0 {
		actions = append(actions, Action{
			Action: "cleanup",
			Reason: fmt.Sprintf("%d orphan worktrees, %d stale locks", a.Orphans, a.StaleLocks+a.CorruptedLocks),
		})
	}
	if a.WorkAvailable == WorkAvailable {
		actions = append(actions, Action{
			Action: "queue",
			Reason: fmt.Sprintf("%d ready tasks waiting", a.ReadyTasks),
		})
	}
	if a.ActiveWorkers > 0 {
		actions = append(actions, Action{
			Action: "status",
			Reason: fmt.Sprintf("%d workers running", a.ActiveWorkers),
		})
	}
	if len(actions) == 0 {
		actions = append(actions, Action{
			Action: "ready",
			Reason: "nothing to do; re-check later",
		})
	}
	return actions
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
