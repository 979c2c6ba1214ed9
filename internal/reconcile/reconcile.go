// Package reconcile drains the drift that accumulates when workers die:
// locks whose panes are gone, worktrees nobody owns. Building a plan
// never mutates; applying one removes state in a fixed order and logs
// every removal, so a cleanup is explainable after the fact.
package reconcile

import (
	"context"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/wrenhall/village/internal/config"
	verrors "github.com/wrenhall/village/internal/errors"
	"github.com/wrenhall/village/internal/events"
	"github.com/wrenhall/village/internal/executor"
	"github.com/wrenhall/village/internal/git"
	"github.com/wrenhall/village/internal/lock"
	"github.com/wrenhall/village/internal/tmux"
)

// Plan lists what a cleanup would remove. The three groups are applied
// in declaration order.
type Plan struct {
	// StaleLocks are locks whose pane no longer exists, plus corrupted
	// lock files, which only the reconciler may delete.
	StaleLocks []*lock.Lock `json:"stale_locks"`
	// OrphanWorktrees have no lock file at all.
	OrphanWorktrees []*git.Worktree `json:"orphan_worktrees"`
	// StaleWorktrees belong to a lock that is STALE.
	StaleWorktrees []*git.Worktree `json:"stale_worktrees"`
	// UntrackedDirs sit in the worktrees directory without a git
	// registration, usually the remains of a hand-deleted worktree.
	UntrackedDirs []string `json:"untracked_dirs"`
}

// Empty reports whether the plan would remove nothing.
func (p *Plan) Empty() bool {
	return len(p.StaleLocks) == 0 && len(p.OrphanWorktrees) == 0 &&
		len(p.StaleWorktrees) == 0 && len(p.UntrackedDirs) == 0
}

// Reconciler builds and applies cleanup plans.
type Reconciler struct {
	cfg       *config.Config
	locks     *lock.Registry
	worktrees *git.Worktrees
	panes     *tmux.Client
	log       *events.Log
}

// New wires a reconciler.
func New(cfg *config.Config, locks *lock.Registry, worktrees *git.Worktrees, panes *tmux.Client, log *events.Log) *Reconciler {
	return &Reconciler{cfg: cfg, locks: locks, worktrees: worktrees, panes: panes, log: log}
}

// protected reports whether the task id is shielded from reconciliation
// by configuration or excluded by the invocation's filter glob. A
// protected base id shields its retry-suffixed ids too, so "bd-a3f8" in
// protected_tasks also covers "bd-a3f8-2".
func (r *Reconciler) protected(taskID, filter string) bool {
	if filter != "" {
		if ok, err := doublestar.Match(filter, taskID); err != nil || !ok {
			return true
		}
	}
	baseID, _ := executor.SplitRetrySuffix(taskID)
	for _, pattern := range r.cfg.ProtectedTasks {
		if ok, _ := doublestar.Match(pattern, taskID); ok {
			return true
		}
		if ok, _ := doublestar.Match(pattern, baseID); ok {
			return true
		}
	}
	return false
}

// Build assembles the cleanup plan from a fresh pane snapshot. filter is
// an optional glob; when set, only matching task ids are considered.
func (r *Reconciler) Build(ctx context.Context, filter string) (*Plan, error) {
	panes, err := r.panes.Panes(ctx, r.cfg.SessionName, true)
	if err != nil {
		return nil, verrors.ErrSubprocess("snapshot panes", err)
	}
	locks, err := r.locks.List()
	if err != nil {
		return nil, err
	}

	plan := &Plan{}
	byTask := make(map[string]*lock.Lock, len(locks))
	for _, l := range locks {
		byTask[l.TaskID] = l
		if r.protected(l.TaskID, filter) {
			continue
		}
		if l.Corrupted || !l.IsActive(panes) {
			plan.StaleLocks = append(plan.StaleLocks, l)
		}
	}

	worktrees, err := r.worktrees.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, wt := range worktrees {
		if r.protected(wt.TaskID, filter) {
			continue
		}
		l, ok := byTask[wt.TaskID]
		switch {
		case !ok:
			plan.OrphanWorktrees = append(plan.OrphanWorktrees, wt)
		case l.Corrupted || !l.IsActive(panes):
			plan.StaleWorktrees = append(plan.StaleWorktrees, wt)
		}
	}

	untracked, err := r.worktrees.Untracked(ctx)
	if err != nil {
		return nil, err
	}
	for _, id := range untracked {
		if !r.protected(id, filter) {
			plan.UntrackedDirs = append(plan.UntrackedDirs, id)
		}
	}
	return plan, nil
}

// Apply removes everything in the plan: stale locks first, then orphan
// worktrees, then stale worktrees, then untracked directories. Each
// removal emits one cleanup event. Individual failures are recorded and
// do not stop the pass; the first error is returned at the end.
func (r *Reconciler) Apply(ctx context.Context, plan *Plan) error {
	var firstErr error
	record := func(taskID, pane string, err error) {
		if err == nil {
			_ = r.log.OK(taskID, "cleanup", pane)
			return
		}
		_ = r.log.Error(taskID, "cleanup", err.Error())
		if firstErr == nil {
			firstErr = err
		}
	}

	for _, l := range plan.StaleLocks {
		record(l.TaskID, l.Pane, r.locks.Remove(l.TaskID))
	}
	for _, wt := range plan.OrphanWorktrees {
		record(wt.TaskID, "", r.worktrees.Remove(ctx, wt.TaskID))
	}
	for _, wt := range plan.StaleWorktrees {
		record(wt.TaskID, "", r.worktrees.Remove(ctx, wt.TaskID))
	}
	for _, id := range plan.UntrackedDirs {
		record(id, "", r.worktrees.Remove(ctx, id))
	}

	if firstErr != nil {
		return verrors.ErrSubprocess("cleanup finished with failures", firstErr)
	}
	return nil
}
