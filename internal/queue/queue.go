// Package queue arbitrates which ready tasks may enter execution. One
// invocation produces an immutable Plan partitioning the ready list into
// admitted and blocked tasks, then optionally dispatches the admitted
// ones sequentially; parallelism lives in the tmux panes the executor
// leaves behind, never in this package.
package queue

import (
	"context"

	"github.com/wrenhall/village/internal/config"
	verrors "github.com/wrenhall/village/internal/errors"
	"github.com/wrenhall/village/internal/events"
	"github.com/wrenhall/village/internal/lock"
	"github.com/wrenhall/village/internal/tasksource"
	"github.com/wrenhall/village/internal/tmux"
)

// SkipReason says why a ready task was not admitted. The set is closed;
// every blocked task carries exactly one.
type SkipReason string

const (
	SkipActiveLock       SkipReason = "active_lock"
	SkipConcurrencyLimit SkipReason = "concurrency_limit"
	SkipRecentlyExecuted SkipReason = "recently_executed"
)

// BlockedTask pairs a ready task with the first test it failed.
type BlockedTask struct {
	Task   tasksource.Task `json:"task"`
	Reason SkipReason      `json:"reason"`
}

// Plan is one arbitration snapshot. Available and Blocked partition Ready
// in intake order.
type Plan struct {
	Ready            []tasksource.Task `json:"ready"`
	Available        []tasksource.Task `json:"available"`
	Blocked          []BlockedTask     `json:"blocked"`
	SlotsAvailable   int               `json:"slots_available"`
	ActiveWorkers    int               `json:"active_workers"`
	ConcurrencyLimit int               `json:"concurrency_limit"`
}

// Options tune one arbitration pass.
type Options struct {
	// MaxWorkers overrides the configured ceiling when positive.
	MaxWorkers int
	// Agent overrides every task's extracted agent label.
	Agent string
	// Force bypasses event-log deduplication.
	Force bool
}

// Scheduler builds and executes queue plans.
type Scheduler struct {
	cfg    *config.Config
	source *tasksource.Source
	locks  *lock.Registry
	panes  *tmux.Client
	log    *events.Log
}

// NewScheduler wires the scheduler's collaborators.
func NewScheduler(cfg *config.Config, source *tasksource.Source, locks *lock.Registry, panes *tmux.Client, log *events.Log) *Scheduler {
	return &Scheduler{cfg: cfg, source: source, locks: locks, panes: panes, log: log}
}

// BuildPlan fetches the ready list and arbitrates it against the current
// locks, the concurrency budget, and the deduplication window. The ready
// list's order is preserved throughout, so identical inputs yield an
// identical plan.
func (s *Scheduler) BuildPlan(ctx context.Context, opts Options) (*Plan, error) {
	tasks, err := s.source.List(ctx)
	if err != nil {
		return nil, err
	}
	if opts.Agent != "" {
		for i := range tasks {
			tasks[i].Agent = opts.Agent
		}
	}

	panes, err := s.panes.Panes(ctx, s.cfg.SessionName, true)
	if err != nil {
		return nil, verrors.ErrSubprocess("snapshot panes", err)
	}
	locks, err := s.locks.List()
	if err != nil {
		return nil, err
	}
	active := lock.Active(locks, panes)

	limit := s.cfg.MaxWorkers
	if opts.MaxWorkers > 0 {
		limit = opts.MaxWorkers
	}
	slots := limit - len(active)
	if slots < 0 {
		slots = 0
	}

	activeIDs := make(map[string]bool, len(active))
	for _, l := range active {
		activeIDs[l.TaskID] = true
	}

	plan := &Plan{
		Ready:            tasks,
		SlotsAvailable:   slots,
		ActiveWorkers:    len(active),
		ConcurrencyLimit: limit,
	}

	for _, task := range tasks {
		reason, err := s.classify(task, opts, activeIDs, len(plan.Available), slots)
		if err != nil {
			return nil, err
		}
		if reason == "" {
			plan.Available = append(plan.Available, task)
		} else {
			plan.Blocked = append(plan.Blocked, BlockedTask{Task: task, Reason: reason})
		}
	}
	return plan, nil
}

// classify runs the admission tests in their fixed order; the first
// failing test names the block reason, an empty reason admits.
func (s *Scheduler) classify(task tasksource.Task, opts Options, activeIDs map[string]bool, admitted, slots int) (SkipReason, error) {
	if !opts.Force {
		recent, _, err := s.log.IsTaskRecent(task.ID, s.cfg.QueueTTL())
		if err != nil {
			return "", err
		}
		if recent {
			return SkipRecentlyExecuted, nil
		}
	}
	if activeIDs[task.ID] {
		return SkipActiveLock, nil
	}
	if admitted >= slots {
		return SkipConcurrencyLimit, nil
	}
	return "", nil
}

// Starter brings one admitted task from pending to owned. The resume
// executor satisfies it; tests substitute a fake.
type Starter interface {
	Start(ctx context.Context, task tasksource.Task) (pane string, err error)
}

// TaskOutcome is the per-task record of one dispatch.
type TaskOutcome struct {
	Task tasksource.Task
	Pane string
	Err  error
}

// Result summarizes one queue execution.
type Result struct {
	Outcomes []TaskOutcome
}

// Started counts successful dispatches.
func (r *Result) Started() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Err == nil {
			n++
		}
	}
	return n
}

// Failed counts failed dispatches.
func (r *Result) Failed() int {
	return len(r.Outcomes) - r.Started()
}

// ExitCode applies the batch policy: all ok 0, mixed 4, none ok but
// attempted 1, nothing attempted 3.
func (r *Result) ExitCode() int {
	switch {
	case len(r.Outcomes) == 0:
		return verrors.ExitBlocked
	case r.Failed() == 0:
		return verrors.ExitOK
	case r.Started() > 0:
		return verrors.ExitPartial
	default:
		return verrors.ExitFailure
	}
}

// Execute dispatches the first min(n, |available|) admitted tasks in
// intake order, sequentially. Each dispatch appends a queue start event;
// the starter records its own outcome. A failed task never rolls back a
// sibling, and the loop stops early only on interrupt.
func (s *Scheduler) Execute(ctx context.Context, plan *Plan, n int, starter Starter) (*Result, error) {
	if n > len(plan.Available) {
		n = len(plan.Available)
	}

	res := &Result{}
	for _, task := range plan.Available[:n] {
		if ctx.Err() != nil {
			return res, verrors.ErrInterrupted("queue")
		}
		if err := s.log.Start(task.ID, "queue"); err != nil {
			return res, err
		}
		pane, err := starter.Start(ctx, task)
		res.Outcomes = append(res.Outcomes, TaskOutcome{Task: task, Pane: pane, Err: err})
		if err != nil && verrors.KindOf(err) == verrors.KindInterrupted {
			return res, err
		}
	}
	return res, nil
}
