// Package executor brings one task from pending to owned by a live
// worker: worktree, then window, then lock, then contract injection, in
// that order. A reader that sees the lock may therefore assume the
// worktree and window exist. Nothing here rolls back on failure; leaked
// windows and worktrees are the reconciler's job, and the error says so.
package executor

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/wrenhall/village/internal/config"
	verrors "github.com/wrenhall/village/internal/errors"
	"github.com/wrenhall/village/internal/events"
	"github.com/wrenhall/village/internal/git"
	"github.com/wrenhall/village/internal/lock"
	"github.com/wrenhall/village/internal/tasksource"
	"github.com/wrenhall/village/internal/tmux"
)

// MaxAttempts bounds the worktree collision-retry loop: the base id, then
// -2, then -3.
const MaxAttempts = 3

// Request describes one resume.
type Request struct {
	TaskID string
	Agent  string
	// Cmd names the verb in event-log records; empty means "resume".
	Cmd      string
	Detached bool
	DryRun   bool
}

// Result is the outcome of one resume.
type Result struct {
	// TaskID is the final identity, possibly carrying a retry suffix.
	TaskID    string    `json:"task_id"`
	BaseID    string    `json:"base_id"`
	Attempt   int       `json:"attempt"`
	Pane      string    `json:"pane"`
	Window    string    `json:"window"`
	Worktree  string    `json:"worktree"`
	Branch    string    `json:"branch"`
	ClaimedAt time.Time `json:"claimed_at"`
	DryRun    bool      `json:"dry_run"`
	// Warnings carry best-effort failures, contract injection above all.
	Warnings []string `json:"warnings,omitempty"`
}

// Executor owns the resume sequence.
type Executor struct {
	cfg       *config.Config
	worktrees *git.Worktrees
	panes     *tmux.Client
	locks     *lock.Registry
	log       *events.Log
	now       func() time.Time
}

// New wires an executor.
func New(cfg *config.Config, worktrees *git.Worktrees, panes *tmux.Client, locks *lock.Registry, log *events.Log) *Executor {
	return &Executor{
		cfg:       cfg,
		worktrees: worktrees,
		panes:     panes,
		locks:     locks,
		log:       log,
		now:       time.Now,
	}
}

// WithClock overrides the clock, for tests.
func (e *Executor) WithClock(now func() time.Time) *Executor {
	e.now = now
	return e
}

// Resume runs the state machine for one task. Success and failure are
// both recorded in the event log under the request's verb; the queue
// writes its own start records around this.
func (e *Executor) Resume(ctx context.Context, req Request) (*Result, error) {
	cmd := req.Cmd
	if cmd == "" {
		cmd = "resume"
	}

	res, err := e.resume(ctx, req)
	if err != nil {
		id := req.TaskID
		if res != nil && res.TaskID != "" {
			id = res.TaskID
		}
		if logErr := e.log.Error(id, cmd, err.Error()); logErr != nil {
			return res, logErr
		}
		return res, err
	}
	if !res.DryRun {
		if logErr := e.log.OK(res.TaskID, cmd, res.Pane); logErr != nil {
			return res, logErr
		}
	}
	return res, nil
}

func (e *Executor) resume(ctx context.Context, req Request) (*Result, error) {
	agent := req.Agent
	if agent == "" {
		agent = e.cfg.DefaultAgent
	}

	if err := e.guardActiveLock(ctx, req.TaskID); err != nil {
		return nil, err
	}

	res, err := e.ensureWorktree(ctx, req.TaskID)
	if err != nil {
		return nil, err
	}
	res.DryRun = req.DryRun
	res.Window = windowName(agent, res.Attempt, req.TaskID)
	if req.DryRun {
		return res, nil
	}
	if err := interrupted(ctx, "resume"); err != nil {
		return res, err
	}

	if err := e.createWindow(ctx, res); err != nil {
		return res, err
	}
	if err := interrupted(ctx, "resume"); err != nil {
		return res, err
	}

	l, err := e.writeLock(ctx, res, agent)
	if err != nil {
		return res, err
	}
	res.ClaimedAt = l.ClaimedAt

	// Ownership exists from here on; injection problems are warnings.
	if err := e.injectContract(ctx, res, l); err != nil {
		res.Warnings = append(res.Warnings, fmt.Sprintf("contract injection failed: %v", err))
	}
	if !req.Detached {
		if err := e.panes.SelectWindow(ctx, e.cfg.SessionName, res.Window); err != nil {
			res.Warnings = append(res.Warnings, fmt.Sprintf("switch to window %s failed: %v", res.Window, err))
		}
	}
	return res, nil
}

// guardActiveLock is the last line of defense against double-starting a
// task the queue should have filtered.
func (e *Executor) guardActiveLock(ctx context.Context, taskID string) error {
	l, err := e.locks.Get(taskID)
	if err != nil || l == nil {
		return err
	}
	panes, err := e.panes.Panes(ctx, e.cfg.SessionName, false)
	if err != nil {
		return verrors.ErrSubprocess("snapshot panes", err)
	}
	if l.IsActive(panes) {
		return &verrors.VillageError{
			Kind: verrors.KindBlocked,
			What: fmt.Sprintf("task %s is already owned", taskID),
			Why:  fmt.Sprintf("an active lock points at live pane %s", l.Pane),
			Fix:  "Run 'village status --workers' to see who holds it",
		}
	}
	return nil
}

// ensureWorktree creates the task's worktree, suffixing the id on
// collision: base, base-2, base-3. The chosen id is the identity for
// every later phase.
func (e *Executor) ensureWorktree(ctx context.Context, baseID string) (*Result, error) {
	for attempt := 1; attempt <= MaxAttempts; attempt++ {
		id := baseID
		if attempt > 1 {
			id = fmt.Sprintf("%s-%d", baseID, attempt)
		}
		if err := interrupted(ctx, "resume"); err != nil {
			return nil, err
		}

		wt, err := e.worktrees.Create(ctx, id)
		if err == nil {
			return &Result{
				TaskID:   id,
				BaseID:   baseID,
				Attempt:  attempt,
				Worktree: wt.Path,
				Branch:   wt.Branch,
			}, nil
		}
		if !verrors.Is(err, git.ErrCollision) {
			return nil, err
		}
	}
	return nil, &verrors.VillageError{
		Kind: verrors.KindSubprocess,
		What: fmt.Sprintf("create worktree for %s", baseID),
		Why:  fmt.Sprintf("%d successive name collisions", MaxAttempts),
		Fix:  "Run 'village cleanup' to reclaim orphan worktrees, or remove the conflicting branches by hand",
	}
}

// createWindow makes the detached window and identifies the pane it
// spawned by diffing forced pane snapshots around the creation.
func (e *Executor) createWindow(ctx context.Context, res *Result) error {
	before, err := e.panes.Panes(ctx, e.cfg.SessionName, true)
	if err != nil {
		return verrors.ErrSubprocess("snapshot panes", err)
	}
	if err := e.panes.NewWindow(ctx, e.cfg.SessionName, res.Window, res.Worktree); err != nil {
		return verrors.ErrSubprocess(fmt.Sprintf("create window %s", res.Window), err)
	}
	after, err := e.panes.RefreshPanes(ctx, e.cfg.SessionName)
	if err != nil {
		return verrors.ErrSubprocess("snapshot panes", err)
	}

	pane, ok := after.Added(before).Newest()
	if !ok {
		return &verrors.VillageError{
			Kind: verrors.KindSubprocess,
			What: fmt.Sprintf("create window %s", res.Window),
			Why:  "tmux accepted the window but no new pane appeared",
			Fix:  fmt.Sprintf("Inspect the session with 'tmux attach -t %s'", e.cfg.SessionName),
		}
	}
	res.Pane = pane
	return nil
}

func (e *Executor) writeLock(ctx context.Context, res *Result, agent string) (*lock.Lock, error) {
	// The suffixed id is a fresh identity, but re-check before writing.
	existing, err := e.locks.Get(res.TaskID)
	if err != nil {
		return nil, err
	}
	if existing != nil && !existing.Corrupted {
		panes, perr := e.panes.Panes(ctx, e.cfg.SessionName, false)
		if perr == nil && existing.IsActive(panes) {
			return nil, &verrors.VillageError{
				Kind: verrors.KindBlocked,
				What: fmt.Sprintf("task %s is already owned", res.TaskID),
				Why:  fmt.Sprintf("an active lock points at live pane %s", existing.Pane),
				Fix:  "Run 'village status --workers' to see who holds it",
			}
		}
	}

	l := &lock.Lock{
		TaskID:    res.TaskID,
		Pane:      res.Pane,
		Window:    res.Window,
		Agent:     agent,
		ClaimedAt: e.now().UTC().Truncate(time.Second),
		State:     lock.StateInProgress,
	}
	if err := e.locks.Write(l); err != nil {
		return nil, &verrors.VillageError{
			Kind:  verrors.KindSubprocess,
			What:  fmt.Sprintf("write lock for %s", res.TaskID),
			Why:   "the worker window was already created and is now unowned",
			Fix:   "Run 'village cleanup' to reconcile, or kill the window by hand",
			Cause: err,
		}
	}
	return l, nil
}

func interrupted(ctx context.Context, op string) error {
	if ctx.Err() != nil {
		return verrors.ErrInterrupted(op)
	}
	return nil
}

// windowName follows the "<agent>-<n>-<base_id>" pattern, n being the
// retry suffix of the final task id (1 for the base id itself).
func windowName(agent string, attempt int, baseID string) string {
	return fmt.Sprintf("%s-%d-%s", agent, attempt, baseID)
}

var suffixPattern = regexp.MustCompile(`^(.+)-([2-9])$`)

// SplitRetrySuffix splits a possibly-suffixed task id into its base and
// attempt number.
func SplitRetrySuffix(taskID string) (string, int) {
	m := suffixPattern.FindStringSubmatch(taskID)
	if m == nil {
		return taskID, 1
	}
	n, _ := strconv.Atoi(m[2])
	return m[1], n
}

// Starter adapts the executor to the queue's dispatch interface, tagging
// events with the queue verb.
type Starter struct {
	Exec     *Executor
	Detached bool
}

// Start implements queue.Starter.
func (s Starter) Start(ctx context.Context, task tasksource.Task) (string, error) {
	res, err := s.Exec.Resume(ctx, Request{
		TaskID:   task.ID,
		Agent:    task.Agent,
		Cmd:      "queue",
		Detached: s.Detached,
	})
	if err != nil {
		return "", err
	}
	return res.Pane, nil
}
