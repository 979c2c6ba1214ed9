// Package runtime brings the village session up and tears it down. Both
// directions are planner/applier pairs: plan what is missing, then apply
// exactly that, so repeated invocations are no-ops.
package runtime

import (
	"context"
	"os/exec"

	"github.com/wrenhall/village/internal/config"
	verrors "github.com/wrenhall/village/internal/errors"
	"github.com/wrenhall/village/internal/tmux"
)

// DashboardWindow is the name of the optional status window.
const DashboardWindow = "dashboard"

// InitPlan lists what bring-up would create.
type InitPlan struct {
	NeedsSession bool `json:"needs_session"`
	// NeedsDirectories are the state directories to create, in order.
	NeedsDirectories []string `json:"needs_directories"`
	NeedsDashboard   bool     `json:"needs_dashboard"`
	// NeedsTaskBackendInit reports that the task-source binary is not on
	// PATH. village only reports this; the backend is external and never
	// installed from here.
	NeedsTaskBackendInit bool `json:"needs_task_backend_init"`
}

// Empty reports whether bring-up would do nothing.
func (p *InitPlan) Empty() bool {
	return !p.NeedsSession && len(p.NeedsDirectories) == 0 && !p.NeedsDashboard
}

// Runtime plans and applies session lifecycle changes.
type Runtime struct {
	cfg      *config.Config
	panes    *tmux.Client
	fs       fsops
	lookPath func(string) (string, error)
}

// New wires a runtime manager.
func New(cfg *config.Config, panes *tmux.Client) *Runtime {
	return &Runtime{cfg: cfg, panes: panes, fs: osFS{}, lookPath: exec.LookPath}
}

// PlanInit inspects the world and reports what bring-up would create.
// withDashboard controls whether the dashboard window is part of the plan.
func (r *Runtime) PlanInit(ctx context.Context, withDashboard bool) (*InitPlan, error) {
	plan := &InitPlan{}

	for _, dir := range []string{r.cfg.VillageDir, r.cfg.LocksDir(), r.cfg.WorktreesDir} {
		if !r.fs.dirExists(dir) {
			plan.NeedsDirectories = append(plan.NeedsDirectories, dir)
		}
	}

	exists, err := r.panes.SessionExists(ctx, r.cfg.SessionName)
	if err != nil {
		return nil, verrors.ErrSubprocess("probe session", err)
	}
	plan.NeedsSession = !exists

	if withDashboard {
		if exists {
			windows, err := r.panes.ListWindows(ctx, r.cfg.SessionName)
			if err != nil {
				return nil, verrors.ErrSubprocess("list windows", err)
			}
			plan.NeedsDashboard = !contains(windows, DashboardWindow)
		} else {
			plan.NeedsDashboard = true
		}
	}

	if len(r.cfg.TaskSourceCmd) > 0 {
		if _, err := r.lookPath(r.cfg.TaskSourceCmd[0]); err != nil {
			plan.NeedsTaskBackendInit = true
		}
	}
	return plan, nil
}

// ExecuteInit applies an init plan: directories, then session, then the
// dashboard window. Already-existing pieces were excluded at plan time,
// so apply never fights anything.
func (r *Runtime) ExecuteInit(ctx context.Context, plan *InitPlan) error {
	for _, dir := range plan.NeedsDirectories {
		if err := r.fs.mkdirAll(dir); err != nil {
			return verrors.ErrSubprocess("create state directory", err)
		}
	}
	if plan.NeedsSession {
		if err := r.panes.NewSession(ctx, r.cfg.SessionName); err != nil {
			return verrors.ErrSubprocess("create session", err)
		}
	}
	if plan.NeedsDashboard {
		if err := r.panes.NewWindow(ctx, r.cfg.SessionName, DashboardWindow, r.cfg.GitRoot); err != nil {
			return verrors.ErrSubprocess("create dashboard window", err)
		}
		target := r.cfg.SessionName + ":" + DashboardWindow
		if err := r.panes.SendLiteral(ctx, target, "village status --watch"); err != nil {
			return verrors.ErrSubprocess("start dashboard", err)
		}
		if err := r.panes.SendEnter(ctx, target); err != nil {
			return verrors.ErrSubprocess("start dashboard", err)
		}
	}
	return nil
}

// Shutdown kills the session when present and reports whether it did.
// Locks and worktrees stay on disk; running workers lose their panes.
func (r *Runtime) Shutdown(ctx context.Context) (bool, error) {
	exists, err := r.panes.SessionExists(ctx, r.cfg.SessionName)
	if err != nil {
		return false, verrors.ErrSubprocess("probe session", err)
	}
	if !exists {
		return false, nil
	}
	if err := r.panes.KillSession(ctx, r.cfg.SessionName); err != nil {
		return false, verrors.ErrSubprocess("kill session", err)
	}
	return true, nil
}

func contains(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}
