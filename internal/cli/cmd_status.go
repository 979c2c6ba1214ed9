package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	verrors "github.com/wrenhall/village/internal/errors"
	"github.com/wrenhall/village/internal/lock"
)

// newStatusCmd creates the status command
func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "status",
		Aliases: []string{"st"},
		Short:   "Show session, worker, and lock state",
		Long: `Show what the village looks like right now.

Sections:
  Workers          locks whose pane is alive
  Stale locks      locks whose pane is gone
  Orphans          worktrees without a lock

Examples:
  village status             # Full picture
  village status --short     # One line
  village status --watch     # Refresh every 5 seconds`,
		RunE: func(cmd *cobra.Command, args []string) error {
			short, _ := cmd.Flags().GetBool("short")
			jsonOut, _ := cmd.Flags().GetBool("json")
			watch, _ := cmd.Flags().GetBool("watch")
			workers, _ := cmd.Flags().GetBool("workers")
			locksOnly, _ := cmd.Flags().GetBool("locks")
			orphans, _ := cmd.Flags().GetBool("orphans")

			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			opts := statusOptions{
				short:   short,
				json:    jsonOut,
				workers: workers,
				locks:   locksOnly,
				orphans: orphans,
			}
			if watch {
				return watchStatus(cmd.Context(), app, cmd.OutOrStdout(), opts)
			}
			return showStatus(cmd.Context(), app, cmd.OutOrStdout(), opts)
		},
	}

	cmd.Flags().Bool("short", false, "one-line summary")
	cmd.Flags().Bool("json", false, "output as JSON")
	cmd.Flags().BoolP("watch", "w", false, "refresh every 5 seconds")
	cmd.Flags().Bool("workers", false, "show only active workers")
	cmd.Flags().Bool("locks", false, "show only locks")
	cmd.Flags().Bool("orphans", false, "show only orphaned worktrees")
	return cmd
}

type statusOptions struct {
	short   bool
	json    bool
	workers bool
	locks   bool
	orphans bool
}

// sectioned reports whether any section filter is set.
func (o statusOptions) sectioned() bool {
	return o.workers || o.locks || o.orphans
}

// workerRow is one lock joined with its liveness classification.
type workerRow struct {
	TaskID    string      `json:"task_id"`
	Pane      string      `json:"pane"`
	Window    string      `json:"window"`
	Agent     string      `json:"agent"`
	State     lock.State  `json:"state,omitempty"`
	Status    lock.Status `json:"status"`
	ClaimedAt time.Time   `json:"claimed_at"`
	Age       string      `json:"age"`
}

type corruptRow struct {
	TaskID string `json:"task_id"`
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

type orphanRow struct {
	TaskID string `json:"task_id"`
	Path   string `json:"path"`
}

type statusData struct {
	Command   string       `json:"command"`
	Version   int          `json:"version"`
	Session   string       `json:"session"`
	SessionUp bool         `json:"session_up"`
	Workers   []workerRow  `json:"workers"`
	Stale     []workerRow  `json:"stale_locks"`
	Corrupted []corruptRow `json:"corrupted_locks"`
	Orphans   []orphanRow  `json:"orphan_worktrees"`
}

// collectStatus joins locks against the live pane set and the worktree
// listing. Read-only.
func collectStatus(ctx context.Context, app *app) (*statusData, error) {
	data := &statusData{
		Command: "status",
		Version: jsonVersion,
		Session: app.cfg.SessionName,
	}

	up, err := app.panes.SessionExists(ctx, app.cfg.SessionName)
	if err != nil {
		return nil, verrors.ErrSubprocess("probe session", err)
	}
	data.SessionUp = up

	panes, err := app.panes.Panes(ctx, app.cfg.SessionName, true)
	if err != nil {
		return nil, verrors.ErrSubprocess("snapshot panes", err)
	}
	locks, err := app.locks.List()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	statuses := lock.Evaluate(locks, panes)
	locked := make(map[string]bool, len(locks))
	for _, l := range locks {
		locked[l.TaskID] = true
		if l.Corrupted {
			data.Corrupted = append(data.Corrupted, corruptRow{TaskID: l.TaskID, Path: l.Path, Reason: l.Reason})
			continue
		}
		row := workerRow{
			TaskID:    l.TaskID,
			Pane:      l.Pane,
			Window:    l.Window,
			Agent:     l.Agent,
			State:     l.State,
			Status:    statuses[l.TaskID],
			ClaimedAt: l.ClaimedAt,
			Age:       formatAge(l.Age(now)),
		}
		if row.Status == lock.StatusActive {
			data.Workers = append(data.Workers, row)
		} else {
			data.Stale = append(data.Stale, row)
		}
	}

	worktrees, err := app.worktrees.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, wt := range worktrees {
		if !locked[wt.TaskID] {
			data.Orphans = append(data.Orphans, orphanRow{TaskID: wt.TaskID, Path: wt.Path})
		}
	}
	return data, nil
}

func showStatus(ctx context.Context, app *app, w io.Writer, opts statusOptions) error {
	data, err := collectStatus(ctx, app)
	if err != nil {
		return err
	}
	if opts.json {
		return writeJSON(w, data)
	}
	if opts.short {
		session := "down"
		if data.SessionUp {
			session = "up"
		}
		fmt.Fprintf(w, "session %s, %d active, %d stale, %d corrupted, %d orphans\n",
			session, len(data.Workers), len(data.Stale), len(data.Corrupted), len(data.Orphans))
		return nil
	}
	renderStatus(w, data, opts)
	return nil
}

func renderStatus(w io.Writer, data *statusData, opts statusOptions) {
	all := !opts.sectioned()

	if all {
		session := render(styleBad, "down")
		if data.SessionUp {
			session = render(styleOK, "up")
		}
		fmt.Fprintf(w, "%s %s\n", render(styleHeading, "Session "+data.Session+":"), session)
	}

	if all || opts.workers {
		fmt.Fprintf(w, "\n%s\n", render(styleHeading, fmt.Sprintf("Workers (%d active)", len(data.Workers))))
		rows := data.Workers
		if opts.workers {
			// The filtered view stands alone, so stale locks show here
			// too, marked STALE, instead of in their own section.
			rows = append(append([]workerRow{}, data.Workers...), data.Stale...)
		}
		if len(rows) == 0 {
			fmt.Fprintln(w, render(styleDim, "  none"))
		} else {
			renderWorkerTable(w, rows)
		}
	}

	if all || opts.locks {
		if len(data.Stale) > 0 || opts.locks {
			fmt.Fprintf(w, "\n%s\n", render(styleHeading, fmt.Sprintf("Stale locks (%d)", len(data.Stale))))
			if len(data.Stale) == 0 {
				fmt.Fprintln(w, render(styleDim, "  none"))
			} else {
				renderWorkerTable(w, data.Stale)
			}
		}
		for _, c := range data.Corrupted {
			fmt.Fprintf(w, "%s %s: %s\n", render(styleBad, "corrupted"), c.TaskID, c.Reason)
		}
	}

	if all || opts.orphans {
		if len(data.Orphans) > 0 || opts.orphans {
			fmt.Fprintf(w, "\n%s\n", render(styleHeading, fmt.Sprintf("Orphan worktrees (%d)", len(data.Orphans))))
			for _, o := range data.Orphans {
				fmt.Fprintf(w, "  %s\t%s\n", o.TaskID, render(styleDim, o.Path))
			}
			if len(data.Orphans) == 0 {
				fmt.Fprintln(w, render(styleDim, "  none"))
			}
		}
	}

	if all && (len(data.Stale) > 0 || len(data.Orphans) > 0 || len(data.Corrupted) > 0) {
		fmt.Fprintf(w, "\n%s\n", render(styleWarn, "Run 'village cleanup' to reconcile."))
	}
}

func renderWorkerTable(w io.Writer, rows []workerRow) {
	tw := newTab(w)
	fmt.Fprintln(tw, "  TASK\tSTATUS\tPANE\tWINDOW\tAGENT\tSTATE\tAGE")
	for _, r := range rows {
		state := string(r.State)
		if state == "" {
			state = "-"
		}
		status := render(styleOK, string(r.Status))
		if r.Status == lock.StatusStale {
			status = render(styleWarn, string(r.Status))
		}
		fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\t%s\t%s\t%s\n", r.TaskID, status, r.Pane, r.Window, r.Agent, state, r.Age)
	}
	tw.Flush()
}

// watchStatus re-renders the status every 5 seconds until interrupted.
// The dashboard window created by up runs exactly this.
func watchStatus(ctx context.Context, app *app, w io.Writer, opts statusOptions) error {
	clear := ""
	if isatty.IsTerminal(os.Stdout.Fd()) {
		clear = "\033[2J\033[H"
	}

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		fmt.Fprint(w, clear)
		if err := showStatus(ctx, app, w, opts); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
