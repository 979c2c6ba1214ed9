package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	verrors "github.com/wrenhall/village/internal/errors"
	"github.com/wrenhall/village/internal/lock"
)

// newLocksCmd creates the locks command
func newLocksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "locks",
		Short: "List lock files and their liveness",
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")

			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			data, err := collectStatus(cmd.Context(), app)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if jsonOut {
				return writeJSON(w, struct {
					Command   string       `json:"command"`
					Version   int          `json:"version"`
					Locks     []workerRow  `json:"locks"`
					Corrupted []corruptRow `json:"corrupted"`
				}{"locks", jsonVersion, append(data.Workers, data.Stale...), data.Corrupted})
			}

			rows := append(data.Workers, data.Stale...)
			if len(rows) == 0 && len(data.Corrupted) == 0 {
				fmt.Fprintln(w, "no locks")
				return nil
			}
			tw := newTab(w)
			fmt.Fprintln(tw, "TASK\tSTATUS\tPANE\tWINDOW\tAGENT\tSTATE\tAGE")
			for _, r := range rows {
				status := render(styleOK, string(r.Status))
				if r.Status == lock.StatusStale {
					status = render(styleWarn, string(r.Status))
				}
				state := string(r.State)
				if state == "" {
					state = "-"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					r.TaskID, status, r.Pane, r.Window, r.Agent, state, r.Age)
			}
			tw.Flush()
			for _, c := range data.Corrupted {
				fmt.Fprintf(w, "%s %s: %s\n", render(styleBad, "corrupted"), c.TaskID, c.Reason)
			}
			return nil
		},
	}
	cmd.Flags().Bool("json", false, "output as JSON")
	return cmd
}

// newUnlockCmd creates the unlock command
func newUnlockCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "unlock <task_id>",
		Short: "Remove one lock file",
		Long: `Remove the lock file for a task. Removing an ACTIVE lock orphans a
running worker, so it requires --force; stale and corrupted locks are
removed without ceremony.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			force, _ := cmd.Flags().GetBool("force")
			taskID := args[0]

			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			l, err := app.locks.Get(taskID)
			if err != nil {
				return err
			}
			if l == nil {
				return lock.ErrNoLock(taskID)
			}

			panes, err := app.panes.Panes(cmd.Context(), app.cfg.SessionName, true)
			if err != nil {
				return verrors.ErrSubprocess("snapshot panes", err)
			}
			if l.IsActive(panes) && !force {
				return &verrors.VillageError{
					Kind: verrors.KindUserInput,
					What: fmt.Sprintf("lock for %s is ACTIVE in pane %s", taskID, l.Pane),
					Why:  "removing an active lock orphans a running worker",
					Fix:  "pass --force to remove it anyway, or stop the worker first",
				}
			}

			if err := app.locks.Remove(taskID); err != nil {
				return err
			}
			if err := app.log.OK(taskID, "unlock", l.Pane); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed lock for %s\n", taskID)
			return nil
		},
	}
	cmd.Flags().Bool("force", false, "remove the lock even if it is ACTIVE")
	return cmd
}
