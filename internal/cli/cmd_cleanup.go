package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/wrenhall/village/internal/reconcile"
)

// newCleanupCmd creates the cleanup command
func newCleanupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Remove stale locks and orphaned worktrees",
		Long: `Reconcile recorded state with reality: delete locks whose pane is
gone, worktrees without a lock, and leftover directories under the
worktrees dir. Protected tasks are never touched.

Cleanup executes by default; use --plan to preview first.

Examples:
  village cleanup --plan                # Show what would be removed
  village cleanup                       # Remove it
  village cleanup --filter 'bd-*'       # Only tasks matching the glob`,
		RunE: func(cmd *cobra.Command, args []string) error {
			planOnly, _ := cmd.Flags().GetBool("plan")
			dryRun, _ := cmd.Flags().GetBool("dry-run")
			filter, _ := cmd.Flags().GetString("filter")
			jsonOut, _ := cmd.Flags().GetBool("json")

			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			rec := app.reconciler()
			plan, err := rec.Build(cmd.Context(), filter)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			preview := planOnly || dryRun
			if jsonOut && preview {
				return writeJSON(w, struct {
					Command string          `json:"command"`
					Version int             `json:"version"`
					Plan    *reconcile.Plan `json:"plan"`
				}{"cleanup", jsonVersion, plan})
			}
			renderCleanupPlan(w, plan, preview)
			if preview || plan.Empty() {
				return nil
			}
			return rec.Apply(cmd.Context(), plan)
		},
	}
	cmd.Flags().Bool("plan", false, "show what would be removed without removing it")
	cmd.Flags().Bool("dry-run", false, "alias for --plan")
	cmd.Flags().Bool("apply", false, "execute the cleanup (the default; kept for scripts)")
	cmd.Flags().String("filter", "", "only reconcile task ids matching this glob")
	cmd.Flags().Bool("json", false, "output as JSON (with --plan)")
	return cmd
}

func renderCleanupPlan(w io.Writer, plan *reconcile.Plan, preview bool) {
	if plan.Empty() {
		fmt.Fprintln(w, render(styleOK, "nothing to clean up"))
		return
	}
	verb := "removing"
	if preview {
		verb = "would remove"
	}
	for _, l := range plan.StaleLocks {
		kind := "stale lock"
		if l.Corrupted {
			kind = "corrupted lock"
		}
		fmt.Fprintf(w, "%s %s %s\n", verb, kind, l.TaskID)
	}
	for _, wt := range plan.OrphanWorktrees {
		fmt.Fprintf(w, "%s orphan worktree %s\n", verb, wt.Path)
	}
	for _, wt := range plan.StaleWorktrees {
		fmt.Fprintf(w, "%s stale worktree %s\n", verb, wt.Path)
	}
	for _, dir := range plan.UntrackedDirs {
		fmt.Fprintf(w, "%s untracked directory %s\n", verb, dir)
	}
}
