package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/wrenhall/village/internal/runtime"
)

// newUpCmd creates the up command
func newUpCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "up",
		Short: "Create the session and state directories",
		Long: `Bring the village up: create the state directories, the detached tmux
session, and a dashboard window running a status loop. Idempotent;
whatever already exists is left alone.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			dryRun, _ := cmd.Flags().GetBool("dry-run")
			planOnly, _ := cmd.Flags().GetBool("plan")
			noDashboard, _ := cmd.Flags().GetBool("no-dashboard")

			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			rt := app.runtime()
			plan, err := rt.PlanInit(cmd.Context(), !noDashboard)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if dryRun || planOnly {
				renderInitPlan(w, plan, true)
				return nil
			}
			if err := rt.ExecuteInit(cmd.Context(), plan); err != nil {
				return err
			}
			renderInitPlan(w, plan, false)
			return nil
		},
	}
	cmd.Flags().Bool("dry-run", false, "show what would be created without creating it")
	cmd.Flags().Bool("plan", false, "alias for --dry-run")
	cmd.Flags().Bool("no-dashboard", false, "skip the dashboard window")
	return cmd
}

func renderInitPlan(w io.Writer, plan *runtime.InitPlan, preview bool) {
	verb := "created"
	if preview {
		verb = "would create"
	}
	if plan.Empty() {
		fmt.Fprintln(w, render(styleOK, "Already up; nothing to do."))
	}
	for _, dir := range plan.NeedsDirectories {
		fmt.Fprintf(w, "%s directory %s\n", verb, dir)
	}
	if plan.NeedsSession {
		fmt.Fprintf(w, "%s tmux session\n", verb)
	}
	if plan.NeedsDashboard {
		fmt.Fprintf(w, "%s dashboard window\n", verb)
	}
	if plan.NeedsTaskBackendInit {
		fmt.Fprintln(w, render(styleWarn, "task backend is not on PATH; install it before queueing"))
	}
}
