package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/wrenhall/village/internal/probe"
)

// newReadyCmd creates the ready command
func newReadyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ready",
		Short: "Assess readiness and suggest the next command",
		Long: `Probe the environment, the session, and the task backend without
changing anything, then suggest what to run next.

The JSON output carries only the observations; suggestions are advice
for humans, not part of the machine contract.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")

			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			a, err := app.prober().Assess(cmd.Context())
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), struct {
					Command string `json:"command"`
					Version int    `json:"version"`
					*probe.Assessment
				}{"ready", jsonVersion, a})
			}
			renderAssessment(cmd.OutOrStdout(), a)
			return nil
		},
	}
	cmd.Flags().Bool("json", false, "output as JSON")
	return cmd
}

func renderAssessment(w io.Writer, a *probe.Assessment) {
	check := func(ok bool, label string) {
		mark := render(styleBad, "✗")
		if ok {
			mark = render(styleOK, "✓")
		}
		fmt.Fprintf(w, "  %s %s\n", mark, label)
	}

	fmt.Fprintln(w, render(styleHeading, "Readiness"))
	check(a.EnvironmentReady, "state directories")
	check(a.RuntimeReady, "tmux session")

	switch a.WorkAvailable {
	case probe.WorkAvailable:
		fmt.Fprintf(w, "  %s %d ready tasks\n", render(styleOK, "✓"), a.ReadyTasks)
	case probe.WorkNone:
		fmt.Fprintf(w, "  %s no ready tasks\n", render(styleDim, "-"))
	default:
		fmt.Fprintf(w, "  %s task backend unavailable\n", render(styleWarn, "?"))
	}

	if a.ActiveWorkers > 0 {
		fmt.Fprintf(w, "  %s %d workers running\n", render(styleOK, "✓"), a.ActiveWorkers)
	}
	if drift := a.StaleLocks + a.CorruptedLocks + a.Orphans + a.UntrackedWorktrees; drift > 0 {
		fmt.Fprintf(w, "  %s %d stale locks, %d corrupted, %d orphan worktrees, %d untracked dirs\n",
			render(styleWarn, "!"), a.StaleLocks, a.CorruptedLocks, a.Orphans, a.UntrackedWorktrees)
	}

	fmt.Fprintf(w, "\n%s\n", render(styleHeading, "Next"))
	for _, action := range a.SuggestedActions {
		fmt.Fprintf(w, "  village %s\t%s\n", action.Action, render(styleDim, action.Reason))
	}
}
