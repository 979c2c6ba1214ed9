package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	verrors "github.com/wrenhall/village/internal/errors"
)

// newDownCmd creates the down command
func newDownCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "down",
		Short: "Kill the session; locks and worktrees stay",
		Long: `Kill the tmux session. Running workers lose their panes, but locks,
worktrees, and the event log stay on disk; the next queue or cleanup
reconciles them.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			dryRun, _ := cmd.Flags().GetBool("dry-run")
			planOnly, _ := cmd.Flags().GetBool("plan")

			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()

			if dryRun || planOnly {
				up, err := app.panes.SessionExists(cmd.Context(), app.cfg.SessionName)
				if err != nil {
					return verrors.ErrSubprocess("probe session", err)
				}
				if up {
					fmt.Fprintf(w, "would kill session %s\n", app.cfg.SessionName)
				} else {
					fmt.Fprintln(w, "session is not running; nothing to do")
				}
				return nil
			}

			killed, err := app.runtime().Shutdown(cmd.Context())
			if err != nil {
				return err
			}
			if killed {
				fmt.Fprintf(w, "killed session %s\n", app.cfg.SessionName)
			} else {
				fmt.Fprintln(w, "session is not running; nothing to do")
			}
			return nil
		},
	}
	cmd.Flags().Bool("dry-run", false, "show what would happen without doing it")
	cmd.Flags().Bool("plan", false, "alias for --dry-run")
	return cmd
}
