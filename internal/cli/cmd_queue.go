package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/wrenhall/village/internal/executor"
	"github.com/wrenhall/village/internal/queue"
)

// newQueueCmd creates the queue command
func newQueueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Start workers on ready tasks",
		Long: `Fetch the ready list, arbitrate it against running workers, the
concurrency limit, and the recent-execution window, then start workers
for the admitted tasks.

Exit codes: 0 all started, 4 some started, 1 none started, 3 nothing
was admitted.

Examples:
  village queue --plan       # Show the arbitration without acting
  village queue -n 2         # Start at most two workers
  village queue --force      # Ignore the deduplication window`,
		RunE: func(cmd *cobra.Command, args []string) error {
			planOnly, _ := cmd.Flags().GetBool("plan")
			dryRun, _ := cmd.Flags().GetBool("dry-run")
			n, _ := cmd.Flags().GetInt("count")
			agent, _ := cmd.Flags().GetString("agent")
			maxWorkers, _ := cmd.Flags().GetInt("max-workers")
			jsonOut, _ := cmd.Flags().GetBool("json")
			force, _ := cmd.Flags().GetBool("force")

			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			sched := app.scheduler()
			plan, err := sched.BuildPlan(cmd.Context(), queue.Options{
				MaxWorkers: maxWorkers,
				Agent:      agent,
				Force:      force,
			})
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if planOnly || dryRun {
				if jsonOut {
					return writeJSON(w, struct {
						Command string      `json:"command"`
						Version int         `json:"version"`
						Plan    *queue.Plan `json:"plan"`
					}{"queue", jsonVersion, plan})
				}
				renderQueuePlan(w, plan)
				return nil
			}

			if n <= 0 || n > len(plan.Available) {
				n = len(plan.Available)
			}
			starter := executor.Starter{Exec: app.executor(), Detached: true}
			res, err := sched.Execute(cmd.Context(), plan, n, starter)
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSONQueueResult(w, plan, res)
			}
			renderQueueResult(w, plan, res)
			return exitWith(res.ExitCode())
		},
	}
	cmd.Flags().Bool("plan", false, "show the arbitration without starting anything")
	cmd.Flags().Bool("dry-run", false, "alias for --plan")
	cmd.Flags().IntP("count", "n", 0, "start at most n workers (default: all admitted)")
	cmd.Flags().String("agent", "", "override the agent for every task")
	cmd.Flags().Int("max-workers", 0, "override the configured concurrency limit")
	cmd.Flags().Bool("json", false, "output as JSON")
	cmd.Flags().Bool("force", false, "bypass the recent-execution window")
	return cmd
}

func renderQueuePlan(w io.Writer, plan *queue.Plan) {
	fmt.Fprintf(w, "%s %d active / %d limit, %d slots\n",
		render(styleHeading, "Workers:"), plan.ActiveWorkers, plan.ConcurrencyLimit, plan.SlotsAvailable)

	metaWidth := termWidth() - 40
	fmt.Fprintf(w, "\n%s\n", render(styleHeading, fmt.Sprintf("Would start (%d)", len(plan.Available))))
	tw := newTab(w)
	for _, t := range plan.Available {
		fmt.Fprintf(tw, "  %s\t%s\t%s\n", t.ID, t.Agent, render(styleDim, truncate(t.Metadata, metaWidth)))
	}
	tw.Flush()

	if len(plan.Blocked) > 0 {
		fmt.Fprintf(w, "\n%s\n", render(styleHeading, fmt.Sprintf("Blocked (%d)", len(plan.Blocked))))
		tw = newTab(w)
		for _, b := range plan.Blocked {
			fmt.Fprintf(tw, "  %s\t%s\n", b.Task.ID, render(styleWarn, string(b.Reason)))
		}
		tw.Flush()
	}
}

func renderQueueResult(w io.Writer, plan *queue.Plan, res *queue.Result) {
	for _, o := range res.Outcomes {
		if o.Err != nil {
			fmt.Fprintf(w, "%s %s: %v\n", render(styleBad, "failed"), o.Task.ID, o.Err)
		} else {
			fmt.Fprintf(w, "%s %s in pane %s\n", render(styleOK, "started"), o.Task.ID, o.Pane)
		}
	}
	for _, b := range plan.Blocked {
		fmt.Fprintf(w, "%s %s (%s)\n", render(styleDim, "skipped"), b.Task.ID, b.Reason)
	}
	fmt.Fprintf(w, "\n%d started, %d failed, %d blocked\n", res.Started(), res.Failed(), len(plan.Blocked))
}

type queueOutcomeRow struct {
	TaskID string `json:"task_id"`
	Pane   string `json:"pane,omitempty"`
	Error  string `json:"error,omitempty"`
}

func writeJSONQueueResult(w io.Writer, plan *queue.Plan, res *queue.Result) error {
	rows := make([]queueOutcomeRow, 0, len(res.Outcomes))
	for _, o := range res.Outcomes {
		row := queueOutcomeRow{TaskID: o.Task.ID, Pane: o.Pane}
		if o.Err != nil {
			row.Error = o.Err.Error()
		}
		rows = append(rows, row)
	}
	if err := writeJSON(w, struct {
		Command  string              `json:"command"`
		Version  int                 `json:"version"`
		Started  int                 `json:"started"`
		Failed   int                 `json:"failed"`
		Outcomes []queueOutcomeRow   `json:"outcomes"`
		Blocked  []queue.BlockedTask `json:"blocked"`
		ExitCode int                 `json:"exit_code"`
	}{"queue", jsonVersion, res.Started(), res.Failed(), rows, plan.Blocked, res.ExitCode()}); err != nil {
		return err
	}
	return exitWith(res.ExitCode())
}
