package cli

import (
	"fmt"
	"html/template"
	"io"

	"github.com/spf13/cobra"

	verrors "github.com/wrenhall/village/internal/errors"
	"github.com/wrenhall/village/internal/executor"
	"github.com/wrenhall/village/internal/git"
	"github.com/wrenhall/village/internal/queue"
)

// newResumeCmd creates the resume command
func newResumeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resume [task_id]",
		Short: "Start or re-attach a worker for one task",
		Long: `Run the resume sequence for one task: ensure a worktree, create a
window, write the lock, and inject the work contract into the pane.

Without a task id, show which tasks could be resumed right now.

Examples:
  village resume bd-a3f8               # Start a worker for bd-a3f8
  village resume bd-a3f8 --dry-run     # Show the plan only
  village resume                       # List resumable tasks`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			agent, _ := cmd.Flags().GetString("agent")
			detached, _ := cmd.Flags().GetBool("detached")
			dryRun, _ := cmd.Flags().GetBool("dry-run")
			jsonOut, _ := cmd.Flags().GetBool("json")
			htmlOut, _ := cmd.Flags().GetBool("html")

			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()

			if len(args) == 0 {
				return showResumable(cmd, app, w, jsonOut)
			}

			taskID := args[0]
			if err := git.ValidateTaskID(taskID); err != nil {
				return verrors.ErrUsage(err.Error())
			}
			if agent == "" {
				agent = app.cfg.DefaultAgent
			}

			res, err := app.executor().Resume(cmd.Context(), executor.Request{
				TaskID:   taskID,
				Agent:    agent,
				Detached: detached,
				DryRun:   dryRun,
			})
			if err != nil {
				return err
			}
			switch {
			case htmlOut:
				return renderResumeHTML(w, res)
			case jsonOut:
				return writeJSON(w, struct {
					Command string `json:"command"`
					Version int    `json:"version"`
					*executor.Result
				}{"resume", jsonVersion, res})
			default:
				renderResumeResult(w, res)
				return nil
			}
		},
	}
	cmd.Flags().String("agent", "", "agent label for the worker (default: configured default_agent)")
	cmd.Flags().Bool("detached", false, "do not switch to the new window")
	cmd.Flags().Bool("dry-run", false, "show what would happen without doing it")
	cmd.Flags().Bool("json", false, "output as JSON")
	cmd.Flags().Bool("html", false, "output an HTML report")
	return cmd
}

// showResumable lists the tasks the queue would admit, as resume hints.
func showResumable(cmd *cobra.Command, app *app, w io.Writer, jsonOut bool) error {
	plan, err := app.scheduler().BuildPlan(cmd.Context(), queue.Options{})
	if err != nil {
		return err
	}
	if jsonOut {
		return writeJSON(w, struct {
			Command string      `json:"command"`
			Version int         `json:"version"`
			Plan    *queue.Plan `json:"plan"`
		}{"resume", jsonVersion, plan})
	}
	if len(plan.Available) == 0 {
		fmt.Fprintln(w, "no resumable tasks right now")
		if len(plan.Blocked) > 0 {
			fmt.Fprintf(w, "%d ready tasks are blocked; see 'village queue --plan'\n", len(plan.Blocked))
		}
		return nil
	}
	fmt.Fprintln(w, render(styleHeading, "Resumable tasks"))
	tw := newTab(w)
	for _, t := range plan.Available {
		fmt.Fprintf(tw, "  village resume %s\t%s\n", t.ID, render(styleDim, t.Agent))
	}
	tw.Flush()
	return nil
}

func renderResumeResult(w io.Writer, res *executor.Result) {
	verb := "started"
	if res.DryRun {
		verb = "would start"
	}
	fmt.Fprintf(w, "%s %s\n", render(styleOK, verb), res.TaskID)

	tw := newTab(w)
	fmt.Fprintf(tw, "  worktree\t%s\n", res.Worktree)
	fmt.Fprintf(tw, "  branch\t%s\n", res.Branch)
	fmt.Fprintf(tw, "  window\t%s\n", res.Window)
	if res.Pane != "" {
		fmt.Fprintf(tw, "  pane\t%s\n", res.Pane)
	}
	if res.Attempt > 1 {
		fmt.Fprintf(tw, "  attempt\t%d (retry of %s)\n", res.Attempt, res.BaseID)
	}
	tw.Flush()

	for _, warning := range res.Warnings {
		fmt.Fprintf(w, "%s %s\n", render(styleWarn, "warning:"), warning)
	}
}

// resumeReportTmpl is the --html report. Kept to one self-contained page
// so it can be piped straight into a file or a review tool.
var resumeReportTmpl = template.Must(template.New("resume").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>resume {{.TaskID}}</title>
<style>
body { font-family: monospace; margin: 2em; }
table { border-collapse: collapse; }
td { padding: 0.2em 1em 0.2em 0; }
.warn { color: #b58900; }
</style>
</head>
<body>
<h1>resume {{.TaskID}}{{if .DryRun}} (dry run){{end}}</h1>
<table>
<tr><td>base task</td><td>{{.BaseID}}</td></tr>
<tr><td>attempt</td><td>{{.Attempt}}</td></tr>
<tr><td>worktree</td><td>{{.Worktree}}</td></tr>
<tr><td>branch</td><td>{{.Branch}}</td></tr>
<tr><td>window</td><td>{{.Window}}</td></tr>
<tr><td>pane</td><td>{{.Pane}}</td></tr>
<tr><td>claimed at</td><td>{{.ClaimedAt}}</td></tr>
</table>
{{range .Warnings}}<p class="warn">warning: {{.}}</p>
{{end}}</body>
</html>
`))

func renderResumeHTML(w io.Writer, res *executor.Result) error {
	if err := resumeReportTmpl.Execute(w, res); err != nil {
		return verrors.ErrSubprocess("render HTML report", err)
	}
	return nil
}
