package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	verrors "github.com/wrenhall/village/internal/errors"
	"github.com/wrenhall/village/internal/events"
)

// newEventsCmd creates the events command
func newEventsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Query the event log",
		Long: `Query the append-only event log. Without filters, every event is
printed in append order.

Examples:
  village events --task bd-a3f8
  village events --result error --last 2h
  village events --since 2026-08-20 --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			taskID, _ := cmd.Flags().GetString("task")
			result, _ := cmd.Flags().GetString("result")
			sinceStr, _ := cmd.Flags().GetString("since")
			lastStr, _ := cmd.Flags().GetString("last")
			jsonOut, _ := cmd.Flags().GetBool("json")

			filter := events.Filter{TaskID: taskID, Result: result}
			if sinceStr != "" {
				since, err := parseSince(sinceStr)
				if err != nil {
					return err
				}
				filter.Since = since
			}
			if lastStr != "" {
				last, err := time.ParseDuration(lastStr)
				if err != nil {
					return verrors.ErrUsage(fmt.Sprintf("invalid --last duration %q", lastStr))
				}
				filter.Last = last
			}

			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			matched, err := app.log.Query(filter)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if jsonOut {
				if matched == nil {
					matched = []events.Event{}
				}
				return writeJSON(w, struct {
					Command string         `json:"command"`
					Version int            `json:"version"`
					Events  []events.Event `json:"events"`
				}{"events", jsonVersion, matched})
			}
			if len(matched) == 0 {
				fmt.Fprintln(w, "no events")
				return nil
			}
			tw := newTab(w)
			fmt.Fprintln(tw, "TS\tCMD\tTASK\tRESULT\tDETAIL")
			for _, e := range matched {
				detail := e.Pane
				if e.Error != "" {
					detail = e.Error
				}
				result := e.Result
				if result == "" {
					result = "start"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", e.TS, e.Cmd, e.TaskID, result, detail)
			}
			tw.Flush()
			return nil
		},
	}
	cmd.Flags().String("task", "", "only events for this task id")
	cmd.Flags().String("result", "", "only events with this result (ok, error)")
	cmd.Flags().String("since", "", "only events at or after this time (RFC3339 or YYYY-MM-DD)")
	cmd.Flags().String("last", "", "only events within this window (e.g. 30m, 2h)")
	cmd.Flags().Bool("json", false, "output as JSON")
	return cmd
}

func parseSince(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, verrors.ErrUsage(fmt.Sprintf("invalid --since time %q; use RFC3339 or YYYY-MM-DD", s))
}
