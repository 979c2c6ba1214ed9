package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wrenhall/village/internal/lock"
)

// newPauseCmd creates the pause command
func newPauseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pause <task_id>",
		Short: "Mark a task's lock as paused",
		Long: `Record a pause in the task's lock file. The worker's pane is left
alone; the state is advisory, for humans and for resume-task.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return transitionLock(cmd, args[0], lock.StatePaused, "pause")
		},
	}
}

// newResumeTaskCmd creates the resume-task command
func newResumeTaskCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume-task <task_id>",
		Short: "Mark a paused task's lock as in progress again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return transitionLock(cmd, args[0], lock.StateInProgress, "resume-task")
		},
	}
}

func transitionLock(cmd *cobra.Command, taskID string, to lock.State, verb string) error {
	app, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	l, err := app.locks.Transition(taskID, to, verb)
	if err != nil {
		if logErr := app.log.Error(taskID, verb, err.Error()); logErr != nil {
			return logErr
		}
		return err
	}
	if err := app.log.OK(taskID, verb, l.Pane); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s is now %s\n", taskID, to)
	return nil
}
