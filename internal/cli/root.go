// Package cli implements the village command-line interface.
package cli

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	verrors "github.com/wrenhall/village/internal/errors"
)

var (
	cfgFile string
	verbose bool
	quiet   bool
	plain   bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "village",
	Short: "Run parallel AI-coding workers over one git repository",
	Long: `village runs multiple coding workers in parallel over a single repository.

Each worker gets an isolated git worktree and a detached tmux window; a
per-task lock file records the claim. village itself never stays resident:
every invocation reads the world from disk, acts once, and exits.

Quick start:
  village up                  Create the session and state directories
  village ready               Check what there is to do
  village queue -n 2          Start up to two workers on ready tasks
  village status              See who is working on what
  village cleanup             Remove stale locks and orphaned worktrees`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	ctx, cancel := SetupSignalHandler()
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if code, ok := exitCodeOf(err); ok {
			return code
		}
		PrintError(err)
		return verrors.ExitCode(err)
	}
	return verrors.ExitOK
}

func init() {
	cobra.OnInitialize(initLogging)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .village/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress non-essential output")
	rootCmd.PersistentFlags().BoolVar(&plain, "plain", false, "disable color output")

	// Add subcommands
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newReadyCmd())
	rootCmd.AddCommand(newUpCmd())
	rootCmd.AddCommand(newDownCmd())
	rootCmd.AddCommand(newQueueCmd())
	rootCmd.AddCommand(newResumeCmd())
	rootCmd.AddCommand(newLocksCmd())
	rootCmd.AddCommand(newUnlockCmd())
	rootCmd.AddCommand(newCleanupCmd())
	rootCmd.AddCommand(newPauseCmd())
	rootCmd.AddCommand(newResumeTaskCmd())
	rootCmd.AddCommand(newEventsCmd())
	rootCmd.AddCommand(newVersionCmd())
}

// initLogging routes diagnostics to stderr at a level driven by the
// global flags. Stdout stays reserved for command output.
func initLogging() {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	} else if quiet {
		level = slog.LevelError
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}
