package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Build information. Overridden at link time:
//
//	go build -ldflags "-X .../internal/cli.version=v0.3.0 ..."
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// newVersionCmd creates the version command
func newVersionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show village version",
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), struct {
					Command string `json:"command"`
					Version int    `json:"version"`
					Release string `json:"release"`
					Commit  string `json:"commit"`
					Date    string `json:"date"`
				}{"version", jsonVersion, version, commit, date})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "village %s (%s, %s)\n", version, commit, date)
			return nil
		},
	}
	cmd.Flags().Bool("json", false, "output as JSON")
	return cmd
}
