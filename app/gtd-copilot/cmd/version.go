package cmd

import (
	"fmt"
	"runtime/debug"

	"github.com/spf13/cobra"

	"github.com/cchalm/gtd-copilot/internal/telemetry"
)

var (
	version   = "dev"
	gitCommit = "unknown"
	buildTime = "unknown"
)

// SetVersionInfo records the build's version information. It is also reported with telemetry.
func SetVersionInfo(v, commit, built string) {
	version, gitCommit, buildTime = v, commit, built
	telemetry.ServiceVersion = v
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	// Printing the version needs no configuration
	PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("gtd-copilot %s (commit %s, built %s)\n", version, gitCommit, buildTime)
		if info, ok := debug.ReadBuildInfo(); ok {
			fmt.Printf("Go %s\n", info.GoVersion)
		}
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
