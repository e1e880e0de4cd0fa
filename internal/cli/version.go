package cli

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

// Build identity of the aigpt binary. Release builds set these with
// -ldflags "-X github.com/syui/aigpt/internal/cli.Version=...".
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the aigpt build and the Go runtime it was built with",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "aigpt %s (commit: %s, built: %s, %s)\n",
			Version, Commit, BuildDate, runtime.Version())
	},
}

// VersionString is what /api/health and the MCP initialize handshake report.
func VersionString() string {
	return fmt.Sprintf("%s (%s)", Version, Commit)
}
