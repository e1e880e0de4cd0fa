package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/syui/aigpt/internal/errs"
)

var localMode bool

var rootCmd = &cobra.Command{
	Use:   "aigpt",
	Short: "Autonomous relational AI companion",
	Long: "aigpt keeps a relationship with each user, lets it fade with silence, " +
		"and decides on its own when to reach out.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// ExitCode maps a command error to the process exit status: 0 on success,
// 2 for fatal errors (persistence, corrupt state, clock regression), 1 for
// everything else.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errs.IsFatal(err):
		return 2
	default:
		return 1
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&localMode, "local", false, "Open the database directly even if a server is running")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(mcpCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(fortuneCmd)
	rootCmd.AddCommand(interactCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(relationshipsCmd)
	rootCmd.AddCommand(tickCmd)
	rootCmd.AddCommand(transmissionsCmd)
	rootCmd.AddCommand(memoriesCmd)
	rootCmd.AddCommand(scheduleCmd)
}

// withBackend opens a backend for the duration of fn.
func withBackend(cmd *cobra.Command, fn func(ctx context.Context, b backend) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	b, err := openBackend(ctx)
	if err != nil {
		return err
	}
	defer b.Close()
	return fn(ctx, b)
}
