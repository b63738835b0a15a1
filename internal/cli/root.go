package cli

import (
	"context"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "fsmerge",
	Short: "Merge filesystem scan databases into one master database",
	Long: `fsmerge reconciles filesystem-inventory databases, one per scanned host,
into a single master SQLite database. Paths are unescaped, trimmed and
rehashed, duplicates are skipped, and every source is imported as one
batch inside one transaction.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. Cancelling ctx rolls back the batch in
// progress.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().String("target", "", "Path to the master database (overrides FSMERGE_TARGET)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: trace, debug, info, warn, error")
	rootCmd.PersistentFlags().String("log-format", "", "Log format: auto, console, json")
}
