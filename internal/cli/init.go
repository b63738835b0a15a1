package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lherron/fsmerge/internal/cli/appctx"
	"github.com/lherron/fsmerge/internal/merge"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create and seed the master database without importing",
	Long: `Init creates the master database named by the plan (or --target), applies
the embedded migrations and seeds the plan's filesystems and batches.
Sources can then be imported one at a time with 'fsmerge import'.`,
	RunE: appctx.WithApp(appctx.Options{}, runInit),
}

var (
	initPlanPath string
	initExisting bool
)

func init() {
	rootCmd.AddCommand(initCmd)

	initCmd.Flags().StringVar(&initPlanPath, "plan", "", "Merge plan file (overrides FSMERGE_PLAN)")
	initCmd.Flags().BoolVar(&initExisting, "existing", false, "Seed an existing target, keeping rows already there")
}

func runInit(app *appctx.App, cmd *cobra.Command, args []string) error {
	plan, err := loadPlan(app.Config, initPlanPath)
	if err != nil {
		return err
	}
	target := planTarget(cmd, app.Config, plan)

	seeded, err := merge.Init(app.Ctx, plan, target, initExisting)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "✓ Initialized %s\n", target)
	fmt.Fprintf(cmd.OutOrStdout(), "  filesystems seeded: %d\n", seeded.Filesystems)
	fmt.Fprintf(cmd.OutOrStdout(), "  batches seeded:     %d\n", seeded.Batches)
	return nil
}
