package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/lherron/fsmerge/internal/cli/appctx"
	"github.com/lherron/fsmerge/internal/render"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Validate a merge plan and print it",
	Long: `Plan loads a merge plan (YAML or TOML), resolves its paths and validates
every reference. The sources are printed in the order they will be
imported, with the trim length each one will use.`,
	RunE: appctx.WithApp(appctx.Options{}, runPlan),
}

var (
	planPath   string
	planOutput string
)

func init() {
	rootCmd.AddCommand(planCmd)

	planCmd.Flags().StringVar(&planPath, "plan", "", "Merge plan file (overrides FSMERGE_PLAN)")
	planCmd.Flags().StringVarP(&planOutput, "output", "o", "", "Output format: table, json, yaml, tsv")
}

func runPlan(app *appctx.App, cmd *cobra.Command, args []string) error {
	format, err := outputFormat(app.Config, planOutput, false, false)
	if err != nil {
		return err
	}
	plan, err := loadPlan(app.Config, planPath)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	r := render.NewRenderer(out, render.Options{Format: format})
	if r.Structured() {
		return r.Render(plan, nil, nil)
	}

	headers := []string{"#", "LABEL", "FS", "BATCH", "PREFIX", "TRIM", "SOURCE"}
	rows := make([][]string, len(plan.Sources))
	for i, src := range plan.Sources {
		rows[i] = []string{
			strconv.Itoa(i + 1),
			src.Label,
			strconv.FormatInt(src.FilesystemID, 10),
			strconv.FormatInt(src.BatchID, 10),
			src.Prefix,
			strconv.Itoa(src.Trim()),
			src.Path,
		}
	}

	if format == render.FormatTable {
		fmt.Fprintf(out, "Plan:   %s\n", plan.Path())
		fmt.Fprintf(out, "Target: %s\n", planTarget(cmd, app.Config, plan))
		fmt.Fprintf(out, "Filesystems: %d  Batches: %d\n\n", len(plan.Filesystems), len(plan.Batches))
	}
	return r.Render(nil, headers, rows)
}
