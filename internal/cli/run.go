package cli

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/lherron/fsmerge/internal/cli/appctx"
	"github.com/lherron/fsmerge/internal/config"
	"github.com/lherron/fsmerge/internal/merge"
	"github.com/lherron/fsmerge/internal/progress"
	"github.com/lherron/fsmerge/internal/render"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Build the master database from a merge plan",
	Long: `Run creates the master database, seeds the plan's filesystems and batches,
and imports every source in plan order. Each source is one transaction:
a failing source is rolled back and stops the run, while sources that
were already committed stay in the target.

The target must not exist unless --existing is given. Use --dry-run to
import and roll back every source without committing rows.`,
	RunE: appctx.WithApp(appctx.Options{}, runRun),
}

var (
	runPlanPath   string
	runExisting   bool
	runDryRun     bool
	runJSON       bool
	runYAML       bool
	runOutput     string
	runReportPath string
	runYes        bool
	runChunkSize  int
)

// errAborted is returned when the confirmation prompt is declined.
var errAborted = errors.New("aborted")

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVar(&runPlanPath, "plan", "", "Merge plan file (overrides FSMERGE_PLAN)")
	runCmd.Flags().BoolVar(&runExisting, "existing", false, "Allow merging into an existing target")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "Import and roll back every source")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "Output the report as JSON")
	runCmd.Flags().BoolVar(&runYAML, "yaml", false, "Output the report as YAML")
	runCmd.Flags().StringVarP(&runOutput, "output", "o", "", "Output format: table, json, yaml, tsv")
	runCmd.Flags().StringVar(&runReportPath, "report", "", "Write a JSON report to path")
	runCmd.Flags().BoolVarP(&runYes, "yes", "y", false, "Do not ask for confirmation")
	runCmd.Flags().IntVar(&runChunkSize, "chunk-size", 0, "Rows per INSERT statement")
}

func runRun(app *appctx.App, cmd *cobra.Command, args []string) error {
	format, err := outputFormat(app.Config, runOutput, runJSON, runYAML)
	if err != nil {
		return err
	}

	plan, err := loadPlan(app.Config, runPlanPath)
	if err != nil {
		return err
	}
	target := planTarget(cmd, app.Config, plan)

	if !runYes && term.IsTerminal(int(os.Stdin.Fd())) {
		question := fmt.Sprintf("Merge %d source(s) into %s?", len(plan.Sources), target)
		if !confirm(cmd.InOrStdin(), cmd.ErrOrStderr(), question) {
			return errAborted
		}
	}

	report, runErr := merge.Run(app.Ctx, plan, merge.Options{
		Target:    target,
		Existing:  runExisting,
		DryRun:    runDryRun,
		ChunkSize: runChunkSize,
		Progress:  progress.New(os.Stderr),
	})

	if err := writeSummary(cmd.OutOrStdout(), format, report); err != nil {
		return errors.Join(runErr, fmt.Errorf("failed to print summary: %w", err))
	}

	if runReportPath != "" {
		if err := writeReport(runReportPath, report); err != nil {
			return errors.Join(runErr, err)
		}
		app.Logger.Info().Str("path", runReportPath).Msg("report written")
	}
	return runErr
}

// loadPlan reads the plan named by the flag or by FSMERGE_PLAN.
func loadPlan(cfg *config.Config, flagPath string) (*config.Plan, error) {
	path := flagPath
	if path == "" {
		path = cfg.PlanPath
	}
	if path == "" {
		return nil, fmt.Errorf("plan file not specified (use --plan or set FSMERGE_PLAN)")
	}
	return config.LoadPlan(path)
}

// planTarget picks the target: an explicit --target, then the plan, then
// the environment and config default.
func planTarget(cmd *cobra.Command, cfg *config.Config, plan *config.Plan) string {
	if f := cmd.Flag("target"); f != nil && f.Changed {
		return cfg.TargetPath
	}
	if plan.Target != "" {
		return plan.Target
	}
	return cfg.TargetPath
}

func outputFormat(cfg *config.Config, flag string, asJSON, asYAML bool) (render.Format, error) {
	switch {
	case asJSON:
		return render.FormatJSON, nil
	case asYAML:
		return render.FormatYAML, nil
	case flag != "":
		return render.ParseFormat(flag)
	default:
		return render.ParseFormat(cfg.Output)
	}
}

func confirm(in io.Reader, out io.Writer, question string) bool {
	fmt.Fprintf(out, "%s [y/N]: ", question)
	answer, _ := bufio.NewReader(in).ReadString('\n')
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true
	}
	return false
}

func writeReport(path string, report *merge.Report) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}
