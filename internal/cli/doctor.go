package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/lherron/fsmerge/internal/cli/appctx"
	"github.com/lherron/fsmerge/internal/config"
	"github.com/lherron/fsmerge/internal/db"
	"github.com/lherron/fsmerge/internal/merge"
	"github.com/lherron/fsmerge/internal/render"
	"github.com/lherron/fsmerge/internal/store"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check the master database for consistency",
	Long: `Doctor runs health checks on the master database: SQLite integrity and
foreign keys, pending migrations, stored rows per batch against the import
log, and transform issue totals.

With --plan (or FSMERGE_PLAN) the plan's filesystems and batches are also
compared against the seed rows stored in the target.`,
	RunE: appctx.WithApp(appctx.Options{}, runDoctor),
}

var (
	doctorJSON    bool
	doctorPlan    string
	doctorVerbose bool
)

const (
	statusOK      = "ok"
	statusWarning = "warning"
	statusError   = "error"
)

type checkResult struct {
	Name    string   `json:"name"`
	Status  string   `json:"status"`
	Message string   `json:"message,omitempty"`
	Details []string `json:"details,omitempty"`
}

type doctorReport struct {
	Version       string        `json:"version"`
	Target        string        `json:"target"`
	Checks        []checkResult `json:"checks"`
	Warnings      int           `json:"warnings"`
	Errors        int           `json:"errors"`
	OverallStatus string        `json:"overall_status"`
}

func init() {
	rootCmd.AddCommand(doctorCmd)
	doctorCmd.Flags().BoolVar(&doctorJSON, "json", false, "Output JSON")
	doctorCmd.Flags().StringVar(&doctorPlan, "plan", "", "Merge plan to compare seed rows against")
	doctorCmd.Flags().BoolVar(&doctorVerbose, "verbose", false, "Verbose output")
}

func runDoctor(app *appctx.App, cmd *cobra.Command, args []string) error {
	report := &doctorReport{
		Version:       Version,
		Target:        app.Config.TargetPath,
		Checks:        []checkResult{},
		OverallStatus: statusOK,
	}

	if _, err := os.Stat(report.Target); err != nil {
		report.Checks = append(report.Checks, checkResult{
			Name:    "target_exists",
			Status:  statusError,
			Message: fmt.Sprintf("Target not found: %s", report.Target),
		})
	} else if database, err := db.Open(report.Target); err != nil {
		report.Checks = append(report.Checks, checkResult{
			Name:    "target_open",
			Status:  statusError,
			Message: fmt.Sprintf("Failed to open target: %v", err),
		})
	} else {
		defer database.Close()
		report.Checks = append(report.Checks, checkHealth(database)...)
		report.Checks = append(report.Checks, checkMigrations(database))
		if pendingMigrations(report.Checks) {
			report.Checks = append(report.Checks, checkResult{
				Name:    "batch_counts",
				Status:  statusWarning,
				Message: "Skipped batch checks until migrations are applied",
			})
		} else {
			st := store.New(database)
			report.Checks = append(report.Checks, checkBatchCounts(app.Ctx, st))
			report.Checks = append(report.Checks, checkIssues(app.Ctx, st))
			report.Checks = append(report.Checks, checkLastRun(app.Ctx, st))
			if planPath := firstNonEmpty(doctorPlan, app.Config.PlanPath); planPath != "" {
				report.Checks = append(report.Checks, checkSeedDrift(app.Ctx, st, planPath))
			}
		}
	}

	for _, check := range report.Checks {
		switch check.Status {
		case statusWarning:
			report.Warnings++
		case statusError:
			report.Errors++
			report.OverallStatus = statusError
		}
	}
	if report.Warnings > 0 && report.OverallStatus == statusOK {
		report.OverallStatus = statusWarning
	}

	if doctorJSON {
		if err := render.NewRenderer(cmd.OutOrStdout(), render.Options{Format: render.FormatJSON}).RenderJSON(report); err != nil {
			return err
		}
	} else {
		printDoctorReport(cmd.OutOrStdout(), report)
	}

	if report.Errors > 0 {
		return fmt.Errorf("doctor found %d error(s)", report.Errors)
	}
	return nil
}

func checkHealth(database *db.DB) []checkResult {
	var results []checkResult

	var integrity string
	if err := database.QueryRow("PRAGMA integrity_check").Scan(&integrity); err != nil {
		integrity = err.Error()
	}
	if integrity == "ok" {
		results = append(results, checkResult{
			Name:    "integrity_check",
			Status:  statusOK,
			Message: "Database integrity check passed",
		})
	} else {
		results = append(results, checkResult{
			Name:    "integrity_check",
			Status:  statusError,
			Message: fmt.Sprintf("Database integrity check failed: %s", integrity),
			Details: []string{"Rebuild the target from its sources"},
		})
	}

	rows, err := database.Query("PRAGMA foreign_key_check")
	if err != nil {
		return append(results, checkResult{
			Name:    "foreign_key_check",
			Status:  statusError,
			Message: fmt.Sprintf("Failed to run foreign key check: %v", err),
		})
	}
	defer rows.Close()

	var details []string
	for rows.Next() {
		var table, parent string
		var rowid, fkid any
		if err := rows.Scan(&table, &rowid, &parent, &fkid); err != nil {
			break
		}
		details = append(details, fmt.Sprintf("%s row %v references missing %s", table, rowid, parent))
	}
	if len(details) == 0 {
		results = append(results, checkResult{
			Name:    "foreign_key_check",
			Status:  statusOK,
			Message: "No foreign key violations",
		})
	} else {
		results = append(results, checkResult{
			Name:    "foreign_key_check",
			Status:  statusError,
			Message: fmt.Sprintf("%d foreign key violation(s)", len(details)),
			Details: details,
		})
	}
	return results
}

func checkMigrations(database *db.DB) checkResult {
	applied, pending, err := database.MigrationStatus()
	if err != nil {
		return checkResult{
			Name:    "migrations",
			Status:  statusError,
			Message: fmt.Sprintf("Failed to read migration status: %v", err),
		}
	}
	if len(pending) > 0 {
		return checkResult{
			Name:    "migrations",
			Status:  statusError,
			Message: fmt.Sprintf("%d pending migration(s)", len(pending)),
			Details: append([]string{"Run 'fsmerge migrate'"}, pending...),
		}
	}
	return checkResult{
		Name:    "migrations",
		Status:  statusOK,
		Message: fmt.Sprintf("Schema is current (%d migration(s) applied)", len(applied)),
	}
}

func pendingMigrations(checks []checkResult) bool {
	for _, c := range checks {
		if c.Name == "migrations" && c.Status != statusOK {
			return true
		}
	}
	return false
}

func checkSeedDrift(ctx context.Context, st *store.Store, planPath string) checkResult {
	plan, err := config.LoadPlan(planPath)
	if err != nil {
		return checkResult{Name: "seed_drift", Status: statusError, Message: err.Error()}
	}
	drifts, err := merge.SeedDrift(ctx, st, plan)
	if err != nil {
		return checkResult{Name: "seed_drift", Status: statusError, Message: fmt.Sprintf("Failed to compare seeds: %v", err)}
	}
	if len(drifts) == 0 {
		return checkResult{
			Name:    "seed_drift",
			Status:  statusOK,
			Message: fmt.Sprintf("Seed rows match the plan (%d filesystem(s), %d batch(es))", len(plan.Filesystems), len(plan.Batches)),
		}
	}

	details := make([]string, 0, len(drifts))
	for _, d := range drifts {
		details = append(details, d.String())
	}
	return checkResult{
		Name:    "seed_drift",
		Status:  statusWarning,
		Message: fmt.Sprintf("%d seed row difference(s) from %s", len(drifts), planPath),
		Details: details,
	}
}

func checkBatchCounts(ctx context.Context, st *store.Store) checkResult {
	counts, err := st.Runs.BatchCounts(ctx)
	if err != nil {
		return checkResult{Name: "batch_counts", Status: statusError, Message: err.Error()}
	}

	var mismatched, empty []string
	for _, c := range counts {
		switch {
		case c.Logged != c.Stored:
			mismatched = append(mismatched, fmt.Sprintf("batch %d (filesystem %d): logged %d, stored %d", c.BatchID, c.FilesystemID, c.Logged, c.Stored))
		case c.Stored == 0:
			empty = append(empty, fmt.Sprintf("batch %d (filesystem %d)", c.BatchID, c.FilesystemID))
		}
	}

	switch {
	case len(mismatched) > 0:
		return checkResult{
			Name:    "batch_counts",
			Status:  statusError,
			Message: fmt.Sprintf("%d batch(es) disagree with the import log", len(mismatched)),
			Details: mismatched,
		}
	case len(empty) > 0:
		return checkResult{
			Name:    "batch_counts",
			Status:  statusWarning,
			Message: fmt.Sprintf("%d of %d batch(es) not imported yet", len(empty), len(counts)),
			Details: empty,
		}
	}
	return checkResult{
		Name:    "batch_counts",
		Status:  statusOK,
		Message: fmt.Sprintf("All %d batch(es) match the import log", len(counts)),
	}
}

func checkIssues(ctx context.Context, st *store.Store) checkResult {
	counts, err := st.Files.IssueCounts(ctx)
	if err != nil {
		return checkResult{Name: "issues", Status: statusError, Message: err.Error()}
	}
	if len(counts) == 0 {
		return checkResult{Name: "issues", Status: statusOK, Message: "No transform issues recorded"}
	}

	steps := make([]string, 0, len(counts))
	total := 0
	for step, n := range counts {
		steps = append(steps, fmt.Sprintf("%s: %d", step, n))
		total += n
	}
	sort.Strings(steps)
	return checkResult{
		Name:    "issues",
		Status:  statusOK,
		Message: fmt.Sprintf("%d transform issue(s) recorded", total),
		Details: steps,
	}
}

func checkLastRun(ctx context.Context, st *store.Store) checkResult {
	runs, err := st.Runs.Runs(ctx)
	if err != nil {
		return checkResult{Name: "last_run", Status: statusError, Message: err.Error()}
	}
	if len(runs) == 0 {
		return checkResult{Name: "last_run", Status: statusOK, Message: "No merge runs recorded"}
	}

	last := runs[0]
	switch last.Status {
	case store.RunSucceeded:
		return checkResult{Name: "last_run", Status: statusOK, Message: fmt.Sprintf("Last run %s succeeded", last.ID)}
	case store.RunFailed:
		return checkResult{
			Name:    "last_run",
			Status:  statusWarning,
			Message: fmt.Sprintf("Last run %s failed", last.ID),
			Details: []string{last.Error},
		}
	}
	return checkResult{
		Name:    "last_run",
		Status:  statusWarning,
		Message: fmt.Sprintf("Last run %s never finished", last.ID),
	}
}

func printDoctorReport(w io.Writer, report *doctorReport) {
	green := color.New(color.FgGreen).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()

	fmt.Fprintf(w, "fsmerge doctor %s\n\n", report.Version)
	fmt.Fprintf(w, "Target: %s\n\n", report.Target)

	for _, check := range report.Checks {
		icon := green("✓")
		switch check.Status {
		case statusWarning:
			icon = yellow("⚠")
		case statusError:
			icon = red("✗")
		}
		fmt.Fprintf(w, "  %s %s\n", icon, check.Message)

		if doctorVerbose || check.Status != statusOK {
			for _, detail := range check.Details {
				fmt.Fprintf(w, "      %s\n", detail)
			}
		}
	}

	fmt.Fprintln(w)
	switch {
	case report.Errors > 0:
		fmt.Fprintf(w, "Summary: %d error(s), %d warning(s)\n", report.Errors, report.Warnings)
	case report.Warnings > 0:
		fmt.Fprintf(w, "Summary: %d warning(s)\n", report.Warnings)
	default:
		fmt.Fprintln(w, "Summary: All checks passed ✓")
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
