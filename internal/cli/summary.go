package cli

import (
	"fmt"
	"io"
	"strconv"

	"github.com/lherron/fsmerge/internal/merge"
	"github.com/lherron/fsmerge/internal/render"
)

var summaryHeaders = []string{"LABEL", "FS", "BATCH", "STATUS", "READ", "INSERTED", "SKIPPED", "ISSUES"}

// writeSummary prints a merge report. Structured formats get the whole
// report; table output adds the run header and the duplicate notes.
func writeSummary(w io.Writer, format render.Format, report *merge.Report) error {
	r := render.NewRenderer(w, render.Options{Format: format})

	rows := make([][]string, 0, len(report.Batches))
	for _, b := range report.Batches {
		rows = append(rows, []string{
			b.Label,
			strconv.FormatInt(b.FilesystemID, 10),
			strconv.FormatInt(b.BatchID, 10),
			b.Status,
			strconv.Itoa(b.Read),
			strconv.Itoa(b.Inserted),
			strconv.Itoa(b.Skipped),
			strconv.Itoa(b.Issues),
		})
	}

	if format != render.FormatTable {
		return r.Render(report, summaryHeaders, rows)
	}

	if report.RunID != "" {
		fmt.Fprintf(w, "Run:    %s\n", report.RunID)
	}
	fmt.Fprintf(w, "Target: %s\n", report.Target)
	if report.DryRun {
		fmt.Fprintln(w, "Dry run: nothing was committed")
	}
	fmt.Fprintln(w)

	if err := r.RenderTable(summaryHeaders, rows); err != nil {
		return err
	}

	notes := false
	for _, b := range report.Batches {
		if b.Skipped == 0 {
			continue
		}
		if !notes {
			fmt.Fprintln(w)
			notes = true
		}
		fmt.Fprintf(w, "%s: %d records skipped due to duplicate paths\n", b.Label, b.Skipped)
	}
	if report.Pending > 0 {
		fmt.Fprintf(w, "\n%d source(s) not attempted\n", report.Pending)
	}
	return nil
}
