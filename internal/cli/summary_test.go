package cli

import (
	"bytes"
	"errors"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lherron/fsmerge/internal/importer"
	"github.com/lherron/fsmerge/internal/merge"
	"github.com/lherron/fsmerge/internal/render"
	"github.com/lherron/fsmerge/internal/store"
)

func sampleReport() *merge.Report {
	err := errors.New("import b15: insert: UNIQUE constraint failed: file.filesystem_id, file.batch_id, file.path_hash")
	return &merge.Report{
		RunID:  "00000000-0000-0000-0000-000000000001",
		Target: "/data/master.sqlite3",
		Batches: []merge.BatchReport{
			{Label: "b12", FilesystemID: 1, BatchID: 1, Status: store.ImportCommitted,
				Stats: importer.Stats{Total: 3, Read: 3, Inserted: 2, Skipped: 1}},
			{Label: "b13", FilesystemID: 2, BatchID: 2, Status: store.ImportCommitted,
				Stats: importer.Stats{Total: 2, Read: 2, Inserted: 2, Issues: 1}},
			{Label: "b15", FilesystemID: 3, BatchID: 3, Status: store.ImportRolledBack,
				Stats: importer.Stats{Total: 4, Read: 4}, Error: err.Error()},
		},
		Error: err.Error(),
		Err:   err,
	}
}

func TestWriteSummaryGolden(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeSummary(&buf, render.FormatTable, sampleReport()))

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "run_summary", buf.Bytes())
}

func TestWriteSummaryPendingAndDryRun(t *testing.T) {
	report := sampleReport()
	report.DryRun = true
	report.Batches = report.Batches[:1]
	report.Pending = 2

	var buf bytes.Buffer
	require.NoError(t, writeSummary(&buf, render.FormatTable, report))
	assert.Contains(t, buf.String(), "Dry run: nothing was committed")
	assert.Contains(t, buf.String(), "2 source(s) not attempted")
}

func TestWriteSummaryJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeSummary(&buf, render.FormatJSON, sampleReport()))
	assert.Contains(t, buf.String(), `"run_id": "00000000-0000-0000-0000-000000000001"`)
	assert.Contains(t, buf.String(), `"status": "rolled_back"`)
	assert.NotContains(t, buf.String(), "records skipped due to duplicate paths")
}
