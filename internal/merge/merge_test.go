package merge

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lherron/fsmerge/internal/config"
	"github.com/lherron/fsmerge/internal/db"
	"github.com/lherron/fsmerge/internal/importer"
	"github.com/lherron/fsmerge/internal/logging"
	"github.com/lherron/fsmerge/internal/source"
	"github.com/lherron/fsmerge/internal/store"
	"github.com/lherron/fsmerge/internal/testutil"
)

const b15Prefix = "0_xfer/inbound/20190727_from_zp4/"

func threeHostPlan(t *testing.T, b13 ...string) *config.Plan {
	t.Helper()
	dir := t.TempDir()

	plan := &config.Plan{
		Target: filepath.Join(dir, "out", "master.sqlite3"),
		Filesystems: []config.FilesystemSeed{
			{ID: 1, Hostname: "b12", PathPrefix: "/mnt/ro/vol/za09/0_mirror/ba07"},
			{ID: 2, Hostname: "b13", PathPrefix: "/mnt/ro/vol/zp4"},
			{ID: 3, Hostname: "b15", PathPrefix: "/mnt/ro/vol/ba07/0-0/0_xfer/inbound/20190727_from_zp4"},
		},
		Batches: []config.BatchSeed{
			{ID: 1, FilesystemID: 1, ScanStart: "2019-09-24 10:12:08", ScanFinish: "2019-09-28 01:55:49"},
			{ID: 2, FilesystemID: 2, ScanStart: "2019-09-24 10:12:49", ScanFinish: "2019-09-28 01:43:20"},
			{ID: 3, FilesystemID: 3, ScanStart: "2019-09-27 23:27:17", ScanFinish: "2019-09-30 03:16:13"},
		},
		Sources: []config.Source{
			{Path: testutil.WriteSource(t, dir, "b12.sqlite3", rows("a%2Fb", "a/b", "c")...), FilesystemID: 1, BatchID: 1},
			{Path: testutil.WriteSource(t, dir, "b13.sqlite3", rows(b13...)...), FilesystemID: 2, BatchID: 2},
			{Path: testutil.WriteSource(t, dir, "b15.sqlite3", rows(b15Prefix+"x", b15Prefix+"y", "other/z")...), FilesystemID: 3, BatchID: 3, Prefix: b15Prefix},
		},
	}
	require.NoError(t, plan.Validate())
	return plan
}

func rows(paths ...string) []source.Record {
	out := make([]source.Record, len(paths))
	for i, p := range paths {
		out[i] = testutil.Row(p, "00ff")
	}
	return out
}

func TestRunImportsEverySource(t *testing.T) {
	ctx := context.Background()
	plan := threeHostPlan(t, "m", "n")

	report, err := Run(ctx, plan, Options{})
	require.NoError(t, err)
	require.True(t, report.Succeeded())
	assert.NotEmpty(t, report.RunID)
	assert.Zero(t, report.Pending)
	require.Len(t, report.Batches, 3)

	assert.Equal(t, "b12", report.Batches[0].Label)
	assert.Equal(t, importer.Stats{Total: 3, Read: 3, Inserted: 2, Skipped: 1}, report.Batches[0].Stats)
	assert.Equal(t, 2, report.Batches[1].Inserted)
	assert.Equal(t, 2, report.Batches[2].Read, "prefix filters the b15 source")
	for _, b := range report.Batches {
		assert.Equal(t, store.ImportCommitted, b.Status)
	}

	database, err := db.Open(plan.Target)
	require.NoError(t, err)
	defer database.Close()
	st := store.New(database)

	files, err := st.Files.FindByPath(ctx, "x")
	require.NoError(t, err, "b15 paths are trimmed")
	assert.Equal(t, int64(3), files[0].BatchID)

	runs, err := st.Runs.Runs(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, store.RunSucceeded, runs[0].Status)
	assert.Equal(t, report.RunID, runs[0].ID)

	imports, err := st.Runs.Imports(ctx, report.RunID)
	require.NoError(t, err)
	assert.Len(t, imports, 3)
}

func TestRunStopsAtFirstFailure(t *testing.T) {
	ctx := context.Background()
	plan := threeHostPlan(t)

	report, err := Run(ctx, plan, Options{})
	require.Error(t, err)

	var runErr *RunError
	require.True(t, errors.As(err, &runErr))
	assert.Equal(t, StageImport, runErr.Stage)
	assert.ErrorIs(t, err, importer.ErrEmptySource)
	assert.Same(t, report.Err, err)

	require.Len(t, report.Batches, 2, "the third source is never attempted")
	assert.Equal(t, store.ImportCommitted, report.Batches[0].Status)
	assert.Equal(t, store.ImportRolledBack, report.Batches[1].Status)
	assert.Equal(t, 1, report.Pending)

	database, err := db.Open(plan.Target)
	require.NoError(t, err)
	defer database.Close()
	assert.Equal(t, 2, testutil.CountRows(t, database, "file"), "the first batch stays committed")

	runs, err := store.New(database).Runs.Runs(ctx)
	require.NoError(t, err)
	assert.Equal(t, store.RunFailed, runs[0].Status)
	assert.Contains(t, runs[0].Error, "no source records")
}

func TestRunRefusesExistingTarget(t *testing.T) {
	ctx := context.Background()
	plan := threeHostPlan(t, "m")

	_, err := Run(ctx, plan, Options{})
	require.NoError(t, err)

	_, err = Run(ctx, plan, Options{})
	require.ErrorIs(t, err, db.ErrExists)
	var runErr *RunError
	require.True(t, errors.As(err, &runErr))
	assert.Equal(t, StageCreate, runErr.Stage)

	// An existing target keeps its seeds, and imported batches are refused.
	_, err = Run(ctx, plan, Options{Existing: true})
	require.ErrorIs(t, err, importer.ErrBatchAlreadyImported)
}

func TestRunDryRun(t *testing.T) {
	plan := threeHostPlan(t, "m")

	report, err := Run(context.Background(), plan, Options{DryRun: true})
	require.NoError(t, err)
	for _, b := range report.Batches {
		assert.Equal(t, store.ImportDryRun, b.Status)
	}

	database, err := db.Open(plan.Target)
	require.NoError(t, err)
	defer database.Close()
	assert.Zero(t, testutil.CountRows(t, database, "file"))
	assert.Equal(t, 3, testutil.CountRows(t, database, "batch"))
}

func TestRunLockedTarget(t *testing.T) {
	plan := threeHostPlan(t, "m")
	require.NoError(t, os.MkdirAll(filepath.Dir(plan.Target), 0755))

	held := flock.New(plan.Target + ".lock")
	locked, err := held.TryLock()
	require.NoError(t, err)
	require.True(t, locked)
	defer held.Unlock()

	_, err = Run(context.Background(), plan, Options{})
	require.ErrorIs(t, err, ErrLocked)
}

func TestRunWithoutTarget(t *testing.T) {
	plan := threeHostPlan(t, "m")
	plan.Target = ""

	report, err := Run(context.Background(), plan, Options{})
	var runErr *RunError
	require.True(t, errors.As(err, &runErr))
	assert.Equal(t, StagePlan, runErr.Stage)
	assert.Empty(t, report.Batches)
}

func TestInitSeedsWithoutImporting(t *testing.T) {
	ctx := context.Background()
	plan := threeHostPlan(t, "m")

	seeded, err := Init(ctx, plan, "", false)
	require.NoError(t, err)
	assert.Equal(t, &store.SeedResult{Filesystems: 3, Batches: 3}, seeded)

	_, err = Init(ctx, plan, "", false)
	require.ErrorIs(t, err, db.ErrExists)

	seeded, err = Init(ctx, plan, "", true)
	require.NoError(t, err)
	assert.Zero(t, seeded.Batches, "existing seeds are kept")

	database, err := db.Open(plan.Target)
	require.NoError(t, err)
	defer database.Close()
	assert.Zero(t, testutil.CountRows(t, database, "file"))
	assert.Zero(t, testutil.CountRows(t, database, "merge_run"))

	// A seeded target accepts the full run when it is allowed to exist.
	report, err := Run(ctx, plan, Options{Existing: true})
	require.NoError(t, err)
	assert.Len(t, report.Batches, 3)
}

func TestInitExistingReportsSeedDrift(t *testing.T) {
	ctx := context.Background()
	plan := threeHostPlan(t, "m")

	_, err := Init(ctx, plan, "", false)
	require.NoError(t, err)

	plan.Filesystems[1].PathPrefix = "/mnt/ro/vol/zp4-renamed"
	var logs bytes.Buffer
	_, err = Init(logging.WithLogger(ctx, zerolog.New(&logs)), plan, "", true)
	require.NoError(t, err)
	assert.Contains(t, logs.String(), "existing seed row differs from plan")
	assert.Contains(t, logs.String(), `"field":"path_prefix"`)

	database, err := db.Open(plan.Target)
	require.NoError(t, err)
	defer database.Close()

	drifts, err := SeedDrift(ctx, store.New(database), plan)
	require.NoError(t, err)
	assert.Equal(t, []store.SeedDrift{{
		Table: "filesystem",
		ID:    2,
		Field: "path_prefix",
		Want:  "/mnt/ro/vol/zp4-renamed",
		Got:   "/mnt/ro/vol/zp4",
	}}, drifts)
}
