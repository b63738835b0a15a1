package importer

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lherron/fsmerge/internal/source"
	"github.com/lherron/fsmerge/internal/store"
	"github.com/lherron/fsmerge/internal/testutil"
	"github.com/lherron/fsmerge/internal/transform"
)

func newTarget(t *testing.T) *store.Store {
	t.Helper()
	database := testutil.TempTarget(t)
	testutil.SeedKeys(t, database, 1, 1)
	testutil.SeedKeys(t, database, 2, 2)
	return store.New(database)
}

func TestImportEscapedDuplicate(t *testing.T) {
	ctx := context.Background()
	target := newTarget(t)
	src := testutil.WriteSource(t, t.TempDir(), "b12.sqlite3",
		testutil.Row("a/b", "aa11"),
		testutil.Row("a%2Fb", "00ff"),
	)

	stats, err := Import(ctx, target, Spec{Label: "b12", SourcePath: src, FilesystemID: 1, BatchID: 1}, Options{})
	require.NoError(t, err)
	assert.Equal(t, &Stats{Total: 2, Read: 2, Inserted: 1, Skipped: 1}, stats)

	files, err := target.Files.FindByPath(ctx, "a/b")
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "a%2Fb", files[0].OrigPathEscaped, "the first row in path order wins")
	assert.Equal(t, "AP8=", files[0].ContentHash.String)
	assert.Equal(t, "00ff", files[0].OrigContentHashHex)

	imports, err := target.Runs.Imports(ctx, "")
	require.NoError(t, err)
	require.Len(t, imports, 1)
	assert.Equal(t, store.ImportCommitted, imports[0].Status)
	assert.Equal(t, 2, imports[0].RowsRead)
	assert.Equal(t, 1, imports[0].RowsInserted)
	assert.Equal(t, 1, imports[0].RowsSkipped)
}

func sized(path, contentHashHex string, size int64) source.Record {
	rec := testutil.Row(path, contentHashHex)
	rec.Size = size
	return rec
}

func TestImportRepeatedEscapedRow(t *testing.T) {
	ctx := context.Background()
	target := newTarget(t)
	src := testutil.WriteSource(t, t.TempDir(), "b12.sqlite3",
		sized("a%2Fb", "00ff", 10),
		sized("a%2Fb", "00ff", 10),
		sized("c", "aa11", 5),
	)

	stats, err := Import(ctx, target, Spec{SourcePath: src, FilesystemID: 1, BatchID: 1, TrimLength: 0}, Options{})
	require.NoError(t, err)
	assert.Equal(t, &Stats{Total: 3, Read: 3, Inserted: 2, Skipped: 1}, stats)

	ab, err := target.Files.FindByPath(ctx, "a/b")
	require.NoError(t, err)
	require.Len(t, ab, 1)
	assert.Equal(t, int64(10), ab[0].Size)
	assert.Equal(t, "AP8=", ab[0].ContentHash.String)
	assert.Equal(t, "a%2Fb", ab[0].OrigPathEscaped)

	c, err := target.Files.FindByPath(ctx, "c")
	require.NoError(t, err)
	require.Len(t, c, 1)
	assert.Equal(t, int64(5), c[0].Size)
	assert.Equal(t, "qhE=", c[0].ContentHash.String)

	assert.Equal(t, 2, testutil.CountRows(t, target.DB(), "file"))
}

func TestImportChunkSizeAboveParameterLimit(t *testing.T) {
	ctx := context.Background()
	target := newTarget(t)
	records := make([]source.Record, 3000)
	for i := range records {
		records[i] = testutil.Row(fmt.Sprintf("bulk/%04d", i), "01")
	}
	src := testutil.WriteSource(t, t.TempDir(), "bulk.sqlite3", records...)

	stats, err := Import(ctx, target, Spec{SourcePath: src, FilesystemID: 1, BatchID: 1}, Options{ChunkSize: 3000})
	require.NoError(t, err)
	assert.Equal(t, 3000, stats.Inserted)

	n, err := target.Files.Count(ctx, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, 3000, n)
}

func TestImportRollsBackOnConstraintViolation(t *testing.T) {
	ctx := context.Background()
	target := newTarget(t)
	dir := t.TempDir()

	first := testutil.WriteSource(t, dir, "first.sqlite3", testutil.Row("keep/me", "01"))
	_, err := Import(ctx, target, Spec{SourcePath: first, FilesystemID: 1, BatchID: 1}, Options{})
	require.NoError(t, err)

	// In path order the third row unescapes to the same path as the first
	// without being adjacent to it, so its natural key collides.
	second := testutil.WriteSource(t, dir, "second.sqlite3",
		testutil.Row("a%2Fb", "01"),
		testutil.Row("a-x", "02"),
		testutil.Row("a/b", "03"),
		testutil.Row("a0", "04"),
		testutil.Row("a1", "05"),
	)
	stats, err := Import(ctx, target, Spec{SourcePath: second, FilesystemID: 2, BatchID: 2}, Options{})
	require.Error(t, err)

	var batchErr *BatchError
	require.True(t, errors.As(err, &batchErr))
	assert.Equal(t, OpInsert, batchErr.Op)
	assert.Contains(t, err.Error(), "UNIQUE")
	assert.Equal(t, 5, stats.Read)
	assert.Zero(t, stats.Inserted)

	n, err := target.Files.Count(ctx, 2, 2)
	require.NoError(t, err)
	assert.Zero(t, n, "no row of the failed batch is visible")

	n, err = target.Files.Count(ctx, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "the earlier batch stays committed")

	imports, err := target.Runs.Imports(ctx, "")
	require.NoError(t, err)
	require.Len(t, imports, 2)
	assert.Equal(t, store.ImportRolledBack, imports[1].Status)
	assert.Contains(t, imports[1].Error, "UNIQUE")
}

func TestImportEmptySource(t *testing.T) {
	ctx := context.Background()
	target := newTarget(t)
	src := testutil.WriteSource(t, t.TempDir(), "empty.sqlite3")

	_, err := Import(ctx, target, Spec{SourcePath: src, FilesystemID: 1, BatchID: 1}, Options{})
	require.ErrorIs(t, err, ErrEmptySource)
	assert.Zero(t, testutil.CountRows(t, target.DB(), "file"))

	// A prefix that matches nothing is just as empty.
	src = testutil.WriteSource(t, t.TempDir(), "other.sqlite3", testutil.Row("x/y", "01"))
	_, err = Import(ctx, target, Spec{SourcePath: src, FilesystemID: 1, BatchID: 1, Prefix: "z/"}, Options{})
	require.ErrorIs(t, err, ErrEmptySource)

	imports, err := target.Runs.Imports(ctx, "")
	require.NoError(t, err)
	require.Len(t, imports, 2)
	assert.Equal(t, store.ImportRolledBack, imports[0].Status)
}

func TestImportRefusesImportedBatch(t *testing.T) {
	ctx := context.Background()
	target := newTarget(t)
	src := testutil.WriteSource(t, t.TempDir(), "src.sqlite3", testutil.Row("x", "01"))
	spec := Spec{SourcePath: src, FilesystemID: 1, BatchID: 1}

	_, err := Import(ctx, target, spec, Options{})
	require.NoError(t, err)

	_, err = Import(ctx, target, spec, Options{})
	require.ErrorIs(t, err, ErrBatchAlreadyImported)
	assert.Equal(t, 1, testutil.CountRows(t, target.DB(), "file"))
}

func TestImportUnknownBatch(t *testing.T) {
	target := newTarget(t)
	src := testutil.WriteSource(t, t.TempDir(), "src.sqlite3", testutil.Row("x", "01"))

	_, err := Import(context.Background(), target, Spec{SourcePath: src, FilesystemID: 1, BatchID: 2}, Options{})
	var batchErr *BatchError
	require.True(t, errors.As(err, &batchErr))
	assert.Equal(t, OpCheck, batchErr.Op)
}

func TestImportDryRun(t *testing.T) {
	ctx := context.Background()
	target := newTarget(t)
	src := testutil.WriteSource(t, t.TempDir(), "src.sqlite3",
		testutil.Row("x", "01"),
		testutil.Row("y", "02"),
	)

	stats, err := Import(ctx, target, Spec{SourcePath: src, FilesystemID: 1, BatchID: 1}, Options{DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Inserted)
	assert.Zero(t, testutil.CountRows(t, target.DB(), "file"))

	imports, err := target.Runs.Imports(ctx, "")
	require.NoError(t, err)
	require.Len(t, imports, 1)
	assert.Equal(t, store.ImportDryRun, imports[0].Status)
}

func TestImportPrefixTrimAndIssues(t *testing.T) {
	ctx := context.Background()
	target := newTarget(t)
	prefix := "0_xfer/inbound/20190727_from_zp4/"
	src := testutil.WriteSource(t, t.TempDir(), "b15.sqlite3",
		testutil.Row(prefix+"docs/a.txt", "0a0b"),
		testutil.Row(prefix+"docs/a.txt", "0a0b"),
		testutil.Row(prefix+"docs/b%zz", "0c"),
		testutil.Row(prefix+"docs/c.txt", "xyz"),
		testutil.Row("elsewhere/d.txt", "0d"),
	)

	stats, err := Import(ctx, target, Spec{
		SourcePath:   src,
		FilesystemID: 1,
		BatchID:      1,
		Prefix:       prefix,
		TrimLength:   len(prefix),
	}, Options{ChunkSize: 2})
	require.NoError(t, err)
	assert.Equal(t, 4, stats.Read)
	assert.Equal(t, stats.Read, stats.Inserted+stats.Skipped)
	assert.Equal(t, 1, stats.Skipped)
	assert.Equal(t, 2, stats.Issues)

	files, err := target.Files.FindByPath(ctx, "docs/a.txt")
	require.NoError(t, err)
	require.Len(t, files, 1)

	// A failed unescape keeps the escaped path, which still gets trimmed.
	files, err = target.Files.FindByPath(ctx, "docs/b%zz")
	require.NoError(t, err)
	issues, err := target.Files.Issues(ctx, files[0].ID)
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Equal(t, transform.StepUnescapePath, issues[0].Step)
	assert.Equal(t, prefix+"docs/b%zz", issues[0].Input)

	files, err = target.Files.FindByPath(ctx, "docs/c.txt")
	require.NoError(t, err)
	assert.False(t, files[0].ContentHash.Valid)
}

type cancelAfter struct {
	n      int
	cancel context.CancelFunc
}

func (c *cancelAfter) Start(string, int) {}
func (c *cancelAfter) Finish()           {}
func (c *cancelAfter) Update(done, _ int) {
	if done == c.n {
		c.cancel()
	}
}

func TestImportInterruptedRollsBack(t *testing.T) {
	target := newTarget(t)
	src := testutil.WriteSource(t, t.TempDir(), "src.sqlite3",
		testutil.Row("a", "01"),
		testutil.Row("b", "02"),
		testutil.Row("c", "03"),
		testutil.Row("d", "04"),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := Import(ctx, target, Spec{SourcePath: src, FilesystemID: 1, BatchID: 1},
		Options{ChunkSize: 1, Progress: &cancelAfter{n: 2, cancel: cancel}})
	require.Error(t, err)

	var batchErr *BatchError
	require.True(t, errors.As(err, &batchErr))
	assert.Zero(t, testutil.CountRows(t, target.DB(), "file"))

	imports, err := target.Runs.Imports(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, imports, 1)
	assert.Equal(t, store.ImportRolledBack, imports[0].Status)
}
