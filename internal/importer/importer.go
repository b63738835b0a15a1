// Package importer copies one source database into one batch of the master
// database as a single transaction.
package importer

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/lherron/fsmerge/internal/logging"
	"github.com/lherron/fsmerge/internal/reconcile"
	"github.com/lherron/fsmerge/internal/source"
	"github.com/lherron/fsmerge/internal/store"
)

// Spec identifies one source and the batch its rows are filed under.
type Spec struct {
	Label        string
	SourcePath   string
	FilesystemID int64
	BatchID      int64
	Prefix       string
	TrimLength   int
	RunID        string
}

func (s Spec) name() string {
	if s.Label != "" {
		return s.Label
	}
	return s.SourcePath
}

// Progress receives row counts while a batch is streamed.
type Progress interface {
	Start(label string, total int)
	Update(done, skipped int)
	Finish()
}

// Options tunes an import.
type Options struct {
	// DryRun performs the whole import and rolls it back.
	DryRun bool
	// ChunkSize is the number of rows per INSERT statement.
	ChunkSize int
	Progress  Progress
}

// Stats counts the rows of one batch. Read always equals Inserted plus
// Skipped for a committed batch.
type Stats struct {
	Total    int `json:"total" yaml:"total"`
	Read     int `json:"read" yaml:"read"`
	Inserted int `json:"inserted" yaml:"inserted"`
	Skipped  int `json:"skipped" yaml:"skipped"`
	Issues   int `json:"issues" yaml:"issues"`
}

// Import reads every matching row of spec's source, reconciles it and
// inserts the result into target. Either all rows of the batch are
// committed or none are. The attempt is logged in batch_import either way.
func Import(ctx context.Context, target *store.Store, spec Spec, opts Options) (*Stats, error) {
	log := logging.FromContext(ctx).With().
		Str("source", spec.name()).
		Int64("filesystem_id", spec.FilesystemID).
		Int64("batch_id", spec.BatchID).
		Logger()

	stats := &Stats{}
	status, err := run(ctx, log, target, spec, opts, stats)
	if err != nil {
		log.Error().Err(err).Msg("batch rolled back")
		status = store.ImportRolledBack
		// Nothing of a rolled back batch reached the target.
		stats.Inserted, stats.Issues = 0, 0
	}

	if status != store.ImportCommitted {
		// Committed imports are logged inside their own transaction.
		entry := logEntry(spec, stats, status, err)
		if logErr := target.Runs.RecordImport(context.WithoutCancel(ctx), nil, entry); logErr != nil {
			log.Warn().Err(logErr).Msg("failed to log batch import")
		}
	}

	return stats, err
}

func run(ctx context.Context, log zerolog.Logger, target *store.Store, spec Spec, opts Options, stats *Stats) (string, error) {
	fail := func(op string, err error) (string, error) {
		return "", &BatchError{Source: spec.name(), Op: op, Err: err}
	}

	reader, err := source.Open(ctx, spec.SourcePath)
	if err != nil {
		return fail(OpOpen, err)
	}
	defer reader.Close()

	stats.Total, err = reader.Count(ctx, spec.Prefix)
	if err != nil {
		return fail(OpCount, err)
	}
	if stats.Total == 0 {
		return fail(OpCount, ErrEmptySource)
	}

	if err := target.Seeds.CheckKeys(ctx, spec.FilesystemID, spec.BatchID); err != nil {
		return fail(OpCheck, err)
	}
	exists, err := target.Files.Exists(ctx, spec.FilesystemID, spec.BatchID)
	if err != nil {
		return fail(OpCheck, err)
	}
	if exists {
		return fail(OpCheck, ErrBatchAlreadyImported)
	}

	log.Info().Int("rows", stats.Total).Str("prefix", spec.Prefix).Bool("dry_run", opts.DryRun).Msg("importing batch")

	tx, err := target.Begin(ctx)
	if err != nil {
		return fail(OpInsert, err)
	}
	defer tx.Rollback()

	rec := reconcile.New(reconcile.Context{
		FilesystemID: spec.FilesystemID,
		BatchID:      spec.BatchID,
		TrimLength:   spec.TrimLength,
	}, log)
	writer := store.NewFileWriter(tx, opts.ChunkSize)

	if opts.Progress != nil {
		opts.Progress.Start(spec.name(), stats.Total)
		defer opts.Progress.Finish()
	}

	for row, err := range reader.Records(ctx, spec.Prefix) {
		if err != nil {
			return fail(OpRead, err)
		}
		if err := ctx.Err(); err != nil {
			return fail(OpRead, fmt.Errorf("interrupted after %d rows: %w", stats.Read, err))
		}
		stats.Read++

		if file, ok := rec.Reconcile(row); ok {
			if err := writer.Add(ctx, file); err != nil {
				return fail(OpInsert, err)
			}
		}
		if opts.Progress != nil {
			opts.Progress.Update(stats.Read, rec.Skipped())
		}
	}
	if err := writer.Flush(ctx); err != nil {
		return fail(OpInsert, err)
	}

	stats.Inserted = writer.Inserted()
	stats.Skipped = rec.Skipped()
	stats.Issues = writer.Issues()

	if stats.Read != stats.Inserted+stats.Skipped {
		return fail(OpVerify, fmt.Errorf("%w: read %d, inserted %d, skipped %d",
			ErrCountMismatch, stats.Read, stats.Inserted, stats.Skipped))
	}
	if stats.Read != stats.Total {
		log.Warn().Int("counted", stats.Total).Int("read", stats.Read).Msg("source row count changed while reading")
	}

	if opts.DryRun {
		if err := tx.Rollback(); err != nil {
			return fail(OpCommit, err)
		}
		log.Info().Int("inserted", stats.Inserted).Int("skipped", stats.Skipped).Int("issues", stats.Issues).Msg("dry run rolled back")
		return store.ImportDryRun, nil
	}

	if err := target.Runs.RecordImport(ctx, tx, logEntry(spec, stats, store.ImportCommitted, nil)); err != nil {
		return fail(OpCommit, err)
	}
	if err := tx.Commit(); err != nil {
		return fail(OpCommit, err)
	}

	log.Info().Int("inserted", stats.Inserted).Int("skipped", stats.Skipped).Int("issues", stats.Issues).Msg("batch committed")
	if stats.Skipped > 0 {
		log.Warn().Msgf("%d records skipped due to duplicate paths", stats.Skipped)
	}
	return store.ImportCommitted, nil
}

func logEntry(spec Spec, stats *Stats, status string, err error) store.BatchImport {
	entry := store.BatchImport{
		RunID:        spec.RunID,
		FilesystemID: spec.FilesystemID,
		BatchID:      spec.BatchID,
		SourcePath:   spec.SourcePath,
		PathPrefix:   spec.Prefix,
		RowsRead:     stats.Read,
		RowsInserted: stats.Inserted,
		RowsSkipped:  stats.Skipped,
		Issues:       stats.Issues,
		Status:       status,
	}
	if err != nil {
		entry.Error = err.Error()
	}
	return entry
}
