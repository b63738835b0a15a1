package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Run statuses.
const (
	RunRunning   = "running"
	RunSucceeded = "succeeded"
	RunFailed    = "failed"
)

// Batch import statuses.
const (
	ImportCommitted  = "committed"
	ImportRolledBack = "rolled_back"
	ImportDryRun     = "dry_run"
)

// RunStore handles the merge_run and batch_import log.
type RunStore struct {
	store *Store
}

// Run is one merge run.
type Run struct {
	ID         string `json:"run_id" yaml:"run_id"`
	PlanPath   string `json:"plan_path,omitempty" yaml:"plan_path,omitempty"`
	StartedAt  string `json:"started_at" yaml:"started_at"`
	FinishedAt string `json:"finished_at,omitempty" yaml:"finished_at,omitempty"`
	Status     string `json:"status" yaml:"status"`
	Error      string `json:"error,omitempty" yaml:"error,omitempty"`
}

// BatchImport is one attempted import of a source into a batch.
type BatchImport struct {
	RunID        string `json:"run_id,omitempty" yaml:"run_id,omitempty"`
	FilesystemID int64  `json:"filesystem_id" yaml:"filesystem_id"`
	BatchID      int64  `json:"batch_id" yaml:"batch_id"`
	SourcePath   string `json:"source_path" yaml:"source_path"`
	PathPrefix   string `json:"path_prefix,omitempty" yaml:"path_prefix,omitempty"`
	RowsRead     int    `json:"rows_read" yaml:"rows_read"`
	RowsInserted int    `json:"rows_inserted" yaml:"rows_inserted"`
	RowsSkipped  int    `json:"rows_skipped" yaml:"rows_skipped"`
	Issues       int    `json:"issues" yaml:"issues"`
	Status       string `json:"status" yaml:"status"`
	Error        string `json:"error,omitempty" yaml:"error,omitempty"`
	FinishedAt   string `json:"finished_at,omitempty" yaml:"finished_at,omitempty"`
}

// Start records a new running merge run.
func (rs *RunStore) Start(ctx context.Context, runID, planPath string) error {
	if _, err := rs.store.db.ExecContext(ctx,
		"INSERT INTO merge_run (run_id, plan_path, status) VALUES (?, ?, ?)",
		runID, nullable(planPath), RunRunning,
	); err != nil {
		return fmt.Errorf("failed to record merge run: %w", err)
	}
	return nil
}

// Finish marks a run as succeeded or failed.
func (rs *RunStore) Finish(ctx context.Context, runID, status, errMsg string) error {
	if _, err := rs.store.db.ExecContext(ctx, `
		UPDATE merge_run
		SET status = ?, error = ?, finished_at = strftime('%Y-%m-%dT%H:%M:%SZ','now')
		WHERE run_id = ?`,
		status, nullable(errMsg), runID,
	); err != nil {
		return fmt.Errorf("failed to finish merge run: %w", err)
	}
	return nil
}

// RecordImport writes one batch_import row. Pass the batch transaction to
// log a committed import atomically with its files, or nil to write it on
// its own after a rollback.
func (rs *RunStore) RecordImport(ctx context.Context, tx *sql.Tx, imp BatchImport) error {
	var exec execer = rs.store.db
	if tx != nil {
		exec = tx
	}
	if _, err := exec.ExecContext(ctx, `
		INSERT INTO batch_import (
			run_id, filesystem_id, batch_id, source_path, path_prefix,
			rows_read, rows_inserted, rows_skipped, issues, status, error
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		nullable(imp.RunID), imp.FilesystemID, imp.BatchID, imp.SourcePath, nullable(imp.PathPrefix),
		imp.RowsRead, imp.RowsInserted, imp.RowsSkipped, imp.Issues, imp.Status, nullable(imp.Error),
	); err != nil {
		return fmt.Errorf("failed to record batch import: %w", err)
	}
	return nil
}

// Imports returns logged batch imports in insertion order. An empty runID
// returns every import.
func (rs *RunStore) Imports(ctx context.Context, runID string) ([]BatchImport, error) {
	query := `
		SELECT COALESCE(run_id, ''), filesystem_id, batch_id, source_path, COALESCE(path_prefix, ''),
			rows_read, rows_inserted, rows_skipped, issues, status, COALESCE(error, ''), finished_at
		FROM batch_import`
	var args []any
	if runID != "" {
		query += " WHERE run_id = ?"
		args = append(args, runID)
	}
	query += " ORDER BY id"

	rows, err := rs.store.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query batch imports: %w", err)
	}
	defer rows.Close()

	var imports []BatchImport
	for rows.Next() {
		var imp BatchImport
		if err := rows.Scan(
			&imp.RunID, &imp.FilesystemID, &imp.BatchID, &imp.SourcePath, &imp.PathPrefix,
			&imp.RowsRead, &imp.RowsInserted, &imp.RowsSkipped, &imp.Issues, &imp.Status, &imp.Error, &imp.FinishedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan batch import: %w", err)
		}
		imports = append(imports, imp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating batch imports: %w", err)
	}
	return imports, nil
}

// Runs returns every merge run, newest first.
func (rs *RunStore) Runs(ctx context.Context) ([]Run, error) {
	rows, err := rs.store.db.QueryContext(ctx, `
		SELECT run_id, COALESCE(plan_path, ''), started_at, COALESCE(finished_at, ''), status, COALESCE(error, '')
		FROM merge_run
		ORDER BY started_at DESC, rowid DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query merge runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.PlanPath, &r.StartedAt, &r.FinishedAt, &r.Status, &r.Error); err != nil {
			return nil, fmt.Errorf("failed to scan merge run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// BatchCount pairs a batch with its committed import log and the rows
// actually stored for it.
type BatchCount struct {
	FilesystemID int64 `json:"filesystem_id" yaml:"filesystem_id"`
	BatchID      int64 `json:"batch_id" yaml:"batch_id"`
	Logged       int   `json:"logged" yaml:"logged"`
	Stored       int   `json:"stored" yaml:"stored"`
}

// BatchCounts compares committed import logs with stored file rows per batch.
func (rs *RunStore) BatchCounts(ctx context.Context) ([]BatchCount, error) {
	rows, err := rs.store.db.QueryContext(ctx, `
		SELECT b.filesystem_id, b.id,
			COALESCE((SELECT SUM(rows_inserted) FROM batch_import i
				WHERE i.filesystem_id = b.filesystem_id AND i.batch_id = b.id AND i.status = 'committed'), 0),
			(SELECT COUNT(*) FROM file f WHERE f.filesystem_id = b.filesystem_id AND f.batch_id = b.id)
		FROM batch b
		ORDER BY b.id`)
	if err != nil {
		return nil, fmt.Errorf("failed to count batches: %w", err)
	}
	defer rows.Close()

	var counts []BatchCount
	for rows.Next() {
		var c BatchCount
		if err := rows.Scan(&c.FilesystemID, &c.BatchID, &c.Logged, &c.Stored); err != nil {
			return nil, fmt.Errorf("failed to scan batch count: %w", err)
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}
