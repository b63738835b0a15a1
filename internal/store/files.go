package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lherron/fsmerge/internal/transform"
)

// DefaultChunkSize is the number of file rows sent per INSERT statement.
const DefaultChunkSize = 200

// sqliteMaxVariables is the bound parameter limit of the bundled SQLite.
const sqliteMaxVariables = 32766

// fileColumns is the insert column order used by FileWriter.
var fileColumns = []string{
	"filesystem_id",
	"batch_id",
	"path_hash",
	"path",
	"size",
	"mtime",
	"mtime_tz",
	"content_hash",
	"xattrs",
	"inserted_at",
	"orig_path_escaped",
	"orig_path_nl_hash_hex",
	"orig_content_hash_hex",
}

// MaxChunkSize is the largest chunk whose parameters fit in one statement.
var MaxChunkSize = sqliteMaxVariables / len(fileColumns)

// File is one reconciled file row. Issues lists the transform steps that
// failed while the row was built.
type File struct {
	ID                 int64               `json:"id,omitempty" yaml:"id,omitempty"`
	FilesystemID       int64               `json:"filesystem_id" yaml:"filesystem_id"`
	BatchID            int64               `json:"batch_id" yaml:"batch_id"`
	PathHash           string              `json:"path_hash" yaml:"path_hash"`
	Path               string              `json:"path" yaml:"path"`
	Size               int64               `json:"size" yaml:"size"`
	MTime              sql.NullString      `json:"-" yaml:"-"`
	MTimeTZ            sql.NullString      `json:"-" yaml:"-"`
	ContentHash        sql.NullString      `json:"-" yaml:"-"`
	XAttrs             string              `json:"xattrs" yaml:"xattrs"`
	InsertedAt         sql.NullString      `json:"-" yaml:"-"`
	OrigPathEscaped    string              `json:"orig_path_escaped" yaml:"orig_path_escaped"`
	OrigPathNLHashHex  string              `json:"orig_path_nl_hash_hex" yaml:"orig_path_nl_hash_hex"`
	OrigContentHashHex string              `json:"orig_content_hash_hex" yaml:"orig_content_hash_hex"`
	Issues             []transform.Failure `json:"-" yaml:"-"`
}

func (f *File) args() []any {
	return []any{
		f.FilesystemID,
		f.BatchID,
		f.PathHash,
		f.Path,
		f.Size,
		f.MTime,
		f.MTimeTZ,
		f.ContentHash,
		f.XAttrs,
		f.InsertedAt,
		f.OrigPathEscaped,
		f.OrigPathNLHashHex,
		f.OrigContentHashHex,
	}
}

// Issue is a stored transform failure.
type Issue struct {
	FileID  int64          `json:"file_id" yaml:"file_id"`
	Step    transform.Step `json:"step" yaml:"step"`
	Input   string         `json:"input" yaml:"input"`
	Message string         `json:"message" yaml:"message"`
}

// FileWriter buffers file rows and writes them with multi-row INSERT
// statements on the given transaction. Issues of each row are written
// right after the chunk holding it.
type FileWriter struct {
	tx        *sql.Tx
	chunkSize int
	pending   []File
	inserted  int
	issues    int
}

// NewFileWriter returns a writer bound to tx. A chunkSize below one uses
// DefaultChunkSize and one above MaxChunkSize is clamped to it.
func NewFileWriter(tx *sql.Tx, chunkSize int) *FileWriter {
	switch {
	case chunkSize < 1:
		chunkSize = DefaultChunkSize
	case chunkSize > MaxChunkSize:
		chunkSize = MaxChunkSize
	}
	return &FileWriter{tx: tx, chunkSize: chunkSize, pending: make([]File, 0, chunkSize)}
}

// Add queues f and flushes when a chunk is full.
func (w *FileWriter) Add(ctx context.Context, f File) error {
	w.pending = append(w.pending, f)
	if len(w.pending) >= w.chunkSize {
		return w.Flush(ctx)
	}
	return nil
}

// Inserted returns the number of file rows written so far.
func (w *FileWriter) Inserted() int {
	return w.inserted
}

// Issues returns the number of issue rows written so far.
func (w *FileWriter) Issues() int {
	return w.issues
}

// Flush writes every queued row.
func (w *FileWriter) Flush(ctx context.Context) error {
	if len(w.pending) == 0 {
		return nil
	}
	chunk := w.pending
	w.pending = w.pending[:0]

	row := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(fileColumns)), ", ") + ")"
	values := make([]string, len(chunk))
	args := make([]any, 0, len(chunk)*len(fileColumns))
	for i := range chunk {
		values[i] = row
		args = append(args, chunk[i].args()...)
	}

	query := "INSERT INTO file (" + strings.Join(fileColumns, ", ") + ") VALUES " +
		strings.Join(values, ", ") + " RETURNING id, path_hash"

	rows, err := w.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to insert files: %w", err)
	}
	ids := make(map[string]int64, len(chunk))
	for rows.Next() {
		var id int64
		var pathHash string
		if err := rows.Scan(&id, &pathHash); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan inserted file id: %w", err)
		}
		ids[pathHash] = id
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("failed to insert files: %w", err)
	}
	rows.Close()

	if len(ids) != len(chunk) {
		return fmt.Errorf("failed to insert files: expected %d rows, got %d", len(chunk), len(ids))
	}
	w.inserted += len(chunk)

	for i := range chunk {
		for _, issue := range chunk[i].Issues {
			if _, err := w.tx.ExecContext(ctx,
				"INSERT INTO file_issue (file_id, step, input, message) VALUES (?, ?, ?, ?)",
				ids[chunk[i].PathHash], issue.Step, issue.Input, issue.Err.Error(),
			); err != nil {
				return fmt.Errorf("failed to record issue for %q: %w", chunk[i].Path, err)
			}
			w.issues++
		}
	}
	return nil
}

// FileStore handles read access to file rows.
type FileStore struct {
	store *Store
}

// Exists reports whether any file row is filed under the given keys.
func (fs *FileStore) Exists(ctx context.Context, filesystemID, batchID int64) (bool, error) {
	var one int
	err := fs.store.db.QueryRowContext(ctx,
		"SELECT 1 FROM file WHERE filesystem_id = ? AND batch_id = ? LIMIT 1",
		filesystemID, batchID,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check existing files: %w", err)
	}
	return true, nil
}

// Count returns the number of file rows for a batch.
func (fs *FileStore) Count(ctx context.Context, filesystemID, batchID int64) (int, error) {
	var n int
	if err := fs.store.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM file WHERE filesystem_id = ? AND batch_id = ?",
		filesystemID, batchID,
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count files: %w", err)
	}
	return n, nil
}

const selectFile = `
	SELECT id, filesystem_id, batch_id, path_hash, path, size, mtime, mtime_tz,
		content_hash, COALESCE(xattrs, ''), inserted_at,
		COALESCE(orig_path_escaped, ''), COALESCE(orig_path_nl_hash_hex, ''), COALESCE(orig_content_hash_hex, '')
	FROM file`

func scanFile(sc interface{ Scan(...any) error }) (*File, error) {
	var f File
	err := sc.Scan(
		&f.ID, &f.FilesystemID, &f.BatchID, &f.PathHash, &f.Path, &f.Size, &f.MTime, &f.MTimeTZ,
		&f.ContentHash, &f.XAttrs, &f.InsertedAt,
		&f.OrigPathEscaped, &f.OrigPathNLHashHex, &f.OrigContentHashHex,
	)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// Get returns the file row with the given id.
func (fs *FileStore) Get(ctx context.Context, id int64) (*File, error) {
	f, err := scanFile(fs.store.db.QueryRowContext(ctx, selectFile+" WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("file %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get file %d: %w", id, err)
	}
	return f, nil
}

// FindByPath returns every file row whose corrected path is path, across
// all filesystems and batches.
func (fs *FileStore) FindByPath(ctx context.Context, path string) ([]*File, error) {
	rows, err := fs.store.db.QueryContext(ctx, selectFile+" WHERE path = ? ORDER BY filesystem_id, batch_id", path)
	if err != nil {
		return nil, fmt.Errorf("failed to query files: %w", err)
	}
	defer rows.Close()

	var files []*File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan file: %w", err)
		}
		files = append(files, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating files: %w", err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("path %q: %w", path, ErrNotFound)
	}
	return files, nil
}

// Issues returns the stored transform failures of a file.
func (fs *FileStore) Issues(ctx context.Context, fileID int64) ([]Issue, error) {
	rows, err := fs.store.db.QueryContext(ctx,
		"SELECT file_id, step, input, message FROM file_issue WHERE file_id = ? ORDER BY id", fileID)
	if err != nil {
		return nil, fmt.Errorf("failed to query issues: %w", err)
	}
	defer rows.Close()

	var issues []Issue
	for rows.Next() {
		var is Issue
		if err := rows.Scan(&is.FileID, &is.Step, &is.Input, &is.Message); err != nil {
			return nil, fmt.Errorf("failed to scan issue: %w", err)
		}
		issues = append(issues, is)
	}
	return issues, rows.Err()
}

// IssueCounts returns the number of stored issues per transform step.
func (fs *FileStore) IssueCounts(ctx context.Context) (map[string]int, error) {
	rows, err := fs.store.db.QueryContext(ctx, "SELECT step, COUNT(*) FROM file_issue GROUP BY step")
	if err != nil {
		return nil, fmt.Errorf("failed to count issues: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var step string
		var n int
		if err := rows.Scan(&step, &n); err != nil {
			return nil, fmt.Errorf("failed to scan issue count: %w", err)
		}
		counts[step] = n
	}
	return counts, rows.Err()
}
