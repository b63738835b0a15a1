// Package source reads filesystem-inventory rows from a scanner database.
//
// Source databases are opened read-only and never modified. Rows are mapped
// once into a versioned Record so the rest of the pipeline does not depend on
// column names.
package source

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"strings"

	"github.com/lherron/fsmerge/internal/db"
)

// SchemaVersion identifies the scanner layout Record is mapped from.
const SchemaVersion = 1

// Table is the scanner table every source database carries.
const Table = "filesys"

// Columns lists the scanner columns read for schema version 1.
var Columns = []string{
	"size",
	"mtime",
	"mtime_tz",
	"xattrs",
	"row_inserted_utc",
	"path_rltv",
	"path_rltv_blake2",
	"content_blake2",
}

// ErrUnsupportedSchema is returned when a source lacks the version 1 table or columns.
var ErrUnsupportedSchema = errors.New("unsupported source schema")

// Record is one scanned file as recorded by the scanner (schema version 1).
// Path and both hashes keep their stored encodings: Path is escaped and the
// hashes are lowercase hex.
type Record struct {
	Path           string
	PathNLHashHex  string
	ContentHashHex string
	Size           int64
	MTime          sql.NullString
	MTimeTZ        sql.NullString
	XAttrs         sql.NullString
	InsertedAt     sql.NullString
}

// Reader streams records from one source database.
type Reader struct {
	db   *db.DB
	path string
}

// Open opens the source at path read-only and checks its schema.
func Open(ctx context.Context, path string) (*Reader, error) {
	database, err := db.OpenReadOnly(ctx, path)
	if err != nil {
		return nil, err
	}

	r := &Reader{db: database, path: path}
	if err := r.checkSchema(ctx); err != nil {
		database.Close()
		return nil, err
	}
	return r, nil
}

// Path returns the source location.
func (r *Reader) Path() string {
	return r.path
}

// Close releases the source connection.
func (r *Reader) Close() error {
	return r.db.Close()
}

func (r *Reader) checkSchema(ctx context.Context) error {
	rows, err := r.db.QueryContext(ctx, "SELECT name FROM pragma_table_info(?)", Table)
	if err != nil {
		return fmt.Errorf("failed to inspect source schema: %w", err)
	}
	defer rows.Close()

	have := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return fmt.Errorf("failed to scan column name: %w", err)
		}
		have[strings.ToLower(name)] = true
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating source columns: %w", err)
	}

	if len(have) == 0 {
		return fmt.Errorf("%w: %s has no %q table", ErrUnsupportedSchema, r.path, Table)
	}

	var missing []string
	for _, col := range Columns {
		if !have[col] {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s is missing column(s) %s", ErrUnsupportedSchema, r.path, strings.Join(missing, ", "))
	}
	return nil
}

// Count returns the number of rows matching prefix.
func (r *Reader) Count(ctx context.Context, prefix string) (int, error) {
	where, args := filter(prefix)
	var n int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+Table+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count source rows: %w", err)
	}
	return n, nil
}

// Records yields the rows matching prefix ordered by escaped path. Iteration
// stops at the first error, which is yielded with a zero Record.
func (r *Reader) Records(ctx context.Context, prefix string) iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		where, args := filter(prefix)
		query := `
			SELECT
				COALESCE(path_rltv, ''),
				COALESCE(path_rltv_blake2, ''),
				COALESCE(content_blake2, ''),
				COALESCE(size, 0),
				mtime,
				mtime_tz,
				xattrs,
				row_inserted_utc
			FROM ` + Table + where + `
			ORDER BY path_rltv`

		rows, err := r.db.QueryContext(ctx, query, args...)
		if err != nil {
			yield(Record{}, fmt.Errorf("failed to query source rows: %w", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			var rec Record
			if err := rows.Scan(
				&rec.Path,
				&rec.PathNLHashHex,
				&rec.ContentHashHex,
				&rec.Size,
				&rec.MTime,
				&rec.MTimeTZ,
				&rec.XAttrs,
				&rec.InsertedAt,
			); err != nil {
				yield(Record{}, fmt.Errorf("failed to scan source row: %w", err))
				return
			}
			if !yield(rec, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(Record{}, fmt.Errorf("error iterating source rows: %w", err))
		}
	}
}

// filter builds the WHERE clause for an optional path prefix. The prefix is
// matched literally.
func filter(prefix string) (string, []any) {
	if prefix == "" {
		return "", nil
	}
	return ` WHERE path_rltv LIKE ? ESCAPE '\'`, []any{EscapeLike(prefix) + "%"}
}

// EscapeLike escapes the LIKE wildcards in s with a backslash.
func EscapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
