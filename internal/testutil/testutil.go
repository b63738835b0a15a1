package testutil

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/lherron/fsmerge/internal/db"
	"github.com/lherron/fsmerge/internal/source"
)

// sourceSchema mirrors the scanner's table. Only the columns read by
// source.Reader carry data in fixtures.
const sourceSchema = `
CREATE TABLE filesys (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	hostname          TEXT,
	size              INTEGER,
	mtime             TEXT,
	mtime_tz          TEXT,
	xattrs            TEXT,
	row_inserted_utc  TEXT DEFAULT CURRENT_TIMESTAMP,
	path_rltv         TEXT,
	path_rltv_blake2  TEXT,
	content_blake2    TEXT
)`

// TempTarget creates a migrated master database for testing
func TempTarget(t *testing.T) *db.DB {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "master.sqlite3")

	database, err := db.Open(dbPath)
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}

	if err := database.Migrate(); err != nil {
		database.Close()
		t.Fatalf("Failed to run migrations: %v", err)
	}

	t.Cleanup(func() {
		database.Close()
	})

	return database
}

// SeedKeys inserts a filesystem and a batch with the given ids.
func SeedKeys(t *testing.T, database *db.DB, filesystemID, batchID int64) {
	t.Helper()
	if _, err := database.Exec(
		"INSERT OR IGNORE INTO filesystem (id, hostname, path_prefix) VALUES (?, ?, ?)",
		filesystemID, fmt.Sprintf("host%d", filesystemID), fmt.Sprintf("/mnt/%d", filesystemID),
	); err != nil {
		t.Fatalf("Failed to seed filesystem: %v", err)
	}
	if _, err := database.Exec(
		"INSERT INTO batch (id, filesystem_id) VALUES (?, ?)", batchID, filesystemID,
	); err != nil {
		t.Fatalf("Failed to seed batch: %v", err)
	}
}

// WriteSource builds a scanner database named name in dir holding records
// in the given insertion order and returns its path.
func WriteSource(t *testing.T, dir, name string, records ...source.Record) string {
	t.Helper()

	path := filepath.Join(dir, name)
	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("Failed to create source %s: %v", path, err)
	}
	defer conn.Close()

	if _, err := conn.Exec(sourceSchema); err != nil {
		t.Fatalf("Failed to create source schema: %v", err)
	}

	for _, rec := range records {
		if _, err := conn.Exec(`
			INSERT INTO filesys (size, mtime, mtime_tz, xattrs, row_inserted_utc, path_rltv, path_rltv_blake2, content_blake2)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.Size, rec.MTime, rec.MTimeTZ, rec.XAttrs, rec.InsertedAt, rec.Path, rec.PathNLHashHex, rec.ContentHashHex,
		); err != nil {
			t.Fatalf("Failed to insert source row %q: %v", rec.Path, err)
		}
	}

	return path
}

// Row returns a record with the given escaped path and content hash and
// fixed values for the other fields.
func Row(path, contentHashHex string) source.Record {
	return source.Record{
		Path:           path,
		PathNLHashHex:  "0a" + contentHashHex,
		ContentHashHex: contentHashHex,
		Size:           int64(len(path)),
		MTime:          sql.NullString{String: "2019-09-24 10:12:08.000000000", Valid: true},
		MTimeTZ:        sql.NullString{String: "-0700", Valid: true},
		InsertedAt:     sql.NullString{String: "2019-09-24 10:12:08", Valid: true},
	}
}

// WriteFile writes content to a file in a temporary directory
func WriteFile(t *testing.T, dir, filename, content string) string {
	t.Helper()
	path := filepath.Join(dir, filename)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write file %s: %v", path, err)
	}
	return path
}

// CountRows returns the number of rows in table.
func CountRows(t *testing.T, database *db.DB, table string) int {
	t.Helper()
	var n int
	if err := database.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n); err != nil {
		t.Fatalf("Failed to count %s: %v", table, err)
	}
	return n
}
