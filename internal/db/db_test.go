package db_test

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lherron/fsmerge/internal/db"
)

func TestRequiresMigrationError(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "target.db")

	database, err := db.Open(dbPath)
	if err != nil {
		t.Fatalf("could not open db: %v", err)
	}
	defer database.Close()

	// Pretend only the baseline was applied
	_, err = database.Exec(`
		CREATE TABLE schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ','now'))
		)
	`)
	if err != nil {
		t.Fatalf("could not create schema_migrations: %v", err)
	}
	if _, err := database.Exec(`INSERT INTO schema_migrations (version) VALUES ('000001_baseline.sql')`); err != nil {
		t.Fatalf("could not insert migration: %v", err)
	}

	migErr := database.RequiresMigrationError()
	if migErr == nil {
		t.Fatal("expected migration error, got nil")
	}

	errStr := migErr.Error()
	for _, want := range []string{dbPath, "000001_baseline.sql", "1 pending migration", "fsmerge migrate"} {
		if !strings.Contains(errStr, want) {
			t.Errorf("error should contain %q, got: %s", want, errStr)
		}
	}
}

func TestRequiresMigrationErrorFreshDB(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "target.db")

	database, err := db.Open(dbPath)
	if err != nil {
		t.Fatalf("could not open db: %v", err)
	}
	defer database.Close()

	migErr := database.RequiresMigrationError()
	if migErr == nil {
		t.Fatal("expected migration error for fresh db, got nil")
	}
	if !strings.Contains(migErr.Error(), "version: none") {
		t.Errorf("error should report version none, got: %s", migErr)
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	database, err := db.Open(filepath.Join(t.TempDir(), "target.db"))
	if err != nil {
		t.Fatalf("could not open db: %v", err)
	}
	defer database.Close()

	applied, err := database.MigrateWithInfo()
	if err != nil {
		t.Fatalf("could not run migrations: %v", err)
	}
	if len(applied) != 2 {
		t.Fatalf("expected 2 migrations applied, got %v", applied)
	}

	applied, err = database.MigrateWithInfo()
	if err != nil {
		t.Fatalf("second migrate failed: %v", err)
	}
	if len(applied) != 0 {
		t.Fatalf("expected nothing to apply, got %v", applied)
	}

	if err := database.RequiresMigrationError(); err != nil {
		t.Errorf("expected nil for fully migrated db, got: %v", err)
	}

	for _, table := range []string{"filesystem", "batch", "file", "file_issue", "merge_run", "batch_import"} {
		var n int
		if err := database.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name = ?", table).Scan(&n); err != nil {
			t.Fatalf("failed to look up %s: %v", table, err)
		}
		if n != 1 {
			t.Errorf("expected table %s to exist", table)
		}
	}
}

func TestForeignKeysRestrictDelete(t *testing.T) {
	database, err := db.Open(filepath.Join(t.TempDir(), "target.db"))
	if err != nil {
		t.Fatalf("could not open db: %v", err)
	}
	defer database.Close()
	if err := database.Migrate(); err != nil {
		t.Fatalf("could not migrate: %v", err)
	}

	if _, err := database.Exec(`INSERT INTO filesystem (id, hostname, path_prefix) VALUES (1, 'b12', '/mnt/ro')`); err != nil {
		t.Fatalf("failed to insert filesystem: %v", err)
	}
	if _, err := database.Exec(`INSERT INTO batch (id, filesystem_id) VALUES (1, 1)`); err != nil {
		t.Fatalf("failed to insert batch: %v", err)
	}
	if _, err := database.Exec(`DELETE FROM filesystem WHERE id = 1`); err == nil {
		t.Fatal("expected delete of referenced filesystem to fail")
	}
	if _, err := database.Exec(`INSERT INTO batch (id, filesystem_id) VALUES (2, 99)`); err == nil {
		t.Fatal("expected batch with unknown filesystem to fail")
	}
}

func TestCreateRefusesExisting(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "target.db")

	first, err := db.Create(dbPath)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	first.Close()

	_, err = db.Create(dbPath)
	if !errors.Is(err, db.ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}
}

func TestOpenReadOnly(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "source.db")

	// Plain rollback-journal file, like the scanner produced
	rw, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		t.Fatalf("could not open db: %v", err)
	}
	if _, err := rw.Exec(`CREATE TABLE t (v TEXT)`); err != nil {
		t.Fatalf("create table failed: %v", err)
	}
	rw.Close()

	ro, err := db.OpenReadOnly(context.Background(), dbPath)
	if err != nil {
		t.Fatalf("open read-only failed: %v", err)
	}
	defer ro.Close()

	if !ro.ReadOnly() {
		t.Error("expected ReadOnly() to be true")
	}
	if _, err := ro.Exec(`INSERT INTO t (v) VALUES ('x')`); err == nil {
		t.Fatal("expected write to read-only database to fail")
	}

	if _, err := db.OpenReadOnly(context.Background(), filepath.Join(t.TempDir(), "missing.db")); err == nil {
		t.Fatal("expected error for missing database")
	}
}
