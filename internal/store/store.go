// Package store provides the persistence layer for the master database:
// seed rows, reconciled file rows with their transform issues, and the
// merge run log.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lherron/fsmerge/internal/db"
)

// ErrNotFound is returned by lookups that match no row.
var ErrNotFound = errors.New("not found")

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store is the root store that provides access to table-specific stores.
type Store struct {
	db *db.DB

	Seeds *SeedStore
	Files *FileStore
	Runs  *RunStore
}

// New creates a new Store wrapping the given database connection.
func New(database *db.DB) *Store {
	s := &Store{db: database}
	s.Seeds = &SeedStore{store: s}
	s.Files = &FileStore{store: s}
	s.Runs = &RunStore{store: s}
	return s
}

// DB returns the underlying database connection.
func (s *Store) DB() *db.DB {
	return s.db
}

// Begin starts a transaction for callers that decide themselves whether to
// commit, such as a batch import.
func (s *Store) Begin(ctx context.Context) (*sql.Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return tx, nil
}

// withTx executes fn within a transaction. If fn returns nil, the transaction
// is committed; otherwise it is rolled back.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	return tx.Commit()
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
