package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
)

// SeedStore handles the filesystem and batch rows every file references.
type SeedStore struct {
	store *Store
}

// Filesystem is one scanned host or volume.
type Filesystem struct {
	ID         int64  `json:"id" yaml:"id"`
	Hostname   string `json:"hostname" yaml:"hostname"`
	PathPrefix string `json:"path_prefix" yaml:"path_prefix"`
	InsertedAt string `json:"inserted_at,omitempty" yaml:"inserted_at,omitempty"`
	Comment    string `json:"comment,omitempty" yaml:"comment,omitempty"`
}

// Batch is one scan run of a filesystem.
type Batch struct {
	ID           int64  `json:"id" yaml:"id"`
	FilesystemID int64  `json:"filesystem_id" yaml:"filesystem_id"`
	ScanStart    string `json:"scan_start,omitempty" yaml:"scan_start,omitempty"`
	ScanFinish   string `json:"scan_finish,omitempty" yaml:"scan_finish,omitempty"`
}

// SeedResult counts the rows written by Seed.
type SeedResult struct {
	Filesystems int
	Batches     int
}

// SeedDrift is a seed row that is missing from the target or whose stored
// value differs from the seed. Field is empty for a missing row.
type SeedDrift struct {
	Table string `json:"table" yaml:"table"`
	ID    int64  `json:"id" yaml:"id"`
	Field string `json:"field,omitempty" yaml:"field,omitempty"`
	Want  string `json:"want,omitempty" yaml:"want,omitempty"`
	Got   string `json:"got,omitempty" yaml:"got,omitempty"`
}

func (d SeedDrift) String() string {
	if d.Field == "" {
		return fmt.Sprintf("%s %d: missing from target", d.Table, d.ID)
	}
	return fmt.Sprintf("%s %d: %s is %q, seed has %q", d.Table, d.ID, d.Field, d.Got, d.Want)
}

// Seed inserts filesystems and batches in one transaction. With keepExisting,
// rows whose id or natural key is already present are left untouched;
// otherwise any conflict fails the whole seed.
func (ss *SeedStore) Seed(ctx context.Context, filesystems []Filesystem, batches []Batch, keepExisting bool) (*SeedResult, error) {
	conflict := ""
	if keepExisting {
		conflict = " ON CONFLICT DO NOTHING"
	}

	result := &SeedResult{}
	err := ss.store.withTx(ctx, func(tx *sql.Tx) error {
		for _, fs := range filesystems {
			res, err := tx.ExecContext(ctx, `
				INSERT INTO filesystem (id, hostname, path_prefix, inserted_at, comment)
				VALUES (?, ?, ?, COALESCE(?, CURRENT_TIMESTAMP), ?)`+conflict,
				fs.ID, fs.Hostname, fs.PathPrefix, nullable(fs.InsertedAt), nullable(fs.Comment),
			)
			if err != nil {
				return fmt.Errorf("failed to seed filesystem %d (%s): %w", fs.ID, fs.Hostname, err)
			}
			n, _ := res.RowsAffected()
			result.Filesystems += int(n)
		}

		for _, b := range batches {
			res, err := tx.ExecContext(ctx, `
				INSERT INTO batch (id, filesystem_id, scan_start, scan_finish)
				VALUES (?, ?, COALESCE(?, CURRENT_TIMESTAMP), ?)`+conflict,
				b.ID, b.FilesystemID, nullable(b.ScanStart), nullable(b.ScanFinish),
			)
			if err != nil {
				return fmt.Errorf("failed to seed batch %d: %w", b.ID, err)
			}
			n, _ := res.RowsAffected()
			result.Batches += int(n)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Filesystem returns the filesystem with the given id.
func (ss *SeedStore) Filesystem(ctx context.Context, id int64) (*Filesystem, error) {
	var fs Filesystem
	var insertedAt, comment sql.NullString
	err := ss.store.db.QueryRowContext(ctx, `
		SELECT id, hostname, path_prefix, inserted_at, comment
		FROM filesystem WHERE id = ?`, id,
	).Scan(&fs.ID, &fs.Hostname, &fs.PathPrefix, &insertedAt, &comment)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("filesystem %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get filesystem %d: %w", id, err)
	}
	fs.InsertedAt = insertedAt.String
	fs.Comment = comment.String
	return &fs, nil
}

// Batch returns the batch with the given id.
func (ss *SeedStore) Batch(ctx context.Context, id int64) (*Batch, error) {
	var b Batch
	var scanFinish sql.NullString
	err := ss.store.db.QueryRowContext(ctx, `
		SELECT id, filesystem_id, scan_start, scan_finish
		FROM batch WHERE id = ?`, id,
	).Scan(&b.ID, &b.FilesystemID, &b.ScanStart, &scanFinish)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("batch %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get batch %d: %w", id, err)
	}
	b.ScanFinish = scanFinish.String
	return &b, nil
}

// CheckKeys verifies that batchID exists and belongs to filesystemID.
func (ss *SeedStore) CheckKeys(ctx context.Context, filesystemID, batchID int64) error {
	if _, err := ss.Filesystem(ctx, filesystemID); err != nil {
		return err
	}
	b, err := ss.Batch(ctx, batchID)
	if err != nil {
		return err
	}
	if b.FilesystemID != filesystemID {
		return fmt.Errorf("batch %d belongs to filesystem %d, not %d", batchID, b.FilesystemID, filesystemID)
	}
	return nil
}

// Drift compares seeds against the stored filesystem and batch rows. Seed
// fields that fall back to a column default when empty are only compared
// when set.
func (ss *SeedStore) Drift(ctx context.Context, filesystems []Filesystem, batches []Batch) ([]SeedDrift, error) {
	drifts := []SeedDrift{}

	for _, want := range filesystems {
		got, err := ss.Filesystem(ctx, want.ID)
		if errors.Is(err, ErrNotFound) {
			drifts = append(drifts, SeedDrift{Table: "filesystem", ID: want.ID})
			continue
		}
		if err != nil {
			return nil, err
		}
		drifts = appendDrift(drifts, "filesystem", want.ID, "hostname", want.Hostname, got.Hostname, false)
		drifts = appendDrift(drifts, "filesystem", want.ID, "path_prefix", want.PathPrefix, got.PathPrefix, false)
		drifts = appendDrift(drifts, "filesystem", want.ID, "inserted_at", want.InsertedAt, got.InsertedAt, true)
		drifts = appendDrift(drifts, "filesystem", want.ID, "comment", want.Comment, got.Comment, true)
	}

	for _, want := range batches {
		got, err := ss.Batch(ctx, want.ID)
		if errors.Is(err, ErrNotFound) {
			drifts = append(drifts, SeedDrift{Table: "batch", ID: want.ID})
			continue
		}
		if err != nil {
			return nil, err
		}
		drifts = appendDrift(drifts, "batch", want.ID, "filesystem_id",
			strconv.FormatInt(want.FilesystemID, 10), strconv.FormatInt(got.FilesystemID, 10), false)
		drifts = appendDrift(drifts, "batch", want.ID, "scan_start", want.ScanStart, got.ScanStart, true)
		drifts = appendDrift(drifts, "batch", want.ID, "scan_finish", want.ScanFinish, got.ScanFinish, true)
	}

	return drifts, nil
}

func appendDrift(drifts []SeedDrift, table string, id int64, field, want, got string, optional bool) []SeedDrift {
	if want == got || (optional && want == "") {
		return drifts
	}
	return append(drifts, SeedDrift{Table: table, ID: id, Field: field, Want: want, Got: got})
}
