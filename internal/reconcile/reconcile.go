// Package reconcile turns source records into master file rows.
//
// A Reconciler applies the corrective transforms to one record at a time
// in a fixed order: unescape the path, drop adjacent duplicates, trim the
// path prefix, hash the path, re-encode the content hash and repair the
// extended attributes. A failed step never stops the row. The step's
// fallback value is used and the failure is attached to the row.
package reconcile

import (
	"database/sql"

	"github.com/rs/zerolog"

	"github.com/lherron/fsmerge/internal/source"
	"github.com/lherron/fsmerge/internal/store"
	"github.com/lherron/fsmerge/internal/transform"
)

// Context holds the keys and trim length shared by every row of a batch.
type Context struct {
	FilesystemID int64
	BatchID      int64
	TrimLength   int
}

// Reconciler converts the records of one batch. It keeps duplicate state,
// so use a new Reconciler for every batch.
type Reconciler struct {
	ctx Context
	dup Detector
	log zerolog.Logger
}

// New returns a Reconciler for one batch.
func New(ctx Context, log zerolog.Logger) *Reconciler {
	return &Reconciler{ctx: ctx, log: log}
}

// Skipped returns the number of duplicate rows dropped so far.
func (r *Reconciler) Skipped() int {
	return r.dup.Skipped()
}

// Reconcile builds the file row for rec. It returns false when rec repeats
// the previous record's path and must be skipped.
func (r *Reconciler) Reconcile(rec source.Record) (store.File, bool) {
	var issues []transform.Failure
	record := func(err error) {
		if f, ok := transform.AsFailure(err); ok {
			issues = append(issues, *f)
			r.log.Debug().Str("step", string(f.Step)).Str("input", f.Input).Err(f.Err).Msg("transform failed")
		}
	}

	path, err := transform.UnescapePath(rec.Path)
	record(err)

	if r.dup.Seen(path) {
		r.log.Warn().Str("path", path).Msg("skipping row due to duplicate path")
		return store.File{}, false
	}

	path, err = transform.TrimPrefix(path, r.ctx.TrimLength)
	record(err)

	pathHash, err := transform.HashPath(path)
	if err != nil {
		pathHash = path
	}
	record(err)

	var contentHash sql.NullString
	if encoded, err := transform.ReencodeHash(rec.ContentHashHex); err != nil {
		record(err)
	} else if encoded != "" {
		contentHash = sql.NullString{String: encoded, Valid: true}
	}

	var xattrs string
	if rec.XAttrs.Valid && rec.XAttrs.String != "" {
		xattrs, err = transform.RepairXAttrs(rec.XAttrs.String)
		record(err)
	}

	return store.File{
		FilesystemID:       r.ctx.FilesystemID,
		BatchID:            r.ctx.BatchID,
		PathHash:           pathHash,
		Path:               path,
		Size:               rec.Size,
		MTime:              rec.MTime,
		MTimeTZ:            rec.MTimeTZ,
		ContentHash:        contentHash,
		XAttrs:             xattrs,
		InsertedAt:         rec.InsertedAt,
		OrigPathEscaped:    rec.Path,
		OrigPathNLHashHex:  rec.PathNLHashHex,
		OrigContentHashHex: rec.ContentHashHex,
		Issues:             issues,
	}, true
}
