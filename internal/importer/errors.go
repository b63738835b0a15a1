package importer

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptySource means the source matched no rows. It is fatal for the batch.
	ErrEmptySource = errors.New("no source records to process")

	// ErrBatchAlreadyImported means the target already holds rows for the batch.
	ErrBatchAlreadyImported = errors.New("batch already imported")

	// ErrCountMismatch means read rows were neither inserted nor skipped.
	ErrCountMismatch = errors.New("row counts do not add up")
)

// Import stages reported in BatchError.Op.
const (
	OpOpen   = "open"
	OpCount  = "count"
	OpCheck  = "check"
	OpRead   = "read"
	OpInsert = "insert"
	OpVerify = "verify"
	OpCommit = "commit"
)

// BatchError reports the stage at which a batch import failed. Nothing of
// the batch is left in the target when it is returned.
type BatchError struct {
	Source string
	Op     string
	Err    error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("import %s: %s: %v", e.Source, e.Op, e.Err)
}

func (e *BatchError) Unwrap() error {
	return e.Err
}
