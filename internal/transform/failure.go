// Package transform holds the per-field corrective functions applied to
// every source row. Each function is pure and reports problems as a
// *Failure; callers record the failure and keep going.
package transform

import (
	"errors"
	"fmt"
)

// Step names a transform stage. The value is stored in file_issue.step.
type Step string

const (
	StepUnescapePath Step = "unescape_path"
	StepTrimPrefix   Step = "trim_prefix"
	StepHashPath     Step = "hash_path"
	StepReencodeHash Step = "reencode_hash"
	StepRepairXAttrs Step = "repair_xattrs"
)

// Failure describes a transform that could not complete. It always carries
// the original input so the value can be recovered later.
type Failure struct {
	Step  Step
	Input string
	Err   error
}

// Error implements the error interface
func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %q: %v", f.Step, f.Input, f.Err)
}

// Unwrap returns the underlying cause
func (f *Failure) Unwrap() error {
	return f.Err
}

func fail(step Step, input string, err error) *Failure {
	// Nested transforms (xattrs reuse the path unescape) keep the outer step
	// but report the innermost cause.
	var inner *Failure
	if errors.As(err, &inner) {
		err = inner.Err
	}
	return &Failure{Step: step, Input: input, Err: err}
}

// AsFailure extracts a *Failure from err.
func AsFailure(err error) (*Failure, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}
