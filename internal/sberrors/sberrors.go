// Package sberrors centralizes the error kinds spec.md §7 requires the
// pipeline to distinguish, so the job runner can classify a failing
// stage without string-matching. Grounded on raito's style of small
// sentinel errors checked with errors.Is (see internal/jobs/runner.go's
// UNKNOWN_JOB_TYPE handling) generalized into wrapped, typed errors.
package sberrors

import (
	"errors"
	"fmt"
)

// Kind identifies one of the error categories enumerated in spec.md §7.
type Kind string

const (
	KindInvalidInput        Kind = "INVALID_INPUT"
	KindSnapshotConflict    Kind = "SNAPSHOT_CONFLICT"
	KindFetchFailure        Kind = "FETCH_FAILURE"
	KindExtractionFailure   Kind = "EXTRACTION_FAILURE"
	KindCoverageViolation   Kind = "COVERAGE_VIOLATION"
	KindLLMFailure          Kind = "LLM_FAILURE"
	KindDispatchFailure     Kind = "DISPATCH_FAILURE"
	KindArtifactReadFailure Kind = "ARTIFACT_READ_FAILURE"
)

// Error wraps an underlying cause with a classification kind and a
// short human-readable message suitable for Job.message.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New constructs a classified error.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap attaches a kind and message to an existing error.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// KindOf extracts the Kind from err if it (or something it wraps) is a
// *Error; the zero Kind otherwise.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

var (
	// ErrSnapshotConflict is returned when a write-once raw/extracted
	// path already exists on disk.
	ErrSnapshotConflict = errors.New("snapshot conflict: refusing to overwrite existing file")
	// ErrCoverageViolation is returned by the TOC validator.
	ErrCoverageViolation = errors.New("toc coverage violation")
)
