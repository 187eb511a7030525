package core

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the service. Callers should test with errors.Is.
var (
	// ErrInvalidInput is wrapped by every error caused by a bad request
	// (missing submitter, malformed token, empty file list). No state is
	// mutated when it is returned.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound is returned when a submission, violation or comment does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUploadAborted is returned by the chunk assembler after an I/O failure.
	// All partial state for the token has been discarded; restart from chunk 0.
	ErrUploadAborted = errors.New("upload aborted")

	// ErrIncompleteUpload is returned when a file still has gaps in its chunk sequence.
	ErrIncompleteUpload = errors.New("upload incomplete")

	// ErrDuplicateToken is returned by stores when an upload token is reused.
	ErrDuplicateToken = errors.New("upload token already used")

	// ErrIllegalTransition marks a status change outside the workflow table.
	// Public workflow operations convert it into an advisory TransitionResult.
	ErrIllegalTransition = errors.New("illegal status transition")

	// ErrTransient marks a storage fault that is safe to retry at the
	// transaction boundary.
	ErrTransient = errors.New("transient storage fault")
)

// FatalPreconditionError is raised by the validator when a batch contains no
// primary record designated as NBIS length. The pipeline stops and the
// submission moves to validation-failed.
type FatalPreconditionError struct {
	Primaries     int
	NonQualifying []BridgeKey
}

func (e *FatalPreconditionError) Error() string {
	return fmt.Sprintf("fatal precondition: no NBIS-length bridge among %d primary records", e.Primaries)
}

// IsFatalPrecondition reports whether err is (or wraps) a FatalPreconditionError.
func IsFatalPrecondition(err error) bool {
	var fe *FatalPreconditionError
	return errors.As(err, &fe)
}

func invalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

func notFound(what string, id any) error {
	return fmt.Errorf("%s %v: %w", what, id, ErrNotFound)
}
