package session

import (
	"errors"
	"fmt"
)

// Sentinel errors for the kinds the session/transaction core raises.
// Use errors.Is against these to classify a returned error; each
// concrete error also carries the operation-specific detail via %w
// wrapping, following the wrapError pattern used throughout this
// module's backend adapters.
var (
	// ErrInvalidTransaction covers: begin() while one is already open,
	// commit() called twice, an unknown manager/model, and a backend
	// reporting an iid that is not present in the session.
	ErrInvalidTransaction = errors.New("invalid transaction")

	// ErrSessionNotAvailable is returned by instance-level operations
	// that require a bound session when the instance has none.
	ErrSessionNotAvailable = errors.New("session not available")

	// ErrDuplicateIdentity is returned when the same iid maps to two
	// distinct instance identities across SessionModel buckets.
	ErrDuplicateIdentity = errors.New("duplicate identity")

	// ErrInvalidOperation covers operations rejected by the state
	// machine itself, such as adding an instance already marked deleted.
	ErrInvalidOperation = errors.New("invalid operation")

	// ErrMultipleFound is raised by get_or_create when its query matched
	// more than one instance; it passes straight through to the caller
	// rather than being resolved internally the way DoesNotExist is.
	ErrMultipleFound = errors.New("multiple instances found")
)

// CommitError aggregates every error observed while committing a
// transaction: backend-reported errors and SessionModel.PostCommit
// errors. Its Error() reproduces the two message shapes a single vs.
// multiple failure commit must produce.
type CommitError struct {
	Failures int
	Errors   []error
}

func (e *CommitError) Error() string {
	if e.Failures <= 1 && len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	msg := fmt.Sprintf("There were %d exceptions during commit.\n\n", e.Failures)
	for i, err := range e.Errors {
		if i > 0 {
			msg += "\n\n"
		}
		msg += err.Error()
	}
	return msg
}

func (e *CommitError) Unwrap() []error {
	return e.Errors
}

// NewCommitError builds a CommitError from the accumulated failures of
// a single commit. Returns nil if errs is empty, so callers can use it
// unconditionally at the end of a commit pipeline.
func NewCommitError(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	return &CommitError{Failures: len(errs), Errors: errs}
}

// modelError wraps a backend or post-commit error with the offending
// model's name, in the "exception while committing {model}: {cause}"
// shape SessionModel.PostCommit produces per model.
type modelError struct {
	model string
	cause error
}

func (e *modelError) Error() string {
	return fmt.Sprintf("exception while committing %s: %v", e.model, e.cause)
}

func (e *modelError) Unwrap() error {
	return e.cause
}

func wrapModelError(model string, cause error) error {
	return &modelError{model: model, cause: cause}
}

// WrapModelError wraps cause with the offending model's name, matching
// the message shape SessionModel.PostCommit produces per failed
// instance or per failed batch.
func WrapModelError(model string, cause error) error {
	return wrapModelError(model, cause)
}
