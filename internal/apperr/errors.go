package apperr

import "errors"

// ErrTransient marks a failure that is expected to clear on its own
// (network timeout, transport disconnect). Transient failures are retried
// with backoff and never cross a subsystem boundary.
var ErrTransient = errors.New("transient failure")

// ErrInvariant marks an illegal status transition or malformed payload.
// Invariant violations are logged and field-level rejected, never fatal.
var ErrInvariant = errors.New("invariant violation")

// ErrTerminal marks a server-side business rejection (HTTP 4xx). Terminal
// failures are surfaced once and never retried.
var ErrTerminal = errors.New("terminal rejection")

// ErrExhausted marks an operation whose retry budget ran out. The operation
// stays in the dead-letter log for user-triggered re-submission.
var ErrExhausted = errors.New("retries exhausted")

// ErrNotFound indicates that the requested resource does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict indicates a uniqueness or state conflict.
var ErrConflict = errors.New("conflict")

// Retryable reports whether err may be retried with backoff.
func Retryable(err error) bool {
	return errors.Is(err, ErrTransient)
}
