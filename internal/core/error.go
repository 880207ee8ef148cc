/*
Package core provides the shared machinery for domaingate: the bounded worker
scheduler used to fan out validations, the adaptive rate limiter that paces
outbound lookups, and the tuning constants the other packages default to.
*/
package core

import "errors"

// customError is an error type that includes a retryable flag.
// Lookup adapters use it to tell the orchestrator (which owns retries, on the
// next cycle) whether a failure looked transient.
type customError struct {
	message   string // The error message.
	retryable bool   // True if the condition might resolve on a later attempt.
}

// NewError creates a new customError with the given message and retryable status.
//
// Parameters:
//
//	msg: The textual description of the error.
//	retryable: Whether the condition is potentially transient.
//
// Returns:
//
//	An error of type *customError.
func NewError(msg string, retryable bool) error {
	return &customError{
		message:   msg,
		retryable: retryable,
	}
}

// Error implements the standard Go `error` interface.
func (e *customError) Error() string {
	return e.message
}

// IsRetryable returns true if the error is designated as retryable.
func (e *customError) IsRetryable() bool {
	return e.retryable
}

// retryabler is satisfied by any error in a chain that can report whether it is
// worth retrying, including lookup.Error.
type retryabler interface {
	IsRetryable() bool
}

// IsRetryable walks the error chain and reports the first retryable flag found.
// Nil errors and errors that carry no flag are not retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var r retryabler
	if errors.As(err, &r) {
		return r.IsRetryable()
	}
	return false
}

var (
	// ErrWorkerShutdown indicates that the scheduler is shutting down and no
	// longer accepts work.
	ErrWorkerShutdown = NewError("worker shutdown", false)
	// ErrRateLimited is returned by RateLimiter.Wait when the caller's deadline
	// leaves no room to wait for a token. No request was sent, so a later
	// cycle may succeed.
	ErrRateLimited = NewError("rate limited", true)
)
