// Package remote provides the client for the hosted backend that acts as
// the remote source of truth.
//
// The backend is consumed as an opaque request/response service: insert,
// update, delete and select against named collections, plus invocation of
// named serverless functions with a JSON body. The client's single job
// beyond transport is error classification: every failure is reported as a
// *SyncError whose Retryable flag drives the backoff policy, so retry
// behavior is a pure function of the error rather than of catch sites.
package remote

import (
	"errors"
	"fmt"
)

// SyncError is the typed error returned by every remote operation.
type SyncError struct {
	// Op is the operation that failed ("insert", "select", "invoke", ...).
	Op string

	// Collection is the target collection or function name.
	Collection string

	// StatusCode is the HTTP status, 0 for transport-level failures.
	StatusCode int

	// Retryable is true for failures worth retrying with backoff:
	// network unreachable, timeouts, 5xx, and rate limits. Validation
	// and permission errors are terminal.
	Retryable bool

	Message string
	Err     error
}

func (e *SyncError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("remote %s %s: status %d: %s", e.Op, e.Collection, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("remote %s %s: %s", e.Op, e.Collection, e.Message)
}

func (e *SyncError) Unwrap() error { return e.Err }

// Retryable reports whether err is a retryable sync error. Unknown error
// types are treated as terminal so they surface instead of looping.
func Retryable(err error) bool {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Retryable
	}
	return false
}

// IsAuth reports whether err is an authentication/authorization failure.
func IsAuth(err error) bool {
	var se *SyncError
	if errors.As(err, &se) {
		return se.StatusCode == 401 || se.StatusCode == 403
	}
	return false
}

// classifyStatus maps an HTTP status to retryability.
func classifyStatus(status int) bool {
	switch {
	case status == 408 || status == 429:
		return true
	case status >= 500:
		return true
	default:
		return false
	}
}
