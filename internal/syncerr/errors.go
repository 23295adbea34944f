// Package syncerr defines the errors shared by the reconciliation packages.
package syncerr

import "errors"

// Errors returned while reconciling local and account data.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, syncerr.ErrOffline) {
//	    // keep showing local data, retry on the next trigger
//	}
var (
	// ErrOffline is returned when the account API cannot be reached.
	ErrOffline = errors.New("account service unreachable")

	// ErrTransient is returned when the account API failed in a way that
	// may succeed on retry (5xx responses).
	ErrTransient = errors.New("account service temporarily unavailable")

	// ErrUnauthorized is returned when the stored token is missing,
	// expired or rejected.
	ErrUnauthorized = errors.New("not authorized")

	// ErrRejected is returned when the account API refused a request
	// (4xx other than 401).
	ErrRejected = errors.New("request rejected by account service")

	// ErrValidation is returned for malformed backup documents and
	// malformed payloads.
	ErrValidation = errors.New("validation failed")

	// ErrDecisionRequired is returned when local and account data diverge
	// and the operator must choose a resolution. It is a control-flow
	// state, not a failure.
	ErrDecisionRequired = errors.New("merge decision required")

	// ErrPartialWrite is returned when the account API accepted only part
	// of a write. It is not repaired automatically.
	ErrPartialWrite = errors.New("account service accepted a partial write")

	// ErrMergeInFlight is returned when a merge step is requested while
	// another one is still running.
	ErrMergeInFlight = errors.New("a merge is already in progress")

	// ErrNoDecision is returned when resolving a decision that is not
	// outstanding.
	ErrNoDecision = errors.New("no such merge decision is pending")

	// ErrNotAuthenticated is returned by account operations attempted
	// without a stored token.
	ErrNotAuthenticated = errors.New("not logged in")
)

// IsRetryable returns true if the error is likely to succeed on the next
// trigger without user action.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrOffline) {
		return true
	}

	if errors.Is(err, ErrTransient) {
		return true
	}

	// Another step finishing lets this one run
	if errors.Is(err, ErrMergeInFlight) {
		return true
	}

	return false
}

// IsUserActionRequired returns true if the error needs an operator
// decision or a fresh login.
func IsUserActionRequired(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrDecisionRequired) {
		return true
	}

	if errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrNotAuthenticated) {
		return true
	}

	// Partial writes are retried by hand
	if errors.Is(err, ErrPartialWrite) {
		return true
	}

	return false
}

// IsFatal returns true if retrying the same request cannot help.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrValidation) {
		return true
	}

	if errors.Is(err, ErrRejected) {
		return true
	}

	return false
}

// Describe turns err into the status line shown next to cached data.
func Describe(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrOffline), errors.Is(err, ErrTransient):
		return "Offline: showing local data. Changes will sync when the account service is reachable."
	case errors.Is(err, ErrUnauthorized), errors.Is(err, ErrNotAuthenticated):
		return "Not logged in: showing local data."
	case errors.Is(err, ErrDecisionRequired):
		return "A merge decision is pending: run 'pomosync resolve'."
	case errors.Is(err, ErrMergeInFlight):
		return "A merge is in progress: showing local data."
	case errors.Is(err, ErrValidation):
		return "Invalid data: " + err.Error()
	case errors.Is(err, ErrPartialWrite):
		return "The account service saved only part of the change. Retry the operation."
	default:
		return "Sync failed: showing local data (" + err.Error() + ")"
	}
}
