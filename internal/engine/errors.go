package engine

import "errors"

// Sentinel errors returned by the engine. Callers branch with errors.Is;
// anything else coming out of an operation is a store or transport
// failure wrapped with context.
var (
	// ErrValidation reports malformed input: an unknown canteen, a
	// negative tip, or a tip with more than two decimal places.
	ErrValidation = errors.New("invalid input")

	// ErrNotFound reports a stale or deleted request id.
	ErrNotFound = errors.New("request not found")

	// ErrStateConflict reports an operation attempted against a request
	// in the wrong status, including a lost race on a conditional update.
	ErrStateConflict = errors.New("request is in the wrong state")

	// ErrIndexOutOfRange reports a display index outside the listed
	// requests.
	ErrIndexOutOfRange = errors.New("selection out of range")

	// ErrNotInProgress reports a completion attempt on a request that is
	// not currently matched.
	ErrNotInProgress = errors.New("request is not in progress")

	// ErrAlreadyConfirmed reports a repeat completion confirmation from a
	// side that has already confirmed.
	ErrAlreadyConfirmed = errors.New("completion already confirmed")
)
