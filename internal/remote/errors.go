package remote

import (
	"errors"
	"fmt"
)

// Code classifies a remote call outcome that is not a plain success.
type Code string

const (
	// CodeConflict marks an optimistic-concurrency rejection. The
	// authoritative remote state has been captured into the conflict
	// ledger by the time the caller sees this.
	CodeConflict Code = "E_CONFLICT"

	// CodeReplay marks a request that could not be sent and was
	// persisted to the replay queue instead.
	CodeReplay Code = "E_REPLAY"

	// CodeHTTP marks a non-2xx response that is neither a version
	// conflict nor covered by a stale fallback.
	CodeHTTP Code = "E_HTTP"
)

// Error is the structured error returned by the network adapter.
type Error struct {
	Code   Code
	Status int // HTTP status, when a response was received
	Err    error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: status %d", e.Code, e.Status)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return string(e.Code)
}

// Unwrap exposes the underlying transport error, if any.
func (e *Error) Unwrap() error { return e.Err }

// IsConflict reports whether the error is a version-conflict sentinel.
// Uses errors.As to handle wrapped errors.
func IsConflict(err error) bool {
	var re *Error
	return errors.As(err, &re) && re.Code == CodeConflict
}

// IsReplay reports whether the error is a queued-for-replay sentinel.
func IsReplay(err error) bool {
	var re *Error
	return errors.As(err, &re) && re.Code == CodeReplay
}
