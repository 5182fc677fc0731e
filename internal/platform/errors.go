package platform

import (
	"errors"
	"fmt"
	"time"
)

// The error taxonomy is closed: adapters translate every transport-level
// failure into one of these kinds before returning, and the persistence
// layer surfaces only Transient or Fatal. Nothing else crosses a component
// boundary.

// TransientError is a retryable failure: network blip, rate limit, 5xx,
// timeout. Events touched by one go PARTIAL and are retried next run.
type TransientError struct {
	Op         string
	Err        error
	RetryAfter time.Duration // from a Retry-After header, if the remote sent one
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: transient: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as a retryable failure
func Transient(op string, err error) error {
	return &TransientError{Op: op, Err: err}
}

// PermanentError is a business-logic rejection: validation failure, brand
// not accepted, bad credentials, missing category mapping. Not retryable.
type PermanentError struct {
	Op     string
	Reason string // machine-readable reason code
	Err    error
}

func (e *PermanentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: permanent (%s): %v", e.Op, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: permanent (%s)", e.Op, e.Reason)
}

func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err as a non-retryable rejection with a reason code
func Permanent(op, reason string, err error) error {
	return &PermanentError{Op: op, Reason: reason, Err: err}
}

// NotFoundError means the remote says the listing no longer exists. For
// mark-as-sold and remove intents this counts as success; for price and
// quantity intents it is consistency drift the next detection pass will
// surface as a removed_listing.
type NotFoundError struct {
	Op         string
	ExternalID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s: listing %s not found on remote", e.Op, e.ExternalID)
}

// NotFound reports a listing missing from the remote
func NotFound(op, externalID string) error {
	return &NotFoundError{Op: op, ExternalID: externalID}
}

// ConflictError is a pending-event unique-index collision on insert. It is
// silently swallowed by the event writer: the dedup worked.
type ConflictError struct {
	Op  string
	Err error
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s: conflict: %v", e.Op, e.Err)
}

func (e *ConflictError) Unwrap() error { return e.Err }

// Conflict wraps a unique-index collision
func Conflict(op string, err error) error {
	return &ConflictError{Op: op, Err: err}
}

// FatalError aborts the run: database unreachable, invariant violation.
// Only the coordinator handles it, by moving the run to ABORTED.
type FatalError struct {
	Op  string
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("%s: fatal: %v", e.Op, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// Fatal wraps an unrecoverable failure
func Fatal(op string, err error) error {
	return &FatalError{Op: op, Err: err}
}

// MatchError means a new_listing event could not be linked to a local
// product. The event stays PENDING with the best match candidate attached
// for operator review.
type MatchError struct {
	ExternalID string
	Confidence int
}

func (e *MatchError) Error() string {
	return fmt.Sprintf("no confident product match for remote listing %s (best %d)", e.ExternalID, e.Confidence)
}

// IsTransient reports whether err is retryable
func IsTransient(err error) bool {
	var t *TransientError
	return errors.As(err, &t)
}

// IsPermanent reports whether err is a non-retryable rejection
func IsPermanent(err error) bool {
	var p *PermanentError
	return errors.As(err, &p)
}

// PermanentReason extracts the reason code from a permanent error, or ""
func PermanentReason(err error) string {
	var p *PermanentError
	if errors.As(err, &p) {
		return p.Reason
	}
	return ""
}

// IsNotFound reports whether err means the remote listing is gone
func IsNotFound(err error) bool {
	var n *NotFoundError
	return errors.As(err, &n)
}

// IsConflict reports whether err is a dedup-index collision
func IsConflict(err error) bool {
	var c *ConflictError
	return errors.As(err, &c)
}

// IsFatal reports whether err must abort the run
func IsFatal(err error) bool {
	var f *FatalError
	return errors.As(err, &f)
}

// RetryAfterOf extracts the server-requested backoff from a transient
// error, or 0
func RetryAfterOf(err error) time.Duration {
	var t *TransientError
	if errors.As(err, &t) {
		return t.RetryAfter
	}
	return 0
}
