// Package repository defines error types that are reused across multiple
// repositories. These sentinel values allow higher layers such as the
// booking workflow and the handlers to distinguish between different
// failure scenarios. ErrStaleStatus in particular signals that a
// conditional status update lost a race: the row exists but was no
// longer in the expected state.
package repository

import "errors"

// ErrNotFound is returned when the requested row does not exist.
var ErrNotFound = errors.New("not found")

// ErrForbidden is returned when the caller attempts an operation
// on a resource they do not own. Handlers should translate this
// into an HTTP 403 response.
var ErrForbidden = errors.New("forbidden")

// ErrConflict is returned when an insert collides with an existing
// row, such as a second payment for the same booking.
var ErrConflict = errors.New("conflict")

// ErrStaleStatus is returned by compare-and-set status updates when
// the stored status differs from the expected one.
var ErrStaleStatus = errors.New("stale status")
