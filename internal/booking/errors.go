package booking

import (
	"errors"
	"strings"

	"github.com/iliyamo/bus-seat-booking/internal/seatlock"
	"github.com/iliyamo/bus-seat-booking/internal/seatmap"
)

var (
	ErrSeatNotHeld       = errors.New("seat not held by session")
	ErrInvalidVoucher    = errors.New("invalid voucher")
	ErrPaymentFailed     = errors.New("payment failed")
	ErrPaymentTimedOut   = errors.New("payment timed out")
	ErrInvalidTransition = errors.New("invalid booking transition")
	ErrBookingNotFound   = errors.New("booking not found")
	ErrDeparted          = errors.New("trip already departed")
	ErrInvalidRequest    = errors.New("invalid request")

	// Shared with the seat lock manager and seat map so callers can
	// match on one value regardless of which layer rejected the call.
	ErrTripNotBookable = seatlock.ErrTripNotBookable
	ErrTripNotFound    = seatlock.ErrTripNotFound
	ErrNotOwner        = seatmap.ErrNotOwner
)

// SeatNotHeldError names the seats the session does not hold.
type SeatNotHeldError struct {
	Labels []string
}

func (e *SeatNotHeldError) Error() string {
	return "seats not held by session: " + strings.Join(e.Labels, ",")
}

func (e *SeatNotHeldError) Unwrap() error { return ErrSeatNotHeld }

// ValidationError describes a rejected request field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string { return e.Field + ": " + e.Reason }

func (e *ValidationError) Unwrap() error { return ErrInvalidRequest }
