package seatmap

import (
	"errors"
	"strings"
)

var (
	// ErrSeatUnavailable means another session holds the seat or it is booked.
	ErrSeatUnavailable = errors.New("seat unavailable")
	// ErrHoldExpired means the caller's hold lapsed before it was used.
	ErrHoldExpired = errors.New("hold expired")
	// ErrNotOwner means the seat is held or booked by someone else.
	ErrNotOwner = errors.New("not owner")
	// ErrUnknownTrip is returned for trips that were never registered.
	ErrUnknownTrip = errors.New("unknown trip")
	// ErrUnknownSeat is returned for labels that do not exist on the trip.
	ErrUnknownSeat = errors.New("unknown seat")
	// ErrNoSeats is returned when a call names no seats at all.
	ErrNoSeats = errors.New("no seats requested")
)

// SeatUnavailableError lists the seats that blocked a hold.  It
// unwraps to ErrSeatUnavailable.
type SeatUnavailableError struct {
	Labels []string
}

func (e *SeatUnavailableError) Error() string {
	return "seats unavailable: " + strings.Join(e.Labels, ",")
}

func (e *SeatUnavailableError) Unwrap() error { return ErrSeatUnavailable }

// SeatError ties a sentinel error to the seat that caused it.
type SeatError struct {
	Label string
	Err   error
}

func (e *SeatError) Error() string { return e.Label + ": " + e.Err.Error() }

func (e *SeatError) Unwrap() error { return e.Err }

// UnavailableLabels extracts the blocking seats from err, if any.
func UnavailableLabels(err error) []string {
	var ue *SeatUnavailableError
	if errors.As(err, &ue) {
		return ue.Labels
	}
	return nil
}
