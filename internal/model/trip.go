package model

import "time"

// TripStatus is the lifecycle state of a scheduled bus trip.
type TripStatus string

const (
	TripScheduled  TripStatus = "scheduled"
	TripBoarding   TripStatus = "boarding"
	TripInProgress TripStatus = "in_progress"
	TripCompleted  TripStatus = "completed"
	TripCancelled  TripStatus = "cancelled"
)

// Trip represents one departure of a bus on a route.  Routes, buses
// and staff are managed elsewhere; the booking engine only needs the
// seat count, the fare and the departure time.
//
// Fields:
//  ID            – trip identifier (trips.id).
//  TotalSeats    – number of sellable seats on the bus.
//  BasePrice     – fare per seat in minor currency units.
//  DepartureTime – scheduled departure (UTC).
//  Status        – current lifecycle state.
type Trip struct {
	ID            string     // trips.id
	TotalSeats    int        // trips.total_seats
	BasePrice     int64      // trips.base_price
	DepartureTime time.Time  // trips.departure_time
	Status        TripStatus // trips.status
}

// Bookable reports whether seats on the trip may still be held or
// booked at the given instant.
func (t Trip) Bookable(now time.Time) bool {
	return t.Status == TripScheduled && now.Before(t.DepartureTime)
}

// Departed reports whether the trip has left (or finished) at now.
func (t Trip) Departed(now time.Time) bool {
	switch t.Status {
	case TripInProgress, TripCompleted:
		return true
	case TripCancelled:
		return false
	}
	return !now.Before(t.DepartureTime)
}
