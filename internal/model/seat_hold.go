package model

import "time"

// SeatHold represents a temporary claim on a seat during checkout.
// Holds prevent concurrent sessions from grabbing the same seat while
// a customer fills in passenger data.  Holds lapse at ExpiresAt and
// are never persisted beyond their TTL.
//
// Fields:
//  TripID    – trip the seat belongs to.
//  SeatLabel – seat being held (e.g. "A2").
//  SessionID – opaque client token that owns the hold.
//  ExpiresAt – when the hold lapses.
type SeatHold struct {
	TripID    string
	SeatLabel string
	SessionID string
	ExpiresAt time.Time
}

// Expired reports whether the hold has lapsed at now.
func (h SeatHold) Expired(now time.Time) bool {
	return now.After(h.ExpiresAt)
}
