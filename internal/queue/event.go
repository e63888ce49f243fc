// Package queue defines message payloads exchanged over the message broker
// and the consumer that turns them into the booking audit log.
package queue

import "time"

// QueueName is the durable queue carrying every booking lifecycle event.
const QueueName = "booking.events"

// Event types published by the booking workflow.
const (
	EventBookingConfirmed = "booking.confirmed"
	EventBookingCancelled = "booking.cancelled"
	EventBookingExpired   = "booking.expired"
	EventBookingCompleted = "booking.completed"
)

// BookingEvent is published after a booking transition has been stored.
// It carries enough for downstream consumers to log, notify or feed
// analytics without querying the primary database.  Passenger and
// contact data are deliberately absent.
type BookingEvent struct {
	Type         string    `json:"type"`
	BookingID    string    `json:"booking_id"`
	TripID       string    `json:"trip_id"`
	Seats        []string  `json:"seats"`
	TotalAmount  int64     `json:"total_amount"`
	RefundAmount int64     `json:"refund_amount"`
	Status       string    `json:"status"`
	Reason       string    `json:"reason,omitempty"`
	OccurredAt   time.Time `json:"occurred_at"`
}
