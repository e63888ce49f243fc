package model

import "time"

// BookingStatus is a state of the booking workflow.
type BookingStatus string

const (
	BookingPending         BookingStatus = "pending"
	BookingAwaitingPayment BookingStatus = "awaiting_payment"
	BookingConfirmed       BookingStatus = "confirmed"
	BookingCancelled       BookingStatus = "cancelled"
	BookingExpired         BookingStatus = "expired"
	BookingCompleted       BookingStatus = "completed"
)

// Terminal reports whether no further transition leaves the status.
func (s BookingStatus) Terminal() bool {
	return s == BookingCancelled || s == BookingExpired || s == BookingCompleted
}

// Passenger is the traveller assigned to one seat.
type Passenger struct {
	Name     string `json:"name"`
	Phone    string `json:"phone,omitempty"`
	IDNumber string `json:"idNumber,omitempty"`
}

// ContactInfo is the person the operator reaches about the booking.
type ContactInfo struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

// BookingSeat assigns a passenger to a seat within a booking.
type BookingSeat struct {
	SeatLabel string    `json:"seatNumber"`
	Passenger Passenger `json:"passenger"`
}

// Booking records a session's purchase of one or more seats on a trip.
// Bookings are never deleted; cancelled and expired bookings stay for
// auditing.
//
// Fields:
//  ID              – booking identifier (UUID).
//  TripID          – trip the seats belong to.
//  SessionID       – checkout session that created the booking.
//  Seats           – ordered seat/passenger assignments.
//  Contact         – contact details for the booking.
//  VoucherCode     – applied voucher, empty when none.
//  Subtotal        – seats × base price.
//  Discount        – voucher discount applied to the subtotal.
//  TotalAmount     – amount due (Subtotal − Discount).
//  RefundAmount    – refund granted on cancellation.
//  Status          – workflow state.
//  PaymentDeadline – end of the payment window.
type Booking struct {
	ID              string        `json:"bookingId"`
	TripID          string        `json:"tripId"`
	SessionID       string        `json:"-"`
	Seats           []BookingSeat `json:"seats"`
	Contact         ContactInfo   `json:"contactInfo"`
	VoucherCode     string        `json:"voucherCode,omitempty"`
	Subtotal        int64         `json:"subtotal"`
	Discount        int64         `json:"discount"`
	TotalAmount     int64         `json:"totalAmount"`
	RefundAmount    int64         `json:"refundAmount"`
	Status          BookingStatus `json:"status"`
	PaymentDeadline time.Time     `json:"paymentDeadline"`
	CreatedAt       time.Time     `json:"createdAt"`
	UpdatedAt       time.Time     `json:"updatedAt"`
}

// SeatLabels returns the labels of the booked seats in booking order.
func (b Booking) SeatLabels() []string {
	labels := make([]string, 0, len(b.Seats))
	for _, s := range b.Seats {
		labels = append(labels, s.SeatLabel)
	}
	return labels
}
