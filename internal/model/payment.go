package model

import "time"

// PaymentStatus tracks a payment attempt for a booking.
type PaymentStatus string

const (
	PaymentInitiated PaymentStatus = "initiated"
	PaymentSucceeded PaymentStatus = "succeeded"
	PaymentFailed    PaymentStatus = "failed"
	PaymentTimedOut  PaymentStatus = "timed_out"
)

// MethodCOD is cash on departure; it confirms the booking without a
// gateway round trip.
const MethodCOD = "cod"

// MethodVoucher records a booking whose voucher covered the whole fare.
const MethodVoucher = "voucher"

// Payment is owned 1:1 by a booking while the booking awaits payment.
type Payment struct {
	ID          string        `json:"paymentId"`
	BookingID   string        `json:"bookingId"`
	Method      string        `json:"method"`
	Status      PaymentStatus `json:"status"`
	Amount      int64         `json:"amount"`
	Reference   string        `json:"reference,omitempty"`
	RedirectURL string        `json:"redirectUrl,omitempty"`
	CreatedAt   time.Time     `json:"createdAt"`
	UpdatedAt   time.Time     `json:"updatedAt"`
}
