package model

import "time"

// Voucher carries a precomputed discount.  How the discount was
// derived is not the booking engine's concern.
type Voucher struct {
	Code       string
	Discount   int64
	ValidFrom  time.Time
	ValidUntil time.Time
	Active     bool
}

// Usable reports whether the voucher may be applied at now.
func (v Voucher) Usable(now time.Time) bool {
	if !v.Active {
		return false
	}
	if !v.ValidFrom.IsZero() && now.Before(v.ValidFrom) {
		return false
	}
	if !v.ValidUntil.IsZero() && now.After(v.ValidUntil) {
		return false
	}
	return true
}
