package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/iliyamo/bus-seat-booking/internal/model"
)

// Memory bundles in-process repositories used with STORE_DRIVER=memory
// and in tests.  They satisfy the same contracts as the MySQL repos,
// including the conditional status updates.
type Memory struct {
	Trips    *MemoryTripRepo
	Bookings *MemoryBookingRepo
	Payments *MemoryPaymentRepo
	Vouchers *MemoryVoucherRepo
}

// NewMemory returns empty in-memory repositories.
func NewMemory() *Memory {
	trips := &MemoryTripRepo{trips: make(map[string]model.Trip)}
	return &Memory{
		Trips:    trips,
		Bookings: &MemoryBookingRepo{trips: trips, bookings: make(map[string]*model.Booking)},
		Payments: &MemoryPaymentRepo{byID: make(map[string]*model.Payment), byBooking: make(map[string]string)},
		Vouchers: &MemoryVoucherRepo{vouchers: make(map[string]model.Voucher)},
	}
}

// MemoryTripRepo stores trips in a map.
type MemoryTripRepo struct {
	mu    sync.RWMutex
	trips map[string]model.Trip
}

// Put inserts or replaces a trip.
func (r *MemoryTripRepo) Put(t model.Trip) {
	r.mu.Lock()
	r.trips[t.ID] = t
	r.mu.Unlock()
}

func (r *MemoryTripRepo) GetByID(_ context.Context, id string) (*model.Trip, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.trips[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &t, nil
}

// MemoryVoucherRepo stores vouchers keyed by upper-case code.
type MemoryVoucherRepo struct {
	mu       sync.RWMutex
	vouchers map[string]model.Voucher
}

// Put inserts or replaces a voucher.
func (r *MemoryVoucherRepo) Put(v model.Voucher) {
	v.Code = strings.ToUpper(strings.TrimSpace(v.Code))
	r.mu.Lock()
	r.vouchers[v.Code] = v
	r.mu.Unlock()
}

func (r *MemoryVoucherRepo) GetByCode(_ context.Context, code string) (*model.Voucher, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.vouchers[strings.ToUpper(strings.TrimSpace(code))]
	if !ok {
		return nil, ErrNotFound
	}
	return &v, nil
}

// MemoryBookingRepo stores bookings; departed lookups consult trips.
type MemoryBookingRepo struct {
	trips *MemoryTripRepo

	mu       sync.RWMutex
	bookings map[string]*model.Booking
}

func copyBooking(b *model.Booking) model.Booking {
	c := *b
	c.Seats = append([]model.BookingSeat(nil), b.Seats...)
	return c
}

func (r *MemoryBookingRepo) Create(_ context.Context, b *model.Booking) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.bookings[b.ID]; ok {
		return ErrConflict
	}
	c := copyBooking(b)
	r.bookings[b.ID] = &c
	return nil
}

func (r *MemoryBookingRepo) GetByID(_ context.Context, id string) (*model.Booking, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.bookings[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := copyBooking(b)
	return &c, nil
}

func (r *MemoryBookingRepo) TransitionStatus(_ context.Context, id string, from, to model.BookingStatus, refund int64, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bookings[id]
	if !ok {
		return ErrNotFound
	}
	if b.Status != from {
		return ErrStaleStatus
	}
	b.Status = to
	b.RefundAmount = refund
	b.UpdatedAt = at.UTC()
	return nil
}

// filter returns copies of the bookings matching keep, sorted by less.
func (r *MemoryBookingRepo) filter(keep func(*model.Booking) bool, less func(a, b model.Booking) bool, limit int) []model.Booking {
	r.mu.RLock()
	out := []model.Booking{}
	for _, b := range r.bookings {
		if keep(b) {
			out = append(out, copyBooking(b))
		}
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (r *MemoryBookingRepo) ListOverdue(_ context.Context, now time.Time, limit int) ([]model.Booking, error) {
	return r.filter(func(b *model.Booking) bool {
		return b.Status == model.BookingAwaitingPayment && b.PaymentDeadline.Before(now)
	}, func(a, b model.Booking) bool {
		return a.PaymentDeadline.Before(b.PaymentDeadline)
	}, limit), nil
}

func (r *MemoryBookingRepo) ListDeparted(ctx context.Context, now time.Time, limit int) ([]model.Booking, error) {
	departures := map[string]time.Time{}
	out := r.filter(func(b *model.Booking) bool {
		if b.Status != model.BookingConfirmed {
			return false
		}
		t, err := r.trips.GetByID(ctx, b.TripID)
		if err != nil {
			return false
		}
		departures[b.ID] = t.DepartureTime
		return t.Departed(now)
	}, func(a, b model.Booking) bool {
		return departures[a.ID].Before(departures[b.ID])
	}, limit)
	return out, nil
}

func (r *MemoryBookingRepo) ListByTrip(_ context.Context, tripID string) ([]model.Booking, error) {
	return r.filter(func(b *model.Booking) bool {
		return b.TripID == tripID
	}, func(a, b model.Booking) bool {
		return a.CreatedAt.After(b.CreatedAt)
	}, 0), nil
}

func (r *MemoryBookingRepo) ActiveSeatsByTrip(_ context.Context, tripID string) (map[string]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]string)
	for _, b := range r.bookings {
		if b.TripID != tripID {
			continue
		}
		if b.Status != model.BookingAwaitingPayment && b.Status != model.BookingConfirmed {
			continue
		}
		for _, s := range b.Seats {
			out[s.SeatLabel] = b.ID
		}
	}
	return out, nil
}

// MemoryPaymentRepo stores payments with a unique index on booking id.
type MemoryPaymentRepo struct {
	mu        sync.RWMutex
	byID      map[string]*model.Payment
	byBooking map[string]string
}

func (r *MemoryPaymentRepo) Create(_ context.Context, p *model.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byBooking[p.BookingID]; ok {
		return ErrConflict
	}
	if _, ok := r.byID[p.ID]; ok {
		return ErrConflict
	}
	c := *p
	r.byID[p.ID] = &c
	r.byBooking[p.BookingID] = p.ID
	return nil
}

func (r *MemoryPaymentRepo) GetByBooking(_ context.Context, bookingID string) (*model.Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byBooking[bookingID]
	if !ok {
		return nil, ErrNotFound
	}
	c := *r.byID[id]
	return &c, nil
}

func (r *MemoryPaymentRepo) UpdateStatus(_ context.Context, id string, from, to model.PaymentStatus, reference string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byID[id]
	if !ok || p.Status != from {
		return ErrStaleStatus
	}
	p.Status = to
	if reference != "" {
		p.Reference = reference
	}
	p.UpdatedAt = at.UTC()
	return nil
}
