// Package booking implements the booking state machine:
//
//	pending → awaiting_payment → confirmed → completed
//	awaiting_payment → expired | cancelled
//	confirmed → cancelled
//
// Every transition is a conditional update on the stored status, so the
// seat map side effect of a transition (promoting holds, returning seats
// to free) runs exactly once even when a payment callback races the
// sweeper.  Seat map calls and gateway calls never happen while a lock
// is held by this package.
package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/gommon/log"

	"github.com/iliyamo/bus-seat-booking/internal/metrics"
	"github.com/iliyamo/bus-seat-booking/internal/model"
	"github.com/iliyamo/bus-seat-booking/internal/payment"
	"github.com/iliyamo/bus-seat-booking/internal/queue"
	"github.com/iliyamo/bus-seat-booking/internal/repository"
	"github.com/iliyamo/bus-seat-booking/internal/seatlock"
	"github.com/iliyamo/bus-seat-booking/internal/seatmap"
)

// DefaultPaymentWindow is how long a booking waits for payment.
const DefaultPaymentWindow = 15 * time.Minute

// Bookings persists bookings.
type Bookings interface {
	Create(ctx context.Context, b *model.Booking) error
	GetByID(ctx context.Context, id string) (*model.Booking, error)
	TransitionStatus(ctx context.Context, id string, from, to model.BookingStatus, refund int64, at time.Time) error
	ListOverdue(ctx context.Context, now time.Time, limit int) ([]model.Booking, error)
	ListDeparted(ctx context.Context, now time.Time, limit int) ([]model.Booking, error)
	ListByTrip(ctx context.Context, tripID string) ([]model.Booking, error)
}

// Payments persists payment attempts.
type Payments interface {
	Create(ctx context.Context, p *model.Payment) error
	GetByBooking(ctx context.Context, bookingID string) (*model.Payment, error)
	UpdateStatus(ctx context.Context, id string, from, to model.PaymentStatus, reference string, at time.Time) error
}

// Vouchers resolves voucher codes.
type Vouchers interface {
	GetByCode(ctx context.Context, code string) (*model.Voucher, error)
}

// Trips loads a trip and makes sure its seat map is registered.
// *seatlock.Manager satisfies it.
type Trips interface {
	EnsureTrip(ctx context.Context, tripID string) (*model.Trip, error)
}

// Publisher emits booking events.  Failures are logged, never returned
// to the client.
type Publisher interface {
	Publish(ctx context.Context, ev queue.BookingEvent) error
}

// Options configure a Workflow.
type Options struct {
	PaymentWindow time.Duration
	Refunds       RefundPolicy
	CODEnabled    bool
	BatchSize     int
	Now           func() time.Time
}

// Workflow drives bookings through their lifecycle.
type Workflow struct {
	seats    seatmap.Store
	trips    Trips
	bookings Bookings
	payments Payments
	vouchers Vouchers
	gateways *payment.Registry
	pub      Publisher

	window  time.Duration
	refunds RefundPolicy
	cod     bool
	batch   int
	now     func() time.Time
	logger  *log.Logger
}

// New wires a Workflow.  pub may be nil.
func New(seats seatmap.Store, trips Trips, bookings Bookings, payments Payments, vouchers Vouchers,
	gateways *payment.Registry, pub Publisher, opts Options) *Workflow {
	if opts.PaymentWindow <= 0 {
		opts.PaymentWindow = DefaultPaymentWindow
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if gateways == nil {
		gateways = payment.NewRegistry()
	}
	return &Workflow{
		seats:    seats,
		trips:    trips,
		bookings: bookings,
		payments: payments,
		vouchers: vouchers,
		gateways: gateways,
		pub:      pub,
		window:   opts.PaymentWindow,
		refunds:  opts.Refunds,
		cod:      opts.CODEnabled,
		batch:    opts.BatchSize,
		now:      opts.Now,
		logger:   log.New("booking"),
	}
}

// CreateRequest is the checkout submission.
type CreateRequest struct {
	TripID      string
	SessionID   string
	Seats       []model.BookingSeat
	Contact     model.ContactInfo
	VoucherCode string
}

func (r *CreateRequest) validate() error {
	if err := seatlock.ValidateSession(r.SessionID); err != nil {
		return &ValidationError{Field: "sessionId", Reason: "must be a UUID"}
	}
	if len(r.Seats) == 0 {
		return &ValidationError{Field: "seats", Reason: "at least one seat is required"}
	}
	seen := make(map[string]struct{}, len(r.Seats))
	for i := range r.Seats {
		s := &r.Seats[i]
		s.SeatLabel = strings.ToUpper(strings.TrimSpace(s.SeatLabel))
		s.Passenger.Name = strings.TrimSpace(s.Passenger.Name)
		if s.SeatLabel == "" {
			return &ValidationError{Field: "seats", Reason: "seat number is required"}
		}
		if _, dup := seen[s.SeatLabel]; dup {
			return &ValidationError{Field: "seats", Reason: "seat " + s.SeatLabel + " listed twice"}
		}
		seen[s.SeatLabel] = struct{}{}
		if s.Passenger.Name == "" {
			return &ValidationError{Field: "seats", Reason: "passenger name is required for seat " + s.SeatLabel}
		}
	}
	r.Contact.Name = strings.TrimSpace(r.Contact.Name)
	r.Contact.Email = strings.TrimSpace(r.Contact.Email)
	r.Contact.Phone = strings.TrimSpace(r.Contact.Phone)
	if r.Contact.Name == "" {
		return &ValidationError{Field: "contactInfo.name", Reason: "is required"}
	}
	if r.Contact.Email == "" && r.Contact.Phone == "" {
		return &ValidationError{Field: "contactInfo", Reason: "email or phone is required"}
	}
	if r.Contact.Email != "" && !strings.Contains(r.Contact.Email, "@") {
		return &ValidationError{Field: "contactInfo.email", Reason: "is not an email address"}
	}
	return nil
}

// Create turns the session's holds into a booking awaiting payment.  The
// seats are promoted in the seat map first; if storing the booking then
// fails they are returned to free, so either the booking exists with all
// its seats or nothing changed.
func (w *Workflow) Create(ctx context.Context, req CreateRequest) (*model.Booking, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	trip, err := w.trips.EnsureTrip(ctx, req.TripID)
	if err != nil {
		return nil, err
	}
	now := w.now()
	if !trip.Bookable(now) {
		return nil, ErrTripNotBookable
	}

	b := &model.Booking{
		ID:        uuid.NewString(),
		TripID:    trip.ID,
		SessionID: req.SessionID,
		Seats:     req.Seats,
		Contact:   req.Contact,
		Status:    model.BookingPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	labels := b.SeatLabels()

	if err := w.checkHolds(ctx, trip.ID, req.SessionID, labels); err != nil {
		return nil, err
	}

	b.Subtotal = int64(len(labels)) * trip.BasePrice
	if req.VoucherCode != "" {
		v, err := w.voucher(ctx, req.VoucherCode, now)
		if err != nil {
			return nil, err
		}
		b.VoucherCode = v.Code
		b.Discount = min(v.Discount, b.Subtotal)
	}
	b.TotalAmount = b.Subtotal - b.Discount

	if err := w.seats.Confirm(ctx, trip.ID, labels, req.SessionID, b.ID); err != nil {
		switch {
		case errors.Is(err, seatmap.ErrHoldExpired):
			return nil, fmt.Errorf("%w: %w", ErrSeatNotHeld, err)
		case errors.Is(err, seatmap.ErrNotOwner), errors.Is(err, seatmap.ErrUnknownSeat):
			return nil, &SeatNotHeldError{Labels: labels}
		}
		return nil, fmt.Errorf("confirm seats: %w", err)
	}

	b.Status = model.BookingAwaitingPayment
	b.PaymentDeadline = now.Add(w.window)
	if err := w.bookings.Create(ctx, b); err != nil {
		if uerr := w.seats.Unbook(ctx, trip.ID, labels, b.ID); uerr != nil {
			w.logger.Errorf("booking %s: unbook after failed insert: %v", b.ID, uerr)
		}
		return nil, fmt.Errorf("store booking: %w", err)
	}
	metrics.BookingTransitions.WithLabelValues(string(model.BookingAwaitingPayment)).Inc()
	w.logger.Infof("booking %s created trip=%s seats=%v total=%d", b.ID, b.TripID, labels, b.TotalAmount)
	return b, nil
}

// checkHolds fails with SeatNotHeldError unless the session holds every
// label with an unexpired hold.
func (w *Workflow) checkHolds(ctx context.Context, tripID, sessionID string, labels []string) error {
	holds, err := w.seats.HeldBy(ctx, tripID, sessionID)
	if err != nil {
		return fmt.Errorf("load holds: %w", err)
	}
	held := make(map[string]struct{}, len(holds))
	for _, h := range holds {
		held[h.SeatLabel] = struct{}{}
	}
	var missing []string
	for _, l := range labels {
		if _, ok := held[l]; !ok {
			missing = append(missing, l)
		}
	}
	if len(missing) > 0 {
		return &SeatNotHeldError{Labels: missing}
	}
	return nil
}

func (w *Workflow) voucher(ctx context.Context, code string, now time.Time) (*model.Voucher, error) {
	v, err := w.vouchers.GetByCode(ctx, code)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvalidVoucher
		}
		return nil, fmt.Errorf("load voucher: %w", err)
	}
	if !v.Usable(now) {
		return nil, ErrInvalidVoucher
	}
	return v, nil
}

// Get loads a booking.
func (w *Workflow) Get(ctx context.Context, id string) (*model.Booking, error) {
	b, err := w.bookings.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrBookingNotFound
		}
		return nil, err
	}
	return b, nil
}

// GetForSession loads a booking only if sessionID created it.  Other
// sessions see ErrBookingNotFound.
func (w *Workflow) GetForSession(ctx context.Context, id, sessionID string) (*model.Booking, error) {
	b, err := w.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.SessionID != sessionID {
		return nil, ErrBookingNotFound
	}
	return b, nil
}

// ListByTrip returns every booking of a trip for operators.
func (w *Workflow) ListByTrip(ctx context.Context, tripID string) ([]model.Booking, error) {
	return w.bookings.ListByTrip(ctx, tripID)
}

// PaymentResult is returned by InitiatePayment.
type PaymentResult struct {
	PaymentID     string              `json:"paymentId"`
	BookingID     string              `json:"bookingId"`
	Method        string              `json:"method"`
	Status        model.PaymentStatus `json:"status"`
	RedirectURL   string              `json:"redirectUrl,omitempty"`
	BookingStatus model.BookingStatus `json:"bookingStatus"`
}

func resultOf(p *model.Payment, status model.BookingStatus) *PaymentResult {
	return &PaymentResult{
		PaymentID:     p.ID,
		BookingID:     p.BookingID,
		Method:        p.Method,
		Status:        p.Status,
		RedirectURL:   p.RedirectURL,
		BookingStatus: status,
	}
}

// InitiatePayment starts paying for a booking awaiting payment.  Cash on
// departure confirms the booking at once; other methods go through the
// registered gateway and complete in HandleCallback.  Asking again while
// a payment is in flight returns that payment.
func (w *Workflow) InitiatePayment(ctx context.Context, bookingID, method string) (*PaymentResult, error) {
	method = payment.NormalizeMethod(method)
	if method == "" {
		return nil, &ValidationError{Field: "method", Reason: "is required"}
	}
	b, err := w.Get(ctx, bookingID)
	if err != nil {
		return nil, err
	}

	if existing, err := w.payments.GetByBooking(ctx, b.ID); err == nil {
		if existing.Status == model.PaymentInitiated && b.Status == model.BookingAwaitingPayment && !w.overdue(b) {
			return resultOf(existing, b.Status), nil
		}
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("load payment: %w", err)
	}

	switch b.Status {
	case model.BookingAwaitingPayment:
	case model.BookingExpired:
		return nil, ErrPaymentTimedOut
	default:
		return nil, ErrInvalidTransition
	}
	if w.overdue(b) {
		if err := w.expire(ctx, b, model.PaymentTimedOut, "payment window elapsed"); err != nil && !errors.Is(err, repository.ErrStaleStatus) {
			return nil, err
		}
		return nil, ErrPaymentTimedOut
	}

	now := w.now()
	p := &model.Payment{
		ID:        uuid.NewString(),
		BookingID: b.ID,
		Method:    method,
		Status:    model.PaymentInitiated,
		Amount:    b.TotalAmount,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if b.TotalAmount <= 0 {
		// nothing to collect; the voucher settles the fare
		p.Method = model.MethodVoucher
		p.Amount = 0
		if err := w.createPayment(ctx, p); err != nil {
			return nil, err
		}
		if err := w.succeed(ctx, b, p, "FREE-"+b.ID[:8]); err != nil {
			return nil, err
		}
		p.Status = model.PaymentSucceeded
		return resultOf(p, model.BookingConfirmed), nil
	}

	if method == model.MethodCOD {
		if !w.cod {
			return nil, payment.ErrUnsupportedMethod
		}
		if err := w.createPayment(ctx, p); err != nil {
			return nil, err
		}
		if err := w.succeed(ctx, b, p, "COD-"+b.ID[:8]); err != nil {
			return nil, err
		}
		p.Status = model.PaymentSucceeded
		return resultOf(p, model.BookingConfirmed), nil
	}

	gw, err := w.gateways.Lookup(method)
	if err != nil {
		return nil, err
	}
	init, gerr := gw.Initiate(ctx, payment.Request{
		PaymentID: p.ID,
		BookingID: b.ID,
		Method:    method,
		Amount:    b.TotalAmount,
		Email:     b.Contact.Email,
	})
	if gerr != nil {
		p.Status = model.PaymentFailed
		if err := w.createPayment(ctx, p); err != nil {
			w.logger.Errorf("booking %s: record failed payment: %v", b.ID, err)
		}
		metrics.Payments.WithLabelValues(method, "failed").Inc()
		if err := w.expire(ctx, b, "", "gateway rejected payment"); err != nil && !errors.Is(err, repository.ErrStaleStatus) {
			w.logger.Errorf("booking %s: expire after gateway failure: %v", b.ID, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrPaymentFailed, gerr)
	}
	p.Reference = init.Reference
	p.RedirectURL = init.RedirectURL
	if err := w.createPayment(ctx, p); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			// lost a race with a concurrent initiation; hand back the winner
			if existing, gerr := w.payments.GetByBooking(ctx, b.ID); gerr == nil {
				return resultOf(existing, b.Status), nil
			}
		}
		return nil, err
	}
	metrics.Payments.WithLabelValues(method, "initiated").Inc()
	return resultOf(p, b.Status), nil
}

func (w *Workflow) createPayment(ctx context.Context, p *model.Payment) error {
	if err := w.payments.Create(ctx, p); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return err
		}
		return fmt.Errorf("store payment: %w", err)
	}
	return nil
}

func (w *Workflow) overdue(b *model.Booking) bool {
	return w.now().After(b.PaymentDeadline)
}

// HandleCallback applies a gateway notification.  The callback must
// verify against the gateway that issued the payment.  Success confirms
// the booking; failure or timeout expires it and frees its seats.  A
// success that arrives after the payment window closed expires the
// booking and returns ErrPaymentTimedOut.  Replayed callbacks are no-ops.
func (w *Workflow) HandleCallback(ctx context.Context, cb payment.Callback) (*model.Booking, error) {
	p, err := w.payments.GetByBooking(ctx, cb.BookingID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrBookingNotFound
		}
		return nil, fmt.Errorf("load payment: %w", err)
	}
	if p.ID != cb.PaymentID {
		return nil, payment.ErrInvalidSignature
	}
	gw, err := w.gateways.Lookup(p.Method)
	if err != nil {
		return nil, err
	}
	if err := gw.VerifyCallback(cb); err != nil {
		return nil, err
	}
	b, err := w.Get(ctx, cb.BookingID)
	if err != nil {
		return nil, err
	}

	if p.Status != model.PaymentInitiated {
		// already settled; repeat the earlier answer
		if p.Status == model.PaymentSucceeded && cb.Outcome == payment.OutcomeSucceeded {
			return b, nil
		}
		if p.Status == model.PaymentTimedOut && cb.Outcome == payment.OutcomeSucceeded {
			return b, ErrPaymentTimedOut
		}
		if p.Status != model.PaymentSucceeded && cb.Outcome != payment.OutcomeSucceeded {
			return b, nil
		}
		return b, ErrInvalidTransition
	}

	switch cb.Outcome {
	case payment.OutcomeSucceeded:
		if b.Status == model.BookingAwaitingPayment && w.overdue(b) {
			if err := w.expire(ctx, b, model.PaymentTimedOut, "payment arrived after window"); err != nil && !errors.Is(err, repository.ErrStaleStatus) {
				return nil, err
			}
			return w.reload(ctx, b.ID, ErrPaymentTimedOut)
		}
		if err := w.succeed(ctx, b, p, cb.Reference); err != nil {
			return nil, err
		}
	case payment.OutcomeFailed, payment.OutcomeTimedOut:
		status := model.PaymentFailed
		if cb.Outcome == payment.OutcomeTimedOut {
			status = model.PaymentTimedOut
		}
		metrics.Payments.WithLabelValues(p.Method, string(cb.Outcome)).Inc()
		if err := w.expire(ctx, b, status, "gateway reported "+string(cb.Outcome)); err != nil && !errors.Is(err, repository.ErrStaleStatus) {
			return nil, err
		}
	default:
		return nil, payment.ErrInvalidSignature
	}
	return w.reload(ctx, b.ID, nil)
}

func (w *Workflow) reload(ctx context.Context, id string, result error) (*model.Booking, error) {
	b, err := w.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return b, result
}

// succeed confirms b after its payment p went through.  When the booking
// already left awaiting_payment (the sweeper expired it first) the
// payment is marked timed out and ErrPaymentTimedOut returned.
func (w *Workflow) succeed(ctx context.Context, b *model.Booking, p *model.Payment, reference string) error {
	now := w.now()
	err := w.bookings.TransitionStatus(ctx, b.ID, model.BookingAwaitingPayment, model.BookingConfirmed, 0, now)
	if errors.Is(err, repository.ErrStaleStatus) {
		cur, gerr := w.Get(ctx, b.ID)
		if gerr != nil {
			return gerr
		}
		switch cur.Status {
		case model.BookingConfirmed:
			return nil
		case model.BookingExpired, model.BookingCancelled:
			w.settlePayment(ctx, p, model.PaymentTimedOut, reference)
			return ErrPaymentTimedOut
		}
		return ErrInvalidTransition
	}
	if err != nil {
		return fmt.Errorf("confirm booking: %w", err)
	}
	w.settlePayment(ctx, p, model.PaymentSucceeded, reference)
	b.Status = model.BookingConfirmed
	b.UpdatedAt = now
	metrics.BookingTransitions.WithLabelValues(string(model.BookingConfirmed)).Inc()
	metrics.Payments.WithLabelValues(p.Method, "succeeded").Inc()
	w.publish(ctx, queue.EventBookingConfirmed, b, "")
	w.logger.Infof("booking %s confirmed via %s", b.ID, p.Method)
	return nil
}

func (w *Workflow) settlePayment(ctx context.Context, p *model.Payment, to model.PaymentStatus, reference string) {
	err := w.payments.UpdateStatus(ctx, p.ID, model.PaymentInitiated, to, reference, w.now())
	if err != nil && !errors.Is(err, repository.ErrStaleStatus) {
		w.logger.Errorf("payment %s: mark %s: %v", p.ID, to, err)
	}
}

// expire moves b from awaiting_payment to expired and frees its seats.
// paymentStatus, when set, is applied to an in-flight payment.
// ErrStaleStatus means someone else already moved the booking.
func (w *Workflow) expire(ctx context.Context, b *model.Booking, paymentStatus model.PaymentStatus, reason string) error {
	if err := w.bookings.TransitionStatus(ctx, b.ID, model.BookingAwaitingPayment, model.BookingExpired, 0, w.now()); err != nil {
		return err
	}
	w.unbook(ctx, b)
	if paymentStatus != "" {
		if p, err := w.payments.GetByBooking(ctx, b.ID); err == nil {
			w.settlePayment(ctx, p, paymentStatus, "")
		}
	}
	b.Status = model.BookingExpired
	metrics.BookingTransitions.WithLabelValues(string(model.BookingExpired)).Inc()
	w.publish(ctx, queue.EventBookingExpired, b, reason)
	w.logger.Infof("booking %s expired: %s", b.ID, reason)
	return nil
}

// unbook returns a booking's seats to free.  A trip missing from the
// seat map was never re-registered after a restart; registration only
// seeds seats of active bookings, so there is nothing to undo.
func (w *Workflow) unbook(ctx context.Context, b *model.Booking) {
	err := w.seats.Unbook(ctx, b.TripID, b.SeatLabels(), b.ID)
	if err != nil && !errors.Is(err, seatmap.ErrUnknownTrip) {
		// TODO: reconcile seat maps against terminal bookings so a failed unbook does not strand seats.
		w.logger.Errorf("booking %s: release seats %v: %v", b.ID, b.SeatLabels(), err)
	}
}

// Actor identifies who asks for a cancellation.  Operators may cancel
// any booking; customers only their own session's.
type Actor struct {
	SessionID string
	Operator  string
}

// IsOperator reports whether the actor is back-office staff.
func (a Actor) IsOperator() bool { return a.Operator != "" }

// Cancel cancels a booking.  A confirmed booking must not have departed
// and is refunded per the refund policy; a booking still awaiting
// payment is abandoned without refund.  Seats go back to free.
func (w *Workflow) Cancel(ctx context.Context, id string, actor Actor) (*model.Booking, error) {
	b, err := w.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.IsOperator() && b.SessionID != actor.SessionID {
		return nil, ErrNotOwner
	}
	now := w.now()
	var refund int64
	switch b.Status {
	case model.BookingAwaitingPayment:
	case model.BookingConfirmed:
		trip, err := w.trips.EnsureTrip(ctx, b.TripID)
		if err != nil {
			return nil, err
		}
		if trip.Departed(now) {
			return nil, ErrDeparted
		}
		refund = w.refunds.Refund(b.TotalAmount, trip.DepartureTime, now)
	default:
		return nil, ErrInvalidTransition
	}

	if err := w.bookings.TransitionStatus(ctx, b.ID, b.Status, model.BookingCancelled, refund, now); err != nil {
		if errors.Is(err, repository.ErrStaleStatus) {
			return nil, ErrInvalidTransition
		}
		return nil, fmt.Errorf("cancel booking: %w", err)
	}
	if b.Status == model.BookingAwaitingPayment {
		if p, err := w.payments.GetByBooking(ctx, b.ID); err == nil {
			w.settlePayment(ctx, p, model.PaymentFailed, "")
		}
	}
	w.unbook(ctx, b)
	b.Status = model.BookingCancelled
	b.RefundAmount = refund
	b.UpdatedAt = now
	metrics.BookingTransitions.WithLabelValues(string(model.BookingCancelled)).Inc()

	by := "customer"
	if actor.IsOperator() {
		by = "operator " + actor.Operator
	}
	w.publish(ctx, queue.EventBookingCancelled, b, "cancelled by "+by)
	w.logger.Infof("booking %s cancelled by %s refund=%d", b.ID, by, refund)
	return b, nil
}

// ExpireOverdue expires bookings whose payment window closed and returns
// how many it expired.
func (w *Workflow) ExpireOverdue(ctx context.Context) (int, error) {
	list, err := w.bookings.ListOverdue(ctx, w.now(), w.batch)
	if err != nil {
		return 0, fmt.Errorf("list overdue: %w", err)
	}
	n := 0
	for i := range list {
		err := w.expire(ctx, &list[i], model.PaymentTimedOut, "payment window elapsed")
		switch {
		case err == nil:
			n++
		case errors.Is(err, repository.ErrStaleStatus):
		default:
			w.logger.Errorf("booking %s: expire: %v", list[i].ID, err)
		}
	}
	return n, nil
}

// CompleteDeparted completes confirmed bookings whose trip has left.
func (w *Workflow) CompleteDeparted(ctx context.Context) (int, error) {
	list, err := w.bookings.ListDeparted(ctx, w.now(), w.batch)
	if err != nil {
		return 0, fmt.Errorf("list departed: %w", err)
	}
	n := 0
	for i := range list {
		b := &list[i]
		err := w.bookings.TransitionStatus(ctx, b.ID, model.BookingConfirmed, model.BookingCompleted, b.RefundAmount, w.now())
		switch {
		case err == nil:
			n++
			b.Status = model.BookingCompleted
			metrics.BookingTransitions.WithLabelValues(string(model.BookingCompleted)).Inc()
			w.publish(ctx, queue.EventBookingCompleted, b, "")
		case errors.Is(err, repository.ErrStaleStatus):
		default:
			w.logger.Errorf("booking %s: complete: %v", b.ID, err)
		}
	}
	return n, nil
}

func (w *Workflow) publish(ctx context.Context, typ string, b *model.Booking, reason string) {
	if w.pub == nil {
		return
	}
	ev := queue.BookingEvent{
		Type:         typ,
		BookingID:    b.ID,
		TripID:       b.TripID,
		Seats:        b.SeatLabels(),
		TotalAmount:  b.TotalAmount,
		RefundAmount: b.RefundAmount,
		Status:       string(b.Status),
		Reason:       reason,
		OccurredAt:   w.now().UTC(),
	}
	if err := w.pub.Publish(ctx, ev); err != nil {
		w.logger.Warnf("booking %s: publish %s: %v", b.ID, typ, err)
	}
}
