// Package seatlock is the entry point for seat selection.  It resolves
// the trip, makes sure its seat map is registered, validates the
// checkout session and applies the hold TTL before delegating to the
// seat map.
package seatlock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/gommon/log"

	"github.com/iliyamo/bus-seat-booking/internal/metrics"
	"github.com/iliyamo/bus-seat-booking/internal/model"
	"github.com/iliyamo/bus-seat-booking/internal/repository"
	"github.com/iliyamo/bus-seat-booking/internal/seatmap"
)

// DefaultHoldTTL is how long a seat stays held without a booking.
const DefaultHoldTTL = 15 * time.Minute

var (
	ErrInvalidSession  = errors.New("sessionId must be a UUID")
	ErrTripNotFound    = errors.New("trip not found")
	ErrTripNotBookable = errors.New("trip is not open for booking")
)

// TripSource loads trips.
type TripSource interface {
	GetByID(ctx context.Context, id string) (*model.Trip, error)
}

// SeatOwners reports seats already owned by active bookings, used to
// seed a trip's seat map the first time it is touched.
type SeatOwners interface {
	ActiveSeatsByTrip(ctx context.Context, tripID string) (map[string]string, error)
}

// Options tune a Manager.  Zero values fall back to defaults.
type Options struct {
	HoldTTL     time.Duration
	SeatsPerRow int
	Now         func() time.Time
}

// Manager implements lock, replace and release for checkout sessions.
type Manager struct {
	seats  seatmap.Store
	trips  TripSource
	owners SeatOwners

	ttl    time.Duration
	perRow int
	now    func() time.Time
	logger *log.Logger

	registered sync.Map // tripID -> struct{}
}

// NewManager wires a Manager around a seat map store.
func NewManager(seats seatmap.Store, trips TripSource, owners SeatOwners, opts Options) *Manager {
	if opts.HoldTTL <= 0 {
		opts.HoldTTL = DefaultHoldTTL
	}
	if opts.SeatsPerRow <= 0 {
		opts.SeatsPerRow = model.DefaultSeatsPerRow
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Manager{
		seats:  seats,
		trips:  trips,
		owners: owners,
		ttl:    opts.HoldTTL,
		perRow: opts.SeatsPerRow,
		now:    opts.Now,
		logger: log.New("seatlock"),
	}
}

// HoldTTL returns the configured hold duration.
func (m *Manager) HoldTTL() time.Duration { return m.ttl }

// ValidateSession checks that id is a UUID.
func ValidateSession(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrInvalidSession
	}
	return nil
}

// EnsureTrip loads the trip and registers its seat map if this process
// has not seen it yet.  Seats of awaiting-payment and confirmed bookings
// are seeded as booked.
func (m *Manager) EnsureTrip(ctx context.Context, tripID string) (*model.Trip, error) {
	trip, err := m.trips.GetByID(ctx, tripID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrTripNotFound
		}
		return nil, fmt.Errorf("load trip: %w", err)
	}
	if _, ok := m.registered.Load(tripID); ok {
		return trip, nil
	}
	ok, err := m.seats.Registered(ctx, tripID)
	if err != nil {
		return nil, fmt.Errorf("seat map lookup: %w", err)
	}
	if !ok {
		booked, err := m.owners.ActiveSeatsByTrip(ctx, tripID)
		if err != nil {
			return nil, fmt.Errorf("load booked seats: %w", err)
		}
		labels := model.SeatLabels(trip.TotalSeats, m.perRow)
		if err := m.seats.Register(ctx, tripID, labels, booked); err != nil {
			return nil, fmt.Errorf("register seat map: %w", err)
		}
		m.logger.Infof("registered seat map trip=%s seats=%d booked=%d", tripID, len(labels), len(booked))
	}
	m.registered.Store(tripID, struct{}{})
	return trip, nil
}

// Forget drops the registration memo for a trip so the next call
// re-checks the store.
func (m *Manager) Forget(tripID string) { m.registered.Delete(tripID) }

// RetireDeparted drops the seat maps of trips that have left or no
// longer exist.  A later EnsureTrip registers the trip again.
func (m *Manager) RetireDeparted(ctx context.Context) (int, error) {
	ids, err := m.seats.Trips(ctx)
	if err != nil {
		return 0, fmt.Errorf("list seat maps: %w", err)
	}
	now := m.now()
	n := 0
	for _, id := range ids {
		trip, err := m.trips.GetByID(ctx, id)
		switch {
		case errors.Is(err, repository.ErrNotFound):
		case err != nil:
			m.logger.Warnf("retire trip=%s: load: %v", id, err)
			continue
		case !trip.Departed(now):
			continue
		}
		if err := m.seats.Drop(ctx, id); err != nil {
			m.logger.Warnf("retire trip=%s: %v", id, err)
			continue
		}
		m.Forget(id)
		n++
	}
	return n, nil
}

// withTrip runs fn after EnsureTrip.  When the store lost the trip
// (a flushed Redis, for example) the memo is dropped and fn retried once.
func (m *Manager) withTrip(ctx context.Context, tripID string, bookable bool, fn func(*model.Trip) error) error {
	for attempt := 0; ; attempt++ {
		trip, err := m.EnsureTrip(ctx, tripID)
		if err != nil {
			return err
		}
		if bookable && !trip.Bookable(m.now()) {
			return ErrTripNotBookable
		}
		err = fn(trip)
		if errors.Is(err, seatmap.ErrUnknownTrip) && attempt == 0 {
			m.Forget(tripID)
			continue
		}
		return err
	}
}

// LockSeats holds every requested seat for the session or none of them.
// Seats the session already holds are renewed.
func (m *Manager) LockSeats(ctx context.Context, tripID string, labels []string, sessionID string) (seatmap.Grant, error) {
	return m.hold(ctx, tripID, labels, sessionID, m.seats.TryHold)
}

// ReplaceSeats swaps the session's holds on the trip for labels in one
// step.  On failure the previous holds stay in place.
func (m *Manager) ReplaceSeats(ctx context.Context, tripID string, labels []string, sessionID string) (seatmap.Grant, error) {
	return m.hold(ctx, tripID, labels, sessionID, m.seats.ReplaceHolds)
}

type holdFunc func(ctx context.Context, tripID string, labels []string, sessionID string, ttl time.Duration) (seatmap.Grant, error)

func (m *Manager) hold(ctx context.Context, tripID string, labels []string, sessionID string, fn holdFunc) (seatmap.Grant, error) {
	if err := ValidateSession(sessionID); err != nil {
		return seatmap.Grant{}, err
	}
	if len(seatmap.NormalizeLabels(labels)) == 0 {
		return seatmap.Grant{}, seatmap.ErrNoSeats
	}
	var grant seatmap.Grant
	err := m.withTrip(ctx, tripID, true, func(*model.Trip) error {
		g, err := fn(ctx, tripID, labels, sessionID, m.ttl)
		grant = g
		return err
	})
	switch {
	case err == nil:
		metrics.HoldsGranted.Add(float64(len(grant.Labels)))
	case errors.Is(err, seatmap.ErrSeatUnavailable):
		metrics.HoldConflicts.Inc()
	}
	return grant, err
}

// ReleaseSeats drops every hold the session has on the trip and returns
// the released labels.
func (m *Manager) ReleaseSeats(ctx context.Context, tripID, sessionID string) ([]string, error) {
	if err := ValidateSession(sessionID); err != nil {
		return nil, err
	}
	var released []string
	err := m.withTrip(ctx, tripID, false, func(*model.Trip) error {
		r, err := m.seats.ReleaseAll(ctx, tripID, sessionID)
		released = r
		return err
	})
	return released, err
}

// ReleaseLabels releases specific seats held by the session.
func (m *Manager) ReleaseLabels(ctx context.Context, tripID string, labels []string, sessionID string) error {
	if err := ValidateSession(sessionID); err != nil {
		return err
	}
	return m.withTrip(ctx, tripID, false, func(*model.Trip) error {
		return m.seats.Release(ctx, tripID, labels, sessionID)
	})
}

// SeatMapView is the public availability of a trip.
type SeatMapView struct {
	TripID    string            `json:"tripId"`
	Available int               `json:"available"`
	Seats     []model.SeatState `json:"seats"`
}

// SeatMap returns the trip's seats in layout order.
func (m *Manager) SeatMap(ctx context.Context, tripID string) (*SeatMapView, error) {
	view := &SeatMapView{TripID: tripID}
	err := m.withTrip(ctx, tripID, false, func(*model.Trip) error {
		snap, err := m.seats.Snapshot(ctx, tripID)
		if err != nil {
			return err
		}
		view.Seats = snap
		view.Available = 0
		for _, s := range snap {
			if s.Status == model.SeatFree {
				view.Available++
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

// HeldBy lists the session's live holds on the trip.
func (m *Manager) HeldBy(ctx context.Context, tripID, sessionID string) ([]model.SeatHold, error) {
	if err := ValidateSession(sessionID); err != nil {
		return nil, err
	}
	var holds []model.SeatHold
	err := m.withTrip(ctx, tripID, false, func(*model.Trip) error {
		h, err := m.seats.HeldBy(ctx, tripID, sessionID)
		holds = h
		return err
	})
	return holds, err
}
