package seatmap

import (
	"context"
	"sync"
	"time"

	"github.com/iliyamo/bus-seat-booking/internal/model"
)

// MemoryStore keeps seat maps in process memory.  Each trip has its own
// mutex, so unrelated trips never contend; a multi-seat call holds the
// trip lock only for a pass over the requested seats.
type MemoryStore struct {
	now func() time.Time

	mu    sync.RWMutex
	trips map[string]*tripSeats
}

type tripSeats struct {
	mu    sync.Mutex
	order []string
	seats map[string]*model.SeatState
}

// NewMemoryStore returns an empty store.  now may be nil, in which case
// time.Now is used.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{now: now, trips: make(map[string]*tripSeats)}
}

func (m *MemoryStore) trip(tripID string) (*tripSeats, error) {
	m.mu.RLock()
	t, ok := m.trips[tripID]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrUnknownTrip
	}
	return t, nil
}

func (m *MemoryStore) Register(_ context.Context, tripID string, labels []string, booked map[string]string) error {
	m.mu.Lock()
	t, ok := m.trips[tripID]
	if !ok {
		t = &tripSeats{seats: make(map[string]*model.SeatState, len(labels))}
		m.trips[tripID] = t
	}
	m.mu.Unlock()

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, l := range NormalizeLabels(labels) {
		s, exists := t.seats[l]
		if !exists {
			s = &model.SeatState{Label: l, Status: model.SeatFree}
			t.seats[l] = s
			t.order = append(t.order, l)
		}
		if id, ok := booked[l]; ok && id != "" && s.Status == model.SeatFree {
			s.Status = model.SeatBooked
			s.BookingID = id
		}
	}
	return nil
}

func (m *MemoryStore) Registered(_ context.Context, tripID string) (bool, error) {
	_, err := m.trip(tripID)
	return err == nil, nil
}

// holdable reports whether session may take s at now.  Lapsed holds
// count as free even before the sweeper reclaims them.
func holdable(s *model.SeatState, sessionID string, now time.Time) bool {
	switch s.Status {
	case model.SeatFree:
		return true
	case model.SeatHeld:
		return s.SessionID == sessionID || now.After(s.ExpiresAt)
	}
	return false
}

// lookup resolves labels to seats, failing on the first unknown label.
func (t *tripSeats) lookup(labels []string) ([]*model.SeatState, error) {
	seats := make([]*model.SeatState, 0, len(labels))
	for _, l := range labels {
		s, ok := t.seats[l]
		if !ok {
			return nil, &SeatError{Label: l, Err: ErrUnknownSeat}
		}
		seats = append(seats, s)
	}
	return seats, nil
}

func (m *MemoryStore) TryHold(_ context.Context, tripID string, labels []string, sessionID string, ttl time.Duration) (Grant, error) {
	labels = NormalizeLabels(labels)
	if len(labels) == 0 {
		return Grant{}, ErrNoSeats
	}
	t, err := m.trip(tripID)
	if err != nil {
		return Grant{}, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	now := m.now()
	seats, err := t.lookup(labels)
	if err != nil {
		return Grant{}, err
	}
	var unavailable []string
	for _, s := range seats {
		if !holdable(s, sessionID, now) {
			unavailable = append(unavailable, s.Label)
		}
	}
	if len(unavailable) > 0 {
		return Grant{}, &SeatUnavailableError{Labels: unavailable}
	}
	exp := now.Add(ttl)
	for _, s := range seats {
		hold(s, sessionID, exp)
	}
	return Grant{Labels: labels, ExpiresAt: exp}, nil
}

func (m *MemoryStore) ReplaceHolds(_ context.Context, tripID string, labels []string, sessionID string, ttl time.Duration) (Grant, error) {
	labels = NormalizeLabels(labels)
	if len(labels) == 0 {
		return Grant{}, ErrNoSeats
	}
	t, err := m.trip(tripID)
	if err != nil {
		return Grant{}, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	now := m.now()
	seats, err := t.lookup(labels)
	if err != nil {
		return Grant{}, err
	}
	var unavailable []string
	wanted := make(map[string]struct{}, len(seats))
	for _, s := range seats {
		wanted[s.Label] = struct{}{}
		if !holdable(s, sessionID, now) {
			unavailable = append(unavailable, s.Label)
		}
	}
	if len(unavailable) > 0 {
		return Grant{}, &SeatUnavailableError{Labels: unavailable}
	}
	for _, s := range t.seats {
		if _, keep := wanted[s.Label]; !keep && s.Status == model.SeatHeld && s.SessionID == sessionID {
			free(s)
		}
	}
	exp := now.Add(ttl)
	for _, s := range seats {
		hold(s, sessionID, exp)
	}
	return Grant{Labels: labels, ExpiresAt: exp}, nil
}

func (m *MemoryStore) Release(_ context.Context, tripID string, labels []string, sessionID string) error {
	labels = NormalizeLabels(labels)
	t, err := m.trip(tripID)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	now := m.now()
	seats, err := t.lookup(labels)
	if err != nil {
		return err
	}
	owned := make([]*model.SeatState, 0, len(seats))
	for _, s := range seats {
		switch {
		case s.Status == model.SeatFree:
		case s.Status == model.SeatHeld && s.SessionID == sessionID:
			owned = append(owned, s)
		case s.Status == model.SeatHeld && now.After(s.ExpiresAt):
			// lapsed hold of another session; the sweeper reclaims it
		default:
			return &SeatError{Label: s.Label, Err: ErrNotOwner}
		}
	}
	for _, s := range owned {
		free(s)
	}
	return nil
}

func (m *MemoryStore) ReleaseAll(_ context.Context, tripID, sessionID string) ([]string, error) {
	t, err := m.trip(tripID)
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	released := []string{}
	for _, l := range t.order {
		s := t.seats[l]
		if s.Status == model.SeatHeld && s.SessionID == sessionID {
			free(s)
			released = append(released, l)
		}
	}
	return released, nil
}

func (m *MemoryStore) Confirm(_ context.Context, tripID string, labels []string, sessionID, bookingID string) error {
	labels = NormalizeLabels(labels)
	if len(labels) == 0 {
		return ErrNoSeats
	}
	t, err := m.trip(tripID)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	now := m.now()
	seats, err := t.lookup(labels)
	if err != nil {
		return err
	}
	for _, s := range seats {
		if err := confirmable(s, sessionID, now); err != nil {
			return &SeatError{Label: s.Label, Err: err}
		}
	}
	for _, s := range seats {
		s.Status = model.SeatBooked
		s.BookingID = bookingID
		s.SessionID = ""
		s.ExpiresAt = time.Time{}
	}
	return nil
}

// confirmable classifies why s cannot be promoted for session.
func confirmable(s *model.SeatState, sessionID string, now time.Time) error {
	switch s.Status {
	case model.SeatHeld:
		if s.SessionID != sessionID {
			if now.After(s.ExpiresAt) {
				return ErrHoldExpired
			}
			return ErrNotOwner
		}
		if now.After(s.ExpiresAt) {
			return ErrHoldExpired
		}
		return nil
	case model.SeatBooked:
		return ErrNotOwner
	}
	return ErrHoldExpired
}

func (m *MemoryStore) Unbook(_ context.Context, tripID string, labels []string, bookingID string) error {
	labels = NormalizeLabels(labels)
	t, err := m.trip(tripID)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, l := range labels {
		if s, ok := t.seats[l]; ok && s.Status == model.SeatBooked && s.BookingID == bookingID {
			free(s)
		}
	}
	return nil
}

func (m *MemoryStore) Expire(_ context.Context, tripID, label string) (bool, error) {
	t, err := m.trip(tripID)
	if err != nil {
		return false, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.seats[label]
	if !ok || s.Status != model.SeatHeld || !m.now().After(s.ExpiresAt) {
		return false, nil
	}
	free(s)
	return true, nil
}

func (m *MemoryStore) HeldBy(_ context.Context, tripID, sessionID string) ([]model.SeatHold, error) {
	t, err := m.trip(tripID)
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	now := m.now()
	holds := []model.SeatHold{}
	for _, l := range t.order {
		s := t.seats[l]
		if s.Status == model.SeatHeld && s.SessionID == sessionID && !now.After(s.ExpiresAt) {
			holds = append(holds, model.SeatHold{TripID: tripID, SeatLabel: l, SessionID: sessionID, ExpiresAt: s.ExpiresAt})
		}
	}
	return holds, nil
}

func (m *MemoryStore) Trips(context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.trips))
	for id := range m.trips {
		ids = append(ids, id)
	}
	return ids, nil
}

func (m *MemoryStore) Drop(_ context.Context, tripID string) error {
	m.mu.Lock()
	delete(m.trips, tripID)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Snapshot(_ context.Context, tripID string) ([]model.SeatState, error) {
	t, err := m.trip(tripID)
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	now := m.now()
	out := make([]model.SeatState, 0, len(t.order))
	for _, l := range t.order {
		s := *t.seats[l]
		if s.Status == model.SeatHeld && now.After(s.ExpiresAt) {
			s = model.SeatState{Label: l, Status: model.SeatFree}
		}
		out = append(out, s)
	}
	return out, nil
}

func (m *MemoryStore) ExpiredHolds(_ context.Context, limit int) ([]model.SeatHold, error) {
	m.mu.RLock()
	ids := make([]string, 0, len(m.trips))
	trips := make([]*tripSeats, 0, len(m.trips))
	for id, t := range m.trips {
		ids = append(ids, id)
		trips = append(trips, t)
	}
	m.mu.RUnlock()

	now := m.now()
	out := []model.SeatHold{}
	for i, t := range trips {
		t.mu.Lock()
		for _, l := range t.order {
			s := t.seats[l]
			if s.Status == model.SeatHeld && now.After(s.ExpiresAt) {
				out = append(out, model.SeatHold{TripID: ids[i], SeatLabel: l, SessionID: s.SessionID, ExpiresAt: s.ExpiresAt})
			}
		}
		t.mu.Unlock()
		if limit > 0 && len(out) >= limit {
			return out[:limit], nil
		}
	}
	return out, nil
}

func hold(s *model.SeatState, sessionID string, exp time.Time) {
	s.Status = model.SeatHeld
	s.SessionID = sessionID
	s.ExpiresAt = exp
	s.BookingID = ""
}

func free(s *model.SeatState) {
	s.Status = model.SeatFree
	s.SessionID = ""
	s.ExpiresAt = time.Time{}
	s.BookingID = ""
}
