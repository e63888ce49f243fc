package seatmap

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/bus-seat-booking/internal/model"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

const ttl = 15 * time.Minute

func newTestStore(t *testing.T) (*MemoryStore, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	s := NewMemoryStore(clock.Now)
	require.NoError(t, s.Register(context.Background(), "T", model.SeatLabels(8, 4), nil))
	return s, clock
}

func statusOf(t *testing.T, s Store, label string) model.SeatState {
	t.Helper()
	snap, err := s.Snapshot(context.Background(), "T")
	require.NoError(t, err)
	for _, st := range snap {
		if st.Label == label {
			return st
		}
	}
	t.Fatalf("seat %s missing from snapshot", label)
	return model.SeatState{}
}

func TestTryHoldMutualExclusion(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	const sessions = 64
	var wins int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < sessions; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, err := s.TryHold(ctx, "T", []string{"A1"}, fmt.Sprintf("session-%d", i), ttl)
			if err == nil {
				atomic.AddInt32(&wins, 1)
				return
			}
			assert.ErrorIs(t, err, ErrSeatUnavailable)
		}(i)
	}
	close(start)
	wg.Wait()
	assert.EqualValues(t, 1, wins)
	assert.Equal(t, model.SeatHeld, statusOf(t, s, "A1").Status)
}

func TestTryHoldOverlappingBatchesHaveOneWinner(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			seats := []string{"A1", "A2"}
			if i%2 == 1 {
				seats = []string{"A2", "A3"}
			}
			if _, err := s.TryHold(ctx, "T", seats, fmt.Sprintf("s%d", i), ttl); err == nil {
				atomic.AddInt32(&wins, 1)
			}
		}(i)
	}
	wg.Wait()
	assert.EqualValues(t, 1, wins)

	held := 0
	snap, err := s.Snapshot(ctx, "T")
	require.NoError(t, err)
	for _, st := range snap {
		if st.Status == model.SeatHeld {
			held++
		}
	}
	assert.Equal(t, 2, held)
}

func TestTryHoldDisjointSeatsBothSucceed(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, seats := range [][]string{{"A1", "A2"}, {"B1", "B2"}} {
		wg.Add(1)
		go func(i int, seats []string) {
			defer wg.Done()
			_, errs[i] = s.TryHold(ctx, "T", seats, fmt.Sprintf("s%d", i), ttl)
		}(i, seats)
	}
	wg.Wait()
	assert.NoError(t, errs[0])
	assert.NoError(t, errs[1])
}

func TestTryHoldAllOrNothing(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.TryHold(ctx, "T", []string{"A1", "A2"}, "A", ttl)
	require.NoError(t, err)

	_, err = s.TryHold(ctx, "T", []string{"A2", "A3"}, "B", ttl)
	require.ErrorIs(t, err, ErrSeatUnavailable)
	assert.Equal(t, []string{"A2"}, UnavailableLabels(err))
	assert.Equal(t, model.SeatFree, statusOf(t, s, "A3").Status)

	holds, err := s.HeldBy(ctx, "T", "B")
	require.NoError(t, err)
	assert.Empty(t, holds)
}

func TestTryHoldUnknownSeatAndTrip(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.TryHold(ctx, "T", []string{"A1", "Z9"}, "A", ttl)
	assert.ErrorIs(t, err, ErrUnknownSeat)
	assert.Equal(t, model.SeatFree, statusOf(t, s, "A1").Status)

	_, err = s.TryHold(ctx, "nope", []string{"A1"}, "A", ttl)
	assert.ErrorIs(t, err, ErrUnknownTrip)

	_, err = s.TryHold(ctx, "T", []string{" ", ""}, "A", ttl)
	assert.ErrorIs(t, err, ErrNoSeats)
}

func TestTryHoldRenewsOwnHoldAndTakesLapsedHold(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()

	first, err := s.TryHold(ctx, "T", []string{"a1"}, "A", ttl)
	require.NoError(t, err)
	assert.Equal(t, []string{"A1"}, first.Labels)

	clock.Advance(10 * time.Minute)
	renewed, err := s.TryHold(ctx, "T", []string{"A1"}, "A", ttl)
	require.NoError(t, err)
	assert.True(t, renewed.ExpiresAt.After(first.ExpiresAt))

	clock.Advance(ttl + time.Second)
	_, err = s.TryHold(ctx, "T", []string{"A1"}, "B", ttl)
	require.NoError(t, err)
	assert.Equal(t, "B", statusOf(t, s, "A1").SessionID)
}

func TestReleaseOnlyOwnHolds(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.TryHold(ctx, "T", []string{"A1"}, "A", ttl)
	require.NoError(t, err)
	_, err = s.TryHold(ctx, "T", []string{"A2"}, "B", ttl)
	require.NoError(t, err)

	err = s.Release(ctx, "T", []string{"A1", "A2"}, "A")
	require.ErrorIs(t, err, ErrNotOwner)
	assert.Equal(t, model.SeatHeld, statusOf(t, s, "A1").Status)
	assert.Equal(t, model.SeatHeld, statusOf(t, s, "A2").Status)

	require.NoError(t, s.Release(ctx, "T", []string{"A1"}, "A"))
	assert.Equal(t, model.SeatFree, statusOf(t, s, "A1").Status)

	// releasing an already free seat twice is a no-op
	require.NoError(t, s.Release(ctx, "T", []string{"A1"}, "A"))
	require.NoError(t, s.Release(ctx, "T", []string{"A1"}, "A"))
}

func TestReleaseAll(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.TryHold(ctx, "T", []string{"A1", "B2"}, "A", ttl)
	require.NoError(t, err)
	_, err = s.TryHold(ctx, "T", []string{"A2"}, "B", ttl)
	require.NoError(t, err)

	released, err := s.ReleaseAll(ctx, "T", "A")
	require.NoError(t, err)
	assert.Equal(t, []string{"A1", "B2"}, released)
	assert.Equal(t, model.SeatHeld, statusOf(t, s, "A2").Status)

	released, err = s.ReleaseAll(ctx, "T", "A")
	require.NoError(t, err)
	assert.Empty(t, released)
}

func TestConfirmPromotesHeldSeats(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.TryHold(ctx, "T", []string{"A1", "A2"}, "A", ttl)
	require.NoError(t, err)
	require.NoError(t, s.Confirm(ctx, "T", []string{"A1", "A2"}, "A", "bk-1"))

	st := statusOf(t, s, "A2")
	assert.Equal(t, model.SeatBooked, st.Status)
	assert.Equal(t, "bk-1", st.BookingID)

	_, err = s.TryHold(ctx, "T", []string{"A2"}, "B", ttl)
	assert.ErrorIs(t, err, ErrSeatUnavailable)
}

func TestConfirmAfterExpiryFailsWithoutMutation(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()

	_, err := s.TryHold(ctx, "T", []string{"A1"}, "A", ttl)
	require.NoError(t, err)
	_, err = s.TryHold(ctx, "T", []string{"A2"}, "A", 20*time.Minute)
	require.NoError(t, err)
	clock.Advance(ttl + time.Second)

	err = s.Confirm(ctx, "T", []string{"A2", "A1"}, "A", "bk-1")
	require.ErrorIs(t, err, ErrHoldExpired)
	assert.Equal(t, model.SeatHeld, statusOf(t, s, "A2").Status)
	assert.Equal(t, "", statusOf(t, s, "A2").BookingID)
}

func TestConfirmRejectsOtherSession(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.TryHold(ctx, "T", []string{"A1"}, "A", ttl)
	require.NoError(t, err)
	assert.ErrorIs(t, s.Confirm(ctx, "T", []string{"A1"}, "B", "bk-2"), ErrNotOwner)
	assert.ErrorIs(t, s.Confirm(ctx, "T", []string{"A3"}, "B", "bk-2"), ErrHoldExpired)
}

func TestExpireIsIdempotentAndRespectsTTL(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()

	_, err := s.TryHold(ctx, "T", []string{"B1"}, "C", ttl)
	require.NoError(t, err)

	ok, err := s.Expire(ctx, "T", "B1")
	require.NoError(t, err)
	assert.False(t, ok, "hold still inside its TTL")

	clock.Advance(ttl + time.Second)
	ok, err = s.Expire(ctx, "T", "B1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Expire(ctx, "T", "B1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, model.SeatFree, statusOf(t, s, "B1").Status)
}

func TestExpireNeverTouchesBookedSeat(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()

	_, err := s.TryHold(ctx, "T", []string{"A1"}, "A", ttl)
	require.NoError(t, err)
	require.NoError(t, s.Confirm(ctx, "T", []string{"A1"}, "A", "bk"))
	clock.Advance(time.Hour)

	ok, err := s.Expire(ctx, "T", "A1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, model.SeatBooked, statusOf(t, s, "A1").Status)
}

func TestUnbookOnlyMatchingBooking(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.TryHold(ctx, "T", []string{"A1", "A2"}, "A", ttl)
	require.NoError(t, err)
	require.NoError(t, s.Confirm(ctx, "T", []string{"A1"}, "A", "bk-1"))
	require.NoError(t, s.Confirm(ctx, "T", []string{"A2"}, "A", "bk-2"))

	require.NoError(t, s.Unbook(ctx, "T", []string{"A1", "A2"}, "bk-1"))
	require.NoError(t, s.Unbook(ctx, "T", []string{"A1", "A2"}, "bk-1"))
	assert.Equal(t, model.SeatFree, statusOf(t, s, "A1").Status)
	assert.Equal(t, model.SeatBooked, statusOf(t, s, "A2").Status)
}

func TestReplaceHoldsIsAtomic(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.TryHold(ctx, "T", []string{"A1", "A2"}, "A", ttl)
	require.NoError(t, err)
	_, err = s.TryHold(ctx, "T", []string{"B1"}, "B", ttl)
	require.NoError(t, err)

	_, err = s.ReplaceHolds(ctx, "T", []string{"A2", "B1"}, "A", ttl)
	require.ErrorIs(t, err, ErrSeatUnavailable)
	assert.Equal(t, "A", statusOf(t, s, "A1").SessionID, "old holds survive a failed replace")

	grant, err := s.ReplaceHolds(ctx, "T", []string{"A2", "A3"}, "A", ttl)
	require.NoError(t, err)
	assert.Equal(t, []string{"A2", "A3"}, grant.Labels)
	assert.Equal(t, model.SeatFree, statusOf(t, s, "A1").Status)
}

func TestRegisterSeedsBookedSeatsAndKeepsState(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.TryHold(ctx, "T", []string{"A1"}, "A", ttl)
	require.NoError(t, err)
	require.NoError(t, s.Register(ctx, "T", model.SeatLabels(8, 4), map[string]string{"A1": "bk-x", "B4": "bk-y"}))

	assert.Equal(t, model.SeatHeld, statusOf(t, s, "A1").Status)
	assert.Equal(t, "bk-y", statusOf(t, s, "B4").BookingID)

	ok, err := s.Registered(ctx, "T")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.Registered(ctx, "other")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestExpiredHoldsScan(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Register(ctx, "U", model.SeatLabels(4, 4), nil))

	_, err := s.TryHold(ctx, "T", []string{"A1", "A2"}, "A", ttl)
	require.NoError(t, err)
	_, err = s.TryHold(ctx, "U", []string{"A1"}, "B", time.Hour)
	require.NoError(t, err)
	clock.Advance(ttl + time.Minute)

	holds, err := s.ExpiredHolds(ctx, 0)
	require.NoError(t, err)
	require.Len(t, holds, 2)
	for _, h := range holds {
		assert.Equal(t, "T", h.TripID)
	}

	holds, err = s.ExpiredHolds(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, holds, 1)
}

func TestDropForgetsTrip(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Register(ctx, "U", model.SeatLabels(4, 4), nil))
	_, err := s.TryHold(ctx, "T", []string{"A1"}, "A", ttl)
	require.NoError(t, err)

	ids, err := s.Trips(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"T", "U"}, ids)

	require.NoError(t, s.Drop(ctx, "T"))
	require.NoError(t, s.Drop(ctx, "T"))
	ids, err = s.Trips(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"U"}, ids)

	ok, err := s.Registered(ctx, "T")
	require.NoError(t, err)
	assert.False(t, ok)
	clock.Advance(ttl + time.Minute)
	holds, err := s.ExpiredHolds(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, holds, "a dropped trip is no longer scanned")
}

func TestSeatErrorsUnwrap(t *testing.T) {
	err := error(&SeatError{Label: "A1", Err: ErrNotOwner})
	assert.True(t, errors.Is(err, ErrNotOwner))
	assert.Equal(t, "A1: not owner", err.Error())
}
