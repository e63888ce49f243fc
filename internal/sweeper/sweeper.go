// Package sweeper reclaims what nobody will come back for: seat holds
// whose TTL lapsed, bookings whose payment window closed, and confirmed
// bookings whose trip has left.  Passes are safe to run concurrently
// with each other and with request traffic; every step is a conditional
// transition that loses quietly when someone else got there first.
package sweeper

import (
	"context"
	"time"

	"github.com/labstack/gommon/log"

	"github.com/iliyamo/bus-seat-booking/internal/metrics"
	"github.com/iliyamo/bus-seat-booking/internal/seatmap"
)

// DefaultInterval is the time between passes.
const DefaultInterval = 30 * time.Second

// Bookings is the part of the booking workflow the sweeper drives.
type Bookings interface {
	ExpireOverdue(ctx context.Context) (int, error)
	CompleteDeparted(ctx context.Context) (int, error)
}

// Trips retires the seat maps of departed trips.
type Trips interface {
	RetireDeparted(ctx context.Context) (int, error)
}

// Report counts what one pass changed.
type Report struct {
	HoldsExpired      int
	BookingsExpired   int
	BookingsCompleted int
	TripsRetired      int
}

// Sweeper runs periodic passes.
type Sweeper struct {
	seats    seatmap.Store
	bookings Bookings
	trips    Trips
	interval time.Duration
	batch    int
	logger   *log.Logger
}

// New returns a Sweeper.  bookings may be nil to sweep holds only.
func New(seats seatmap.Store, bookings Bookings, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Sweeper{seats: seats, bookings: bookings, interval: interval, batch: 500, logger: log.New("sweeper")}
}

// RetireTrips makes each pass end by retiring departed trips, after
// their bookings were completed.
func (s *Sweeper) RetireTrips(t Trips) *Sweeper {
	s.trips = t
	return s
}

// Run sweeps every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Infof("sweeper started (interval %s)", s.interval)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r := s.SweepOnce(ctx)
			if r.HoldsExpired+r.BookingsExpired+r.BookingsCompleted+r.TripsRetired > 0 {
				s.logger.Infof("swept holds=%d expired=%d completed=%d trips=%d", r.HoldsExpired, r.BookingsExpired, r.BookingsCompleted, r.TripsRetired)
			}
		}
	}
}

// SweepOnce runs a single pass.  Failures are logged and the pass moves
// on to the next job.
func (s *Sweeper) SweepOnce(ctx context.Context) Report {
	start := time.Now()
	defer func() { metrics.SweepDuration.Observe(time.Since(start).Seconds()) }()

	var r Report
	r.HoldsExpired = s.expireHolds(ctx)
	if s.bookings != nil {
		n, err := s.bookings.ExpireOverdue(ctx)
		if err != nil {
			s.logger.Errorf("expire overdue bookings: %v", err)
		}
		r.BookingsExpired = n
		n, err = s.bookings.CompleteDeparted(ctx)
		if err != nil {
			s.logger.Errorf("complete departed bookings: %v", err)
		}
		r.BookingsCompleted = n
	}
	if s.trips != nil {
		n, err := s.trips.RetireDeparted(ctx)
		if err != nil {
			s.logger.Errorf("retire departed trips: %v", err)
		}
		r.TripsRetired = n
	}
	return r
}

func (s *Sweeper) expireHolds(ctx context.Context) int {
	holds, err := s.seats.ExpiredHolds(ctx, s.batch)
	if err != nil {
		s.logger.Errorf("list lapsed holds: %v", err)
		return 0
	}
	n := 0
	for _, h := range holds {
		ok, err := s.seats.Expire(ctx, h.TripID, h.SeatLabel)
		if err != nil {
			s.logger.Warnf("expire %s/%s: %v", h.TripID, h.SeatLabel, err)
			continue
		}
		if ok {
			n++
		}
	}
	metrics.HoldsExpired.Add(float64(n))
	return n
}
