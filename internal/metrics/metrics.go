// Package metrics holds the Prometheus collectors of the booking engine.
// They register with the default registry and are served on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HoldsGranted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "seat_holds_granted_total",
		Help: "Seats granted to a session by lock or replace requests",
	})
	HoldConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "seat_hold_conflicts_total",
		Help: "Lock requests rejected because a seat was unavailable",
	})
	HoldsExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "seat_holds_expired_total",
		Help: "Lapsed holds returned to free by the sweeper",
	})
	BookingTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "booking_transitions_total",
		Help: "Booking state transitions by target status",
	}, []string{"status"})
	Payments = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payments_total",
		Help: "Payment attempts by method and outcome",
	}, []string{"method", "outcome"})
	SweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sweeper_run_duration_seconds",
		Help:    "Duration of one sweeper pass",
		Buckets: prometheus.DefBuckets,
	})
)
