// Package seatmap is the single source of truth for seat availability
// on a trip.  Every seat is free, held by one session until a deadline,
// or booked under one booking; all mutations go through a Store so that
// no seat is ever held by two sessions or booked twice.
package seatmap

import (
	"context"
	"strings"
	"time"

	"github.com/iliyamo/bus-seat-booking/internal/model"
)

// Grant is the result of a successful hold.
type Grant struct {
	Labels    []string  `json:"granted"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Store is implemented by MemoryStore and RedisStore.  Multi-seat
// operations are all-or-nothing: when any seat fails the check, no seat
// in the call changes state.
type Store interface {
	// Register seeds the seat map of a trip.  booked maps labels to the
	// booking that owns them.  Registering twice keeps existing state.
	Register(ctx context.Context, tripID string, labels []string, booked map[string]string) error
	Registered(ctx context.Context, tripID string) (bool, error)
	// Trips lists registered trips.  Drop forgets a trip's seat map.
	Trips(ctx context.Context) ([]string, error)
	Drop(ctx context.Context, tripID string) error

	TryHold(ctx context.Context, tripID string, labels []string, sessionID string, ttl time.Duration) (Grant, error)
	ReplaceHolds(ctx context.Context, tripID string, labels []string, sessionID string, ttl time.Duration) (Grant, error)
	Release(ctx context.Context, tripID string, labels []string, sessionID string) error
	ReleaseAll(ctx context.Context, tripID, sessionID string) ([]string, error)
	Confirm(ctx context.Context, tripID string, labels []string, sessionID, bookingID string) error
	Unbook(ctx context.Context, tripID string, labels []string, bookingID string) error
	Expire(ctx context.Context, tripID, label string) (bool, error)

	HeldBy(ctx context.Context, tripID, sessionID string) ([]model.SeatHold, error)
	Snapshot(ctx context.Context, tripID string) ([]model.SeatState, error)
	ExpiredHolds(ctx context.Context, limit int) ([]model.SeatHold, error)
}

// NormalizeLabels upper-cases and trims labels, dropping blanks and
// duplicates while keeping the caller's order.
func NormalizeLabels(labels []string) []string {
	out := make([]string, 0, len(labels))
	seen := make(map[string]struct{}, len(labels))
	for _, l := range labels {
		l = strings.ToUpper(strings.TrimSpace(l))
		if l == "" {
			continue
		}
		if _, ok := seen[l]; ok {
			continue
		}
		seen[l] = struct{}{}
		out = append(out, l)
	}
	return out
}
