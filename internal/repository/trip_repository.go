package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/iliyamo/bus-seat-booking/internal/model"
)

// TripRepo reads trips.  Trips are created and edited by the operator
// back office; the booking engine only ever reads them.
type TripRepo struct {
	db *sql.DB
}

// NewTripRepo returns a TripRepo bound to db.
func NewTripRepo(db *sql.DB) *TripRepo { return &TripRepo{db: db} }

// GetByID loads a trip.  ErrNotFound is returned when no such trip exists.
func (r *TripRepo) GetByID(ctx context.Context, id string) (*model.Trip, error) {
	const q = `SELECT id, total_seats, base_price, departure_time, status FROM trips WHERE id = ?`
	var t model.Trip
	var status string
	err := r.db.QueryRowContext(ctx, q, id).Scan(&t.ID, &t.TotalSeats, &t.BasePrice, &t.DepartureTime, &status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	t.Status = model.TripStatus(status)
	t.DepartureTime = t.DepartureTime.UTC()
	return &t, nil
}
