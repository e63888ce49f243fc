package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/iliyamo/bus-seat-booking/internal/model"
)

// PaymentRepo persists payment attempts.  booking_id is unique, so a
// booking owns at most one payment.
type PaymentRepo struct {
	db *sql.DB
}

// NewPaymentRepo returns a PaymentRepo bound to db.
func NewPaymentRepo(db *sql.DB) *PaymentRepo { return &PaymentRepo{db: db} }

// Create inserts p.  A second payment for the same booking yields ErrConflict.
func (r *PaymentRepo) Create(ctx context.Context, p *model.Payment) error {
	const q = `INSERT INTO payments (id, booking_id, method, status, amount, reference, redirect_url, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, q, p.ID, p.BookingID, p.Method, string(p.Status), p.Amount,
		p.Reference, p.RedirectURL, p.CreatedAt.UTC(), p.UpdatedAt.UTC())
	return mapDuplicate(err)
}

// GetByBooking returns the payment of a booking or ErrNotFound.
func (r *PaymentRepo) GetByBooking(ctx context.Context, bookingID string) (*model.Payment, error) {
	const q = `SELECT id, booking_id, method, status, amount, reference, redirect_url, created_at, updated_at
		FROM payments WHERE booking_id = ?`
	var p model.Payment
	var status string
	err := r.db.QueryRowContext(ctx, q, bookingID).Scan(&p.ID, &p.BookingID, &p.Method, &status, &p.Amount,
		&p.Reference, &p.RedirectURL, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	p.Status = model.PaymentStatus(status)
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return &p, nil
}

// UpdateStatus is a compare-and-set on the payment status.  reference is
// stored only when non-empty.
func (r *PaymentRepo) UpdateStatus(ctx context.Context, id string, from, to model.PaymentStatus, reference string, at time.Time) error {
	const q = `UPDATE payments SET status = ?, reference = COALESCE(NULLIF(?, ''), reference), updated_at = ?
		WHERE id = ? AND status = ?`
	res, err := r.db.ExecContext(ctx, q, string(to), reference, at.UTC(), id, string(from))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrStaleStatus
	}
	return nil
}
