package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/iliyamo/bus-seat-booking/internal/model"
)

// BookingRepo persists bookings and their seat/passenger rows.  Seats are
// stored in booking_seats in booking order (position column).  Status
// changes go through TransitionStatus, a conditional update that only
// succeeds when the stored status still matches the caller's view.
type BookingRepo struct {
	db *sql.DB
}

// NewBookingRepo returns a BookingRepo bound to db.
func NewBookingRepo(db *sql.DB) *BookingRepo { return &BookingRepo{db: db} }

const bookingColumns = `b.id, b.trip_id, b.session_id, b.contact_name, b.contact_email, b.contact_phone,
	b.voucher_code, b.subtotal, b.discount, b.total_amount, b.refund_amount, b.status,
	b.payment_deadline, b.created_at, b.updated_at`

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanBooking(s rowScanner) (*model.Booking, error) {
	var b model.Booking
	var voucher sql.NullString
	var status string
	err := s.Scan(&b.ID, &b.TripID, &b.SessionID, &b.Contact.Name, &b.Contact.Email, &b.Contact.Phone,
		&voucher, &b.Subtotal, &b.Discount, &b.TotalAmount, &b.RefundAmount, &status,
		&b.PaymentDeadline, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if voucher.Valid {
		b.VoucherCode = voucher.String
	}
	b.Status = model.BookingStatus(status)
	b.PaymentDeadline = b.PaymentDeadline.UTC()
	b.CreatedAt = b.CreatedAt.UTC()
	b.UpdatedAt = b.UpdatedAt.UTC()
	return &b, nil
}

// Create inserts the booking and its seats in one transaction.  A
// duplicate booking id yields ErrConflict.
func (r *BookingRepo) Create(ctx context.Context, b *model.Booking) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := r.CreateTx(ctx, tx, b); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := r.createSeatsTx(ctx, tx, b.ID, b.Seats); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// CreateTx inserts the bookings row within an existing transaction.  The
// caller must commit or roll back.
func (r *BookingRepo) CreateTx(ctx context.Context, tx *sql.Tx, b *model.Booking) error {
	const q = `INSERT INTO bookings (id, trip_id, session_id, contact_name, contact_email, contact_phone,
		voucher_code, subtotal, discount, total_amount, refund_amount, status, payment_deadline, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := tx.ExecContext(ctx, q, b.ID, b.TripID, b.SessionID, b.Contact.Name, b.Contact.Email, b.Contact.Phone,
		b.VoucherCode, b.Subtotal, b.Discount, b.TotalAmount, b.RefundAmount, string(b.Status),
		b.PaymentDeadline.UTC(), b.CreatedAt.UTC(), b.UpdatedAt.UTC())
	return mapDuplicate(err)
}

// createSeatsTx inserts all seat rows in a single statement.
func (r *BookingRepo) createSeatsTx(ctx context.Context, tx *sql.Tx, bookingID string, seats []model.BookingSeat) error {
	if len(seats) == 0 {
		return nil
	}
	var sb strings.Builder
	sb.WriteString(`INSERT INTO booking_seats (booking_id, position, seat_label, passenger_name, passenger_phone, passenger_id_number) VALUES `)
	args := make([]interface{}, 0, len(seats)*6)
	for i, s := range seats {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString("(?, ?, ?, ?, ?, ?)")
		args = append(args, bookingID, i, s.SeatLabel, s.Passenger.Name, s.Passenger.Phone, s.Passenger.IDNumber)
	}
	_, err := tx.ExecContext(ctx, sb.String(), args...)
	return mapDuplicate(err)
}

// GetByID loads a booking with its seats.
func (r *BookingRepo) GetByID(ctx context.Context, id string) (*model.Booking, error) {
	q := `SELECT ` + bookingColumns + ` FROM bookings b WHERE b.id = ?`
	b, err := scanBooking(r.db.QueryRowContext(ctx, q, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	list := []model.Booking{*b}
	if err := r.attachSeats(ctx, list); err != nil {
		return nil, err
	}
	return &list[0], nil
}

// TransitionStatus moves the booking from one status to another.  When
// the stored status is no longer from, ErrStaleStatus is returned and
// nothing changes; ErrNotFound when the booking does not exist.
func (r *BookingRepo) TransitionStatus(ctx context.Context, id string, from, to model.BookingStatus, refund int64, at time.Time) error {
	const q = `UPDATE bookings SET status = ?, refund_amount = ?, updated_at = ? WHERE id = ? AND status = ?`
	res, err := r.db.ExecContext(ctx, q, string(to), refund, at.UTC(), id, string(from))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var current string
	err = r.db.QueryRowContext(ctx, `SELECT status FROM bookings WHERE id = ?`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return ErrStaleStatus
}

// ListOverdue returns bookings still awaiting payment whose deadline
// passed before now, oldest deadline first.
func (r *BookingRepo) ListOverdue(ctx context.Context, now time.Time, limit int) ([]model.Booking, error) {
	q := `SELECT ` + bookingColumns + ` FROM bookings b
		WHERE b.status = ? AND b.payment_deadline < ?
		ORDER BY b.payment_deadline LIMIT ?`
	return r.list(ctx, q, string(model.BookingAwaitingPayment), now.UTC(), limit)
}

// ListDeparted returns confirmed bookings on trips that have left.  A
// trip counts as departed once it is in progress or completed, or its
// departure time has passed and it was not cancelled.
func (r *BookingRepo) ListDeparted(ctx context.Context, now time.Time, limit int) ([]model.Booking, error) {
	q := `SELECT ` + bookingColumns + ` FROM bookings b
		JOIN trips t ON t.id = b.trip_id
		WHERE b.status = ?
		  AND (t.status IN ('in_progress', 'completed') OR (t.status <> 'cancelled' AND t.departure_time <= ?))
		ORDER BY t.departure_time LIMIT ?`
	return r.list(ctx, q, string(model.BookingConfirmed), now.UTC(), limit)
}

// ListByTrip returns every booking of a trip, newest first.
func (r *BookingRepo) ListByTrip(ctx context.Context, tripID string) ([]model.Booking, error) {
	q := `SELECT ` + bookingColumns + ` FROM bookings b WHERE b.trip_id = ? ORDER BY b.created_at DESC`
	return r.list(ctx, q, tripID)
}

// ActiveSeatsByTrip maps seat label to booking id for every seat owned
// by a booking that is awaiting payment or confirmed.
func (r *BookingRepo) ActiveSeatsByTrip(ctx context.Context, tripID string) (map[string]string, error) {
	const q = `SELECT s.seat_label, s.booking_id FROM booking_seats s
		JOIN bookings b ON b.id = s.booking_id
		WHERE b.trip_id = ? AND b.status IN (?, ?)`
	rows, err := r.db.QueryContext(ctx, q, tripID, string(model.BookingAwaitingPayment), string(model.BookingConfirmed))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var label, id string
		if err := rows.Scan(&label, &id); err != nil {
			return nil, err
		}
		out[label] = id
	}
	return out, rows.Err()
}

func (r *BookingRepo) list(ctx context.Context, q string, args ...interface{}) ([]model.Booking, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	out := []model.Booking{}
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, *b)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := r.attachSeats(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

// attachSeats loads seat rows for all bookings with one IN query.
func (r *BookingRepo) attachSeats(ctx context.Context, bookings []model.Booking) error {
	if len(bookings) == 0 {
		return nil
	}
	index := make(map[string]int, len(bookings))
	args := make([]interface{}, 0, len(bookings))
	for i, b := range bookings {
		index[b.ID] = i
		args = append(args, b.ID)
	}
	q := `SELECT booking_id, seat_label, passenger_name, passenger_phone, passenger_id_number
		FROM booking_seats WHERE booking_id IN (?` + strings.Repeat(", ?", len(args)-1) + `)
		ORDER BY booking_id, position`
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		var s model.BookingSeat
		if err := rows.Scan(&id, &s.SeatLabel, &s.Passenger.Name, &s.Passenger.Phone, &s.Passenger.IDNumber); err != nil {
			return err
		}
		if i, ok := index[id]; ok {
			bookings[i].Seats = append(bookings[i].Seats, s)
		}
	}
	return rows.Err()
}

// mapDuplicate converts MySQL duplicate-key errors to ErrConflict.
func mapDuplicate(err error) error {
	var me *mysql.MySQLError
	if errors.As(err, &me) && me.Number == 1062 {
		return ErrConflict
	}
	return err
}
