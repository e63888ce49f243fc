package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/bus-seat-booking/internal/model"
)

func TestPaymentGetByBooking(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	now := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery("FROM payments WHERE booking_id = ?").WithArgs("bk-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "booking_id", "method", "status", "amount", "reference", "redirect_url", "created_at", "updated_at"}).
			AddRow("pay-1", "bk-1", "card", "initiated", 200, "", "https://pay.example/r", now, now))

	p, err := NewPaymentRepo(db).GetByBooking(context.Background(), "bk-1")
	require.NoError(t, err)
	assert.Equal(t, model.PaymentInitiated, p.Status)
	assert.Equal(t, "https://pay.example/r", p.RedirectURL)
}

func TestPaymentUpdateStatusStale(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("UPDATE payments SET status").
		WithArgs("succeeded", "gw-77", sqlmock.AnyArg(), "pay-1", "initiated").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = NewPaymentRepo(db).UpdateStatus(context.Background(), "pay-1", model.PaymentInitiated, model.PaymentSucceeded, "gw-77", time.Now())
	assert.ErrorIs(t, err, ErrStaleStatus)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTripGetByID(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	dep := time.Date(2026, 5, 5, 7, 30, 0, 0, time.UTC)

	mock.ExpectQuery("FROM trips WHERE id = ?").WithArgs("trip-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "total_seats", "base_price", "departure_time", "status"}).
			AddRow("trip-1", 40, 150000, dep, "scheduled"))

	trip, err := NewTripRepo(db).GetByID(context.Background(), "trip-1")
	require.NoError(t, err)
	assert.Equal(t, 40, trip.TotalSeats)
	assert.Equal(t, int64(150000), trip.BasePrice)
	assert.Equal(t, model.TripScheduled, trip.Status)
	assert.True(t, trip.DepartureTime.Equal(dep))
}

func TestVoucherGetByCodeNormalizes(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("FROM vouchers WHERE code = ?").WithArgs("HEMAT10").
		WillReturnRows(sqlmock.NewRows([]string{"code", "discount", "valid_from", "valid_until", "is_active"}).
			AddRow("HEMAT10", 10000, nil, nil, true))

	v, err := NewVoucherRepo(db).GetByCode(context.Background(), " hemat10 ")
	require.NoError(t, err)
	assert.Equal(t, int64(10000), v.Discount)
	assert.True(t, v.ValidUntil.IsZero())
	assert.True(t, v.Active)
}
