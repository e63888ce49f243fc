package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/bus-seat-booking/internal/booking"
	"github.com/iliyamo/bus-seat-booking/internal/payment"
	"github.com/iliyamo/bus-seat-booking/internal/repository"
	"github.com/iliyamo/bus-seat-booking/internal/seatlock"
	"github.com/iliyamo/bus-seat-booking/internal/seatmap"
)

// respondError maps domain errors to HTTP responses.  Anything it does
// not recognise is logged and answered with 500.
func respondError(c echo.Context, err error) error {
	var (
		notHeld *booking.SeatNotHeldError
		invalid *booking.ValidationError
	)
	switch {
	case errors.As(err, &notHeld):
		return c.JSON(http.StatusConflict, echo.Map{"error": "seats not held by session", "seats": notHeld.Labels})
	case errors.Is(err, booking.ErrSeatNotHeld):
		return c.JSON(http.StatusConflict, echo.Map{"error": "seats not held by session"})
	case errors.Is(err, seatmap.ErrSeatUnavailable):
		labels := seatmap.UnavailableLabels(err)
		if labels == nil {
			labels = []string{}
		}
		return c.JSON(http.StatusConflict, echo.Map{"error": "seats unavailable", "unavailable": labels})
	case errors.Is(err, seatmap.ErrHoldExpired):
		return c.JSON(http.StatusConflict, echo.Map{"error": "hold expired"})
	case errors.Is(err, booking.ErrInvalidTransition), errors.Is(err, repository.ErrConflict):
		return c.JSON(http.StatusConflict, echo.Map{"error": "booking is not in a state that allows this"})
	case errors.Is(err, booking.ErrDeparted):
		return c.JSON(http.StatusConflict, echo.Map{"error": "trip already departed"})
	case errors.Is(err, booking.ErrTripNotBookable):
		return c.JSON(http.StatusConflict, echo.Map{"error": "trip is not open for booking"})
	case errors.Is(err, seatmap.ErrNotOwner):
		return c.JSON(http.StatusForbidden, echo.Map{"error": "not owner"})
	case errors.Is(err, booking.ErrBookingNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "booking not found"})
	case errors.Is(err, booking.ErrTripNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "trip not found"})
	case errors.Is(err, repository.ErrNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "not found"})
	case errors.As(err, &invalid):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": invalid.Error(), "field": invalid.Field})
	case errors.Is(err, booking.ErrInvalidVoucher):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid voucher"})
	case errors.Is(err, seatlock.ErrInvalidSession):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "sessionId must be a UUID"})
	case errors.Is(err, seatmap.ErrNoSeats):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "seatNumbers is required"})
	case errors.Is(err, seatmap.ErrUnknownSeat):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	case errors.Is(err, payment.ErrUnsupportedMethod):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "unsupported payment method"})
	case errors.Is(err, payment.ErrInvalidSignature):
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid callback"})
	case errors.Is(err, booking.ErrPaymentFailed):
		return c.JSON(http.StatusPaymentRequired, echo.Map{"error": "payment failed"})
	case errors.Is(err, booking.ErrPaymentTimedOut):
		return c.JSON(http.StatusGone, echo.Map{"error": "payment timed out"})
	}
	c.Logger().Errorf("%s %s: %v", c.Request().Method, c.Path(), err)
	return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, echo.Map{"error": msg})
}
