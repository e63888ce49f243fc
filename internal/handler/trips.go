package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/bus-seat-booking/internal/model"
	"github.com/iliyamo/bus-seat-booking/internal/seatlock"
)

// TripHandler serves seat availability and seat selection for a trip.
// Customers are anonymous; the sessionId in the body identifies the
// checkout that owns the holds.
type TripHandler struct {
	Seats *seatlock.Manager
	Now   func() time.Time
}

// NewTripHandler panics when the manager is nil.
func NewTripHandler(seats *seatlock.Manager) *TripHandler {
	if seats == nil {
		panic("nil seat lock manager passed to NewTripHandler")
	}
	return &TripHandler{Seats: seats, Now: time.Now}
}

type tripView struct {
	ID            string           `json:"tripId"`
	TotalSeats    int              `json:"totalSeats"`
	BasePrice     int64            `json:"basePrice"`
	DepartureTime time.Time        `json:"departureTime"`
	Status        model.TripStatus `json:"status"`
	Bookable      bool             `json:"bookable"`
}

// GetTrip handles GET /v1/trips/:id.
func (h *TripHandler) GetTrip(c echo.Context) error {
	trip, err := h.Seats.EnsureTrip(c.Request().Context(), c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, tripView{
		ID:            trip.ID,
		TotalSeats:    trip.TotalSeats,
		BasePrice:     trip.BasePrice,
		DepartureTime: trip.DepartureTime,
		Status:        trip.Status,
		Bookable:      trip.Bookable(h.Now()),
	})
}

// GetSeats handles GET /v1/trips/:id/seats.  Held seats whose hold has
// lapsed are reported free.
func (h *TripHandler) GetSeats(c echo.Context) error {
	view, err := h.Seats.SeatMap(c.Request().Context(), c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, view)
}

type heldSeat struct {
	SeatNumber string    `json:"seatNumber"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

// GetHolds handles GET /v1/trips/:id/holds?sessionId=.  It lets a
// checkout page restore its selection after a reload.
func (h *TripHandler) GetHolds(c echo.Context) error {
	session := strings.TrimSpace(c.QueryParam("sessionId"))
	holds, err := h.Seats.HeldBy(c.Request().Context(), c.Param("id"), session)
	if err != nil {
		return respondError(c, err)
	}
	out := make([]heldSeat, 0, len(holds))
	for _, hold := range holds {
		out = append(out, heldSeat{SeatNumber: hold.SeatLabel, ExpiresAt: hold.ExpiresAt})
	}
	return c.JSON(http.StatusOK, echo.Map{"tripId": c.Param("id"), "sessionId": session, "holds": out})
}

type seatSelection struct {
	SeatNumbers []string `json:"seatNumbers"`
	SessionID   string   `json:"sessionId"`
}

func (h *TripHandler) bindSelection(c echo.Context) (seatSelection, error) {
	var body seatSelection
	if err := c.Bind(&body); err != nil {
		return body, err
	}
	body.SessionID = strings.TrimSpace(body.SessionID)
	return body, nil
}

// LockSeats handles POST /v1/trips/:id/lock-seats.  Either every seat is
// granted or the response lists the seats that were unavailable.
func (h *TripHandler) LockSeats(c echo.Context) error {
	body, err := h.bindSelection(c)
	if err != nil {
		return badRequest(c, "invalid request body")
	}
	grant, err := h.Seats.LockSeats(c.Request().Context(), c.Param("id"), body.SeatNumbers, body.SessionID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, grant)
}

// ReplaceSeats handles POST /v1/trips/:id/replace-seats.  The session's
// current holds are swapped for the requested seats, or kept as they
// were when any requested seat is unavailable.
func (h *TripHandler) ReplaceSeats(c echo.Context) error {
	body, err := h.bindSelection(c)
	if err != nil {
		return badRequest(c, "invalid request body")
	}
	grant, err := h.Seats.ReplaceSeats(c.Request().Context(), c.Param("id"), body.SeatNumbers, body.SessionID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, grant)
}

// ReleaseSeats handles POST /v1/trips/:id/release-seats.  With
// seatNumbers only those seats are released, otherwise every hold of
// the session on the trip.
func (h *TripHandler) ReleaseSeats(c echo.Context) error {
	body, err := h.bindSelection(c)
	if err != nil {
		return badRequest(c, "invalid request body")
	}
	ctx := c.Request().Context()
	tripID := c.Param("id")
	if len(body.SeatNumbers) > 0 {
		if err := h.Seats.ReleaseLabels(ctx, tripID, body.SeatNumbers, body.SessionID); err != nil {
			return respondError(c, err)
		}
		return c.JSON(http.StatusOK, echo.Map{"released": body.SeatNumbers})
	}
	released, err := h.Seats.ReleaseSeats(ctx, tripID, body.SessionID)
	if err != nil {
		return respondError(c, err)
	}
	if released == nil {
		released = []string{}
	}
	return c.JSON(http.StatusOK, echo.Map{"released": released})
}
