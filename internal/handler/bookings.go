package handler

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/bus-seat-booking/internal/booking"
	"github.com/iliyamo/bus-seat-booking/internal/model"
)

// BookingHandler exposes checkout and self-service cancellation.
type BookingHandler struct {
	Workflow *booking.Workflow
}

// NewBookingHandler panics when the workflow is nil.
func NewBookingHandler(wf *booking.Workflow) *BookingHandler {
	if wf == nil {
		panic("nil workflow passed to NewBookingHandler")
	}
	return &BookingHandler{Workflow: wf}
}

type createBookingRequest struct {
	TripID      string              `json:"tripId"`
	SessionID   string              `json:"sessionId"`
	Seats       []model.BookingSeat `json:"seats"`
	Contact     model.ContactInfo   `json:"contactInfo"`
	VoucherCode string              `json:"voucherCode"`
}

// Create handles POST /v1/bookings.  The session must hold every listed
// seat; the booking comes back awaiting payment with its deadline.
func (h *BookingHandler) Create(c echo.Context) error {
	var body createBookingRequest
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	if strings.TrimSpace(body.TripID) == "" {
		return badRequest(c, "tripId is required")
	}
	b, err := h.Workflow.Create(c.Request().Context(), booking.CreateRequest{
		TripID:      strings.TrimSpace(body.TripID),
		SessionID:   strings.TrimSpace(body.SessionID),
		Seats:       body.Seats,
		Contact:     body.Contact,
		VoucherCode: strings.TrimSpace(body.VoucherCode),
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, b)
}

// sessionOf reads the checkout session from the query string or the
// X-Session-ID header.
func sessionOf(c echo.Context) string {
	if s := c.QueryParam("sessionId"); s != "" {
		return s
	}
	return c.Request().Header.Get("X-Session-ID")
}

// Get handles GET /v1/bookings/:id?sessionId=.  Only the session that
// created the booking can read it.
func (h *BookingHandler) Get(c echo.Context) error {
	session := sessionOf(c)
	if session == "" {
		return badRequest(c, "sessionId is required")
	}
	b, err := h.Workflow.GetForSession(c.Request().Context(), c.Param("id"), session)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, b)
}

// Cancel handles POST /v1/bookings/:id/cancel.
func (h *BookingHandler) Cancel(c echo.Context) error {
	var body struct {
		SessionID string `json:"sessionId"`
	}
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	if body.SessionID == "" {
		body.SessionID = sessionOf(c)
	}
	if body.SessionID == "" {
		return badRequest(c, "sessionId is required")
	}
	b, err := h.Workflow.Cancel(c.Request().Context(), c.Param("id"), booking.Actor{SessionID: body.SessionID})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, b)
}
