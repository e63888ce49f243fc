package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/bus-seat-booking/internal/booking"
	"github.com/iliyamo/bus-seat-booking/internal/middleware"
)

// OperatorHandler serves back-office staff.  JWTAuth and RequireRole run
// before every method.
type OperatorHandler struct {
	Workflow *booking.Workflow
}

// NewOperatorHandler panics when the workflow is nil.
func NewOperatorHandler(wf *booking.Workflow) *OperatorHandler {
	if wf == nil {
		panic("nil workflow passed to NewOperatorHandler")
	}
	return &OperatorHandler{Workflow: wf}
}

// ListTripBookings handles GET /v1/operator/trips/:id/bookings.
func (h *OperatorHandler) ListTripBookings(c echo.Context) error {
	tripID := c.Param("id")
	list, err := h.Workflow.ListByTrip(c.Request().Context(), tripID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"tripId": tripID, "count": len(list), "bookings": list})
}

// CancelBooking handles POST /v1/operator/bookings/:id/cancel.  Staff
// may cancel any booking; the refund follows the same tiers as a
// customer cancellation.
func (h *OperatorHandler) CancelBooking(c echo.Context) error {
	op := middleware.OperatorID(c)
	if op == "" {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	b, err := h.Workflow.Cancel(c.Request().Context(), c.Param("id"), booking.Actor{Operator: op})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, b)
}
