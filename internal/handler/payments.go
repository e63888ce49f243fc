package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/bus-seat-booking/internal/booking"
	"github.com/iliyamo/bus-seat-booking/internal/payment"
)

// PaymentHandler starts payments and receives gateway callbacks.
type PaymentHandler struct {
	Workflow *booking.Workflow
}

// NewPaymentHandler panics when the workflow is nil.
func NewPaymentHandler(wf *booking.Workflow) *PaymentHandler {
	if wf == nil {
		panic("nil workflow passed to NewPaymentHandler")
	}
	return &PaymentHandler{Workflow: wf}
}

// Initiate handles POST /v1/payments.  Cash on departure answers with a
// succeeded payment; gateway methods answer with the redirect URL.
func (h *PaymentHandler) Initiate(c echo.Context) error {
	var body struct {
		BookingID string `json:"bookingId"`
		Method    string `json:"method"`
	}
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	if strings.TrimSpace(body.BookingID) == "" {
		return badRequest(c, "bookingId is required")
	}
	res, err := h.Workflow.InitiatePayment(c.Request().Context(), strings.TrimSpace(body.BookingID), body.Method)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

// Callback handles POST /v1/payments/callback from the gateway.  The
// body must carry a valid signature.  A success that arrives after the
// payment window is answered with 410 and the expired booking.
func (h *PaymentHandler) Callback(c echo.Context) error {
	var cb payment.Callback
	if err := c.Bind(&cb); err != nil {
		return badRequest(c, "invalid request body")
	}
	if cb.PaymentID == "" || cb.BookingID == "" || !cb.Outcome.Valid() {
		return badRequest(c, "paymentId, bookingId and a known status are required")
	}
	b, err := h.Workflow.HandleCallback(c.Request().Context(), cb)
	if errors.Is(err, booking.ErrPaymentTimedOut) && b != nil {
		return c.JSON(http.StatusGone, echo.Map{"error": "payment timed out", "bookingId": b.ID, "status": b.Status})
	}
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"bookingId": b.ID, "status": b.Status})
}
