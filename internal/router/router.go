// Package router wires handlers and middleware to URL paths.
package router

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/iliyamo/bus-seat-booking/internal/handler"
	"github.com/iliyamo/bus-seat-booking/internal/middleware"
)

// PublicMiddleware groups the Redis-backed middlewares of the public API.
// Nil entries are skipped.
type PublicMiddleware struct {
	RateLimit   echo.MiddlewareFunc
	Cache       echo.MiddlewareFunc
	Idempotency echo.MiddlewareFunc
}

func use(mws ...echo.MiddlewareFunc) []echo.MiddlewareFunc {
	out := make([]echo.MiddlewareFunc, 0, len(mws))
	for _, m := range mws {
		if m != nil {
			out = append(out, m)
		}
	}
	return out
}

// RegisterRoutes registers infrastructure endpoints: the health check
// for load balancers and the Prometheus scrape endpoint.
func RegisterRoutes(e *echo.Echo, h *handler.HealthHandler) {
	e.GET("/healthz", h.Health)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}

// RegisterPublic registers the anonymous booking API under /v1.  Every
// route is rate limited; trip summaries are cached and booking creation
// honours Idempotency-Key.  Seat availability is never cached.
func RegisterPublic(e *echo.Echo, t *handler.TripHandler, b *handler.BookingHandler, p *handler.PaymentHandler, mw PublicMiddleware) {
	g := e.Group("/v1", use(mw.RateLimit)...)

	g.GET("/trips/:id", t.GetTrip, use(mw.Cache)...)
	g.GET("/trips/:id/seats", t.GetSeats)
	g.GET("/trips/:id/holds", t.GetHolds)
	g.POST("/trips/:id/lock-seats", t.LockSeats)
	g.POST("/trips/:id/replace-seats", t.ReplaceSeats)
	g.POST("/trips/:id/release-seats", t.ReleaseSeats)

	g.POST("/bookings", b.Create, use(mw.Idempotency)...)
	g.GET("/bookings/:id", b.Get)
	g.POST("/bookings/:id/cancel", b.Cancel)

	g.POST("/payments", p.Initiate, use(mw.Idempotency)...)
	g.POST("/payments/callback", p.Callback)
}

// RegisterOperator registers back-office routes.  They require a valid
// access token with the OPERATOR or ADMIN role.
func RegisterOperator(e *echo.Echo, o *handler.OperatorHandler, jwtSecret string) {
	g := e.Group(
		"/v1/operator",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(middleware.RoleOperator, middleware.RoleAdmin),
	)
	g.GET("/trips/:id/bookings", o.ListTripBookings)
	g.POST("/bookings/:id/cancel", o.CancelBooking)
}
