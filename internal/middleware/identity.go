package middleware

// identity.go resolves who is calling for keying purposes.  Operators
// are identified by their JWT subject; anonymous checkout traffic by the
// X-Session-ID header when the client sends one.

import "github.com/labstack/echo/v4"

// HeaderSessionID optionally carries the checkout session id.
const HeaderSessionID = "X-Session-ID"

// requester returns "op:<id>", "s:<session>" or "anon".
func requester(c echo.Context) string {
	if id := OperatorID(c); id != "" {
		return "op:" + id
	}
	if s := c.Request().Header.Get(HeaderSessionID); s != "" && len(s) <= 64 {
		return "s:" + s
	}
	return "anon"
}

// OperatorID returns the authenticated operator's id, or "".
func OperatorID(c echo.Context) string {
	if v, ok := c.Get(ContextOperatorID).(string); ok {
		return v
	}
	return ""
}
