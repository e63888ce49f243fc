package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/bus-seat-booking/internal/utils"
)

// Context keys set by JWTAuth.
const (
	ContextOperatorID = "operator_id"
	ContextRole       = "role"
)

// JWTAuth returns an Echo middleware that validates a Bearer access token
// issued to back-office staff and stores the subject and role in the
// request context under ContextOperatorID and ContextRole.
func JWTAuth(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			auth := c.Request().Header.Get(echo.HeaderAuthorization)
			if !strings.HasPrefix(auth, "Bearer ") {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing bearer token"})
			}
			claims, err := utils.ParseAccessToken(secret, strings.TrimPrefix(auth, "Bearer "))
			if err != nil {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
			}
			c.Set(ContextOperatorID, claims.Subject)
			c.Set(ContextRole, claims.Role)
			return next(c)
		}
	}
}
