package auth

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
)

const claimsKey = "auth.claims"

// RequireAdmin rejects requests without a valid admin session. The handler
// never runs for rejected requests.
func RequireAdmin(sessions *Sessions) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			claims, err := sessions.Verify(sessions.SessionToken(c.Request()))
			if err != nil {
				slog.Warn("unauthorized admin request",
					"path", c.Request().URL.Path,
					"ip", c.RealIP(),
				)
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
			}
			c.Set(claimsKey, claims)
			return next(c)
		}
	}
}

// ClaimsFrom returns the claims stored by RequireAdmin, or nil.
func ClaimsFrom(c echo.Context) *Claims {
	claims, _ := c.Get(claimsKey).(*Claims)
	return claims
}
