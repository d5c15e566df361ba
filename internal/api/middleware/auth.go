package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/labstack/echo/v4"
	"github/chapool/go-custody/internal/api/httperrors"
	"github/chapool/go-custody/internal/auth"
)

// AdminTokenHeader carries the operator token for admin routes.
const AdminTokenHeader = "X-Admin-Token"

// UserFromHeader trusts the user id asserted by the upstream proxy in header
// and rejects requests without one.
func UserFromHeader(header string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			userID := strings.TrimSpace(c.Request().Header.Get(header))
			if userID == "" {
				return httperrors.ErrUnauthorized
			}

			ctx := auth.WithUser(c.Request().Context(), &auth.User{ID: userID, Role: auth.RoleUser})
			c.SetRequest(c.Request().WithContext(ctx))

			return next(c)
		}
	}
}

// AdminToken grants the admin role to requests presenting token. An empty
// token disables the routes behind it.
func AdminToken(token string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			presented := c.Request().Header.Get(AdminTokenHeader)
			if token == "" || subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
				return httperrors.ErrForbiddenAdmin
			}

			ctx := auth.WithUser(c.Request().Context(), &auth.User{ID: "admin", Role: auth.RoleAdmin})
			c.SetRequest(c.Request().WithContext(ctx))

			return next(c)
		}
	}
}
