package auth

import (
	"github.com/labstack/echo/v4"
	"github.com/tomebox/tomebox/pkg/errcodes"
	"github.com/tomebox/tomebox/pkg/models"
)

// Middleware provides authentication middleware.
type Middleware struct {
	authService *Service
}

func NewMiddleware(authService *Service) *Middleware {
	return &Middleware{
		authService: authService,
	}
}

// Authenticate extracts and validates the JWT from the cookie. If
// valid, it verifies the user is still active and stores the user on
// the echo context. If not authenticated, it returns 401 — before any
// handler (including the WebSocket upgrade) runs.
func (m *Middleware) Authenticate(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()

		cookie, err := c.Cookie(CookieName)
		if err != nil || cookie.Value == "" {
			return errcodes.Unauthorized("Authentication required")
		}

		claims, err := m.authService.ValidateToken(cookie.Value)
		if err != nil {
			return errcodes.Unauthorized("Invalid or expired token")
		}

		user, err := m.authService.GetUserByID(ctx, claims.UserID)
		if err != nil {
			return errcodes.Unauthorized("User not found or inactive")
		}

		c.Set("user_id", user.ID)
		c.Set("username", user.Username)
		c.Set("user", user)

		return next(c)
	}
}

// RequireAdmin returns middleware that rejects non-admin users. Must be
// used after Authenticate.
func (m *Middleware) RequireAdmin() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			user, ok := c.Get("user").(*models.User)
			if !ok {
				return errcodes.Unauthorized("Authentication required")
			}

			if !user.IsAdmin() {
				return errcodes.Forbidden("Administration")
			}

			return next(c)
		}
	}
}

// GetUserFromContext retrieves the user from the echo context.
func GetUserFromContext(c echo.Context) (*models.User, bool) {
	user, ok := c.Get("user").(*models.User)
	return user, ok
}
