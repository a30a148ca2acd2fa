package scan

import (
	"github.com/labstack/echo/v4"
	"github.com/tomebox/tomebox/pkg/auth"
)

// RegisterRoutesWithGroup registers the force-scan route on a
// pre-configured group. Scans mutate the library, so they're
// admin-only.
func RegisterRoutesWithGroup(g *echo.Group, scanner *Scanner, authMiddleware *auth.Middleware) {
	h := &handler{scanner: scanner}

	g.POST("", h.run, authMiddleware.RequireAdmin())
}
