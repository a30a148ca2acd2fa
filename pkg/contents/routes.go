package contents

import (
	"github.com/labstack/echo/v4"
	"github.com/tomebox/tomebox/pkg/auth"
	"github.com/uptrace/bun"
)

// RegisterRoutesWithGroup registers content routes on a pre-configured
// group.
func RegisterRoutesWithGroup(g *echo.Group, db *bun.DB, authMiddleware *auth.Middleware) {
	contentService := NewService(db)

	h := &handler{contentService: contentService}

	g.GET("", h.list)
	g.GET("/:id", h.retrieve)
	g.GET("/:id/cover", h.cover)
	g.PUT("/:id/visibility", h.updateVisibility, authMiddleware.RequireAdmin())
}

// RegisterQuarantineRoutesWithGroup registers the review-queue routes.
// The whole queue is admin-only.
func RegisterQuarantineRoutesWithGroup(g *echo.Group, db *bun.DB, authMiddleware *auth.Middleware) {
	contentService := NewService(db)

	h := &handler{contentService: contentService}

	g.GET("", h.listQuarantine, authMiddleware.RequireAdmin())
	g.GET("/count", h.quarantineCount, authMiddleware.RequireAdmin())
}
