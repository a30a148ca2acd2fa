package metadata

import (
	"github.com/labstack/echo/v4"
	"github.com/tomebox/tomebox/pkg/auth"
)

// RegisterRoutesWithGroup registers the catalog routes on the metadata
// group and the candidate-apply route on the contents group.
func RegisterRoutesWithGroup(metadataGroup, contentsGroup *echo.Group, svc *Service, authMiddleware *auth.Middleware) {
	h := &handler{metadataService: svc}

	metadataGroup.GET("/sources", h.listSources)
	metadataGroup.GET("/search", h.search, authMiddleware.RequireAdmin())

	contentsGroup.POST("/:id/metadata", h.apply, authMiddleware.RequireAdmin())
}
