package events

import (
	"github.com/labstack/echo/v4"
)

// RegisterRoutesWithGroup registers the event stream endpoint on a
// pre-configured group.
func RegisterRoutesWithGroup(g *echo.Group, hub *Hub) {
	h := &handler{hub: hub}

	g.GET("", h.subscribe)
}
