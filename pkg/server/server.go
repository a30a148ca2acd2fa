// Package server assembles the HTTP surface: binder, middleware,
// error handling, and every route group.
package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/echo/v4/health"
	"github.com/robinjoseph08/golib/echo/v4/middleware/logger"
	"github.com/robinjoseph08/golib/echo/v4/middleware/recovery"
	"github.com/tomebox/tomebox/pkg/auth"
	"github.com/tomebox/tomebox/pkg/binder"
	"github.com/tomebox/tomebox/pkg/config"
	"github.com/tomebox/tomebox/pkg/contents"
	"github.com/tomebox/tomebox/pkg/errcodes"
	"github.com/tomebox/tomebox/pkg/events"
	"github.com/tomebox/tomebox/pkg/metadata"
	"github.com/tomebox/tomebox/pkg/scan"
	"github.com/uptrace/bun"
)

func New(cfg *config.Config, db *bun.DB, hub *events.Hub, metadataService *metadata.Service, scanner *scan.Scanner) (*http.Server, error) {
	e := echo.New()

	b, err := binder.New()
	if err != nil {
		return nil, errors.WithStack(err)
	}
	e.Binder = b

	e.Use(logger.Middleware())
	e.Use(recovery.Middleware())
	e.Use(middleware.CORS())

	health.RegisterRoutes(e)

	authService := auth.RegisterRoutes(e, db, cfg.JWTSecret)
	authMiddleware := auth.NewMiddleware(authService)

	contentsGroup := e.Group("/contents")
	contentsGroup.Use(authMiddleware.Authenticate)
	contents.RegisterRoutesWithGroup(contentsGroup, db, authMiddleware)

	quarantineGroup := e.Group("/quarantine")
	quarantineGroup.Use(authMiddleware.Authenticate)
	contents.RegisterQuarantineRoutesWithGroup(quarantineGroup, db, authMiddleware)

	metadataGroup := e.Group("/metadata")
	metadataGroup.Use(authMiddleware.Authenticate)
	metadata.RegisterRoutesWithGroup(metadataGroup, contentsGroup, metadataService, authMiddleware)

	scanGroup := e.Group("/scan")
	scanGroup.Use(authMiddleware.Authenticate)
	scan.RegisterRoutesWithGroup(scanGroup, scanner, authMiddleware)

	// The upgrade sits behind Authenticate so rejected clients get a
	// plain 401 before any WebSocket handshake happens.
	eventsGroup := e.Group("/events")
	eventsGroup.Use(authMiddleware.Authenticate)
	events.RegisterRoutesWithGroup(eventsGroup, hub)

	echo.NotFoundHandler = notFoundHandler
	e.HTTPErrorHandler = errcodes.NewHandler().Handle

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.ServerHost, cfg.ServerPort),
		Handler:           e,
		ReadHeaderTimeout: 3 * time.Second,
	}

	return srv, nil
}

func notFoundHandler(c echo.Context) error {
	c.SetPath("/:path")
	return errcodes.NotFound("Page")
}
