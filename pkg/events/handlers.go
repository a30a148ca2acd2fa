package events

import (
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	echologger "github.com/robinjoseph08/golib/echo/v4/middleware/logger"
	"github.com/robinjoseph08/golib/logger"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

type handler struct {
	hub *Hub
}

// subscribe upgrades the request and parks the connection on the hub
// until the client goes away. Authentication happens in middleware,
// before the upgrade, so rejected clients get a plain HTTP error.
func (h *handler) subscribe(c echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return errors.WithStack(err)
	}

	id := h.hub.Add(conn)
	defer h.hub.Remove(id)

	log := echologger.FromEchoContext(c).Data(logger.Data{"subscriber_id": id})
	log.Info("event stream opened")

	// Clients don't send application messages; the read loop exists to
	// process control frames and notice disconnects.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	log.Info("event stream closed")
	return nil
}
