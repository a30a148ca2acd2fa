package testgen

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"
	"github.com/tomebox/tomebox/pkg/events"
)

// SubscribeHub serves the hub over a test server and returns a
// connected subscriber, waiting until the hub has registered it.
func SubscribeHub(t *testing.T, hub *events.Hub) *websocket.Conn {
	t.Helper()

	e := echo.New()
	events.RegisterRoutesWithGroup(e.Group("/events"), hub)

	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/events"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })

	require.Eventually(t, func() bool {
		return hub.SubscriberCount() == 1
	}, 2*time.Second, 10*time.Millisecond)

	return conn
}

// ReadEventsUntil collects envelopes from the subscriber until one of
// the terminal types arrives. Fails the test if none shows up before
// the timeout.
func ReadEventsUntil(t *testing.T, conn *websocket.Conn, timeout time.Duration, terminal ...string) []events.Envelope {
	t.Helper()

	stop := map[string]bool{}
	for _, typ := range terminal {
		stop[typ] = true
	}

	deadline := time.Now().Add(timeout)
	seen := []events.Envelope{}
	for {
		require.NoError(t, conn.SetReadDeadline(deadline))
		_, msg, err := conn.ReadMessage()
		require.NoError(t, err, "no terminal event before the deadline; saw %d events", len(seen))

		envelope := events.Envelope{}
		require.NoError(t, json.Unmarshal(msg, &envelope))
		seen = append(seen, envelope)

		if stop[envelope.Type] {
			return seen
		}
	}
}

// CountEventTypes tallies envelopes by type.
func CountEventTypes(envelopes []events.Envelope) map[string]int {
	counts := map[string]int{}
	for _, envelope := range envelopes {
		counts[envelope.Type]++
	}
	return counts
}
