// Package events fans pipeline lifecycle events out to connected
// WebSocket clients. Delivery is best effort: slow or dead subscribers
// are dropped, never waited on.
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/robinjoseph08/golib/logger"
	"github.com/segmentio/encoding/json"
)

// Event types emitted by the pipeline.
const (
	TypeFileDetected        = "file.detected"
	TypeScanCompleted       = "scan.completed"
	TypeEnrichmentStarted   = "enrichment.started"
	TypeEnrichmentProgress  = "enrichment.progress"
	TypeEnrichmentCompleted = "enrichment.completed"
	TypeEnrichmentFailed    = "enrichment.failed"
	TypeContentUpdated      = "content.updated"
)

const (
	pingInterval  = 30 * time.Second
	pongWait      = pingInterval * 2
	writeDeadline = 5 * time.Second
)

// Envelope is the wire format for every broadcast message.
type Envelope struct {
	Type      string    `json:"type"`
	Payload   any       `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

type Hub struct {
	log logger.Logger

	mu          sync.Mutex
	subscribers map[string]*websocket.Conn
	closed      bool

	done   chan struct{}
	closer sync.Once
}

func NewHub() *Hub {
	h := &Hub{
		log:         logger.New(),
		subscribers: map[string]*websocket.Conn{},
		done:        make(chan struct{}),
	}
	go h.pingLoop()
	return h
}

// Add registers a connection and returns its subscriber ID. The caller
// owns the read side; the hub owns all writes.
func (h *Hub) Add(conn *websocket.Conn) string {
	id := uuid.New().String()

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		_ = conn.Close()
		return id
	}
	h.subscribers[id] = conn

	h.log.Info("event subscriber connected", logger.Data{"subscriber_id": id, "subscribers": len(h.subscribers)})
	return id
}

// Remove drops a subscriber and closes its connection. Removing an
// unknown ID is a no-op.
func (h *Hub) Remove(id string) {
	h.mu.Lock()
	conn, ok := h.subscribers[id]
	delete(h.subscribers, id)
	h.mu.Unlock()

	if ok {
		_ = conn.Close()
		h.log.Info("event subscriber disconnected", logger.Data{"subscriber_id": id})
	}
}

// Broadcast wraps the payload in an envelope and writes it to every
// subscriber. Subscribers whose write fails are dropped. With no
// subscribers this is a cheap no-op.
func (h *Hub) Broadcast(eventType string, payload any) {
	b, err := json.Marshal(Envelope{
		Type:      eventType,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		h.log.Err(err).Error("event marshal error", logger.Data{"type": eventType})
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for id, conn := range h.subscribers {
		_ = conn.SetWriteDeadline(time.Now().Add(writeDeadline))
		if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
			_ = conn.Close()
			delete(h.subscribers, id)
		}
	}
}

// SubscriberCount reports how many connections are currently attached.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}

// pingLoop keeps liveness state fresh so half-open connections get
// reaped instead of accumulating.
func (h *Hub) pingLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.done:
			return
		case <-ticker.C:
			h.mu.Lock()
			for id, conn := range h.subscribers {
				_ = conn.SetWriteDeadline(time.Now().Add(writeDeadline))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					_ = conn.Close()
					delete(h.subscribers, id)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Close disconnects all subscribers and stops the ping loop. Broadcasts
// after Close are no-ops.
func (h *Hub) Close() {
	h.closer.Do(func() {
		close(h.done)

		h.mu.Lock()
		defer h.mu.Unlock()
		h.closed = true
		for id, conn := range h.subscribers {
			_ = conn.Close()
			delete(h.subscribers, id)
		}
	})
}
