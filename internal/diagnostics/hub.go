// Package diagnostics provides a read-only operator-facing view into a
// running mdnode: a websocket live-tail of routing/control events. The
// HTTP health endpoint is served by cmd/mdnode, not by this package. It
// is not part of the MessageDirector wire
// protocol — NetworkParticipant and Link never touch this package.
//
// The event hub's register/unregister/broadcast channel loop is modeled
// on go-server/pkg/websocket/hub.go, trimmed down to fan-out only (no
// inbound client messages, since this is a read-only tap).
package diagnostics

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Event is one line of the operator live-tail stream.
type Event struct {
	Time    time.Time `json:"time"`
	Kind    string    `json:"kind"`
	Detail  string    `json:"detail,omitempty"`
	Channel uint64    `json:"channel,omitempty"`
}

// Hub fans Events out to every connected admin websocket client.
type Hub struct {
	logger *zap.Logger

	mu      sync.Mutex
	clients map[*client]struct{}

	events chan Event
}

type client struct {
	conn *websocket.Conn
	send chan Event
}

// NewHub constructs a Hub. Call Run to start its event loop.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		logger:  logger,
		clients: make(map[*client]struct{}),
		events:  make(chan Event, 1024),
	}
}

// Publish enqueues an event for broadcast. Non-blocking: a full queue
// drops the event rather than stalling the caller (always the director,
// which must never block on diagnostics).
func (h *Hub) Publish(e Event) {
	e.Time = e.Time.UTC()
	select {
	case h.events <- e:
	default:
	}
}

// PublishEvent implements director.EventSink, letting the director
// report activity without importing this package.
func (h *Hub) PublishEvent(kind, detail string, ch uint64) {
	h.Publish(Event{Kind: kind, Detail: detail, Channel: ch})
}

// Run drains the event queue and fans each event out until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case e := <-h.events:
			h.broadcast(e)
		}
	}
}

func (h *Hub) broadcast(e Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- e:
		default:
			// slow consumer: drop rather than back-pressure the hub
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.send)
		_ = c.conn.Close()
	}
	h.clients = make(map[*client]struct{})
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ServeWS upgrades the request to a websocket and streams events to it
// until the client disconnects. The stream is one-directional: any
// message the client sends is ignored (read only to detect close).
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("diagnostics websocket upgrade failed", zap.Error(err))
		return
	}

	c := &client{conn: conn, send: make(chan Event, 64)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	go h.writePump(c)
	h.readPump(c)
}

func (h *Hub) readPump(c *client) {
	defer h.remove(c)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	for e := range c.send {
		if err := c.conn.WriteJSON(e); err != nil {
			return
		}
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	_ = c.conn.Close()
}
