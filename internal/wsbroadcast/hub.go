// Package wsbroadcast fans event bus notifications out to WebSocket
// clients subscribed to the UI's live-update stream.
package wsbroadcast

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"knowledgebase/internal/eventbus"
	"knowledgebase/internal/logging"
)

// Frame is the JSON envelope written to each WebSocket client: a "type"
// field selecting the payload schema, plus a "path" field and
// event-specific fields folded in via Payload.
type Frame struct {
	Type      string      `json:"type"`
	Path      string      `json:"path,omitempty"`
	Provider  string      `json:"provider,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload,omitempty"`
}

// Client wraps one accepted WebSocket connection.
type Client struct {
	ID     string
	conn   *websocket.Conn
	send   chan Frame
	hub    *Hub
	mu     sync.Mutex
	closed bool
}

// SafeClose closes the client's send channel exactly once.
func (c *Client) SafeClose() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		close(c.send)
		c.closed = true
	}
}

// Hub registers clients and broadcasts frames translated from bus events.
type Hub struct {
	bus    *eventbus.Bus
	logger logging.Logger

	register   chan *Client
	unregister chan *Client

	mu      sync.RWMutex
	clients map[*Client]bool

	pingInterval time.Duration
}

// New creates a Hub that will pull events from bus once Run is called.
func New(bus *eventbus.Bus, pingInterval time.Duration, logger logging.Logger) *Hub {
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	return &Hub{
		bus:          bus,
		logger:       logger.WithComponent("wsbroadcast"),
		register:     make(chan *Client),
		unregister:   make(chan *Client),
		clients:      make(map[*Client]bool),
		pingInterval: pingInterval,
	}
}

// NewClient wraps conn for registration with the hub.
func (h *Hub) NewClient(conn *websocket.Conn) *Client {
	return &Client{
		ID:   uuid.New().String(),
		conn: conn,
		send: make(chan Frame, 256),
		hub:  h,
	}
}

// Run is the hub's single-goroutine event loop: it owns client registration
// and is the only writer to each client's send channel, subscribes to the
// bus for the duration, and exits when ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	sub := h.bus.Subscribe()
	defer h.bus.Unsubscribe(sub.ID)

	defer func() {
		h.mu.Lock()
		for c := range h.clients {
			c.SafeClose()
			_ = c.conn.Close()
		}
		h.clients = make(map[*Client]bool)
		h.mu.Unlock()
	}()

	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
			h.logger.Debug("websocket client registered", "client_id", c.ID, "total", len(h.clients))

		case c := <-h.unregister:
			h.removeClient(c)

		case evt, ok := <-sub.Events():
			if !ok {
				return
			}
			h.broadcast(frameFromEvent(evt))

		case <-ctx.Done():
			return
		}
	}
}

// RegisterClient admits a new client to the hub.
func (h *Hub) RegisterClient(c *Client) { h.register <- c }

// UnregisterClient evicts a client from the hub.
func (h *Hub) UnregisterClient(c *Client) { h.unregister <- c }

// ClientCount reports the number of currently connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		c.SafeClose()
		_ = c.conn.Close()
		h.logger.Debug("websocket client disconnected", "client_id", c.ID, "total", len(h.clients))
	}
}

func (h *Hub) broadcast(f Frame) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- f:
		default:
			// Slow consumer: drop it rather than block the hub loop, mirroring
			// the bus's own lossy-subscriber policy.
			go h.UnregisterClient(c)
		}
	}
}

func frameFromEvent(evt eventbus.Event) Frame {
	typ := string(evt.Topic)
	if evt.Topic == eventbus.TopicProviderConnected && evt.Provider != "" {
		// The wire vocabulary names the provider: "github_connected",
		// "google_drive_connected", ...
		typ = evt.Provider + "_connected"
	}
	return Frame{
		Type:      typ,
		Path:      evt.Path,
		Provider:  evt.Provider,
		Timestamp: evt.Timestamp,
		Payload:   evt.Payload,
	}
}

// WritePump pumps frames from the hub to the connection, plus a periodic
// ping so idle connections are detected.
func (c *Client) WritePump(ctx context.Context) {
	ticker := time.NewTicker(c.hub.pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case f, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(f); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			// Control ping keeps the read deadline alive via the peer's
			// automatic pong; the JSON frame is the application-level
			// keepalive clients can observe.
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
			ping := Frame{Type: string(eventbus.TopicPing), Timestamp: time.Now()}
			if err := c.conn.WriteJSON(ping); err != nil {
				return
			}

		case <-ctx.Done():
			return
		}
	}
}

// ReadPump discards client->server traffic (this stream is read-only) while
// keeping the read deadline alive via pong handling.
func (c *Client) ReadPump(ctx context.Context) {
	defer func() {
		c.hub.unregister <- c
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}
