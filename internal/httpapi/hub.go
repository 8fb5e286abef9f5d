package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Maximum time we'll wait for a write we initiate to complete. Clients
// that cannot keep up are dropped rather than allowed to stall the hub.
const feedWriteTimeout = 10 * time.Second

// Pings keep idle feed connections alive through proxies. A pong must
// arrive within feedPongTimeout or the read loop gives up.
const (
	feedPingInterval = 30 * time.Second
	feedPongTimeout  = 60 * time.Second
)

// feedSendBuffer bounds per-client queueing. Scans emit a handful of
// events each, so a client this far behind is not reading at all.
const feedSendBuffer = 64

var feedUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true // non-browser clients
		}
		return strings.Contains(origin, "localhost") || strings.Contains(origin, "127.0.0.1")
	},
}

// Hub fans events out to connected websocket feed clients. Broadcast
// never blocks: a client whose send buffer is full gets disconnected.
// The sink layer's FeedSink publishes through it.
type Hub struct {
	mu      sync.Mutex
	clients map[*feedClient]struct{}
}

type feedClient struct {
	conn *websocket.Conn
	send chan []byte
}

// NewHub creates an empty hub. It is usable immediately; clients attach
// through ServeHTTP.
func NewHub() *Hub {
	return &Hub{clients: make(map[*feedClient]struct{})}
}

// ClientCount reports the number of connected feed clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Broadcast marshals event once and queues it to every connected
// client.
func (h *Hub) Broadcast(event any) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Warn().Err(err).Msg("Dropping unmarshalable feed event")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			delete(h.clients, c)
			close(c.send)
		}
	}
}

// Close disconnects every client. Called on server shutdown.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

// drop removes the client and closes its send channel exactly once.
// Broadcast may already have evicted it; membership is the guard.
func (h *Hub) drop(c *feedClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// ServeHTTP upgrades the request and streams broadcasts until the
// client disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := feedUpgrader.Upgrade(w, r, nil)
	if err != nil {
		// A response has already been sent to the client by the upgrader.
		log.Warn().Err(err).Str("client", r.RemoteAddr).Msg("Websocket upgrade failed")
		return
	}

	c := &feedClient{conn: conn, send: make(chan []byte, feedSendBuffer)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	log.Debug().Str("client", r.RemoteAddr).Msg("Feed client connected")

	go c.writeLoop()
	c.readLoop()

	h.drop(c)
	log.Debug().Str("client", r.RemoteAddr).Msg("Feed client disconnected")
}

// writeLoop drains the send channel onto the connection and pings on an
// interval. Closing the send channel ends the loop and the connection.
func (c *feedClient) writeLoop() {
	ticker := time.NewTicker(feedPingInterval)
	defer ticker.Stop()
	defer c.conn.Close()

	for {
		select {
		case data, ok := <-c.send:
			deadline := time.Now().Add(feedWriteTimeout)
			if !ok {
				// Hub dropped us; tell the peer before hanging up.
				_ = c.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
				return
			}
			c.conn.SetWriteDeadline(deadline)
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(feedWriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readLoop discards inbound frames. The feed is one-way; reading only
// services pong handling and disconnect detection.
func (c *feedClient) readLoop() {
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(feedPongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(feedPongTimeout))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
