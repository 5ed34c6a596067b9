package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/chainpulse/chainpulse/internal/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	clientBuffer   = 8
	maxMessageSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Same policy as the REST CORS headers: any origin may subscribe.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// QuoteFetcher produces the payload broadcast on each refresh tick.
type QuoteFetcher func(ctx context.Context) (json.RawMessage, error)

// Hub fans refreshed quote batches out to websocket subscribers.
type Hub struct {
	fetch    QuoteFetcher
	interval time.Duration
	metrics  *metrics.Registry

	mu      sync.Mutex
	clients map[*client]struct{}

	cancel context.CancelFunc
	done   chan struct{}
}

type client struct {
	conn *websocket.Conn
	send chan json.RawMessage
}

// NewHub creates a quote stream hub.
func NewHub(fetch QuoteFetcher, interval time.Duration, reg *metrics.Registry) *Hub {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Hub{
		fetch:    fetch,
		interval: interval,
		metrics:  reg,
		clients:  make(map[*client]struct{}),
	}
}

// Start launches the refresh loop.
func (h *Hub) Start(ctx context.Context) {
	ctx, h.cancel = context.WithCancel(ctx)
	h.done = make(chan struct{})

	go func() {
		defer close(h.done)

		ticker := time.NewTicker(h.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				h.refresh(ctx)
			case <-ctx.Done():
				h.closeAll()
				return
			}
		}
	}()
}

// Stop cancels the refresh loop and disconnects all clients.
func (h *Hub) Stop() {
	if h.cancel != nil {
		h.cancel()
		<-h.done
	}
}

func (h *Hub) refresh(ctx context.Context) {
	h.mu.Lock()
	n := len(h.clients)
	h.mu.Unlock()
	if n == 0 {
		return
	}

	fetchCtx, cancel := context.WithTimeout(ctx, h.interval)
	payload, err := h.fetch(fetchCtx)
	cancel()
	if err != nil {
		log.Warn().Err(err).Msg("stream refresh failed")
		return
	}
	h.broadcast(payload)
}

func (h *Hub) broadcast(payload json.RawMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- payload:
		default:
			// Slow consumer: drop it rather than stall the hub.
			h.dropLocked(c)
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		h.dropLocked(c)
	}
}

func (h *Hub) dropLocked(c *client) {
	delete(h.clients, c)
	close(c.send)
	if h.metrics != nil {
		h.metrics.StreamClients.Set(float64(len(h.clients)))
	}
}

// ServeWS upgrades the request and registers the subscriber.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := &client{conn: conn, send: make(chan json.RawMessage, clientBuffer)}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	if h.metrics != nil {
		h.metrics.StreamClients.Set(float64(len(h.clients)))
	}
	h.mu.Unlock()

	log.Debug().Str("remote", conn.RemoteAddr().String()).Msg("stream client connected")

	go h.writePump(c)
	go h.readPump(c)
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards client messages; it exists to process control
// frames and detect disconnects.
func (h *Hub) readPump(c *client) {
	defer func() {
		h.mu.Lock()
		if _, ok := h.clients[c]; ok {
			h.dropLocked(c)
		}
		h.mu.Unlock()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
