// Package wsevents carries event channels over a WebSocket. The Hub runs in
// the backend and fans every published frame out to connected clients; the
// Client runs in the companion and demultiplexes frames to listeners.
package wsevents

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"nhooyr.io/websocket"
)

// Frame is one published event.
type Frame struct {
	Channel string          `json:"channel"`
	Payload json.RawMessage `json:"payload"`
}

const (
	writeWait      = 10 * time.Second
	sendBuffer     = 256
	maxMessageSize = 1 << 20
)

type HubOptions struct {
	OriginPatterns []string
}

// Hub is an ingress Publisher that serves /events.
type Hub struct {
	opts HubOptions

	mu      sync.Mutex
	clients map[*hubClient]struct{}
	closed  bool
}

func NewHub(opts HubOptions) *Hub {
	return &Hub{opts: opts, clients: make(map[*hubClient]struct{})}
}

type hubClient struct {
	send chan []byte
}

// Publish queues the frame for every client. A client whose buffer is full
// misses the frame.
func (h *Hub) Publish(_ context.Context, channel string, payload []byte) error {
	data, err := encodeFrame(channel, payload)
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			slog.Warn("wsevents: client buffer full, dropping frame", "channel", channel)
		}
	}
	return nil
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.opts.OriginPatterns})
	if err != nil {
		slog.Warn("wsevents: accept failed", "err", err)
		return
	}
	c := &hubClient{send: make(chan []byte, sendBuffer)}
	if !h.register(c) {
		_ = conn.Close(websocket.StatusGoingAway, "shutting down")
		return
	}
	defer h.unregister(c)
	slog.Info("wsevents: client connected", "remote", r.RemoteAddr)

	// Clients never send frames; CloseRead handles control frames and
	// cancels ctx when the peer goes away.
	ctx := conn.CloseRead(r.Context())
	for {
		select {
		case <-ctx.Done():
			slog.Info("wsevents: client disconnected", "remote", r.RemoteAddr)
			return
		case data, ok := <-c.send:
			if !ok {
				_ = conn.Close(websocket.StatusGoingAway, "shutting down")
				return
			}
			wctx, cancel := context.WithTimeout(ctx, writeWait)
			err := conn.Write(wctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				slog.Debug("wsevents: write failed", "err", err)
				return
			}
		}
	}
}

// Close disconnects every client and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
}

func (h *Hub) register(c *hubClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

func (h *Hub) unregister(c *hubClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

func encodeFrame(channel string, payload []byte) ([]byte, error) {
	raw := json.RawMessage(payload)
	if len(payload) == 0 {
		raw = json.RawMessage("null")
	} else if !json.Valid(payload) {
		quoted, err := json.Marshal(string(payload))
		if err != nil {
			return nil, err
		}
		raw = quoted
	}
	return json.Marshal(Frame{Channel: channel, Payload: raw})
}
