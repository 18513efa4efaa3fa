package wsevents

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
	"nhooyr.io/websocket"

	"github.com/GG-O-BP/chzpuri-streaming-assistant/internal/metrics"
)

const (
	defaultMinBackoff = time.Second
	defaultMaxBackoff = 60 * time.Second
)

type ClientOptions struct {
	MinBackoff time.Duration
	MaxBackoff time.Duration
	Metrics    *metrics.Engine
	// OnConnect runs after every successful dial.
	OnConnect func()
}

// Client is an ingress Transport fed by a Hub. Listeners run sequentially
// on the read goroutine in frame order. Serve keeps the connection up.
type Client struct {
	url  string
	opts ClientOptions

	connected atomic.Bool

	mu        sync.RWMutex
	nextID    int
	listeners map[string]map[int]func([]byte)
}

func NewClient(url string, opts ClientOptions) *Client {
	if opts.MinBackoff <= 0 {
		opts.MinBackoff = defaultMinBackoff
	}
	if opts.MaxBackoff < opts.MinBackoff {
		opts.MaxBackoff = defaultMaxBackoff
	}
	return &Client{url: url, opts: opts, listeners: make(map[string]map[int]func([]byte))}
}

func (c *Client) String() string { return "wsevents.Client(" + c.url + ")" }

// Connected reports whether the client currently holds a connection.
func (c *Client) Connected() bool { return c.connected.Load() }

func (c *Client) Listen(_ context.Context, channel string, fn func([]byte)) (func(), error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	id := c.nextID
	if c.listeners[channel] == nil {
		c.listeners[channel] = make(map[int]func([]byte))
	}
	c.listeners[channel][id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.listeners[channel], id)
			c.mu.Unlock()
		})
	}, nil
}

// Serve dials the hub and reads frames until ctx is done, reconnecting with
// exponential backoff.
func (c *Client) Serve(ctx context.Context) error {
	backoff := c.opts.MinBackoff
	for {
		conn, _, err := websocket.Dial(ctx, c.url, nil)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			slog.Warn("wsevents: dial failed", "url", c.url, "retry_in", backoff, "err", err)
			c.opts.Metrics.IncTransportReconnects("websocket")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > c.opts.MaxBackoff {
				backoff = c.opts.MaxBackoff
			}
			continue
		}

		backoff = c.opts.MinBackoff
		conn.SetReadLimit(maxMessageSize)
		c.connected.Store(true)
		slog.Info("wsevents: connected", "url", c.url)
		if c.opts.OnConnect != nil {
			c.opts.OnConnect()
		}

		err = c.read(ctx, conn)
		c.connected.Store(false)
		_ = conn.Close(websocket.StatusNormalClosure, "")
		if ctx.Err() != nil {
			return ctx.Err()
		}
		slog.Warn("wsevents: connection lost", "url", c.url, "err", err)
		c.opts.Metrics.IncTransportReconnects("websocket")
	}
}

func (c *Client) read(ctx context.Context, conn *websocket.Conn) error {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			slog.Warn("wsevents: bad frame", "err", err)
			continue
		}
		c.deliver(f.Channel, f.Payload)
	}
}

func (c *Client) deliver(channel string, payload []byte) {
	c.mu.RLock()
	fns := make([]func([]byte), 0, len(c.listeners[channel]))
	for _, fn := range c.listeners[channel] {
		fns = append(fns, fn)
	}
	c.mu.RUnlock()
	for _, fn := range fns {
		fn(payload)
	}
}
