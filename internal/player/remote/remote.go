// Package remote implements player.API for a browser overlay that hosts the
// embedded player. The overlay connects over a WebSocket, receives player
// commands and reports player events back.
package remote

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
	"nhooyr.io/websocket"

	"github.com/GG-O-BP/chzpuri-streaming-assistant/internal/player"
)

// Command ops sent to the overlay.
const (
	OpCreate  = "create"
	OpLoad    = "load"
	OpPlay    = "play"
	OpPause   = "pause"
	OpSeek    = "seek"
	OpVolume  = "volume"
	OpDestroy = "destroy"
)

// Event types reported by the overlay.
const (
	EventReady = "ready"
	EventState = "state"
	EventError = "error"
	EventTime  = "time"
)

type Command struct {
	Op        string  `json:"op"`
	Container string  `json:"container,omitempty"`
	VideoID   string  `json:"video_id,omitempty"`
	Seconds   float64 `json:"seconds,omitempty"`
	Volume    int     `json:"volume"`
}

type Event struct {
	Type        string  `json:"type"`
	State       int     `json:"state,omitempty"`
	Code        int     `json:"code,omitempty"`
	CurrentTime float64 `json:"current_time,omitempty"`
	Duration    float64 `json:"duration,omitempty"`
}

const (
	writeWait      = 10 * time.Second
	sendBuffer     = 64
	maxMessageSize = 64 * 1024
)

type Options struct {
	// OnAPIReady runs once, when the first overlay connects.
	OnAPIReady func()
	// OriginPatterns lists extra hosts allowed to connect.
	OriginPatterns []string
}

// API tracks connected overlays. A single player is mirrored to every
// overlay; only the primary overlay's events drive the callbacks. The
// primary is the oldest connected overlay.
type API struct {
	opts    Options
	nextSeq atomic.Uint64

	mu          sync.Mutex
	clients     map[*client]struct{}
	primary     *client
	announced   bool
	active      *handle
	currentTime float64
	duration    float64
}

func New(opts Options) *API {
	return &API{opts: opts, clients: make(map[*client]struct{})}
}

// Clients returns the number of connected overlays.
func (a *API) Clients() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.clients)
}

// Create asks every connected overlay to build the player.
func (a *API) Create(container string, opts player.Options) (player.Handle, error) {
	a.mu.Lock()
	if len(a.clients) == 0 {
		a.mu.Unlock()
		return nil, player.ErrNoRenderer
	}
	h := &handle{api: a, container: container, volume: opts.Volume, cb: opts.Callbacks}
	a.active = h
	a.currentTime, a.duration = 0, 0
	a.mu.Unlock()

	a.broadcast(Command{Op: OpCreate, Container: container, Volume: opts.Volume})
	return h, nil
}

func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: a.opts.OriginPatterns})
	if err != nil {
		slog.Warn("player/remote: accept failed", "err", err)
		return
	}
	conn.SetReadLimit(maxMessageSize)

	c := &client{seq: a.nextSeq.Add(1), conn: conn, send: make(chan Command, sendBuffer)}
	first, replay := a.register(c)
	slog.Info("player/remote: overlay connected", "remote", r.RemoteAddr, "clients", a.Clients())

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go c.writePump(ctx)

	if replay != nil {
		c.enqueue(*replay)
	}
	if first && a.opts.OnAPIReady != nil {
		a.opts.OnAPIReady()
	}

	a.readPump(ctx, c)
	a.unregister(c)
	_ = conn.Close(websocket.StatusNormalClosure, "")
	slog.Info("player/remote: overlay disconnected", "remote", r.RemoteAddr, "clients", a.Clients())
}

// register adds c and returns the create command a late overlay needs to
// mirror the existing player.
func (a *API) register(c *client) (first bool, replay *Command) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.clients[c] = struct{}{}
	if a.primary == nil {
		a.primary = c
	}
	if !a.announced {
		a.announced = true
		first = true
	}
	if h := a.active; h != nil {
		replay = &Command{Op: OpCreate, Container: h.container, Volume: h.volume}
	}
	return first, replay
}

func (a *API) unregister(c *client) {
	a.mu.Lock()
	delete(a.clients, c)
	if a.primary == c {
		a.primary = nil
		for next := range a.clients {
			if a.primary == nil || next.seq < a.primary.seq {
				a.primary = next
			}
		}
	}
	a.mu.Unlock()
}

func (a *API) readPump(ctx context.Context, c *client) {
	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			if status := websocket.CloseStatus(err); status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway && ctx.Err() == nil {
				slog.Debug("player/remote: read ended", "err", err)
			}
			return
		}
		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			slog.Warn("player/remote: bad event", "err", err)
			continue
		}
		a.dispatch(c, ev)
	}
}

func (a *API) dispatch(from *client, ev Event) {
	a.mu.Lock()
	if from != a.primary {
		a.mu.Unlock()
		slog.Debug("player/remote: ignoring event from mirror overlay", "type", ev.Type)
		return
	}
	h := a.active
	if ev.CurrentTime > 0 {
		a.currentTime = ev.CurrentTime
	}
	if ev.Duration > 0 {
		a.duration = ev.Duration
	}
	a.mu.Unlock()
	if h == nil {
		return
	}

	switch ev.Type {
	case EventReady:
		if h.cb.OnReady != nil {
			h.cb.OnReady()
		}
	case EventState:
		if h.cb.OnStateChange != nil {
			h.cb.OnStateChange(player.PlaybackState(ev.State))
		}
	case EventError:
		if h.cb.OnError != nil {
			h.cb.OnError(ev.Code)
		}
	case EventTime:
	default:
		slog.Debug("player/remote: unknown event", "type", ev.Type)
	}
}

func (a *API) broadcast(cmd Command) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	sent := 0
	for c := range a.clients {
		if c.enqueue(cmd) {
			sent++
		}
	}
	return sent
}

func (a *API) times() (float64, float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.currentTime, a.duration
}

type client struct {
	seq  uint64
	conn *websocket.Conn
	send chan Command
}

func (c *client) enqueue(cmd Command) bool {
	select {
	case c.send <- cmd:
		return true
	default:
		slog.Warn("player/remote: overlay send buffer full, dropping command", "op", cmd.Op)
		return false
	}
}

func (c *client) writePump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-c.send:
			data, err := json.Marshal(cmd)
			if err != nil {
				continue
			}
			wctx, cancel := context.WithTimeout(ctx, writeWait)
			err = c.conn.Write(wctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				slog.Debug("player/remote: write failed", "op", cmd.Op, "err", err)
				return
			}
		}
	}
}

type handle struct {
	api       *API
	container string
	volume    int
	cb        player.Callbacks
}

func (h *handle) send(cmd Command) error {
	if h.api.broadcast(cmd) == 0 {
		return player.ErrNoRenderer
	}
	return nil
}

func (h *handle) LoadVideoByID(id string) error { return h.send(Command{Op: OpLoad, VideoID: id}) }
func (h *handle) Play() error                   { return h.send(Command{Op: OpPlay}) }
func (h *handle) Pause() error                  { return h.send(Command{Op: OpPause}) }
func (h *handle) SeekTo(s float64) error        { return h.send(Command{Op: OpSeek, Seconds: s}) }

func (h *handle) SetVolume(v int) error {
	h.api.mu.Lock()
	h.volume = v
	h.api.mu.Unlock()
	return h.send(Command{Op: OpVolume, Volume: v})
}

func (h *handle) CurrentTime() (float64, error) {
	t, _ := h.api.times()
	return t, nil
}

func (h *handle) Duration() (float64, error) {
	_, d := h.api.times()
	return d, nil
}

func (h *handle) Destroy() {
	h.api.mu.Lock()
	if h.api.active == h {
		h.api.active = nil
	}
	h.api.mu.Unlock()
	h.api.broadcast(Command{Op: OpDestroy})
}
