package httpapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/GG-O-BP/chzpuri-streaming-assistant/internal/chatstate"
	"github.com/GG-O-BP/chzpuri-streaming-assistant/internal/core"
	"github.com/GG-O-BP/chzpuri-streaming-assistant/internal/player"
	"github.com/GG-O-BP/chzpuri-streaming-assistant/internal/playlist"
)

// Engine is the companion surface served over HTTP. Read methods return
// published snapshots; commands are queued on the event loop.
type Engine interface {
	ChatState() chatstate.State
	Playlist() playlist.View
	Player() player.Status

	Connect(ctx context.Context, channelID string) error
	Disconnect(ctx context.Context) error
	ClearMessages()

	RetryPlayer()
	TogglePlayback()
	Seek(seconds float64)
	SetVolume(volume int)

	ToggleAutoplay()
	SkipToNext()
	PlayAtIndex(index int)
	RemoveItem(index int)
	MoveItem(from, to int)
	ClearPlaylist()
}

type Options struct {
	Addr         string
	Build        BuildInfo
	CORSOrigins  []string
	RateLimitRPS int
	RateBurst    int
	// Registry is served on /metrics alongside the HTTP collectors.
	Registry *prometheus.Registry
	// Mount adds extra handlers, such as the player overlay socket.
	Mount func(mux *http.ServeMux)
}

type Server struct {
	httpServer *http.Server
	engine     Engine
	opts       Options
	metrics    *Metrics
	limits     *clientLimits
	origins    *originPolicy
	started    time.Time

	mu      sync.Mutex
	clients map[*sseClient]struct{}
	closed  bool
}

type sseClient struct {
	ch      chan core.DisplayMessage
	filters Filters
}

func New(engine Engine, opts Options) *Server {
	srv := &Server{
		engine:  engine,
		opts:    opts,
		metrics: newMetrics(opts.Registry),
		limits:  newClientLimits(opts.RateLimitRPS, opts.RateBurst),
		origins: newOriginPolicy(opts.CORSOrigins),
		started: time.Now(),
		clients: make(map[*sseClient]struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", srv.handleHealthz)
	mux.Handle("/metrics", srv.metrics.Handler())
	mux.Handle("/info", srv.wrap("info", http.MethodGet, srv.handleInfo))
	mux.Handle("/state", srv.wrap("state", http.MethodGet, srv.handleState))
	mux.Handle("/messages", srv.wrap("messages", http.MethodGet, srv.handleMessages))
	mux.Handle("/playlist", srv.wrap("playlist", http.MethodGet, srv.handlePlaylist))
	mux.Handle("/player", srv.wrap("player", http.MethodGet, srv.handlePlayer))
	mux.Handle("/stream", srv.wrap("stream", http.MethodGet, srv.handleStream))

	mux.Handle("/connect", srv.wrap("connect", http.MethodPost, srv.handleConnect))
	mux.Handle("/disconnect", srv.wrap("disconnect", http.MethodPost, srv.handleDisconnect))
	mux.Handle("/messages/clear", srv.wrap("messages_clear", http.MethodPost, srv.command(engine.ClearMessages)))
	mux.Handle("/player/retry", srv.wrap("player_retry", http.MethodPost, srv.command(engine.RetryPlayer)))
	mux.Handle("/player/toggle", srv.wrap("player_toggle", http.MethodPost, srv.command(engine.TogglePlayback)))
	mux.Handle("/player/seek", srv.wrap("player_seek", http.MethodPost, srv.handleSeek))
	mux.Handle("/player/volume", srv.wrap("player_volume", http.MethodPost, srv.handleVolume))
	mux.Handle("/playlist/autoplay", srv.wrap("playlist_autoplay", http.MethodPost, srv.command(engine.ToggleAutoplay)))
	mux.Handle("/playlist/skip", srv.wrap("playlist_skip", http.MethodPost, srv.command(engine.SkipToNext)))
	mux.Handle("/playlist/clear", srv.wrap("playlist_clear", http.MethodPost, srv.command(engine.ClearPlaylist)))
	mux.Handle("/playlist/play", srv.wrap("playlist_play", http.MethodPost, srv.handleIndex(engine.PlayAtIndex)))
	mux.Handle("/playlist/remove", srv.wrap("playlist_remove", http.MethodPost, srv.handleIndex(engine.RemoveItem)))
	mux.Handle("/playlist/move", srv.wrap("playlist_move", http.MethodPost, srv.handleMove))

	if opts.Mount != nil {
		opts.Mount(mux)
	}

	srv.httpServer = &http.Server{
		Addr:              opts.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return srv
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type stateResponse struct {
	ChannelID    string `json:"channel_id"`
	Status       string `json:"status"`
	Error        string `json:"error,omitempty"`
	MessageCount int    `json:"message_count"`
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	st := s.engine.ChatState()
	writeJSON(w, http.StatusOK, stateResponse{
		ChannelID:    st.ChannelID,
		Status:       string(st.Status),
		Error:        st.Error,
		MessageCount: len(st.Messages),
	})
}

type messagesResponse struct {
	Total    int                   `json:"total"`
	Messages []core.DisplayMessage `json:"messages"`
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	filters, err := FiltersFromRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	msgs := s.engine.ChatState().Messages
	writeJSON(w, http.StatusOK, messagesResponse{Total: len(msgs), Messages: filters.Apply(msgs)})
}

func (s *Server) handlePlaylist(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Playlist())
}

func (s *Server) handlePlayer(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Player())
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ChannelID string `json:"channel_id"`
	}
	if !readJSON(w, r, &body) {
		return
	}
	if err := s.engine.Connect(r.Context(), body.ChannelID); err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Disconnect(r.Context()); err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleSeek(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Seconds float64 `json:"seconds"`
	}
	if !readJSON(w, r, &body) {
		return
	}
	s.engine.Seek(body.Seconds)
	writeAccepted(w)
}

func (s *Server) handleVolume(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Volume *int `json:"volume"`
	}
	if !readJSON(w, r, &body) {
		return
	}
	if body.Volume == nil {
		http.Error(w, "volume is required", http.StatusBadRequest)
		return
	}
	s.engine.SetVolume(*body.Volume)
	writeAccepted(w)
}

func (s *Server) handleIndex(fn func(int)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Index *int `json:"index"`
		}
		if !readJSON(w, r, &body) {
			return
		}
		if body.Index == nil || *body.Index < 0 {
			http.Error(w, "index must be a non-negative integer", http.StatusBadRequest)
			return
		}
		fn(*body.Index)
		writeAccepted(w)
	}
}

func (s *Server) handleMove(w http.ResponseWriter, r *http.Request) {
	var body struct {
		From *int `json:"from"`
		To   *int `json:"to"`
	}
	if !readJSON(w, r, &body) {
		return
	}
	if body.From == nil || body.To == nil || *body.From < 0 || *body.To < 0 {
		http.Error(w, "from and to must be non-negative integers", http.StatusBadRequest)
		return
	}
	s.engine.MoveItem(*body.From, *body.To)
	writeAccepted(w)
}

func (s *Server) command(fn func()) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		fn()
		writeAccepted(w)
	}
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	filters, err := FiltersFromRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "stream unsupported", http.StatusInternalServerError)
		return
	}

	client := &sseClient{ch: make(chan core.DisplayMessage, 256), filters: filters.CloneForStream()}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	s.clients[client] = struct{}{}
	s.mu.Unlock()
	s.metrics.IncSSEClients(1)

	defer func() {
		s.mu.Lock()
		delete(s.clients, client)
		s.mu.Unlock()
		s.metrics.IncSSEClients(-1)
	}()

	fmt.Fprintf(w, ":ok\n\n")
	flusher.Flush()

	ticker := time.NewTicker(20 * time.Second)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fmt.Fprintf(w, ":ping\n\n")
			flusher.Flush()
		case msg, ok := <-client.ch:
			if !ok {
				return
			}
			data, err := json.Marshal(msg)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: message\ndata: %s\n\n", data)
			flusher.Flush()
			s.metrics.IncMessagesSent("sse")
		}
	}
}

// Broadcast sends msg to every stream client whose filters match. It never
// blocks; slow clients miss messages.
func (s *Server) Broadcast(msg core.DisplayMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for c := range s.clients {
		if !c.filters.Matches(msg) {
			continue
		}
		select {
		case c.ch <- msg:
		default:
			s.metrics.IncBroadcastDrops("sse")
		}
	}
}

func (s *Server) Start() error {
	log.Printf("http api listening on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
	return nil
}

// Serve runs the server until ctx is done.
func (s *Server) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.Start() }()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.Shutdown(shutdownCtx); err != nil {
			slog.Warn("httpapi: shutdown", "err", err)
		}
		<-errCh
		return ctx.Err()
	}
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for c := range s.clients {
		close(c.ch)
	}
	s.mu.Unlock()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) String() string { return "httpapi.Server(" + s.httpServer.Addr + ")" }

// wrap applies origin checks, the method check, rate limiting, gzip and
// request metrics to h.
func (s *Server) wrap(route, method string, h http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w}
		defer func() {
			sw.finish()
			s.metrics.ObserveRequest(route, r.Method, sw.Status(), time.Since(start), sw.written)
		}()

		if s.origins.preflight(sw, r, method) {
			return
		}
		if !s.origins.decorate(sw, r) {
			http.Error(sw, "origin not allowed", http.StatusForbidden)
			return
		}
		if r.Method != method {
			sw.Header().Set("Allow", method)
			http.Error(sw, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if !s.limits.allow(clientKey(r), start) {
			s.metrics.IncRateLimited()
			http.Error(sw, "rate limited", http.StatusTooManyRequests)
			return
		}
		sw.compress = wantsGzip(r)
		h(sw, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeAccepted(w http.ResponseWriter) {
	writeJSON(w, http.StatusAccepted, map[string]any{"ok": true})
}

func readJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	data, err := io.ReadAll(io.LimitReader(r.Body, 64*1024))
	if err != nil {
		http.Error(w, "read error", http.StatusBadRequest)
		return false
	}
	if len(data) == 0 {
		return true
	}
	if err := json.Unmarshal(data, v); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return false
	}
	return true
}
