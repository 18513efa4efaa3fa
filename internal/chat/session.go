// Package chat wires the chat-event stream, the chat state reducer and the
// command bridge into a session owned by the event loop.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/GG-O-BP/chzpuri-streaming-assistant/internal/bridge"
	"github.com/GG-O-BP/chzpuri-streaming-assistant/internal/chatstate"
	"github.com/GG-O-BP/chzpuri-streaming-assistant/internal/core"
	"github.com/GG-O-BP/chzpuri-streaming-assistant/internal/ingress"
	"github.com/GG-O-BP/chzpuri-streaming-assistant/internal/metrics"
)

const (
	ConnectedText     = "채팅에 연결되었습니다."
	DisconnectedText  = "채팅 연결이 끊어졌습니다."
	EmptyChannelText  = "채널 ID를 입력해주세요."
	commandFailPrefix = "명령어 처리 중 오류가 발생했습니다: "
)

// ErrEmptyChannel is returned by Connect when no channel id is set.
var ErrEmptyChannel = errors.New("chat: channel id is empty")

// Loop is the event loop the session mutates its state on.
type Loop interface {
	Post(fn func()) bool
	Do(ctx context.Context, fn func()) error
}

type Options struct {
	Metrics *metrics.Engine
	Now     func() time.Time
	// OnAccepted observes every record newly added to the log. It runs on
	// the event loop and must not block.
	OnAccepted func(core.DisplayMessage)
}

// Session owns the chat state. Event handlers and result callbacks run on the
// loop; the exported commands may be called from any goroutine.
type Session struct {
	loop       Loop
	backend    bridge.Backend
	bridge     *bridge.Bridge
	metrics    *metrics.Engine
	now        func() time.Time
	onAccepted func(core.DisplayMessage)

	state    chatstate.State
	snapshot atomic.Pointer[chatstate.State]
	live     atomic.Bool

	mu  sync.Mutex
	sub *ingress.Subscription
}

func NewSession(backend bridge.Backend, br *bridge.Bridge, loop Loop, opts Options) *Session {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	s := &Session{
		loop:       loop,
		backend:    backend,
		bridge:     br,
		metrics:    opts.Metrics,
		now:        now,
		onAccepted: opts.OnAccepted,
		state:      chatstate.Initial(),
	}
	s.live.Store(true)
	s.publish()
	br.OnResult(s.handleResult)
	return s
}

// Attach subscribes the session to the chat-event channel.
func (s *Session) Attach(ctx context.Context, d *ingress.Dispatcher) error {
	sub, err := d.SubscribeChat(ctx, s.Router())
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.sub = sub
	s.mu.Unlock()
	return nil
}

// Router returns the handlers for the chat-event tags.
func (s *Session) Router() ingress.ChatRouter {
	return ingress.ChatRouter{
		OnChat:         s.handleChat,
		OnDonation:     s.handleDonation,
		OnSystem:       s.handleSystem,
		OnConnected:    s.handleConnected,
		OnDisconnected: s.handleDisconnected,
		OnError:        s.handleError,
	}
}

// Close stops event delivery. Calls already in flight complete, but their
// results no longer touch the state.
func (s *Session) Close() {
	s.live.Store(false)
	s.mu.Lock()
	sub := s.sub
	s.sub = nil
	s.mu.Unlock()
	sub.Release()
}

// Snapshot returns the latest published state.
func (s *Session) Snapshot() chatstate.State {
	return *s.snapshot.Load()
}

// SetChannelID records the channel to connect to.
func (s *Session) SetChannelID(id string) {
	s.loop.Post(func() { s.apply(chatstate.SetChannelID{ID: id}) })
}

// Connect asks the backend to join the configured channel. The connected
// system message arrives later through the event stream.
func (s *Session) Connect(ctx context.Context) error {
	var channel string
	if err := s.loop.Do(ctx, func() { channel = strings.TrimSpace(s.state.ChannelID) }); err != nil {
		return err
	}
	if channel == "" {
		s.loop.Post(func() { s.apply(chatstate.SetError{Message: EmptyChannelText}) })
		return ErrEmptyChannel
	}

	s.loop.Post(func() {
		s.apply(chatstate.ClearError{})
		if !s.state.Connected() {
			s.apply(chatstate.SetConnecting{})
		}
	})

	if err := s.backend.Connect(ctx, channel); err != nil {
		slog.Warn("chat: connect failed", "channel", channel, "err", err)
		s.loop.Post(func() {
			if s.state.Status == core.StatusConnecting {
				s.apply(chatstate.SetConnected{Connected: false})
			}
			s.apply(chatstate.SetError{Message: err.Error()})
		})
		return fmt.Errorf("chat: connect %s: %w", channel, err)
	}
	slog.Info("chat: connect requested", "channel", channel)
	return nil
}

// Disconnect asks the backend to leave the channel. The log is kept.
func (s *Session) Disconnect(ctx context.Context) error {
	if err := s.backend.Disconnect(ctx); err != nil {
		slog.Warn("chat: disconnect failed", "err", err)
		s.loop.Post(func() { s.apply(chatstate.SetError{Message: err.Error()}) })
		return fmt.Errorf("chat: disconnect: %w", err)
	}
	return nil
}

// ClearMessages empties the local log and the backend display store.
func (s *Session) ClearMessages() {
	s.loop.Post(func() {
		if !s.live.Load() {
			return
		}
		s.apply(chatstate.ClearMessages{})
		s.bridge.ClearDisplayMessages()
	})
}

func (s *Session) handleChat(ev core.ChatEvent) {
	msg, ok := s.record(ev)
	if !ok || !s.accept(msg) {
		return
	}
	s.bridge.StoreDisplayMessage(msg)
	s.bridge.ForwardChat(msg.AuthorName(), msg.Body)
}

func (s *Session) handleDonation(ev core.ChatEvent) {
	msg, ok := s.record(ev)
	if !ok || !s.accept(msg) {
		return
	}
	s.bridge.StoreDisplayMessage(msg)
	s.bridge.ForwardDonation(msg.AuthorName(), ev.DonationAmount(), ev.Text())
}

func (s *Session) handleSystem(ev core.ChatEvent) {
	msg, ok := s.record(ev)
	if !ok || !s.accept(msg) {
		return
	}
	s.bridge.StoreDisplayMessage(msg)
}

// handleConnected ignores repeats while already connected; the platform can
// report the same connection more than once.
func (s *Session) handleConnected() {
	if s.state.Connected() {
		slog.Debug("chat: already connected, ignoring duplicate event")
		return
	}
	s.apply(chatstate.SetConnected{Connected: true})
	s.apply(chatstate.ClearError{})
	s.systemNote("connected", ConnectedText)
}

func (s *Session) handleDisconnected() {
	s.apply(chatstate.SetConnected{Connected: false})
	s.systemNote("disconnected", DisconnectedText)
}

func (s *Session) handleError(message string) {
	s.apply(chatstate.SetError{Message: message})
}

func (s *Session) handleResult(res bridge.Result) {
	if res.Err == nil || res.Policy != bridge.SurfaceAsSystem || !s.live.Load() {
		return
	}
	ts := s.now().UnixMilli()
	msg := core.NewSystemMessage(fmt.Sprintf("error-%d-%s", ts, uuid.NewString()[:8]), commandFailPrefix+res.Err.Error(), ts)
	s.accept(msg)
}

func (s *Session) systemNote(kind, text string) {
	ts := s.now().UnixMilli()
	msg := core.NewSystemMessage(fmt.Sprintf("%s-%d-%s", kind, ts, uuid.NewString()[:8]), text, ts)
	if s.accept(msg) {
		s.bridge.StoreDisplayMessage(msg)
	}
}

func (s *Session) record(ev core.ChatEvent) (core.DisplayMessage, bool) {
	msg, ok := ev.Display()
	if !ok {
		return msg, false
	}
	if msg.ID == "" {
		msg.ID = string(msg.Kind) + "-" + uuid.NewString()
	}
	if msg.TimestampMillis == 0 {
		msg.TimestampMillis = s.now().UnixMilli()
	}
	return msg, true
}

// accept adds msg to the log and reports whether it was new.
func (s *Session) accept(msg core.DisplayMessage) bool {
	if !s.live.Load() {
		return false
	}
	if s.state.Has(msg.ID) {
		s.metrics.IncDuplicates()
		slog.Debug("chat: duplicate message ignored", "id", msg.ID)
		return false
	}
	s.apply(chatstate.AddMessage{Message: msg})
	if s.onAccepted != nil {
		s.onAccepted(msg)
	}
	return true
}

func (s *Session) apply(t chatstate.Transition) {
	if !s.live.Load() {
		return
	}
	s.state = chatstate.Reduce(s.state, t)
	s.publish()
}

func (s *Session) publish() {
	st := s.state
	s.snapshot.Store(&st)
}
