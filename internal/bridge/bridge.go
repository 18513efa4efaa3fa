// Package bridge issues the engine's outbound backend calls. Calls never block
// the event loop: each runs on its own goroutine and reports a Result back to
// the loop when it finishes.
package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/GG-O-BP/chzpuri-streaming-assistant/internal/core"
	"github.com/GG-O-BP/chzpuri-streaming-assistant/internal/metrics"
)

// Backend is the command surface of the backend process.
type Backend interface {
	Connect(ctx context.Context, channelID string) error
	Disconnect(ctx context.Context) error
	IsConnected(ctx context.Context) (bool, error)
	GetConnectionState(ctx context.Context) (string, error)
	GetMessages(ctx context.Context) ([]core.DisplayMessage, error)
	StoreDisplayMessage(ctx context.Context, msg core.DisplayMessage) error
	ClearDisplayMessages(ctx context.Context) error
	ForwardChatMessage(ctx context.Context, author, body string) error

	GetPlaylist(ctx context.Context) (core.PlaylistState, error)
	MoveItem(ctx context.Context, from, to int) error
	PlayAtIndex(ctx context.Context, index int) error
	RemoveItem(ctx context.Context, index int) error
	SkipToNext(ctx context.Context) error
	ClearPlaylist(ctx context.Context) error
	SetAutoplay(ctx context.Context, enabled bool) error
}

// Poster schedules closures on the event loop.
type Poster interface {
	Post(fn func()) bool
}

// Call names, shared with the HTTP RPC transport.
const (
	CallConnect              = "connect_chzzk"
	CallDisconnect           = "disconnect_chzzk"
	CallIsConnected          = "is_chzzk_connected"
	CallGetConnectionState   = "get_chzzk_state"
	CallGetMessages          = "get_chat_messages"
	CallStoreDisplayMessage  = "store_display_message"
	CallClearDisplayMessages = "clear_chat_messages"
	CallForwardChatMessage   = "add_chat_message"
	CallGetPlaylist          = "get_playlist"
	CallMoveItem             = "move_playlist_item"
	CallPlayAtIndex          = "play_at_index"
	CallRemoveItem           = "remove_from_playlist"
	CallSkipToNext           = "play_next"
	CallClearPlaylist        = "clear_playlist"
	CallSetAutoplay          = "set_autoplay"
)

// Policy decides what a failed call does besides being logged.
type Policy int

const (
	// LogOnly failures are logged and counted.
	LogOnly Policy = iota
	// SurfaceAsSystem failures also become a system message in the chat log.
	SurfaceAsSystem
)

func (p Policy) String() string {
	switch p {
	case SurfaceAsSystem:
		return "surface_as_system"
	default:
		return "log_only"
	}
}

// Result is the outcome of one fire-and-forget call.
type Result struct {
	Call   string
	Policy Policy
	Err    error
}

// SystemAuthor is the author used for engine-generated chat notes.
const SystemAuthor = "System"

const (
	defaultPrefix  = "!"
	defaultTimeout = 10 * time.Second
)

type Options struct {
	Timeout time.Duration
	Metrics *metrics.Engine
}

type Bridge struct {
	backend Backend
	loop    Poster
	timeout time.Duration
	metrics *metrics.Engine
	prefix  atomic.Pointer[string]

	wg sync.WaitGroup

	mu       sync.RWMutex
	onResult func(Result)
}

func New(backend Backend, loop Poster, opts Options) *Bridge {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	b := &Bridge{
		backend: backend,
		loop:    loop,
		timeout: timeout,
		metrics: opts.Metrics,
	}
	b.SetCommandPrefix(defaultPrefix)
	return b
}

// OnResult registers fn to receive every Result on the event loop.
func (b *Bridge) OnResult(fn func(Result)) {
	b.mu.Lock()
	b.onResult = fn
	b.mu.Unlock()
}

// SetCommandPrefix replaces the prefix that marks chat text as a command.
func (b *Bridge) SetCommandPrefix(prefix string) {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = defaultPrefix
	}
	b.prefix.Store(&prefix)
}

func (b *Bridge) CommandPrefix() string { return *b.prefix.Load() }

// IsCommand reports whether body starts with the command prefix.
func (b *Bridge) IsCommand(body string) bool {
	return strings.HasPrefix(body, b.CommandPrefix())
}

// Wait blocks until every call issued so far has finished.
func (b *Bridge) Wait() { b.wg.Wait() }

func (b *Bridge) StoreDisplayMessage(msg core.DisplayMessage) {
	b.spawn(CallStoreDisplayMessage, LogOnly, func(ctx context.Context) error {
		return b.backend.StoreDisplayMessage(ctx, msg)
	})
}

func (b *Bridge) ClearDisplayMessages() {
	b.spawn(CallClearDisplayMessages, LogOnly, func(ctx context.Context) error {
		return b.backend.ClearDisplayMessages(ctx)
	})
}

// ForwardChat forwards a chat line to the command and analysis pipeline.
// Command lines fail loudly.
func (b *Bridge) ForwardChat(author, body string) {
	policy := LogOnly
	if b.IsCommand(body) {
		policy = SurfaceAsSystem
	}
	b.forward(author, body, policy)
}

// ForwardDonation forwards donation text for analysis. Empty or command-like
// text is not forwarded; the return value reports whether a call was made.
func (b *Bridge) ForwardDonation(author string, amount int64, body string) bool {
	if body == "" || b.IsCommand(body) {
		return false
	}
	if author == "" {
		author = core.AnonymousDonor
	}
	b.forward(author, FormatDonation(amount, body), LogOnly)
	return true
}

// ForwardSystemNote forwards an engine-generated note.
func (b *Bridge) ForwardSystemNote(body string) {
	b.forward(SystemAuthor, body, LogOnly)
}

func (b *Bridge) forward(author, body string, policy Policy) {
	b.spawn(CallForwardChatMessage, policy, func(ctx context.Context) error {
		return b.backend.ForwardChatMessage(ctx, author, body)
	})
}

func (b *Bridge) SkipToNext() {
	b.spawn(CallSkipToNext, LogOnly, b.backend.SkipToNext)
}

func (b *Bridge) SetAutoplay(enabled bool) {
	b.spawn(CallSetAutoplay, LogOnly, func(ctx context.Context) error {
		return b.backend.SetAutoplay(ctx, enabled)
	})
}

func (b *Bridge) MoveItem(from, to int) {
	b.spawn(CallMoveItem, LogOnly, func(ctx context.Context) error {
		return b.backend.MoveItem(ctx, from, to)
	})
}

func (b *Bridge) PlayAtIndex(index int) {
	b.spawn(CallPlayAtIndex, LogOnly, func(ctx context.Context) error {
		return b.backend.PlayAtIndex(ctx, index)
	})
}

func (b *Bridge) RemoveItem(index int) {
	b.spawn(CallRemoveItem, LogOnly, func(ctx context.Context) error {
		return b.backend.RemoveItem(ctx, index)
	})
}

func (b *Bridge) ClearPlaylist() {
	b.spawn(CallClearPlaylist, LogOnly, b.backend.ClearPlaylist)
}

// FormatDonation renders donation text the way the analysis pipeline
// expects it.
func FormatDonation(amount int64, body string) string {
	return fmt.Sprintf("[후원 %d원] %s", amount, body)
}

func (b *Bridge) spawn(call string, policy Policy, fn func(ctx context.Context) error) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
		defer cancel()

		res := Result{Call: call, Policy: policy, Err: fn(ctx)}
		if res.Err != nil {
			slog.Warn("bridge: call failed", "call", call, "policy", policy.String(), "err", res.Err)
			b.metrics.ObserveBridgeCall(call, "error")
		} else {
			b.metrics.ObserveBridgeCall(call, "ok")
		}

		b.mu.RLock()
		h := b.onResult
		b.mu.RUnlock()
		if h != nil {
			b.loop.Post(func() { h(res) })
		}
	}()
}
