// Package bridgetest provides an in-memory backend for exercising the engine
// without a backend process.
package bridgetest

import (
	"context"
	"sync"

	"github.com/GG-O-BP/chzpuri-streaming-assistant/internal/core"
)

type Forwarded struct {
	Author string
	Body   string
}

// Backend records every call. Errors and hooks may be set before use or
// through the setters while calls are in flight.
type Backend struct {
	mu sync.Mutex

	connectErr error
	storeErr   error
	forwardErr error
	historyErr error

	connected bool
	state     string
	history   []core.DisplayMessage
	playlist  core.PlaylistState

	onConnect    func(channelID string)
	onDisconnect func()

	calls     map[string]int
	channelID string
	stored    []core.DisplayMessage
	forwarded []Forwarded
	moves     [][2]int
	indexes   []int
	autoplay  []bool
}

func New() *Backend {
	return &Backend{state: "disconnected", calls: make(map[string]int)}
}

func (b *Backend) SetConnectErr(err error) { b.with(func() { b.connectErr = err }) }
func (b *Backend) SetStoreErr(err error)   { b.with(func() { b.storeErr = err }) }
func (b *Backend) SetForwardErr(err error) { b.with(func() { b.forwardErr = err }) }
func (b *Backend) SetHistoryErr(err error) { b.with(func() { b.historyErr = err }) }

// SetConnected sets what IsConnected and GetConnectionState report.
func (b *Backend) SetConnected(connected bool) {
	b.with(func() {
		b.connected = connected
		if connected {
			b.state = "connected"
		} else {
			b.state = "disconnected"
		}
	})
}

func (b *Backend) SetHistory(msgs []core.DisplayMessage) {
	b.with(func() { b.history = append([]core.DisplayMessage(nil), msgs...) })
}

func (b *Backend) SetPlaylist(st core.PlaylistState) { b.with(func() { b.playlist = st.Clone() }) }

// OnConnect registers a hook run after a successful Connect, typically used
// to publish the connected event.
func (b *Backend) OnConnect(fn func(channelID string)) { b.with(func() { b.onConnect = fn }) }

func (b *Backend) OnDisconnect(fn func()) { b.with(func() { b.onDisconnect = fn }) }

func (b *Backend) Calls(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[name]
}

func (b *Backend) ChannelID() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.channelID
}

func (b *Backend) Stored() []core.DisplayMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]core.DisplayMessage(nil), b.stored...)
}

func (b *Backend) Forwarded() []Forwarded {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Forwarded(nil), b.forwarded...)
}

func (b *Backend) Moves() [][2]int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([][2]int(nil), b.moves...)
}

// Indexes returns the arguments of PlayAtIndex and RemoveItem in call order.
func (b *Backend) Indexes() []int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]int(nil), b.indexes...)
}

func (b *Backend) Autoplay() []bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]bool(nil), b.autoplay...)
}

func (b *Backend) Connect(_ context.Context, channelID string) error {
	b.mu.Lock()
	b.calls["connect"]++
	if b.connectErr != nil {
		err := b.connectErr
		b.mu.Unlock()
		return err
	}
	b.channelID = channelID
	b.connected = true
	b.state = "connected"
	hook := b.onConnect
	b.mu.Unlock()
	if hook != nil {
		hook(channelID)
	}
	return nil
}

func (b *Backend) Disconnect(context.Context) error {
	b.mu.Lock()
	b.calls["disconnect"]++
	b.connected = false
	b.state = "disconnected"
	hook := b.onDisconnect
	b.mu.Unlock()
	if hook != nil {
		hook()
	}
	return nil
}

func (b *Backend) IsConnected(context.Context) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls["is_connected"]++
	return b.connected, nil
}

func (b *Backend) GetConnectionState(context.Context) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls["get_state"]++
	return b.state, nil
}

func (b *Backend) GetMessages(context.Context) ([]core.DisplayMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls["get_messages"]++
	if b.historyErr != nil {
		return nil, b.historyErr
	}
	return append([]core.DisplayMessage(nil), b.history...), nil
}

func (b *Backend) StoreDisplayMessage(_ context.Context, msg core.DisplayMessage) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls["store"]++
	if b.storeErr != nil {
		return b.storeErr
	}
	b.stored = append(b.stored, msg)
	return nil
}

func (b *Backend) ClearDisplayMessages(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls["clear_messages"]++
	b.stored = nil
	return nil
}

func (b *Backend) ForwardChatMessage(_ context.Context, author, body string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls["forward"]++
	if b.forwardErr != nil {
		return b.forwardErr
	}
	b.forwarded = append(b.forwarded, Forwarded{Author: author, Body: body})
	return nil
}

func (b *Backend) GetPlaylist(context.Context) (core.PlaylistState, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls["get_playlist"]++
	return b.playlist.Clone(), nil
}

func (b *Backend) MoveItem(_ context.Context, from, to int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls["move"]++
	b.moves = append(b.moves, [2]int{from, to})
	return nil
}

func (b *Backend) PlayAtIndex(_ context.Context, index int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls["play_at"]++
	b.indexes = append(b.indexes, index)
	return nil
}

func (b *Backend) RemoveItem(_ context.Context, index int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls["remove"]++
	b.indexes = append(b.indexes, index)
	return nil
}

func (b *Backend) SkipToNext(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls["skip"]++
	return nil
}

func (b *Backend) ClearPlaylist(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls["clear_playlist"]++
	return nil
}

func (b *Backend) SetAutoplay(_ context.Context, enabled bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls["set_autoplay"]++
	b.autoplay = append(b.autoplay, enabled)
	return nil
}

func (b *Backend) with(fn func()) {
	b.mu.Lock()
	fn()
	b.mu.Unlock()
}
