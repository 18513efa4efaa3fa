// Package playlist keeps the local view of the backend playlist, routes
// playlist lifecycle events to the player and advances the queue when a video
// ends.
package playlist

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/GG-O-BP/chzpuri-streaming-assistant/internal/bridge"
	"github.com/GG-O-BP/chzpuri-streaming-assistant/internal/core"
	"github.com/GG-O-BP/chzpuri-streaming-assistant/internal/ingress"
	"github.com/GG-O-BP/chzpuri-streaming-assistant/internal/metrics"
)

const defaultErrorTTL = 5 * time.Second

// Player is the part of the player machine the orchestrator drives. Its
// methods are called on the event loop.
type Player interface {
	PlayVideo(item core.PlaylistItem)
	Pause()
	Resume()
	ClearIntent()
}

// Loop schedules closures on the event loop.
type Loop interface {
	Post(fn func()) bool
}

type Options struct {
	Metrics *metrics.Engine
	// ErrorTTL is how long a playlist error stays visible.
	ErrorTTL  time.Duration
	AfterFunc func(d time.Duration, fn func()) func() bool
}

// View is the snapshot served to readers off the loop.
type View struct {
	State     core.PlaylistState `json:"state"`
	LastError string             `json:"last_error,omitempty"`
}

type Orchestrator struct {
	backend bridge.Backend
	bridge  *bridge.Bridge
	loop    Loop
	player  Player
	metrics *metrics.Engine
	ttl     time.Duration
	after   func(time.Duration, func()) func() bool

	state    core.PlaylistState
	lastErr  string
	errGen   int
	live     atomic.Bool
	snapshot atomic.Pointer[View]

	mu   sync.Mutex
	subs ingress.Set
}

func New(backend bridge.Backend, br *bridge.Bridge, loop Loop, p Player, opts Options) *Orchestrator {
	ttl := opts.ErrorTTL
	if ttl <= 0 {
		ttl = defaultErrorTTL
	}
	after := opts.AfterFunc
	if after == nil {
		after = func(d time.Duration, fn func()) func() bool { return time.AfterFunc(d, fn).Stop }
	}
	o := &Orchestrator{
		backend: backend,
		bridge:  br,
		loop:    loop,
		player:  p,
		metrics: opts.Metrics,
		ttl:     ttl,
		after:   after,
		state:   core.PlaylistState{Autoplay: true},
	}
	o.live.Store(true)
	o.publish()
	return o
}

// Attach subscribes to the playlist channels.
func (o *Orchestrator) Attach(ctx context.Context, d *ingress.Dispatcher) error {
	set, err := d.SubscribePlaylist(ctx, o.Router())
	if err != nil {
		return err
	}
	o.mu.Lock()
	o.subs = set
	o.mu.Unlock()
	return nil
}

func (o *Orchestrator) Router() ingress.PlaylistRouter {
	return ingress.PlaylistRouter{
		OnPlay:    o.handlePlay,
		OnPause:   o.handlePause,
		OnResume:  o.handleResume,
		OnUpdated: o.handleUpdated,
		OnError:   o.handleError,
	}
}

func (o *Orchestrator) Close() {
	o.live.Store(false)
	o.mu.Lock()
	subs := o.subs
	o.subs = nil
	o.mu.Unlock()
	subs.Release()
}

// View returns the latest published snapshot.
func (o *Orchestrator) View() View { return *o.snapshot.Load() }

// Load fetches the playlist from the backend and replaces the local cache.
func (o *Orchestrator) Load(ctx context.Context) error {
	st, err := o.backend.GetPlaylist(ctx)
	if err != nil {
		slog.Warn("playlist: load failed", "err", err)
		return fmt.Errorf("playlist: load: %w", err)
	}
	o.loop.Post(func() { o.handleUpdated(st) })
	return nil
}

// Ended runs on the loop when the player finishes a video. With autoplay on
// it asks the backend for the next item exactly once.
func (o *Orchestrator) Ended() {
	if !o.live.Load() {
		return
	}
	if !o.state.Autoplay {
		slog.Info("playlist: video ended, autoplay off")
		return
	}
	slog.Info("playlist: video ended, advancing")
	o.metrics.IncAutoplayAdvances()
	o.bridge.SkipToNext()
}

// ToggleAutoplay flips the local flag and tells the backend. The next
// playlist:updated event is authoritative.
func (o *Orchestrator) ToggleAutoplay() {
	o.loop.Post(func() {
		if !o.live.Load() {
			return
		}
		enabled := !o.state.Autoplay
		o.state.Autoplay = enabled
		o.publish()
		o.bridge.SetAutoplay(enabled)
	})
}

func (o *Orchestrator) MoveItem(from, to int) { o.bridge.MoveItem(from, to) }

func (o *Orchestrator) PlayAtIndex(index int) { o.bridge.PlayAtIndex(index) }

func (o *Orchestrator) RemoveItem(index int) { o.bridge.RemoveItem(index) }

func (o *Orchestrator) SkipToNext() { o.bridge.SkipToNext() }

func (o *Orchestrator) ClearPlaylist() { o.bridge.ClearPlaylist() }

func (o *Orchestrator) handlePlay(item core.PlaylistItem) {
	if !o.live.Load() {
		return
	}
	slog.Info("playlist: play", "video_id", item.VideoID, "title", item.Title)
	o.player.PlayVideo(item)
}

func (o *Orchestrator) handlePause() {
	if o.live.Load() {
		o.player.Pause()
	}
}

func (o *Orchestrator) handleResume() {
	if o.live.Load() {
		o.player.Resume()
	}
}

func (o *Orchestrator) handleUpdated(st core.PlaylistState) {
	if !o.live.Load() {
		return
	}
	o.state = st.Clone()
	if _, ok := o.state.Current(); !ok {
		o.player.ClearIntent()
	}
	o.publish()
}

func (o *Orchestrator) handleError(message string) {
	if !o.live.Load() {
		return
	}
	slog.Warn("playlist: backend error", "message", message)
	o.lastErr = message
	o.errGen++
	gen := o.errGen
	o.publish()
	o.after(o.ttl, func() {
		o.loop.Post(func() {
			if gen != o.errGen {
				return
			}
			o.lastErr = ""
			o.publish()
		})
	})
}

func (o *Orchestrator) publish() {
	v := View{State: o.state.Clone(), LastError: o.lastErr}
	if v.State.Items == nil {
		v.State.Items = []core.PlaylistItem{}
	}
	o.snapshot.Store(&v)
}
