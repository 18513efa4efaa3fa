package playlist

import (
	"context"
	"testing"
	"time"

	json "github.com/goccy/go-json"

	"github.com/GG-O-BP/chzpuri-streaming-assistant/internal/bridge"
	"github.com/GG-O-BP/chzpuri-streaming-assistant/internal/bridge/bridgetest"
	"github.com/GG-O-BP/chzpuri-streaming-assistant/internal/core"
	"github.com/GG-O-BP/chzpuri-streaming-assistant/internal/ingress"
	"github.com/GG-O-BP/chzpuri-streaming-assistant/internal/loop"
)

type fakePlayer struct {
	played  []string
	pauses  int
	resumes int
	cleared int
}

func (p *fakePlayer) PlayVideo(item core.PlaylistItem) { p.played = append(p.played, item.VideoID) }
func (p *fakePlayer) Pause()                           { p.pauses++ }
func (p *fakePlayer) Resume()                          { p.resumes++ }
func (p *fakePlayer) ClearIntent()                     { p.cleared++ }

type pendingTimers struct{ fns []func() }

func (t *pendingTimers) after(_ time.Duration, fn func()) func() bool {
	t.fns = append(t.fns, fn)
	return func() bool { return true }
}

type orchRig struct {
	ctx     context.Context
	bus     *ingress.MemoryBus
	actor   *loop.Actor
	backend *bridgetest.Backend
	bridge  *bridge.Bridge
	player  *fakePlayer
	timers  *pendingTimers
	o       *Orchestrator
}

func newOrchRig(t *testing.T) *orchRig {
	t.Helper()
	r := &orchRig{
		ctx:     context.Background(),
		bus:     ingress.NewMemoryBus(),
		actor:   loop.New(),
		backend: bridgetest.New(),
		player:  &fakePlayer{},
		timers:  &pendingTimers{},
	}
	r.bridge = bridge.New(r.backend, r.actor, bridge.Options{})
	r.o = New(r.backend, r.bridge, r.actor, r.player, Options{AfterFunc: r.timers.after})
	d := ingress.New(r.bus, r.actor, ingress.Options{})
	if err := r.o.Attach(r.ctx, d); err != nil {
		t.Fatalf("attach: %v", err)
	}
	return r
}

func (r *orchRig) publish(t *testing.T, channel string, v any) {
	t.Helper()
	var payload []byte
	switch x := v.(type) {
	case nil:
		payload = []byte("null")
	case string:
		payload = []byte(x)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		payload = b
	}
	if err := r.bus.Publish(r.ctx, channel, payload); err != nil {
		t.Fatalf("publish: %v", err)
	}
	r.actor.RunPending()
}

func (r *orchRig) settle() {
	r.actor.RunPending()
	r.bridge.Wait()
	r.actor.RunPending()
}

func TestEndedAdvancesOnlyWithAutoplay(t *testing.T) {
	r := newOrchRig(t)

	r.o.Ended()
	r.settle()
	if n := r.backend.Calls("skip"); n != 1 {
		t.Fatalf("autoplay on: expected exactly one skip, got %d", n)
	}

	r.publish(t, core.ChannelPlaylistUpdated, core.PlaylistState{Autoplay: false})
	r.o.Ended()
	r.settle()
	if n := r.backend.Calls("skip"); n != 1 {
		t.Fatalf("autoplay off: expected no further skip, got %d", n)
	}
}

func TestPlayPauseResumeRouteToPlayer(t *testing.T) {
	r := newOrchRig(t)
	r.publish(t, core.ChannelPlaylistPlay, core.PlaylistItem{ID: "1", VideoID: "dQw4w9WgXcQ"})
	r.publish(t, core.ChannelPlaylistPause, nil)
	r.publish(t, core.ChannelPlaylistResume, nil)

	if len(r.player.played) != 1 || r.player.played[0] != "dQw4w9WgXcQ" {
		t.Fatalf("unexpected plays %v", r.player.played)
	}
	if r.player.pauses != 1 || r.player.resumes != 1 {
		t.Fatalf("pause/resume not routed: %+v", r.player)
	}
}

func TestUpdatedReplacesCache(t *testing.T) {
	r := newOrchRig(t)
	idx := 1
	st := core.PlaylistState{
		Items:        []core.PlaylistItem{{ID: "a", VideoID: "va"}, {ID: "b", VideoID: "vb"}},
		CurrentIndex: &idx,
		IsPlaying:    true,
		Autoplay:     true,
	}
	r.publish(t, core.ChannelPlaylistUpdated, st)

	v := r.o.View()
	if len(v.State.Items) != 2 || *v.State.CurrentIndex != 1 || !v.State.IsPlaying {
		t.Fatalf("cache not replaced: %+v", v.State)
	}
	if r.player.cleared != 0 {
		t.Fatalf("intent cleared while an item is current")
	}

	r.publish(t, core.ChannelPlaylistUpdated, core.PlaylistState{Autoplay: true})
	if v := r.o.View(); len(v.State.Items) != 0 {
		t.Fatalf("expected empty cache, got %+v", v.State)
	}
	if r.player.cleared != 1 {
		t.Fatalf("expected intent cleared for an empty playlist")
	}
}

func TestErrorClearsAfterTTL(t *testing.T) {
	r := newOrchRig(t)
	r.publish(t, core.ChannelPlaylistError, `"재생할 항목이 없습니다"`)
	if got := r.o.View().LastError; got != "재생할 항목이 없습니다" {
		t.Fatalf("unexpected error %q", got)
	}

	r.publish(t, core.ChannelPlaylistError, "second failure")
	if got := r.o.View().LastError; got != "second failure" {
		t.Fatalf("bare text error not decoded: %q", got)
	}

	// The first timer belongs to an older error and must not clear the newer one.
	r.timers.fns[0]()
	r.actor.RunPending()
	if r.o.View().LastError == "" {
		t.Fatalf("stale timer cleared the current error")
	}
	r.timers.fns[1]()
	r.actor.RunPending()
	if got := r.o.View().LastError; got != "" {
		t.Fatalf("error not cleared: %q", got)
	}
}

func TestToggleAutoplayIsOptimistic(t *testing.T) {
	r := newOrchRig(t)
	r.o.ToggleAutoplay()
	r.settle()
	if r.o.View().State.Autoplay {
		t.Fatalf("autoplay should flip off locally")
	}
	if got := r.backend.Autoplay(); len(got) != 1 || got[0] {
		t.Fatalf("backend not told: %v", got)
	}

	// The backend's answer wins.
	r.publish(t, core.ChannelPlaylistUpdated, core.PlaylistState{Autoplay: true})
	if !r.o.View().State.Autoplay {
		t.Fatalf("updated event should be authoritative")
	}
}

func TestLoadAndPassThroughCommands(t *testing.T) {
	r := newOrchRig(t)
	idx := 0
	r.backend.SetPlaylist(core.PlaylistState{
		Items:        []core.PlaylistItem{{ID: "a", VideoID: "va"}},
		CurrentIndex: &idx,
		Autoplay:     false,
	})
	if err := r.o.Load(r.ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	r.actor.RunPending()
	if v := r.o.View(); len(v.State.Items) != 1 || v.State.Autoplay {
		t.Fatalf("load not applied: %+v", v.State)
	}

	r.o.MoveItem(0, 1)
	r.o.PlayAtIndex(2)
	r.o.RemoveItem(3)
	r.o.SkipToNext()
	r.o.ClearPlaylist()
	r.settle()

	if m := r.backend.Moves(); len(m) != 1 || m[0] != [2]int{0, 1} {
		t.Fatalf("unexpected moves %v", m)
	}
	if r.backend.Calls("play_at") != 1 || r.backend.Calls("remove") != 1 ||
		r.backend.Calls("skip") != 1 || r.backend.Calls("clear_playlist") != 1 {
		t.Fatalf("pass-through calls missing")
	}
}

func TestCloseStopsRouting(t *testing.T) {
	r := newOrchRig(t)
	r.o.Close()
	r.publish(t, core.ChannelPlaylistPlay, core.PlaylistItem{VideoID: "x"})
	r.o.Ended()
	r.settle()
	if len(r.player.played) != 0 || r.backend.Calls("skip") != 0 {
		t.Fatalf("closed orchestrator still acted")
	}
}
