package ingress

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/GG-O-BP/chzpuri-streaming-assistant/internal/core"
	"github.com/GG-O-BP/chzpuri-streaming-assistant/internal/loop"
)

func newTestDispatcher(t *testing.T) (*Dispatcher, *MemoryBus, *loop.Actor) {
	t.Helper()
	bus := NewMemoryBus()
	actor := loop.New()
	return New(bus, actor, Options{DropSummaryInterval: time.Hour}), bus, actor
}

func TestDeliveryPreservesTransportOrder(t *testing.T) {
	d, bus, actor := newTestDispatcher(t)
	ctx := context.Background()

	var got []string
	if _, err := d.Subscribe(ctx, "ch", func(p []byte) { got = append(got, string(p)) }); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	for _, p := range []string{"1", "2", "3"} {
		_ = bus.Publish(ctx, "ch", []byte(p))
	}
	if len(got) != 0 {
		t.Fatalf("handlers must run on the loop, not the transport goroutine")
	}
	actor.RunPending()
	if len(got) != 3 || got[0] != "1" || got[1] != "2" || got[2] != "3" {
		t.Fatalf("unexpected order: %v", got)
	}
}

func TestReleaseSuppressesQueuedDeliveries(t *testing.T) {
	d, bus, actor := newTestDispatcher(t)
	ctx := context.Background()

	called := 0
	sub, err := d.Subscribe(ctx, "ch", func([]byte) { called++ })
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	_ = bus.Publish(ctx, "ch", []byte("queued"))
	sub.Release()
	sub.Release()
	actor.RunPending()

	if called != 0 {
		t.Fatalf("handler ran after release")
	}
	if bus.Listeners("ch") != 0 {
		t.Fatalf("transport listener not detached")
	}
	if d.drops.pending() != 1 {
		t.Fatalf("expected one released drop, got %d", d.drops.pending())
	}
}

func TestResubscribeReleasesPrevious(t *testing.T) {
	d, bus, actor := newTestDispatcher(t)
	ctx := context.Background()

	var first, second int
	old, err := d.Subscribe(ctx, "ch", func([]byte) { first++ })
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if _, err := d.Subscribe(ctx, "ch", func([]byte) { second++ }); err != nil {
		t.Fatalf("resubscribe: %v", err)
	}
	if old.Live() {
		t.Fatalf("previous subscription still live")
	}
	if bus.Listeners("ch") != 1 {
		t.Fatalf("expected a single listener, got %d", bus.Listeners("ch"))
	}
	_ = bus.Publish(ctx, "ch", []byte("x"))
	actor.RunPending()
	if first != 0 || second != 1 {
		t.Fatalf("unexpected deliveries first=%d second=%d", first, second)
	}
}

type blockingTransport struct {
	entered chan struct{}
	release chan struct{}
}

func (b *blockingTransport) Listen(context.Context, string, func([]byte)) (func(), error) {
	b.entered <- struct{}{}
	<-b.release
	return func() {}, nil
}

func TestConcurrentSetupIsRejected(t *testing.T) {
	tr := &blockingTransport{entered: make(chan struct{}), release: make(chan struct{})}
	d := New(tr, loop.New(), Options{})
	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Add(1)
	var firstErr error
	go func() {
		defer wg.Done()
		_, firstErr = d.Subscribe(ctx, "ch", func([]byte) {})
	}()
	<-tr.entered

	if _, err := d.Subscribe(ctx, "ch", func([]byte) {}); !errors.Is(err, ErrSetupInProgress) {
		t.Fatalf("expected ErrSetupInProgress, got %v", err)
	}

	close(tr.release)
	wg.Wait()
	if firstErr != nil {
		t.Fatalf("first subscribe failed: %v", firstErr)
	}
	if got := d.Active(); len(got) != 1 || got[0] != "ch" {
		t.Fatalf("unexpected active channels: %v", got)
	}
}

type failingTransport struct{}

func (failingTransport) Listen(context.Context, string, func([]byte)) (func(), error) {
	return nil, errors.New("unreachable")
}

func TestListenFailureIsReturned(t *testing.T) {
	d := New(failingTransport{}, loop.New(), Options{})
	if _, err := d.Subscribe(context.Background(), "ch", func([]byte) {}); err == nil {
		t.Fatalf("expected listen error")
	}
	if len(d.Active()) != 0 {
		t.Fatalf("failed subscription must not be active")
	}
	// setup flag must be cleared so a retry is possible
	if _, err := d.Subscribe(context.Background(), "ch", func([]byte) {}); errors.Is(err, ErrSetupInProgress) {
		t.Fatalf("setup flag leaked after failure")
	}
}

func TestChatRouterDispatchesByTag(t *testing.T) {
	d, bus, actor := newTestDispatcher(t)
	ctx := context.Background()

	var seen []string
	_, err := d.SubscribeChat(ctx, ChatRouter{
		OnChat:         func(ev core.ChatEvent) { seen = append(seen, "chat:"+ev.UID) },
		OnDonation:     func(ev core.ChatEvent) { seen = append(seen, "donation:"+ev.UID) },
		OnConnected:    func() { seen = append(seen, "connected") },
		OnDisconnected: func() { seen = append(seen, "disconnected") },
		OnError:        func(msg string) { seen = append(seen, "error:"+msg) },
	})
	if err != nil {
		t.Fatalf("subscribe chat: %v", err)
	}

	payloads := []string{
		`{"type":"connected"}`,
		`{"type":"chat","uid":"a","msg":"hi"}`,
		`{"type":"mystery"}`,
		`not json`,
		`{"type":"donation","uid":"b","extras":{"payAmount":1000}}`,
		`{"type":"error","message":"lost"}`,
		`{"type":"disconnected"}`,
	}
	for _, p := range payloads {
		_ = bus.Publish(ctx, core.ChannelChatEvent, []byte(p))
	}
	actor.RunPending()

	want := []string{"connected", "chat:a", "donation:b", "error:lost", "disconnected"}
	if len(seen) != len(want) {
		t.Fatalf("unexpected dispatch: %v", seen)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("position %d: want %s got %s", i, want[i], seen[i])
		}
	}
	if d.drops.pending() != 2 {
		t.Fatalf("expected unknown tag and decode failure to be dropped, got %d", d.drops.pending())
	}
}

func TestPlaylistRouterDecodesPayloads(t *testing.T) {
	d, bus, actor := newTestDispatcher(t)
	ctx := context.Background()

	var (
		played  core.PlaylistItem
		updated core.PlaylistState
		errMsg  string
		paused  bool
	)
	set, err := d.SubscribePlaylist(ctx, PlaylistRouter{
		OnPlay:    func(item core.PlaylistItem) { played = item },
		OnPause:   func() { paused = true },
		OnUpdated: func(st core.PlaylistState) { updated = st },
		OnError:   func(msg string) { errMsg = msg },
	})
	if err != nil {
		t.Fatalf("subscribe playlist: %v", err)
	}
	if len(set) != len(core.PlaylistChannels) {
		t.Fatalf("expected %d subscriptions, got %d", len(core.PlaylistChannels), len(set))
	}

	_ = bus.Publish(ctx, core.ChannelPlaylistPlay, []byte(`{"id":"i1","video_id":"dQw4w9WgXcQ","title":"t"}`))
	_ = bus.Publish(ctx, core.ChannelPlaylistPause, nil)
	_ = bus.Publish(ctx, core.ChannelPlaylistUpdated, []byte(`{"items":[{"id":"i1","video_id":"v"}],"current_index":0,"is_playing":true,"autoplay":false}`))
	_ = bus.Publish(ctx, core.ChannelPlaylistError, []byte(`"limit reached"`))
	actor.RunPending()

	if played.VideoID != "dQw4w9WgXcQ" {
		t.Fatalf("play item not decoded: %+v", played)
	}
	if !paused {
		t.Fatalf("pause not routed")
	}
	if len(updated.Items) != 1 || updated.Autoplay || updated.CurrentIndex == nil || *updated.CurrentIndex != 0 {
		t.Fatalf("state not decoded: %+v", updated)
	}
	if errMsg != "limit reached" {
		t.Fatalf("unexpected error text %q", errMsg)
	}

	set.Release()
	for _, ch := range core.PlaylistChannels {
		if bus.Listeners(ch) != 0 {
			t.Fatalf("listener left on %s", ch)
		}
	}
}

func TestCloseReleasesEverything(t *testing.T) {
	d, bus, _ := newTestDispatcher(t)
	ctx := context.Background()
	if _, err := d.SubscribePlaylist(ctx, PlaylistRouter{}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	d.Close()
	if len(d.Active()) != 0 {
		t.Fatalf("active subscriptions after close: %v", d.Active())
	}
	if bus.Listeners(core.ChannelPlaylistPlay) != 0 {
		t.Fatalf("listener left after close")
	}
}
