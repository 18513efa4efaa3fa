package chat

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/GG-O-BP/chzpuri-streaming-assistant/internal/bridge"
	"github.com/GG-O-BP/chzpuri-streaming-assistant/internal/bridge/bridgetest"
	"github.com/GG-O-BP/chzpuri-streaming-assistant/internal/chatstate"
	"github.com/GG-O-BP/chzpuri-streaming-assistant/internal/core"
	"github.com/GG-O-BP/chzpuri-streaming-assistant/internal/ingress"
	"github.com/GG-O-BP/chzpuri-streaming-assistant/internal/loop"
)

type harness struct {
	t        *testing.T
	ctx      context.Context
	bus      *ingress.MemoryBus
	actor    *loop.Actor
	backend  *bridgetest.Backend
	bridge   *bridge.Bridge
	session  *Session
	accepted atomic.Int64
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	var tick atomic.Int64
	base := time.UnixMilli(1_700_000_000_000)
	return newHarnessAt(t, func() time.Time { return base.Add(time.Duration(tick.Add(1)) * time.Millisecond) })
}

func newHarnessAt(t *testing.T, now func() time.Time) *harness {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	actor := loop.New()
	go func() { _ = actor.Serve(ctx) }()

	h := &harness{
		t:       t,
		ctx:     ctx,
		bus:     ingress.NewMemoryBus(),
		actor:   actor,
		backend: bridgetest.New(),
	}
	h.bridge = bridge.New(h.backend, actor, bridge.Options{})
	h.session = NewSession(h.backend, h.bridge, actor, Options{
		Now:        now,
		OnAccepted: func(core.DisplayMessage) { h.accepted.Add(1) },
	})

	d := ingress.New(h.bus, actor, ingress.Options{})
	if err := h.session.Attach(ctx, d); err != nil {
		t.Fatalf("attach: %v", err)
	}
	return h
}

func (h *harness) publish(payload string) {
	h.t.Helper()
	if err := h.bus.Publish(h.ctx, core.ChannelChatEvent, []byte(payload)); err != nil {
		h.t.Fatalf("publish: %v", err)
	}
}

// flush waits for queued handlers, the calls they issued, and the results of
// those calls.
func (h *harness) flush() {
	h.t.Helper()
	for i := 0; i < 2; i++ {
		if err := h.actor.Do(h.ctx, func() {}); err != nil {
			h.t.Fatalf("flush: %v", err)
		}
		h.bridge.Wait()
	}
	if err := h.actor.Do(h.ctx, func() {}); err != nil {
		h.t.Fatalf("flush: %v", err)
	}
}

func (h *harness) state() chatstate.State { return h.session.Snapshot() }

func TestConnectChatAndRedelivery(t *testing.T) {
	h := newHarness(t)
	h.backend.OnConnect(func(string) { h.publish(`{"type":"connected"}`) })

	h.session.SetChannelID("abc123")
	if err := h.session.Connect(h.ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	h.flush()

	if h.backend.ChannelID() != "abc123" {
		t.Fatalf("backend connected to %q", h.backend.ChannelID())
	}
	st := h.state()
	if !st.Connected() {
		t.Fatalf("expected connected status, got %s", st.Status)
	}
	if len(st.Messages) != 1 || st.Messages[0].Kind != core.KindSystem || st.Messages[0].Body != ConnectedText {
		t.Fatalf("unexpected log after connect: %+v", st.Messages)
	}

	chat := `{"type":"chat","uid":"m1","nickname":"foo","msg":"hello","msgTime":1700000000000}`
	h.publish(chat)
	h.flush()

	st = h.state()
	if len(st.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(st.Messages))
	}
	if got := st.Messages[1]; got.ID != "m1" || got.AuthorName() != "foo" || got.Body != "hello" {
		t.Fatalf("unexpected chat record %+v", got)
	}
	fw := h.backend.Forwarded()
	if len(fw) != 1 || fw[0].Author != "foo" || fw[0].Body != "hello" {
		t.Fatalf("unexpected forwards %+v", fw)
	}
	if n := len(h.backend.Stored()); n != 2 {
		t.Fatalf("expected connected note and chat to be stored, got %d", n)
	}

	h.publish(chat)
	h.flush()

	if n := len(h.state().Messages); n != 2 {
		t.Fatalf("redelivery changed the log: %d messages", n)
	}
	if n := len(h.backend.Forwarded()); n != 1 {
		t.Fatalf("redelivery forwarded again: %d", n)
	}
	if n := h.accepted.Load(); n != 2 {
		t.Fatalf("expected 2 accepted records, got %d", n)
	}
}

func TestDuplicateConnectedIsSuppressed(t *testing.T) {
	h := newHarness(t)
	h.publish(`{"type":"connected"}`)
	h.publish(`{"type":"connected"}`)
	h.flush()

	st := h.state()
	if len(st.Messages) != 1 {
		t.Fatalf("expected a single connected note, got %+v", st.Messages)
	}

	h.publish(`{"type":"disconnected"}`)
	h.flush()
	st = h.state()
	if st.Connected() || len(st.Messages) != 2 || st.Messages[1].Body != DisconnectedText {
		t.Fatalf("unexpected state after disconnect: %+v", st)
	}

	h.publish(`{"type":"connected"}`)
	h.flush()
	if n := len(h.state().Messages); n != 3 {
		t.Fatalf("reconnect after disconnect should add a note, got %d messages", n)
	}
}

func TestSystemNotesInSameMillisecondAreKept(t *testing.T) {
	frozen := time.UnixMilli(1_700_000_000_000)
	h := newHarnessAt(t, func() time.Time { return frozen })
	h.publish(`{"type":"connected"}`)
	h.publish(`{"type":"disconnected"}`)
	h.publish(`{"type":"connected"}`)
	h.flush()

	msgs := h.state().Messages
	if len(msgs) != 3 {
		t.Fatalf("expected three notes, got %+v", msgs)
	}
	if msgs[0].ID == msgs[2].ID {
		t.Fatalf("connected notes share id %q", msgs[0].ID)
	}
	if got := len(h.backend.Stored()); got != 3 {
		t.Fatalf("expected three stored notes, got %d", got)
	}
}

func TestConnectedClearsError(t *testing.T) {
	h := newHarness(t)
	h.publish(`{"type":"error","message":"socket closed"}`)
	h.flush()
	if h.state().Error != "socket closed" {
		t.Fatalf("error not recorded: %q", h.state().Error)
	}
	h.publish(`{"type":"connected"}`)
	h.flush()
	if h.state().Error != "" {
		t.Fatalf("connected should clear the error")
	}
}

func TestDonationForwarding(t *testing.T) {
	h := newHarness(t)
	h.publish(`{"type":"donation","uid":"d1","msg":"좋아요","extras":"{\"payAmount\":2000}"}`)
	h.publish(`{"type":"donation","uid":"d2","nickname":"bar","msg":"!skip","extras":{"payAmount":1000}}`)
	h.publish(`{"type":"donation","uid":"d3","nickname":"baz","extras":{"payAmount":1000}}`)
	h.flush()

	if n := len(h.state().Messages); n != 3 {
		t.Fatalf("expected 3 donation records, got %d", n)
	}
	fw := h.backend.Forwarded()
	if len(fw) != 1 {
		t.Fatalf("expected only the plain donation forwarded, got %+v", fw)
	}
	if fw[0].Author != core.AnonymousDonor || fw[0].Body != "[후원 2000원] 좋아요" {
		t.Fatalf("unexpected forward %+v", fw[0])
	}
}

func TestSystemMessageIsStoredNotForwarded(t *testing.T) {
	h := newHarness(t)
	h.publish(`{"type":"systemMessage","uid":"s1","extras":{"description":"공지"}}`)
	h.flush()

	st := h.state()
	if len(st.Messages) != 1 || st.Messages[0].Body != "공지" {
		t.Fatalf("unexpected log %+v", st.Messages)
	}
	if len(h.backend.Forwarded()) != 0 {
		t.Fatalf("system messages must not be forwarded")
	}
	if len(h.backend.Stored()) != 1 {
		t.Fatalf("system message should be stored")
	}
}

func TestFailedCommandSurfacesSystemMessage(t *testing.T) {
	h := newHarness(t)
	h.backend.SetForwardErr(errors.New("queue full"))

	h.publish(`{"type":"chat","uid":"c1","nickname":"foo","msg":"!sr abc"}`)
	h.publish(`{"type":"chat","uid":"c2","nickname":"foo","msg":"plain"}`)
	h.flush()

	st := h.state()
	if len(st.Messages) != 3 {
		t.Fatalf("expected two chats and one failure note, got %+v", st.Messages)
	}
	note := st.Messages[2]
	if note.Kind != core.KindSystem || note.Body != "명령어 처리 중 오류가 발생했습니다: queue full" {
		t.Fatalf("unexpected failure note %+v", note)
	}
}

func TestCloseStopsDeliveryAndResults(t *testing.T) {
	h := newHarness(t)
	h.publish(`{"type":"chat","uid":"c1","nickname":"foo","msg":"hi"}`)
	h.flush()

	h.backend.SetForwardErr(errors.New("late failure"))
	h.publish(`{"type":"chat","uid":"c2","nickname":"foo","msg":"!skip"}`)
	h.session.Close()
	h.flush()

	h.publish(`{"type":"chat","uid":"c3","nickname":"foo","msg":"after"}`)
	h.flush()

	st := h.state()
	if len(st.Messages) != 1 || st.Messages[0].ID != "c1" {
		t.Fatalf("state changed after close: %+v", st.Messages)
	}
}

func TestConnectWithEmptyChannel(t *testing.T) {
	h := newHarness(t)
	h.session.SetChannelID("   ")
	if err := h.session.Connect(h.ctx); !errors.Is(err, ErrEmptyChannel) {
		t.Fatalf("expected ErrEmptyChannel, got %v", err)
	}
	h.flush()
	if h.state().Error != EmptyChannelText {
		t.Fatalf("unexpected error text %q", h.state().Error)
	}
	if h.backend.Calls("connect") != 0 {
		t.Fatalf("backend must not be called without a channel")
	}
}

func TestConnectFailureSetsError(t *testing.T) {
	h := newHarness(t)
	h.backend.SetConnectErr(errors.New("invalid channel"))
	h.session.SetChannelID("nope")
	if err := h.session.Connect(h.ctx); err == nil {
		t.Fatalf("expected connect error")
	}
	h.flush()
	st := h.state()
	if st.Status != core.StatusDisconnected {
		t.Fatalf("expected disconnected after failure, got %s", st.Status)
	}
	if !strings.Contains(st.Error, "invalid channel") {
		t.Fatalf("unexpected error %q", st.Error)
	}
}

func TestClearMessagesClearsBackendStore(t *testing.T) {
	h := newHarness(t)
	h.publish(`{"type":"chat","uid":"c1","nickname":"foo","msg":"hi"}`)
	h.flush()
	h.session.ClearMessages()
	h.flush()

	if n := len(h.state().Messages); n != 0 {
		t.Fatalf("log not cleared: %d", n)
	}
	if h.backend.Calls("clear_messages") != 1 {
		t.Fatalf("backend clear not issued")
	}
}

func TestDisconnectKeepsLog(t *testing.T) {
	h := newHarness(t)
	h.publish(`{"type":"chat","uid":"c1","nickname":"foo","msg":"hi"}`)
	h.flush()
	if err := h.session.Disconnect(h.ctx); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	h.flush()
	if n := len(h.state().Messages); n != 1 {
		t.Fatalf("disconnect must not clear the log, got %d", n)
	}
}
