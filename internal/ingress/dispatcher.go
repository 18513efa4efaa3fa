// Package ingress subscribes to backend event channels and hands every
// delivered payload to its handler on the event loop.
package ingress

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/GG-O-BP/chzpuri-streaming-assistant/internal/metrics"
)

// ErrSetupInProgress is returned when Subscribe is called for a channel whose
// previous Subscribe call has not returned yet.
var ErrSetupInProgress = errors.New("ingress: subscription setup in progress")

// Transport delivers raw payloads for a named channel. fn must be called
// sequentially, in the order the transport received the payloads. The
// returned stop func detaches fn.
type Transport interface {
	Listen(ctx context.Context, channel string, fn func(payload []byte)) (stop func(), err error)
}

// Publisher sends a payload on a named channel.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// Poster schedules closures on the event loop.
type Poster interface {
	Post(fn func()) bool
}

// Handler consumes one payload. It always runs on the event loop.
type Handler func(payload []byte)

const (
	reasonReleased    = "released"
	reasonStopped     = "loop_stopped"
	reasonUnknownType = "unknown_type"
	reasonDecode      = "decode_error"
)

type Options struct {
	Metrics             *metrics.Engine
	DropSummaryInterval time.Duration
	VerboseDrops        bool
}

type Dispatcher struct {
	transport Transport
	loop      Poster
	metrics   *metrics.Engine
	drops     *dropLogger
	now       func() time.Time

	mu        sync.Mutex
	active    map[string]*Subscription
	settingUp map[string]bool
}

func New(transport Transport, loop Poster, opts Options) *Dispatcher {
	now := time.Now
	return &Dispatcher{
		transport: transport,
		loop:      loop,
		metrics:   opts.Metrics,
		drops:     newDropLogger(now(), opts.VerboseDrops, opts.DropSummaryInterval),
		now:       now,
		active:    make(map[string]*Subscription),
		settingUp: make(map[string]bool),
	}
}

// Subscription is a live attachment of one handler to one channel.
type Subscription struct {
	channel string
	d       *Dispatcher
	live    atomic.Bool

	mu   sync.Mutex
	stop func()
}

func (s *Subscription) Channel() string { return s.channel }

// Live reports whether the subscription still delivers.
func (s *Subscription) Live() bool { return s != nil && s.live.Load() }

// Release detaches the handler. After Release returns no handler invocation
// starts for this subscription, even for payloads already queued on the
// loop. Release is idempotent.
func (s *Subscription) Release() {
	if s == nil || !s.live.CompareAndSwap(true, false) {
		return
	}
	s.mu.Lock()
	stop := s.stop
	s.stop = nil
	s.mu.Unlock()
	if stop != nil {
		stop()
	}
	s.d.forget(s)
	slog.Debug("ingress: subscription released", "channel", s.channel)
}

func (s *Subscription) setStop(stop func()) {
	s.mu.Lock()
	if s.live.Load() {
		s.stop = stop
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	if stop != nil {
		stop()
	}
}

// Set groups subscriptions created together.
type Set []*Subscription

func (s Set) Release() {
	for _, sub := range s {
		sub.Release()
	}
}

// Subscribe attaches h to channel. An existing subscription on the same
// channel is released first.
func (d *Dispatcher) Subscribe(ctx context.Context, channel string, h Handler) (*Subscription, error) {
	if h == nil {
		return nil, errors.New("ingress: nil handler")
	}

	d.mu.Lock()
	if d.settingUp[channel] {
		d.mu.Unlock()
		return nil, ErrSetupInProgress
	}
	d.settingUp[channel] = true
	prev := d.active[channel]
	delete(d.active, channel)
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		delete(d.settingUp, channel)
		d.mu.Unlock()
	}()

	if prev != nil {
		prev.Release()
	}

	sub := &Subscription{channel: channel, d: d}
	sub.live.Store(true)

	stop, err := d.transport.Listen(ctx, channel, func(payload []byte) {
		d.deliver(sub, h, payload)
	})
	if err != nil {
		sub.live.Store(false)
		return nil, fmt.Errorf("ingress: listen %s: %w", channel, err)
	}
	sub.setStop(stop)

	d.mu.Lock()
	d.active[channel] = sub
	d.mu.Unlock()

	slog.Debug("ingress: subscribed", "channel", channel)
	return sub, nil
}

// Close releases every active subscription and emits pending drop summaries.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	subs := make([]*Subscription, 0, len(d.active))
	for _, sub := range d.active {
		subs = append(subs, sub)
	}
	d.mu.Unlock()

	for _, sub := range subs {
		sub.Release()
	}
	d.drops.flush(d.now())
}

// Active returns the channels with a live subscription.
func (d *Dispatcher) Active() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, 0, len(d.active))
	for ch := range d.active {
		out = append(out, ch)
	}
	return out
}

func (d *Dispatcher) forget(sub *Subscription) {
	d.mu.Lock()
	if d.active[sub.channel] == sub {
		delete(d.active, sub.channel)
	}
	d.mu.Unlock()
}

func (d *Dispatcher) deliver(sub *Subscription, h Handler, payload []byte) {
	d.metrics.IncEventsReceived(sub.channel)
	if !sub.Live() {
		d.drop(sub.channel, reasonReleased, payload)
		return
	}
	payload = bytes.Clone(payload)
	ok := d.loop.Post(func() {
		if !sub.Live() {
			d.drop(sub.channel, reasonReleased, payload)
			return
		}
		h(payload)
	})
	if !ok {
		d.drop(sub.channel, reasonStopped, payload)
	}
}

func (d *Dispatcher) drop(channel, reason string, payload []byte) {
	d.metrics.IncEventsDropped(channel, reason)
	d.drops.note(d.now(), reason, channel, payload)
}
