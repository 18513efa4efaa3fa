// Package loop provides the single event loop every engine component mutates
// its state on.
package loop

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"
	"sync"
)

// ErrStopped is returned by Do when the actor has stopped.
var ErrStopped = errors.New("loop: actor stopped")

// Actor runs posted closures one at a time, in post order, on a single
// goroutine. The mailbox is unbounded so posting never blocks and a closure
// may post further work without deadlocking.
type Actor struct {
	mu      sync.Mutex
	queue   []func()
	wake    chan struct{}
	stopped chan struct{}
	once    sync.Once
	running bool
}

func New() *Actor {
	return &Actor{
		wake:    make(chan struct{}, 1),
		stopped: make(chan struct{}),
	}
}

// Post enqueues fn. It returns false once the actor has stopped.
func (a *Actor) Post(fn func()) bool {
	if fn == nil {
		return true
	}
	a.mu.Lock()
	select {
	case <-a.stopped:
		a.mu.Unlock()
		return false
	default:
	}
	a.queue = append(a.queue, fn)
	a.mu.Unlock()

	select {
	case a.wake <- struct{}{}:
	default:
	}
	return true
}

// Do posts fn and waits for it to finish.
func (a *Actor) Do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	if !a.Post(func() {
		defer close(done)
		fn()
	}) {
		return ErrStopped
	}
	select {
	case <-done:
		return nil
	case <-a.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Serve drains the mailbox until ctx is canceled. It satisfies suture.Service.
func (a *Actor) Serve(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return errors.New("loop: actor already running")
	}
	a.running = true
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		a.running = false
		a.mu.Unlock()
	}()

	for {
		a.RunPending()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-a.stopped:
			return nil
		case <-a.wake:
		}
	}
}

// RunPending executes every queued closure on the calling goroutine,
// including closures queued while it runs, and reports how many ran. It is
// used by Serve and by tests that drive the loop by hand.
func (a *Actor) RunPending() int {
	n := 0
	for {
		a.mu.Lock()
		if len(a.queue) == 0 {
			a.mu.Unlock()
			return n
		}
		batch := a.queue
		a.queue = nil
		a.mu.Unlock()

		for _, fn := range batch {
			a.invoke(fn)
			n++
		}
	}
}

// Stop refuses further posts and ends Serve. Closures still queued are
// discarded.
func (a *Actor) Stop() {
	a.once.Do(func() {
		a.mu.Lock()
		close(a.stopped)
		a.queue = nil
		a.mu.Unlock()
	})
}

func (a *Actor) String() string { return "event-loop" }

func (a *Actor) invoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("loop: handler panic", "panic", r, "stack", string(debug.Stack()))
		}
	}()
	fn()
}
