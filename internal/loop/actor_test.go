package loop

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestRunPendingPreservesPostOrder(t *testing.T) {
	a := New()
	var got []int
	for i := 0; i < 5; i++ {
		i := i
		a.Post(func() { got = append(got, i) })
	}
	if n := a.RunPending(); n != 5 {
		t.Fatalf("expected 5 closures to run, got %d", n)
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("out of order: %v", got)
		}
	}
}

func TestNestedPostRunsInSameDrain(t *testing.T) {
	a := New()
	var got []string
	a.Post(func() {
		got = append(got, "outer")
		a.Post(func() { got = append(got, "inner") })
	})
	a.RunPending()
	if len(got) != 2 || got[1] != "inner" {
		t.Fatalf("nested post not drained: %v", got)
	}
}

func TestPanicDoesNotStopLoop(t *testing.T) {
	a := New()
	ran := false
	a.Post(func() { panic("boom") })
	a.Post(func() { ran = true })
	a.RunPending()
	if !ran {
		t.Fatalf("closure after panic did not run")
	}
}

func TestServeAndDo(t *testing.T) {
	a := New()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- a.Serve(ctx) }()

	var (
		mu    sync.Mutex
		count int
	)
	for i := 0; i < 100; i++ {
		a.Post(func() {
			mu.Lock()
			count++
			mu.Unlock()
		})
	}
	doCtx, doCancel := context.WithTimeout(context.Background(), time.Second)
	defer doCancel()
	if err := a.Do(doCtx, func() {}); err != nil {
		t.Fatalf("do: %v", err)
	}
	mu.Lock()
	if count != 100 {
		t.Fatalf("expected 100 closures before Do returned, got %d", count)
	}
	mu.Unlock()

	cancel()
	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("unexpected serve error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("serve did not return after cancel")
	}
}

func TestStopRejectsPosts(t *testing.T) {
	a := New()
	a.Stop()
	if a.Post(func() {}) {
		t.Fatalf("post accepted after stop")
	}
	if err := a.Do(context.Background(), func() {}); !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped, got %v", err)
	}
}
