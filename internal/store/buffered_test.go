package store

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/GG-O-BP/chzpuri-streaming-assistant/internal/core"
)

type recordingWriter struct {
	mu        sync.Mutex
	messages  []core.DisplayMessage
	failAfter int
	calls     int
}

func (r *recordingWriter) Write(msg core.DisplayMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.failAfter > 0 && r.calls >= r.failAfter {
		return fmt.Errorf("boom")
	}
	r.messages = append(r.messages, msg)
	return nil
}

func (r *recordingWriter) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.messages)
}

func TestBufferedWriterBatchFlush(t *testing.T) {
	base := &recordingWriter{}
	bw := NewBufferedWriter(base, BufferedOptions{BatchSize: 2, FlushInterval: time.Hour})
	defer bw.Close()

	if err := bw.Write(core.DisplayMessage{ID: "1"}); err != nil {
		t.Fatalf("write1: %v", err)
	}
	if base.Count() != 0 {
		t.Fatalf("expected no flush yet")
	}
	if err := bw.Write(core.DisplayMessage{ID: "2"}); err != nil {
		t.Fatalf("write2: %v", err)
	}
	if base.Count() != 2 {
		t.Fatalf("expected batch flush, got %d", base.Count())
	}
}

func TestBufferedWriterFlushInterval(t *testing.T) {
	base := &recordingWriter{}
	bw := NewBufferedWriter(base, BufferedOptions{BatchSize: 10, FlushInterval: 20 * time.Millisecond})
	defer bw.Close()

	if err := bw.Write(core.DisplayMessage{ID: "interval"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for base.Count() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("expected timer flush, got %d", base.Count())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestBufferedWriterExplicitFlushAndDiscard(t *testing.T) {
	base := &recordingWriter{}
	bw := NewBufferedWriter(base, BufferedOptions{BatchSize: 10, FlushInterval: time.Hour})

	_ = bw.Write(core.DisplayMessage{ID: "a"})
	if err := bw.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if base.Count() != 1 {
		t.Fatalf("flush wrote %d", base.Count())
	}

	_ = bw.Write(core.DisplayMessage{ID: "b"})
	bw.Discard()
	if err := bw.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if base.Count() != 1 {
		t.Fatalf("discarded message was written")
	}
	if err := bw.Write(core.DisplayMessage{ID: "c"}); err != ErrWriterClosed {
		t.Fatalf("write after close: %v", err)
	}
}

func TestBufferedWriterErrorPropagation(t *testing.T) {
	base := &recordingWriter{failAfter: 1}
	bw := NewBufferedWriter(base, BufferedOptions{BatchSize: 1})
	defer bw.Close()

	if err := bw.Write(core.DisplayMessage{ID: "x"}); err == nil {
		t.Fatalf("expected error from base writer")
	}
}
