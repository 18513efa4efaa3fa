package store

import (
	"errors"
	"sync"
	"time"

	"github.com/GG-O-BP/chzpuri-streaming-assistant/internal/core"
)

var ErrWriterClosed = errors.New("buffered writer closed")

type Writer interface {
	Write(core.DisplayMessage) error
}

// BufferedWriter batches writes to base. A batch is written when it reaches
// BatchSize or FlushInterval after its first message, whichever comes first.
// Errors from timer-driven flushes are returned by the next call.
type BufferedWriter struct {
	base          Writer
	batchSize     int
	flushInterval time.Duration

	mu      sync.Mutex
	buffer  []core.DisplayMessage
	timer   *time.Timer
	closed  bool
	lastErr error
}

type BufferedOptions struct {
	BatchSize     int
	FlushInterval time.Duration
}

func NewBufferedWriter(base Writer, opts BufferedOptions) *BufferedWriter {
	batch := opts.BatchSize
	if batch <= 0 {
		batch = 1
	}
	return &BufferedWriter{
		base:          base,
		batchSize:     batch,
		flushInterval: opts.FlushInterval,
	}
}

func (b *BufferedWriter) Write(msg core.DisplayMessage) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrWriterClosed
	}

	pendingErr := b.takeErrLocked()
	b.buffer = append(b.buffer, msg)
	if len(b.buffer) == 1 {
		b.startTimerLocked()
	}
	if len(b.buffer) < b.batchSize {
		b.mu.Unlock()
		return pendingErr
	}

	msgs := b.drainLocked()
	b.mu.Unlock()

	if err := b.writeAll(msgs); err != nil {
		return err
	}
	return pendingErr
}

// Flush writes anything buffered so reads through base observe it.
func (b *BufferedWriter) Flush() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrWriterClosed
	}
	pendingErr := b.takeErrLocked()
	msgs := b.drainLocked()
	b.mu.Unlock()

	if err := b.writeAll(msgs); err != nil {
		return err
	}
	return pendingErr
}

// Discard drops buffered messages that were not yet written.
func (b *BufferedWriter) Discard() {
	b.mu.Lock()
	b.drainLocked()
	b.mu.Unlock()
}

func (b *BufferedWriter) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	msgs := b.drainLocked()
	pendingErr := b.takeErrLocked()
	b.mu.Unlock()

	if err := b.writeAll(msgs); err != nil {
		return err
	}
	return pendingErr
}

func (b *BufferedWriter) onTimer() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.timer = nil
	msgs := b.drainLocked()
	b.mu.Unlock()

	if err := b.writeAll(msgs); err != nil {
		b.mu.Lock()
		b.lastErr = err
		b.mu.Unlock()
	}
}

func (b *BufferedWriter) takeErrLocked() error {
	err := b.lastErr
	b.lastErr = nil
	return err
}

func (b *BufferedWriter) drainLocked() []core.DisplayMessage {
	b.stopTimerLocked()
	if len(b.buffer) == 0 {
		return nil
	}
	msgs := append([]core.DisplayMessage(nil), b.buffer...)
	b.buffer = b.buffer[:0]
	return msgs
}

func (b *BufferedWriter) startTimerLocked() {
	if b.flushInterval <= 0 {
		return
	}
	if b.timer != nil {
		b.timer.Stop()
	}
	b.timer = time.AfterFunc(b.flushInterval, b.onTimer)
}

func (b *BufferedWriter) stopTimerLocked() {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
}

func (b *BufferedWriter) writeAll(msgs []core.DisplayMessage) error {
	for _, m := range msgs {
		if err := b.base.Write(m); err != nil {
			return err
		}
	}
	return nil
}
