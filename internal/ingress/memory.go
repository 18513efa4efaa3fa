package ingress

import (
	"context"
	"sync"
)

// MemoryBus is an in-process Transport and Publisher. Publish delivers
// synchronously on the caller's goroutine.
type MemoryBus struct {
	mu        sync.RWMutex
	nextID    int
	listeners map[string]map[int]func([]byte)
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{listeners: make(map[string]map[int]func([]byte))}
}

func (b *MemoryBus) Listen(_ context.Context, channel string, fn func([]byte)) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	if b.listeners[channel] == nil {
		b.listeners[channel] = make(map[int]func([]byte))
	}
	b.listeners[channel][id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.listeners[channel], id)
			b.mu.Unlock()
		})
	}, nil
}

func (b *MemoryBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.RLock()
	fns := make([]func([]byte), 0, len(b.listeners[channel]))
	for _, fn := range b.listeners[channel] {
		fns = append(fns, fn)
	}
	b.mu.RUnlock()

	for _, fn := range fns {
		fn(payload)
	}
	return nil
}

// Listeners reports how many listeners are attached to channel.
func (b *MemoryBus) Listeners(channel string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners[channel])
}
