package backend

import (
	"context"
	"sync"

	"github.com/GG-O-BP/chzpuri-streaming-assistant/internal/core"
)

// MemoryStore keeps display messages and the playlist in memory. Like the
// SQLite store it ignores messages whose id is already stored.
type MemoryStore struct {
	mu       sync.Mutex
	msgs     []core.DisplayMessage
	ids      map[string]struct{}
	playlist *core.PlaylistState
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{ids: make(map[string]struct{})}
}

func (m *MemoryStore) Write(msg core.DisplayMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.ids[msg.ID]; ok {
		return nil
	}
	m.ids[msg.ID] = struct{}{}
	m.msgs = append(m.msgs, msg)
	return nil
}

func (m *MemoryStore) All(context.Context) ([]core.DisplayMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]core.DisplayMessage(nil), m.msgs...), nil
}

func (m *MemoryStore) Clear(context.Context) error {
	m.mu.Lock()
	m.msgs = nil
	m.ids = make(map[string]struct{})
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) SavePlaylist(_ context.Context, st core.PlaylistState) error {
	m.mu.Lock()
	c := st.Clone()
	m.playlist = &c
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) LoadPlaylist(context.Context) (core.PlaylistState, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.playlist == nil {
		return core.PlaylistState{}, false, nil
	}
	return m.playlist.Clone(), true, nil
}
