package chat

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/GG-O-BP/chzpuri-streaming-assistant/internal/chatstate"
	"github.com/GG-O-BP/chzpuri-streaming-assistant/internal/core"
)

// Activate seeds the session from the backend: the connection flag first,
// then the stored display history in persisted order. Live events may arrive
// before, during or after the replay; ids already in the log are skipped, so
// nothing is duplicated. A failure leaves the current state as it is.
func (s *Session) Activate(ctx context.Context) error {
	connected, err := s.backend.IsConnected(ctx)
	if err != nil {
		slog.Warn("chat: reconcile connection check failed", "err", err)
	} else {
		if state, err := s.backend.GetConnectionState(ctx); err == nil {
			slog.Info("chat: backend connection state", "state", state, "connected", connected)
		}
		if connected {
			s.loop.Post(func() { s.apply(chatstate.SetConnected{Connected: true}) })
		}
	}

	history, err := s.backend.GetMessages(ctx)
	if err != nil {
		slog.Warn("chat: reconcile history failed", "err", err)
		return fmt.Errorf("chat: load history: %w", err)
	}
	s.loop.Post(func() { s.restore(history) })
	return nil
}

func (s *Session) restore(history []core.DisplayMessage) {
	restored := 0
	for _, msg := range history {
		if s.state.Has(msg.ID) {
			continue
		}
		s.apply(chatstate.AddMessage{Message: msg})
		restored++
	}
	slog.Info("chat: restored history", "restored", restored, "stored", len(history))
}
