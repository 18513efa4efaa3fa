// Package chatstate holds the chat log and connection status as an immutable
// value and the pure reducer that derives the next value from a transition.
package chatstate

import (
	"github.com/GG-O-BP/chzpuri-streaming-assistant/internal/core"
)

// State is never mutated in place. Messages may be shared between successive
// values, so callers must treat it as read-only.
type State struct {
	ChannelID string
	Status    core.ConnectionStatus
	Messages  []core.DisplayMessage
	Error     string
}

// Initial returns the zero-connection starting state.
func Initial() State {
	return State{Status: core.StatusDisconnected}
}

// Connected reports whether the status is connected.
func (s State) Connected() bool { return s.Status == core.StatusConnected }

// Has reports whether a message with id is already in the log.
func (s State) Has(id string) bool {
	for i := range s.Messages {
		if s.Messages[i].ID == id {
			return true
		}
	}
	return false
}

// Transition is the closed set of state changes accepted by Reduce.
type Transition interface {
	apply(State) State
}

type (
	SetChannelID  struct{ ID string }
	SetConnected  struct{ Connected bool }
	SetConnecting struct{}
	AddMessage    struct{ Message core.DisplayMessage }
	ClearMessages struct{}
	SetError      struct{ Message string }
	ClearError    struct{}
)

// Reduce is a pure function: the same inputs always yield the same output and
// s is never modified.
func Reduce(s State, t Transition) State {
	if t == nil {
		return s
	}
	return t.apply(s)
}

func (t SetChannelID) apply(s State) State {
	s.ChannelID = t.ID
	return s
}

func (t SetConnected) apply(s State) State {
	if t.Connected {
		s.Status = core.StatusConnected
	} else {
		s.Status = core.StatusDisconnected
	}
	return s
}

func (SetConnecting) apply(s State) State {
	s.Status = core.StatusConnecting
	return s
}

// apply returns s untouched when the id is already present, which makes
// replays and redeliveries idempotent.
func (t AddMessage) apply(s State) State {
	if s.Has(t.Message.ID) {
		return s
	}
	msgs := make([]core.DisplayMessage, len(s.Messages), len(s.Messages)+1)
	copy(msgs, s.Messages)
	s.Messages = append(msgs, t.Message)
	return s
}

func (ClearMessages) apply(s State) State {
	s.Messages = nil
	return s
}

func (t SetError) apply(s State) State {
	s.Error = t.Message
	return s
}

func (ClearError) apply(s State) State {
	s.Error = ""
	return s
}
