package backend

import (
	"errors"
	"strings"
)

// Phase is the chat connection phase.
type Phase int

const (
	Disconnected Phase = iota
	Connecting
	Connected
	Failed
)

// String returns the name reported by get_chzzk_state.
func (p Phase) String() string {
	switch p {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Failed:
		return "error"
	default:
		return "disconnected"
	}
}

// ConnState is the connection state. ChannelID is set while Connecting or
// Connected, Message while Failed.
type ConnState struct {
	Phase     Phase
	ChannelID string
	Message   string
}

type connEvent int

const (
	evStartConnect connEvent = iota
	evConnectOK
	evConnectErr
	evStartDisconnect
	evDisconnectOK
	evDisconnectErr
)

var (
	ErrAlreadyConnected = errors.New("Already connected")
	ErrConnecting       = errors.New("Connection in progress")
	ErrNotConnected     = errors.New("Not connected")
	ErrEmptyChannel     = errors.New("채널 ID를 입력해주세요.")
)

// transition applies ev to cur. Pairs without a rule keep cur.
func transition(cur ConnState, ev connEvent, arg string) ConnState {
	switch {
	case cur.Phase == Disconnected && ev == evStartConnect,
		cur.Phase == Failed && ev == evStartConnect:
		return ConnState{Phase: Connecting, ChannelID: arg}
	case cur.Phase == Connecting && ev == evConnectOK:
		return ConnState{Phase: Connected, ChannelID: arg}
	case cur.Phase == Connecting && ev == evConnectErr,
		cur.Phase == Connected && ev == evDisconnectErr:
		return ConnState{Phase: Failed, Message: arg}
	case cur.Phase == Connected && (ev == evStartDisconnect || ev == evDisconnectOK),
		cur.Phase == Failed && ev == evStartDisconnect:
		return ConnState{Phase: Disconnected}
	}
	return cur
}

func canConnect(s ConnState) error {
	switch s.Phase {
	case Connected:
		return ErrAlreadyConnected
	case Connecting:
		return ErrConnecting
	}
	return nil
}

func canDisconnect(s ConnState) error {
	if s.Phase != Connected {
		return ErrNotConnected
	}
	return nil
}

func validateChannelID(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", ErrEmptyChannel
	}
	return id, nil
}
