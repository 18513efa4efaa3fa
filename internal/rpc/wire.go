// Package rpc carries backend calls over HTTP. Each call is a POST to
// /rpc/<call name> with a JSON argument object; the reply is an envelope
// holding either the result or the backend's error text.
package rpc

import (
	json "github.com/goccy/go-json"

	"github.com/GG-O-BP/chzpuri-streaming-assistant/internal/core"
)

const PathPrefix = "/rpc/"

type envelope struct {
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

type connectArgs struct {
	ChannelID string `json:"channel_id"`
}

type forwardArgs struct {
	Username string `json:"username"`
	Message  string `json:"message"`
}

type storeArgs struct {
	Message core.DisplayMessage `json:"message"`
}

type moveArgs struct {
	From int `json:"from"`
	To   int `json:"to"`
}

type indexArgs struct {
	Index int `json:"index"`
}

type autoplayArgs struct {
	Enabled bool `json:"enabled"`
}

// RemoteError is an error returned by the backend itself, as opposed to a
// transport failure.
type RemoteError struct {
	Call    string
	Message string
}

func (e *RemoteError) Error() string { return e.Message }
