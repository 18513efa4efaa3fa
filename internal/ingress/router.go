package ingress

import (
	"bytes"
	"context"
	"fmt"

	json "github.com/goccy/go-json"

	"github.com/GG-O-BP/chzpuri-streaming-assistant/internal/core"
)

// ChatRouter fans chat-event payloads out by tag. Nil callbacks ignore their
// tag.
type ChatRouter struct {
	OnChat         func(core.ChatEvent)
	OnDonation     func(core.ChatEvent)
	OnSystem       func(core.ChatEvent)
	OnConnected    func()
	OnDisconnected func()
	OnError        func(message string)
}

// SubscribeChat attaches r to the chat-event channel.
func (d *Dispatcher) SubscribeChat(ctx context.Context, r ChatRouter) (*Subscription, error) {
	return d.Subscribe(ctx, core.ChannelChatEvent, r.handler(d))
}

func (r ChatRouter) handler(d *Dispatcher) Handler {
	return func(payload []byte) {
		ev, err := core.DecodeChatEvent(payload)
		if err != nil {
			d.drop(core.ChannelChatEvent, reasonDecode, payload)
			return
		}
		switch ev.Type {
		case core.EventChat:
			callEvent(r.OnChat, ev)
		case core.EventDonation:
			callEvent(r.OnDonation, ev)
		case core.EventSystem:
			callEvent(r.OnSystem, ev)
		case core.EventConnected:
			if r.OnConnected != nil {
				r.OnConnected()
			}
		case core.EventDisconnected:
			if r.OnDisconnected != nil {
				r.OnDisconnected()
			}
		case core.EventError:
			if r.OnError != nil {
				r.OnError(ev.Message)
			}
		default:
			d.drop(core.ChannelChatEvent, reasonUnknownType, payload)
		}
	}
}

func callEvent(fn func(core.ChatEvent), ev core.ChatEvent) {
	if fn != nil {
		fn(ev)
	}
}

// PlaylistRouter receives the playlist lifecycle channels.
type PlaylistRouter struct {
	OnPlay    func(core.PlaylistItem)
	OnPause   func()
	OnResume  func()
	OnUpdated func(core.PlaylistState)
	OnError   func(message string)
}

// SubscribePlaylist attaches r to every playlist channel. Either all five
// subscriptions are created or none remain.
func (d *Dispatcher) SubscribePlaylist(ctx context.Context, r PlaylistRouter) (Set, error) {
	handlers := map[string]Handler{
		core.ChannelPlaylistPlay: func(payload []byte) {
			var item core.PlaylistItem
			if err := json.Unmarshal(payload, &item); err != nil {
				d.drop(core.ChannelPlaylistPlay, reasonDecode, payload)
				return
			}
			if r.OnPlay != nil {
				r.OnPlay(item)
			}
		},
		core.ChannelPlaylistPause: func([]byte) {
			if r.OnPause != nil {
				r.OnPause()
			}
		},
		core.ChannelPlaylistResume: func([]byte) {
			if r.OnResume != nil {
				r.OnResume()
			}
		},
		core.ChannelPlaylistUpdated: func(payload []byte) {
			var st core.PlaylistState
			if err := json.Unmarshal(payload, &st); err != nil {
				d.drop(core.ChannelPlaylistUpdated, reasonDecode, payload)
				return
			}
			if r.OnUpdated != nil {
				r.OnUpdated(st)
			}
		},
		core.ChannelPlaylistError: func(payload []byte) {
			if r.OnError != nil {
				r.OnError(decodeErrorText(payload))
			}
		},
	}

	var set Set
	for _, channel := range core.PlaylistChannels {
		sub, err := d.Subscribe(ctx, channel, handlers[channel])
		if err != nil {
			set.Release()
			return nil, fmt.Errorf("subscribe playlist: %w", err)
		}
		set = append(set, sub)
	}
	return set, nil
}

// decodeErrorText accepts a JSON string or bare text.
func decodeErrorText(payload []byte) string {
	trimmed := bytes.TrimSpace(payload)
	var s string
	if err := json.Unmarshal(trimmed, &s); err == nil {
		return s
	}
	return string(trimmed)
}
