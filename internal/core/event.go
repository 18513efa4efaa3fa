package core

import (
	"bytes"
	"fmt"
	"strings"

	json "github.com/goccy/go-json"
)

// EventType is the tag of a chat-event payload.
type EventType string

const (
	EventChat         EventType = "chat"
	EventDonation     EventType = "donation"
	EventSystem       EventType = "systemMessage"
	EventConnected    EventType = "connected"
	EventDisconnected EventType = "disconnected"
	EventError        EventType = "error"
	EventUnknown      EventType = "unknown"
)

func (t EventType) known() bool {
	switch t {
	case EventChat, EventDonation, EventSystem, EventConnected, EventDisconnected, EventError:
		return true
	}
	return false
}

// ChatEvent is one decoded chat-event payload. Fields not used by a given
// tag are left zero.
type ChatEvent struct {
	Type     EventType `json:"type"`
	UID      string    `json:"uid,omitempty"`
	Nickname *string   `json:"nickname,omitempty"`
	Msg      *string   `json:"msg,omitempty"`
	MsgTime  int64     `json:"msgTime,omitempty"`
	Profile  *Profile  `json:"profile,omitempty"`
	Extras   *Extras   `json:"extras,omitempty"`
	Message  string    `json:"message,omitempty"`

	// RawType keeps the original tag when Type is EventUnknown.
	RawType string `json:"-"`
}

// Profile is the sender profile. The platform ships it as a JSON-encoded
// string, so both encodings are accepted.
type Profile struct {
	Nickname        string `json:"nickname,omitempty"`
	UserImageURL    string `json:"userImageUrl,omitempty"`
	ProfileImageURL string `json:"profileImageUrl,omitempty"`
	Badge           *Badge `json:"badge,omitempty"`
}

type Badge struct {
	ImageURL string `json:"imageUrl,omitempty"`
}

// Extras carries donation amounts and system message text. Like Profile it
// may arrive as a JSON-encoded string.
type Extras struct {
	PayAmount   int64  `json:"payAmount,omitempty"`
	Description string `json:"description,omitempty"`
}

func (p *Profile) UnmarshalJSON(data []byte) error {
	type plain Profile
	raw, err := unwrapEmbedded(data)
	if err != nil {
		return fmt.Errorf("profile: %w", err)
	}
	var out plain
	if raw != nil {
		if err := json.Unmarshal(raw, &out); err != nil {
			return fmt.Errorf("profile: %w", err)
		}
	}
	*p = Profile(out)
	return nil
}

func (e *Extras) UnmarshalJSON(data []byte) error {
	type plain Extras
	raw, err := unwrapEmbedded(data)
	if err != nil {
		return fmt.Errorf("extras: %w", err)
	}
	var out plain
	if raw != nil {
		if err := json.Unmarshal(raw, &out); err != nil {
			return fmt.Errorf("extras: %w", err)
		}
	}
	*e = Extras(out)
	return nil
}

// unwrapEmbedded returns the object bytes of data, decoding one level of
// string quoting when the object was shipped as a string. It returns nil for
// null or empty input.
func unwrapEmbedded(data []byte) ([]byte, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	if trimmed[0] != '"' {
		return trimmed, nil
	}
	var s string
	if err := json.Unmarshal(trimmed, &s); err != nil {
		return nil, err
	}
	s = strings.TrimSpace(s)
	if s == "" || s == "null" {
		return nil, nil
	}
	return []byte(s), nil
}

// DecodeChatEvent parses a chat-event payload. Unrecognised tags are not an
// error; they decode to EventUnknown.
func DecodeChatEvent(payload []byte) (ChatEvent, error) {
	var ev ChatEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return ChatEvent{}, fmt.Errorf("decode chat event: %w", err)
	}
	if !ev.Type.known() {
		ev.RawType = string(ev.Type)
		ev.Type = EventUnknown
	}
	return ev, nil
}

// EncodeChatEvent is the inverse of DecodeChatEvent, used by publishers.
func EncodeChatEvent(ev ChatEvent) ([]byte, error) {
	return json.Marshal(ev)
}

// AuthorName prefers the top-level nickname and falls back to the profile.
func (e ChatEvent) AuthorName() string {
	if e.Nickname != nil && *e.Nickname != "" {
		return *e.Nickname
	}
	if e.Profile != nil {
		return e.Profile.Nickname
	}
	return ""
}

// Text returns msg or "".
func (e ChatEvent) Text() string {
	if e.Msg == nil {
		return ""
	}
	return *e.Msg
}

// DonationAmount returns extras.payAmount or 0.
func (e ChatEvent) DonationAmount() int64 {
	if e.Extras == nil {
		return 0
	}
	return e.Extras.PayAmount
}

func (e ChatEvent) profileImage() *string {
	if e.Profile == nil {
		return nil
	}
	if e.Profile.UserImageURL != "" {
		return StringPtr(e.Profile.UserImageURL)
	}
	return StringPtr(e.Profile.ProfileImageURL)
}

func (e ChatEvent) badgeURL() *string {
	if e.Profile == nil || e.Profile.Badge == nil {
		return nil
	}
	return StringPtr(e.Profile.Badge.ImageURL)
}

// Display projects chat, donation and systemMessage events onto the log
// record. The boolean is false for tags that carry no record.
func (e ChatEvent) Display() (DisplayMessage, bool) {
	switch e.Type {
	case EventChat:
		author := e.AuthorName()
		return DisplayMessage{
			ID:              e.UID,
			Kind:            KindChat,
			Author:          &author,
			Body:            e.Text(),
			TimestampMillis: e.MsgTime,
			ProfileImage:    e.profileImage(),
			BadgeURL:        e.badgeURL(),
		}, true
	case EventDonation:
		author := e.AuthorName()
		if author == "" {
			author = AnonymousDonor
		}
		amount := e.DonationAmount()
		return DisplayMessage{
			ID:              e.UID,
			Kind:            KindDonation,
			Author:          &author,
			Body:            e.Text(),
			TimestampMillis: e.MsgTime,
			ProfileImage:    e.profileImage(),
			BadgeURL:        e.badgeURL(),
			DonationAmount:  &amount,
		}, true
	case EventSystem:
		body := ""
		if e.Extras != nil {
			body = e.Extras.Description
		}
		return NewSystemMessage(e.UID, body, e.MsgTime), true
	}
	return DisplayMessage{}, false
}
