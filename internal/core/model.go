package core

// MessageKind classifies a DisplayMessage.
type MessageKind string

const (
	KindChat     MessageKind = "chat"
	KindDonation MessageKind = "donation"
	KindSystem   MessageKind = "system"
)

// AnonymousDonor is the author shown for donations without a nickname.
const AnonymousDonor = "익명의 후원자"

// DisplayMessage is the unified record kept in the local chat log and written
// to the backend display-message store.
type DisplayMessage struct {
	ID              string      `json:"id"`
	Kind            MessageKind `json:"message_type"`
	Author          *string     `json:"username"` // nil for system records
	Body            string      `json:"message"`
	TimestampMillis int64       `json:"timestamp"`
	ProfileImage    *string     `json:"profile_image"`
	BadgeURL        *string     `json:"badge_url"`
	DonationAmount  *int64      `json:"donation_amount"`
}

// AuthorName returns the author or "" for system records.
func (m DisplayMessage) AuthorName() string {
	if m.Author == nil {
		return ""
	}
	return *m.Author
}

// NewSystemMessage builds an authorless system record.
func NewSystemMessage(id, body string, tsMillis int64) DisplayMessage {
	return DisplayMessage{
		ID:              id,
		Kind:            KindSystem,
		Body:            body,
		TimestampMillis: tsMillis,
	}
}

// ConnectionStatus is the chat connection state as seen by the engine.
type ConnectionStatus string

const (
	StatusDisconnected ConnectionStatus = "disconnected"
	StatusConnecting   ConnectionStatus = "connecting"
	StatusConnected    ConnectionStatus = "connected"
)

// StringPtr returns a pointer to s, or nil when s is empty.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
