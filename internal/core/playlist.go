package core

// PlaylistItem is one queued video.
type PlaylistItem struct {
	ID        string  `json:"id"`
	VideoID   string  `json:"video_id"`
	Title     string  `json:"title"`
	Channel   string  `json:"channel"`
	Duration  *string `json:"duration,omitempty"`
	Thumbnail *string `json:"thumbnail,omitempty"`
	URL       string  `json:"url"`
	AddedBy   string  `json:"added_by"`
	AddedAt   int64   `json:"added_at"` // epoch seconds
}

// PlaylistState is the authoritative playlist snapshot published by the
// backend on every change.
type PlaylistState struct {
	Items        []PlaylistItem `json:"items"`
	CurrentIndex *int           `json:"current_index"`
	IsPlaying    bool           `json:"is_playing"`
	Autoplay     bool           `json:"autoplay"`
}

// Current returns the item at CurrentIndex, if any.
func (s PlaylistState) Current() (PlaylistItem, bool) {
	if s.CurrentIndex == nil {
		return PlaylistItem{}, false
	}
	i := *s.CurrentIndex
	if i < 0 || i >= len(s.Items) {
		return PlaylistItem{}, false
	}
	return s.Items[i], true
}

// Clone returns a deep copy safe to hand to another goroutine.
func (s PlaylistState) Clone() PlaylistState {
	out := s
	out.Items = append([]PlaylistItem(nil), s.Items...)
	if s.CurrentIndex != nil {
		idx := *s.CurrentIndex
		out.CurrentIndex = &idx
	}
	return out
}

// Event channel names shared by every transport.
const (
	ChannelChatEvent       = "chat-event"
	ChannelPlaylistPlay    = "playlist:play"
	ChannelPlaylistPause   = "playlist:pause"
	ChannelPlaylistResume  = "playlist:resume"
	ChannelPlaylistUpdated = "playlist:updated"
	ChannelPlaylistError   = "playlist:error"
)

// PlaylistChannels lists the playlist lifecycle channels.
var PlaylistChannels = []string{
	ChannelPlaylistPlay,
	ChannelPlaylistPause,
	ChannelPlaylistResume,
	ChannelPlaylistUpdated,
	ChannelPlaylistError,
}
