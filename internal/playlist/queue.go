package playlist

import (
	"errors"
	"strings"

	"github.com/GG-O-BP/chzpuri-streaming-assistant/internal/core"
)

// ErrIndexOutOfRange is returned when an index does not name a queued item.
var ErrIndexOutOfRange = errors.New("playlist: index out of range")

// Queue is the authoritative playlist kept by the backend. It is not safe
// for concurrent use.
type Queue struct {
	items    []core.PlaylistItem
	current  int // -1 when nothing is selected
	playing  bool
	autoplay bool
}

func NewQueue() *Queue {
	return &Queue{current: -1, autoplay: true}
}

// State returns a copy of the queue as published to listeners.
func (q *Queue) State() core.PlaylistState {
	st := core.PlaylistState{
		Items:     append([]core.PlaylistItem{}, q.items...),
		IsPlaying: q.playing,
		Autoplay:  q.autoplay,
	}
	if q.current >= 0 {
		idx := q.current
		st.CurrentIndex = &idx
	}
	return st
}

// Restore replaces the queue with st.
func (q *Queue) Restore(st core.PlaylistState) {
	q.items = append([]core.PlaylistItem(nil), st.Items...)
	q.current = -1
	if st.CurrentIndex != nil && *st.CurrentIndex >= 0 && *st.CurrentIndex < len(q.items) {
		q.current = *st.CurrentIndex
	}
	q.playing = st.IsPlaying && q.current >= 0
	q.autoplay = st.Autoplay
}

func (q *Queue) Len() int { return len(q.items) }

func (q *Queue) Autoplay() bool { return q.autoplay }

func (q *Queue) SetAutoplay(enabled bool) { q.autoplay = enabled }

func (q *Queue) SetPlaying(playing bool) { q.playing = playing && q.current >= 0 }

// Add appends item. The first item of an idle queue becomes current.
func (q *Queue) Add(item core.PlaylistItem) {
	q.items = append(q.items, item)
	if q.current < 0 && len(q.items) == 1 {
		q.current = 0
	}
}

// CountBy returns how many queued items were added by user.
func (q *Queue) CountBy(user string) int {
	n := 0
	for _, it := range q.items {
		if it.AddedBy == user {
			n++
		}
	}
	return n
}

// Remove deletes the item at index and keeps the current selection pointing
// at the same item where possible.
func (q *Queue) Remove(index int) (core.PlaylistItem, error) {
	if index < 0 || index >= len(q.items) {
		return core.PlaylistItem{}, ErrIndexOutOfRange
	}
	removed := q.items[index]
	q.items = append(q.items[:index:index], q.items[index+1:]...)

	if q.current >= 0 {
		switch {
		case index < q.current:
			q.current--
		case index == q.current:
			if len(q.items) == 0 {
				q.current = -1
				q.playing = false
			} else if q.current >= len(q.items) {
				q.current = len(q.items) - 1
			}
		}
	}
	return removed, nil
}

// Move relocates the item at from to position to.
func (q *Queue) Move(from, to int) error {
	n := len(q.items)
	if from < 0 || from >= n || to < 0 || to >= n {
		return ErrIndexOutOfRange
	}
	if from == to {
		return nil
	}
	item := q.items[from]
	rest := append(q.items[:from:from], q.items[from+1:]...)
	q.items = append(rest[:to:to], append([]core.PlaylistItem{item}, rest[to:]...)...)

	if cur := q.current; cur >= 0 {
		switch {
		case cur == from:
			q.current = to
		case from < cur && to >= cur:
			q.current = cur - 1
		case from > cur && to <= cur:
			q.current = cur + 1
		}
	}
	return nil
}

// Next advances the selection. Past the end it wraps to the first item when
// autoplay is on, otherwise it reports false and leaves the selection.
func (q *Queue) Next() (core.PlaylistItem, bool) {
	if len(q.items) == 0 {
		return core.PlaylistItem{}, false
	}
	switch {
	case q.current < 0:
		q.current = 0
	case q.current+1 < len(q.items):
		q.current++
	case q.autoplay:
		q.current = 0
	default:
		return core.PlaylistItem{}, false
	}
	return q.items[q.current], true
}

// Previous moves the selection back, wrapping to the last item when
// autoplay is on.
func (q *Queue) Previous() (core.PlaylistItem, bool) {
	if len(q.items) == 0 || q.current < 0 {
		return core.PlaylistItem{}, false
	}
	switch {
	case q.current > 0:
		q.current--
	case q.autoplay:
		q.current = len(q.items) - 1
	default:
		return core.PlaylistItem{}, false
	}
	return q.items[q.current], true
}

// PlayAt selects index and marks the queue playing.
func (q *Queue) PlayAt(index int) (core.PlaylistItem, bool) {
	if index < 0 || index >= len(q.items) {
		return core.PlaylistItem{}, false
	}
	q.current = index
	q.playing = true
	return q.items[index], true
}

func (q *Queue) Current() (core.PlaylistItem, bool) {
	if q.current < 0 {
		return core.PlaylistItem{}, false
	}
	return q.items[q.current], true
}

func (q *Queue) Clear() {
	q.items = nil
	q.current = -1
	q.playing = false
}

var youtubeMarkers = []string{
	"youtube.com/watch?v=",
	"youtu.be/",
	"youtube.com/shorts/",
	"music.youtube.com/watch?v=",
}

// IsYouTubeURL reports whether text contains a YouTube video link.
func IsYouTubeURL(text string) bool {
	for _, m := range youtubeMarkers {
		if strings.Contains(text, m) {
			return true
		}
	}
	return false
}

// ExtractVideoID returns the video id of a watch, short-link or shorts URL.
func ExtractVideoID(url string) (string, bool) {
	for _, marker := range []string{"watch?v=", "youtu.be/", "shorts/"} {
		start := strings.Index(url, marker)
		if start < 0 {
			continue
		}
		rest := url[start+len(marker):]
		end := strings.IndexFunc(rest, func(r rune) bool { return !isIDRune(r) })
		if end < 0 {
			end = len(rest)
		}
		return rest[:end], true
	}
	return "", false
}

func isIDRune(r rune) bool {
	return r == '-' || r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}
