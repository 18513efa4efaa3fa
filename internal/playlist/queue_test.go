package playlist

import (
	"testing"

	"github.com/GG-O-BP/chzpuri-streaming-assistant/internal/core"
)

func queueOf(ids ...string) *Queue {
	q := NewQueue()
	for _, id := range ids {
		q.Add(core.PlaylistItem{ID: id, VideoID: "v" + id})
	}
	return q
}

func ids(q *Queue) string {
	out := ""
	for _, it := range q.State().Items {
		out += it.ID
	}
	return out
}

func currentID(t *testing.T, q *Queue) string {
	t.Helper()
	it, ok := q.Current()
	if !ok {
		return ""
	}
	return it.ID
}

func TestAddSelectsFirstItem(t *testing.T) {
	q := NewQueue()
	if _, ok := q.Current(); ok {
		t.Fatalf("empty queue has a current item")
	}
	q.Add(core.PlaylistItem{ID: "a"})
	q.Add(core.PlaylistItem{ID: "b"})
	if currentID(t, q) != "a" {
		t.Fatalf("first item should be current")
	}
	if !q.Autoplay() {
		t.Fatalf("autoplay defaults to on")
	}
}

func TestRemoveAdjustsCurrent(t *testing.T) {
	q := queueOf("a", "b", "c", "d")
	q.PlayAt(2)

	if _, err := q.Remove(0); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if currentID(t, q) != "c" {
		t.Fatalf("removing before current should keep c, got %s", currentID(t, q))
	}

	q.PlayAt(2) // d, the last item
	if _, err := q.Remove(2); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if currentID(t, q) != "c" {
		t.Fatalf("removing the last current item should select the new last, got %s", currentID(t, q))
	}

	q.Clear()
	q.Add(core.PlaylistItem{ID: "x"})
	q.PlayAt(0)
	q.Remove(0)
	if st := q.State(); st.CurrentIndex != nil || st.IsPlaying {
		t.Fatalf("emptied queue should be idle: %+v", st)
	}

	if _, err := q.Remove(5); err != ErrIndexOutOfRange {
		t.Fatalf("expected out of range, got %v", err)
	}
}

func TestMoveAdjustsCurrent(t *testing.T) {
	q := queueOf("a", "b", "c", "d")
	q.PlayAt(1) // b

	if err := q.Move(1, 3); err != nil {
		t.Fatalf("move: %v", err)
	}
	if ids(q) != "acdb" || currentID(t, q) != "b" {
		t.Fatalf("moving current: order %s current %s", ids(q), currentID(t, q))
	}

	if err := q.Move(0, 3); err != nil {
		t.Fatalf("move: %v", err)
	}
	if ids(q) != "cdba" || currentID(t, q) != "b" {
		t.Fatalf("moving past current: order %s current %s", ids(q), currentID(t, q))
	}

	if err := q.Move(3, 0); err != nil {
		t.Fatalf("move: %v", err)
	}
	if ids(q) != "acdb" || currentID(t, q) != "b" {
		t.Fatalf("moving before current: order %s current %s", ids(q), currentID(t, q))
	}

	if err := q.Move(0, 4); err != ErrIndexOutOfRange {
		t.Fatalf("expected out of range, got %v", err)
	}
}

func TestNextAndPreviousWrapWithAutoplay(t *testing.T) {
	q := queueOf("a", "b")
	q.Next()
	if it, ok := q.Next(); !ok || it.ID != "a" {
		t.Fatalf("next past the end should wrap to a, got %v %v", it.ID, ok)
	}
	if it, ok := q.Previous(); !ok || it.ID != "b" {
		t.Fatalf("previous before the start should wrap to b, got %v %v", it.ID, ok)
	}

	q.SetAutoplay(false)
	if _, ok := q.Next(); ok {
		t.Fatalf("next past the end without autoplay should stop")
	}
	if currentID(t, q) != "b" {
		t.Fatalf("selection should stay on b")
	}
}

func TestRestoreRoundTrip(t *testing.T) {
	q := queueOf("a", "b", "c")
	q.PlayAt(1)
	q.SetAutoplay(false)

	other := NewQueue()
	other.Restore(q.State())
	if ids(other) != "abc" || currentID(t, other) != "b" || other.Autoplay() {
		t.Fatalf("restore lost state: %+v", other.State())
	}
}

func TestYouTubeURLs(t *testing.T) {
	cases := map[string]string{
		"https://www.youtube.com/watch?v=dQw4w9WgXcQ":        "dQw4w9WgXcQ",
		"https://youtu.be/dQw4w9WgXcQ":                       "dQw4w9WgXcQ",
		"https://youtube.com/shorts/abcdefg":                 "abcdefg",
		"https://www.youtube.com/watch?v=dQw4w9WgXcQ&t=123s": "dQw4w9WgXcQ",
		"https://music.youtube.com/watch?v=xyz123":           "xyz123",
	}
	for url, want := range cases {
		if !IsYouTubeURL(url) {
			t.Fatalf("%s not detected", url)
		}
		if got, ok := ExtractVideoID(url); !ok || got != want {
			t.Fatalf("%s: want %s got %s", url, want, got)
		}
	}
	if IsYouTubeURL("https://google.com") {
		t.Fatalf("non-youtube url detected")
	}
	if _, ok := ExtractVideoID("never gonna give you up"); ok {
		t.Fatalf("plain text should not yield an id")
	}
}
