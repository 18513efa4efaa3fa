// Package ingesttrace follows a forwarded chat line through the backend's
// command and buffering stages.
package ingesttrace

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"unicode/utf8"
)

type Stage string

const (
	StageReceived Stage = "received"
	StageCommand  Stage = "command"
	StageBuffered Stage = "buffered"

	StageDroppedPrefix = "dropped_"
)

const snippetRunes = 40

// StageDropped names a drop stage for reason.
func StageDropped(reason string) Stage {
	return Stage(fmt.Sprintf("%s%s", StageDroppedPrefix, reason))
}

// Trace records which stages a single line reached. The ID is derived from
// channel, author and body, so repeats of the same line share it.
type Trace struct {
	Channel string
	Author  string
	Snippet string
	ID      string

	mu     sync.Mutex
	stages map[Stage]int64
}

func New(channel, author, body string) *Trace {
	t := &Trace{
		Channel: channel,
		Author:  author,
		Snippet: snippet(body),
		ID:      traceID(channel, author, body),
		stages:  make(map[Stage]int64),
	}
	t.stages[StageReceived] = 1
	return t
}

// Mark counts stage and returns the new count.
func (t *Trace) Mark(stage Stage) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stages[stage]++
	return t.stages[stage]
}

func (t *Trace) Reached(stage Stage) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stages[stage] > 0
}

func (t *Trace) Log(logger *slog.Logger, msg string) {
	if logger == nil {
		logger = slog.Default()
	}
	logger.Debug(msg,
		"trace_id", t.ID,
		"channel", t.Channel,
		"author", t.Author,
		"snippet", t.Snippet,
		"stages", t.snapshot(),
	)
}

func (t *Trace) snapshot() map[Stage]int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[Stage]int64, len(t.stages))
	for stage, n := range t.stages {
		out[stage] = n
	}
	return out
}

func snippet(body string) string {
	if utf8.RuneCountInString(body) <= snippetRunes {
		return body
	}
	r := []rune(body)
	return string(r[:snippetRunes]) + "…"
}

func traceID(channel, author, body string) string {
	digest := sha256.Sum256([]byte(channel + "\x1f" + author + "\x1f" + body))
	return hex.EncodeToString(digest[:8])
}
