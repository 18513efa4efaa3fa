package ingress

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	dropSummaryInterval = 5 * time.Second
	dropSampleMaxLen    = 96
)

type dropReasonSummary struct {
	total           int
	byChannel       map[string]int
	sampleByChannel map[string]string
}

// dropLogger aggregates dropped payloads and logs one line per reason every
// interval instead of one line per payload.
type dropLogger struct {
	mu       sync.Mutex
	verbose  bool
	interval time.Duration
	nextEmit time.Time
	reasons  map[string]*dropReasonSummary
}

func newDropLogger(now time.Time, verbose bool, interval time.Duration) *dropLogger {
	if interval <= 0 {
		interval = dropSummaryInterval
	}
	return &dropLogger{
		verbose:  verbose,
		interval: interval,
		nextEmit: now.Add(interval),
		reasons:  make(map[string]*dropReasonSummary),
	}
}

func (d *dropLogger) note(now time.Time, reason, channel string, payload []byte) {
	if d == nil {
		return
	}
	sample := sanitizeAndTruncate(string(payload), dropSampleMaxLen)
	if d.verbose {
		slog.Debug("ingress: dropped event", "reason", reason, "channel", channel, "sample", sample)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	entry := d.reasons[reason]
	if entry == nil {
		entry = &dropReasonSummary{
			byChannel:       make(map[string]int),
			sampleByChannel: make(map[string]string),
		}
		d.reasons[reason] = entry
	}
	entry.total++
	entry.byChannel[channel]++
	if _, ok := entry.sampleByChannel[channel]; !ok {
		entry.sampleByChannel[channel] = sample
	}

	if !now.Before(d.nextEmit) {
		d.flushLocked(now)
	}
}

func (d *dropLogger) flush(now time.Time) {
	if d == nil {
		return
	}
	d.mu.Lock()
	d.flushLocked(now)
	d.mu.Unlock()
}

func (d *dropLogger) flushLocked(now time.Time) {
	for _, reason := range sortedKeys(d.reasons) {
		rs := d.reasons[reason]
		if rs == nil || rs.total == 0 {
			continue
		}
		slog.Info("ingress: dropped_"+reason,
			"total", rs.total,
			"channels", formatChannelCounts(rs.byChannel),
			"samples", formatChannelSamples(rs.sampleByChannel),
		)
	}
	clear(d.reasons)
	d.nextEmit = now.Add(d.interval)
}

// pending returns the number of drops noted since the last flush.
func (d *dropLogger) pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, rs := range d.reasons {
		n += rs.total
	}
	return n
}

func sanitizeAndTruncate(s string, max int) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	s = strings.Join(strings.Fields(s), " ")
	if max <= 0 || len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}

func formatChannelCounts(counts map[string]int) string {
	if len(counts) == 0 {
		return "{}"
	}
	parts := make([]string, 0, len(counts))
	for _, ch := range sortedKeys(counts) {
		parts = append(parts, fmt.Sprintf("%s:%d", ch, counts[ch]))
	}
	return "{" + strings.Join(parts, " ") + "}"
}

func formatChannelSamples(samples map[string]string) string {
	if len(samples) == 0 {
		return "{}"
	}
	parts := make([]string, 0, len(samples))
	for _, ch := range sortedKeys(samples) {
		parts = append(parts, ch+":'"+samples[ch]+"'")
	}
	return "{" + strings.Join(parts, " ") + "}"
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
