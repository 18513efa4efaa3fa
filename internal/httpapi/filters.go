package httpapi

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/GG-O-BP/chzpuri-streaming-assistant/internal/core"
)

const (
	defaultLimit = 100
	maxLimit     = 1000
)

// Order represents the chronological order to use when listing messages.
type Order string

const (
	// OrderDesc returns messages newest first.
	OrderDesc Order = "desc"
	// OrderAsc returns messages oldest first.
	OrderAsc Order = "asc"
)

// Filters captures the parsed query parameters for message lookups.
type Filters struct {
	Kinds     []core.MessageKind
	Usernames []string
	Since     *time.Time
	Limit     int
	Order     Order
}

// ParseFilters parses query parameters into a Filters struct.
func ParseFilters(values url.Values) (Filters, error) {
	f := Filters{
		Limit: defaultLimit,
		Order: OrderDesc,
	}

	if raw := values.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return Filters{}, errors.New("limit must be a positive integer")
		}
		if n > maxLimit {
			n = maxLimit
		}
		f.Limit = n
	}

	if raw := values.Get("order"); raw != "" {
		switch strings.ToLower(raw) {
		case "desc":
			f.Order = OrderDesc
		case "asc":
			f.Order = OrderAsc
		default:
			return Filters{}, errors.New("order must be asc or desc")
		}
	}

	if rawSince := values.Get("since"); rawSince != "" {
		parsed, err := parseSince(rawSince)
		if err != nil {
			return Filters{}, err
		}
		f.Since = &parsed
	}

	seenKinds := make(map[core.MessageKind]struct{})
	for _, part := range splitValues(values["type"]) {
		kind, ok := normalizeKind(part)
		if !ok {
			return Filters{}, errors.New("invalid type filter")
		}
		if kind == "" {
			f.Kinds = nil
			break
		}
		if _, exists := seenKinds[kind]; !exists {
			f.Kinds = append(f.Kinds, kind)
			seenKinds[kind] = struct{}{}
		}
	}

	seen := make(map[string]struct{})
	for _, part := range splitValues(values["username"]) {
		lowered := strings.ToLower(part)
		if _, exists := seen[lowered]; !exists {
			f.Usernames = append(f.Usernames, lowered)
			seen[lowered] = struct{}{}
		}
	}

	return f, nil
}

// FiltersFromRequest parses filters from an HTTP request.
func FiltersFromRequest(r *http.Request) (Filters, error) {
	return ParseFilters(r.URL.Query())
}

func splitValues(raw []string) []string {
	var out []string
	for _, v := range raw {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func normalizeKind(k string) (core.MessageKind, bool) {
	switch strings.ToLower(k) {
	case "chat", "c":
		return core.KindChat, true
	case "donation", "d":
		return core.KindDonation, true
	case "system", "s":
		return core.KindSystem, true
	case "all", "*":
		return "", true
	default:
		return "", false
	}
}

func parseSince(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.UnixMilli(n).UTC(), nil
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return time.Now().Add(-d).UTC(), nil
	}
	return time.Time{}, errors.New("invalid since parameter")
}

// Matches reports whether the provided message satisfies the filters.
func (f Filters) Matches(msg core.DisplayMessage) bool {
	if len(f.Kinds) > 0 {
		match := false
		for _, k := range f.Kinds {
			if msg.Kind == k {
				match = true
				break
			}
		}
		if !match {
			return false
		}
	}

	if len(f.Usernames) > 0 {
		username := strings.ToLower(msg.AuthorName())
		match := false
		for _, u := range f.Usernames {
			if strings.Contains(username, u) {
				match = true
				break
			}
		}
		if !match {
			return false
		}
	}

	if f.Since != nil && msg.TimestampMillis < f.Since.UnixMilli() {
		return false
	}

	return true
}

// Apply filters msgs, which are in log order, and returns at most Limit
// entries in the requested order.
func (f Filters) Apply(msgs []core.DisplayMessage) []core.DisplayMessage {
	out := make([]core.DisplayMessage, 0, len(msgs))
	for _, m := range msgs {
		if f.Matches(m) {
			out = append(out, m)
		}
	}
	if f.Order != OrderAsc {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out
}

// CloneForStream returns a copy of the filters adjusted for streaming transports.
func (f Filters) CloneForStream() Filters {
	f.Limit = 0
	return f
}
