// Package commands parses chat commands and manages the command
// configuration file.
package commands

import (
	"sort"
	"strings"
	"sync"
)

const DefaultPrefix = "!"

type Definition struct {
	Name        string   `json:"name"`
	Aliases     []string `json:"aliases"`
	Description string   `json:"description"`
	Enabled     bool     `json:"enabled"`
}

// Limits caps playlist requests. A nil UserLimit means unlimited.
type Limits struct {
	UserLimit *int `json:"user_limit"`
}

type Config struct {
	Prefix         string                `json:"prefix"`
	Commands       map[string]Definition `json:"commands"`
	PlaylistLimits Limits                `json:"playlist_limits"`
}

func DefaultConfig() Config {
	return Config{
		Prefix: DefaultPrefix,
		Commands: map[string]Definition{
			"playlist": {Name: "playlist", Aliases: []string{"sr", "신청곡"}, Description: "Add a song to the playlist", Enabled: true},
			"skip":     {Name: "skip", Aliases: []string{"next", "다음"}, Description: "Skip to the next song", Enabled: true},
			"previous": {Name: "previous", Aliases: []string{"prev", "이전"}, Description: "Go to the previous song", Enabled: true},
			"pause":    {Name: "pause", Aliases: []string{"정지"}, Description: "Pause the current song", Enabled: true},
			"play":     {Name: "play", Aliases: []string{"resume", "재생"}, Description: "Resume playback", Enabled: true},
			"clear":    {Name: "clear", Aliases: []string{"clearplaylist", "초기화"}, Description: "Clear the playlist", Enabled: true},
		},
	}
}

// Normalize fills a blank prefix and a nil command table.
func (c Config) Normalize() Config {
	c.Prefix = strings.TrimSpace(c.Prefix)
	if c.Prefix == "" {
		c.Prefix = DefaultPrefix
	}
	if c.Commands == nil {
		c.Commands = map[string]Definition{}
	}
	return c
}

type Kind int

const (
	KindUnknown Kind = iota
	KindPlaylist
	KindSkip
	KindPrevious
	KindPause
	KindPlay
	KindClear
)

func (k Kind) String() string {
	switch k {
	case KindPlaylist:
		return "playlist"
	case KindSkip:
		return "skip"
	case KindPrevious:
		return "previous"
	case KindPause:
		return "pause"
	case KindPlay:
		return "play"
	case KindClear:
		return "clear"
	default:
		return "unknown"
	}
}

// Parsed is a recognized command. Query is set for KindPlaylist, Name for
// KindUnknown.
type Parsed struct {
	Kind  Kind
	Query string
	Name  string
}

// Parser is safe for concurrent use; Update swaps the configuration.
type Parser struct {
	mu  sync.RWMutex
	cfg Config
}

func NewParser(cfg Config) *Parser {
	return &Parser{cfg: cfg.Normalize()}
}

func (p *Parser) Config() Config {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cfg
}

func (p *Parser) Update(cfg Config) {
	p.mu.Lock()
	p.cfg = cfg.Normalize()
	p.mu.Unlock()
}

func (p *Parser) Prefix() string { return p.Config().Prefix }

func (p *Parser) IsCommand(message string) bool {
	return strings.HasPrefix(message, p.Prefix())
}

// Parse recognizes message. It reports false when message is not a command
// or names the playlist command without a query.
func (p *Parser) Parse(message string) (Parsed, bool) {
	cfg := p.Config()
	if !strings.HasPrefix(message, cfg.Prefix) {
		return Parsed{}, false
	}
	rest := strings.TrimSpace(message[len(cfg.Prefix):])
	name, args, _ := strings.Cut(rest, " ")
	name = strings.ToLower(name)
	args = strings.TrimSpace(args)

	keys := make([]string, 0, len(cfg.Commands))
	for k := range cfg.Commands {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		def := cfg.Commands[k]
		if !def.Enabled || !def.matches(name) {
			continue
		}
		switch def.Name {
		case "playlist":
			if args == "" {
				return Parsed{}, false
			}
			return Parsed{Kind: KindPlaylist, Query: args}, true
		case "skip":
			return Parsed{Kind: KindSkip}, true
		case "previous":
			return Parsed{Kind: KindPrevious}, true
		case "pause":
			return Parsed{Kind: KindPause}, true
		case "play":
			if args != "" {
				return Parsed{Kind: KindPlaylist, Query: args}, true
			}
			return Parsed{Kind: KindPlay}, true
		case "clear":
			return Parsed{Kind: KindClear}, true
		default:
			return Parsed{Kind: KindUnknown, Name: name}, true
		}
	}
	return Parsed{Kind: KindUnknown, Name: name}, true
}

func (d Definition) matches(name string) bool {
	if d.Name == name {
		return true
	}
	for _, a := range d.Aliases {
		if a == name {
			return true
		}
	}
	return false
}
