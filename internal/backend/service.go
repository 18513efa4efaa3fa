// Package backend is an in-process implementation of the backend the engine
// talks to. It owns the connection state, the display-message store, the
// chat buffer used for analysis and the authoritative playlist, and publishes
// playlist events after every change.
package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	json "github.com/goccy/go-json"

	"github.com/GG-O-BP/chzpuri-streaming-assistant/internal/bridge"
	"github.com/GG-O-BP/chzpuri-streaming-assistant/internal/commands"
	"github.com/GG-O-BP/chzpuri-streaming-assistant/internal/core"
	"github.com/GG-O-BP/chzpuri-streaming-assistant/internal/ingress"
	"github.com/GG-O-BP/chzpuri-streaming-assistant/internal/ingesttrace"
	"github.com/GG-O-BP/chzpuri-streaming-assistant/internal/playlist"
)

const defaultBufferSize = 100

var _ bridge.Backend = (*Service)(nil)

// Store persists display messages and the playlist.
type Store interface {
	Write(core.DisplayMessage) error
	All(ctx context.Context) ([]core.DisplayMessage, error)
	Clear(ctx context.Context) error
	SavePlaylist(ctx context.Context, st core.PlaylistState) error
	LoadPlaylist(ctx context.Context) (core.PlaylistState, bool, error)
}

// ChatLine is one forwarded line kept for analysis.
type ChatLine struct {
	Username  string `json:"username"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

type Options struct {
	Store  Store
	Parser *commands.Parser
	// BufferSize caps the chat buffer. Defaults to 100.
	BufferSize int
	Now        func() time.Time
	// Trace logs each forwarded line's stages at debug level.
	Trace bool
}

type Service struct {
	conn    Connector
	pub     ingress.Publisher
	store   Store
	parser  *commands.Parser
	bufSize int
	now     func() time.Time
	trace   bool

	mu     sync.Mutex
	state  ConnState
	buffer []ChatLine
	queue  *playlist.Queue
}

func New(conn Connector, pub ingress.Publisher, opts Options) *Service {
	s := &Service{
		conn:    conn,
		pub:     pub,
		store:   opts.Store,
		parser:  opts.Parser,
		bufSize: opts.BufferSize,
		now:     opts.Now,
		trace:   opts.Trace,
		queue:   playlist.NewQueue(),
	}
	if s.store == nil {
		s.store = NewMemoryStore()
	}
	if s.parser == nil {
		s.parser = commands.NewParser(commands.DefaultConfig())
	}
	if s.bufSize <= 0 {
		s.bufSize = defaultBufferSize
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Restore loads the saved playlist, if any. Playback is not resumed.
func (s *Service) Restore(ctx context.Context) error {
	st, ok, err := s.store.LoadPlaylist(ctx)
	if err != nil || !ok {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue.Restore(st)
	s.queue.SetPlaying(false)
	slog.Info("backend: playlist restored", "items", s.queue.Len())
	return nil
}

// Parser returns the command parser so callers can reload its config.
func (s *Service) Parser() *commands.Parser { return s.parser }

func (s *Service) State() ConnState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Service) Connect(ctx context.Context, channelID string) error {
	id, err := validateChannelID(channelID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	if err := canConnect(s.state); err != nil {
		s.mu.Unlock()
		return err
	}
	s.setStateLocked(evStartConnect, id)
	s.mu.Unlock()

	if err := s.conn.Connect(ctx, id); err != nil {
		msg := fmt.Sprintf("Failed to connect: %v", err)
		s.mu.Lock()
		s.setStateLocked(evConnectErr, msg)
		s.mu.Unlock()
		return errors.New(msg)
	}

	s.mu.Lock()
	s.setStateLocked(evConnectOK, id)
	s.mu.Unlock()
	return nil
}

func (s *Service) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	if err := canDisconnect(s.state); err != nil {
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()

	if err := s.conn.Disconnect(ctx); err != nil {
		s.mu.Lock()
		s.setStateLocked(evDisconnectErr, err.Error())
		s.mu.Unlock()
		return err
	}
	s.mu.Lock()
	s.setStateLocked(evDisconnectOK, "")
	s.mu.Unlock()
	return nil
}

func (s *Service) IsConnected(context.Context) (bool, error) {
	return s.State().Phase == Connected, nil
}

func (s *Service) GetConnectionState(context.Context) (string, error) {
	return s.State().Phase.String(), nil
}

func (s *Service) GetMessages(ctx context.Context) ([]core.DisplayMessage, error) {
	return s.store.All(ctx)
}

func (s *Service) StoreDisplayMessage(_ context.Context, msg core.DisplayMessage) error {
	return s.store.Write(msg)
}

func (s *Service) ClearDisplayMessages(ctx context.Context) error {
	return s.store.Clear(ctx)
}

// ForwardChatMessage runs command lines and buffers everything else for
// analysis.
func (s *Service) ForwardChatMessage(ctx context.Context, author, body string) error {
	var tr *ingesttrace.Trace
	if s.trace {
		tr = ingesttrace.New(s.State().ChannelID, author, body)
		defer tr.Log(nil, "backend: forwarded line")
	}

	if s.parser.IsCommand(body) {
		cmd, ok := s.parser.Parse(body)
		if !ok {
			mark(tr, ingesttrace.StageDropped("unparsed"))
			return nil
		}
		mark(tr, ingesttrace.StageCommand)
		return s.execute(ctx, author, cmd)
	}

	s.mu.Lock()
	if len(s.buffer) >= s.bufSize {
		s.buffer = s.buffer[1:]
	}
	s.buffer = append(s.buffer, ChatLine{Username: author, Message: body, Timestamp: s.now().Unix()})
	s.mu.Unlock()
	mark(tr, ingesttrace.StageBuffered)
	return nil
}

func mark(tr *ingesttrace.Trace, stage ingesttrace.Stage) {
	if tr != nil {
		tr.Mark(stage)
	}
}

// ChatBuffer returns the buffered lines, oldest first.
func (s *Service) ChatBuffer() []ChatLine {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ChatLine(nil), s.buffer...)
}

func (s *Service) setStateLocked(ev connEvent, arg string) {
	prev := s.state
	s.state = transition(prev, ev, arg)
	if prev.Phase != s.state.Phase {
		slog.Info("backend: connection state", "from", prev.Phase.String(), "to", s.state.Phase.String(), "channel", s.state.ChannelID)
	}
}

func (s *Service) publish(ctx context.Context, channel string, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		slog.Error("backend: encode event", "channel", channel, "err", err)
		return
	}
	if err := s.pub.Publish(ctx, channel, payload); err != nil {
		slog.Warn("backend: publish failed", "channel", channel, "err", err)
	}
}
