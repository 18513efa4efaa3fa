package player

import (
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/GG-O-BP/chzpuri-streaming-assistant/internal/core"
	"github.com/GG-O-BP/chzpuri-streaming-assistant/internal/metrics"
)

// State is the readiness state of the machine.
type State int

const (
	Uninitialized State = iota
	Ready
	Playing
	Paused
	Ended
	InitError
)

func (s State) String() string {
	switch s {
	case Ready:
		return "ready"
	case Playing:
		return "playing"
	case Paused:
		return "paused"
	case Ended:
		return "ended"
	case InitError:
		return "init_error"
	default:
		return "uninitialized"
	}
}

const (
	InitFailedText  = "플레이어 생성 실패"
	LoadFailedText  = "동영상 로드 실패"
	errorNotePrefix = "플레이어 오류: "

	defaultMaxRetries = 3
	defaultRetryDelay = time.Second
	defaultVolume     = 100
)

// Poster schedules closures on the event loop.
type Poster interface {
	Post(fn func()) bool
}

// Notifier forwards engine notes to the chat pipeline.
type Notifier interface {
	ForwardSystemNote(body string)
}

type Config struct {
	Container  string
	MaxRetries int
	RetryDelay time.Duration
	Volume     int
	Metrics    *metrics.Engine
	// OnEnded runs on the loop when the current video finishes.
	OnEnded func()
	// AfterFunc schedules retries; time.AfterFunc when nil.
	AfterFunc func(d time.Duration, fn func()) func() bool
}

// Status is a point-in-time view of the machine for readers off the loop.
type Status struct {
	State     State              `json:"-"`
	StateName string             `json:"state"`
	Current   *core.PlaylistItem `json:"current,omitempty"`
	Pending   string             `json:"pending_video_id,omitempty"`
	LastError string             `json:"last_error,omitempty"`
	Volume    int                `json:"volume"`
	Duration  float64            `json:"duration"`
	Retries   int                `json:"retries"`
}

// Machine owns the player handle. All methods must be called on the event
// loop; callbacks from the API are posted there.
type Machine struct {
	api    API
	loop   Poster
	notes  Notifier
	cfg    Config
	after  func(time.Duration, func()) func() bool
	handle Handle

	state     State
	apiReady  bool
	readied   bool
	retries   int
	stopRetry func() bool
	retryGen  int
	current   *core.PlaylistItem
	pending   string
	volume    int
	lastErr   string
	duration  float64
	closed    bool

	status atomic.Pointer[Status]
}

func NewMachine(api API, loop Poster, notes Notifier, cfg Config) *Machine {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	} else if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	after := cfg.AfterFunc
	if after == nil {
		after = func(d time.Duration, fn func()) func() bool { return time.AfterFunc(d, fn).Stop }
	}
	m := &Machine{
		api:    api,
		loop:   loop,
		notes:  notes,
		cfg:    cfg,
		after:  after,
		volume: defaultVolume,
	}
	if cfg.Volume > 0 {
		m.volume = clampVolume(cfg.Volume)
	}
	m.publish()
	return m
}

func (m *Machine) State() State { return m.state }

func (m *Machine) LastError() string { return m.lastErr }

// Status returns the latest published view. Safe from any goroutine.
func (m *Machine) Status() Status { return *m.status.Load() }

// APIReady reports that the player API finished loading and creates the
// player.
func (m *Machine) APIReady() {
	if m.closed {
		return
	}
	m.apiReady = true
	if m.handle != nil || m.stopRetry != nil {
		return
	}
	m.retries = 0
	m.create()
}

// Retry restarts creation after InitError with a fresh retry budget.
func (m *Machine) Retry() {
	if m.closed || m.handle != nil {
		return
	}
	m.cancelRetry()
	m.retries = 0
	m.state = Uninitialized
	m.lastErr = ""
	m.publish()
	if m.apiReady {
		m.create()
	}
}

// PlayVideo loads item, or parks it as the pending request until the player
// is ready. A newer request replaces an older pending one.
func (m *Machine) PlayVideo(item core.PlaylistItem) {
	if m.closed {
		return
	}
	cur := item
	m.current = &cur
	if !m.ready() {
		slog.Info("player: not ready, queuing video", "video_id", item.VideoID, "state", m.state.String())
		m.pending = item.VideoID
		m.publish()
		return
	}
	m.load(cur)
	m.publish()
}

// ClearIntent forgets the current item. A pending request no longer matches
// and is dropped when the player becomes ready.
func (m *Machine) ClearIntent() {
	m.current = nil
	m.publish()
}

func (m *Machine) Pause() {
	if !m.ready() {
		return
	}
	if err := m.handle.Pause(); err != nil {
		slog.Warn("player: pause failed", "err", err)
	}
}

func (m *Machine) Resume() {
	if !m.ready() {
		return
	}
	if err := m.handle.Play(); err != nil {
		slog.Warn("player: resume failed", "err", err)
	}
}

// TogglePlayback pauses while playing and resumes otherwise.
func (m *Machine) TogglePlayback() {
	if m.state == Playing {
		m.Pause()
		return
	}
	m.Resume()
}

func (m *Machine) Seek(seconds float64) {
	if !m.ready() {
		return
	}
	if seconds < 0 {
		seconds = 0
	}
	if err := m.handle.SeekTo(seconds); err != nil {
		slog.Warn("player: seek failed", "seconds", seconds, "err", err)
	}
}

// SetVolume records volume and applies it when a player exists.
func (m *Machine) SetVolume(volume int) {
	m.volume = clampVolume(volume)
	m.publish()
	if !m.ready() {
		return
	}
	if err := m.handle.SetVolume(m.volume); err != nil {
		slog.Warn("player: set volume failed", "volume", m.volume, "err", err)
	}
}

func (m *Machine) CurrentTime() float64 {
	if !m.ready() {
		return 0
	}
	t, err := m.handle.CurrentTime()
	if err != nil {
		return 0
	}
	return t
}

func (m *Machine) Duration() float64 {
	if !m.ready() {
		return 0
	}
	return m.duration
}

// Close destroys the player and ignores later callbacks.
func (m *Machine) Close() {
	if m.closed {
		return
	}
	m.closed = true
	m.cancelRetry()
	if m.handle != nil {
		m.handle.Destroy()
		m.handle = nil
	}
	m.publish()
}

func (m *Machine) ready() bool {
	return m.handle != nil && m.state != Uninitialized && m.state != InitError && !m.closed
}

func (m *Machine) create() {
	m.stopRetry = nil
	h, err := m.api.Create(m.cfg.Container, Options{Volume: m.volume, Callbacks: m.callbacks()})
	if err == nil {
		m.cfg.Metrics.IncPlayerInit("ok")
		m.handle = h
		m.readied = false
		m.lastErr = ""
		slog.Info("player: created, waiting for ready", "container", m.cfg.Container)
		m.publish()
		return
	}

	m.cfg.Metrics.IncPlayerInit("error")
	m.lastErr = InitFailedText
	if m.retries >= m.cfg.MaxRetries {
		m.state = InitError
		slog.Error("player: creation failed, giving up", "retries", m.retries, "err", err)
		m.publish()
		return
	}
	m.retries++
	slog.Warn("player: creation failed, retrying", "attempt", m.retries, "delay", m.cfg.RetryDelay, "err", err)
	gen := m.retryGen
	m.stopRetry = m.after(m.cfg.RetryDelay, func() {
		m.loop.Post(func() {
			if gen != m.retryGen || m.closed || m.handle != nil {
				return
			}
			m.create()
		})
	})
	m.publish()
}

func (m *Machine) cancelRetry() {
	m.retryGen++
	if m.stopRetry != nil {
		m.stopRetry()
		m.stopRetry = nil
	}
}

func (m *Machine) callbacks() Callbacks {
	return Callbacks{
		OnReady:       func() { m.loop.Post(m.onReady) },
		OnStateChange: func(s PlaybackState) { m.loop.Post(func() { m.onStateChange(s) }) },
		OnError:       func(code int) { m.loop.Post(func() { m.onError(code) }) },
	}
}

func (m *Machine) onReady() {
	if m.closed || m.handle == nil {
		return
	}
	if err := m.handle.SetVolume(m.volume); err != nil {
		slog.Warn("player: initial volume failed", "err", err)
	}
	// Mirrored renderers can report ready again. Only the first report per
	// handle moves the state and flushes the pending request.
	if m.readied {
		slog.Debug("player: repeated ready ignored", "state", m.state.String())
		return
	}
	m.readied = true
	slog.Info("player: ready")
	if m.state == Uninitialized {
		m.state = Ready
	}
	if id := m.pending; id != "" {
		m.pending = ""
		if m.current != nil && m.current.VideoID == id {
			slog.Info("player: playing pending video", "video_id", id)
			m.load(*m.current)
		} else {
			slog.Info("player: discarding stale pending video", "video_id", id)
		}
	}
	m.publish()
}

func (m *Machine) onStateChange(s PlaybackState) {
	if m.closed || m.handle == nil {
		return
	}
	switch s {
	case PlaybackEnded:
		if m.state == Ended {
			return
		}
		m.state = Ended
		m.publish()
		slog.Info("player: video ended")
		if m.cfg.OnEnded != nil {
			m.cfg.OnEnded()
		}
		return
	case PlaybackPlaying:
		m.state = Playing
		if d, err := m.handle.Duration(); err == nil {
			m.duration = d
		}
	case PlaybackPaused:
		m.state = Paused
	case PlaybackBuffering:
		slog.Debug("player: buffering")
	case PlaybackCued, PlaybackUnstarted:
		if m.state == Uninitialized {
			m.state = Ready
		}
	}
	m.publish()
}

func (m *Machine) onError(code int) {
	if m.closed {
		return
	}
	pe := Classify(code)
	slog.Warn("player: playback error", "code", code, "kind", pe.Kind.String(), "message", pe.Message)
	m.cfg.Metrics.IncPlayerErrors(pe.Kind.String())
	m.lastErr = pe.Message
	m.publish()
	if m.notes != nil {
		m.notes.ForwardSystemNote(errorNotePrefix + pe.Message)
	}
}

func (m *Machine) load(item core.PlaylistItem) {
	slog.Info("player: loading video", "video_id", item.VideoID, "title", item.Title)
	m.lastErr = ""
	m.duration = 0
	if err := m.handle.LoadVideoByID(item.VideoID); err != nil {
		slog.Warn("player: load failed", "video_id", item.VideoID, "err", err)
		m.lastErr = LoadFailedText
	}
}

func (m *Machine) publish() {
	st := Status{
		State:     m.state,
		StateName: m.state.String(),
		Pending:   m.pending,
		LastError: m.lastErr,
		Volume:    m.volume,
		Duration:  m.duration,
		Retries:   m.retries,
	}
	if m.current != nil {
		cur := *m.current
		st.Current = &cur
	}
	m.status.Store(&st)
}

func clampVolume(v int) int {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	}
	return v
}
