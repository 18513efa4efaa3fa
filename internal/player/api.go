// Package player drives an embedded video player through its lifecycle:
// creation with bounded retries, pending-video handling before readiness,
// playback state tracking and error reporting.
package player

import (
	"errors"
	"strconv"
)

// PlaybackState is the state code reported by the embedded player.
type PlaybackState int

const (
	PlaybackUnstarted PlaybackState = -1
	PlaybackEnded     PlaybackState = 0
	PlaybackPlaying   PlaybackState = 1
	PlaybackPaused    PlaybackState = 2
	PlaybackBuffering PlaybackState = 3
	PlaybackCued      PlaybackState = 5
)

func (s PlaybackState) String() string {
	switch s {
	case PlaybackUnstarted:
		return "unstarted"
	case PlaybackEnded:
		return "ended"
	case PlaybackPlaying:
		return "playing"
	case PlaybackPaused:
		return "paused"
	case PlaybackBuffering:
		return "buffering"
	case PlaybackCued:
		return "cued"
	default:
		return "unknown"
	}
}

// Callbacks receive player notifications. Implementations of API may invoke
// them from any goroutine.
type Callbacks struct {
	OnReady       func()
	OnStateChange func(PlaybackState)
	OnError       func(code int)
}

type Options struct {
	Volume    int
	Callbacks Callbacks
}

// API creates player instances inside a rendering container.
type API interface {
	Create(container string, opts Options) (Handle, error)
}

// Handle controls one created player.
type Handle interface {
	LoadVideoByID(videoID string) error
	Play() error
	Pause() error
	SeekTo(seconds float64) error
	SetVolume(volume int) error
	CurrentTime() (float64, error)
	Duration() (float64, error)
	Destroy()
}

// ErrNoRenderer is returned by Create when nothing can host the player.
var ErrNoRenderer = errors.New("player: no renderer attached")

// ErrorKind classifies a player error code.
type ErrorKind int

const (
	KindGeneric ErrorKind = iota
	KindInvalidParameter
	KindHTML5
	KindNotFound
	KindEmbedDisallowed
)

func (k ErrorKind) String() string {
	switch k {
	case KindInvalidParameter:
		return "invalid_parameter"
	case KindHTML5:
		return "html5"
	case KindNotFound:
		return "not_found"
	case KindEmbedDisallowed:
		return "embed_disallowed"
	default:
		return "generic"
	}
}

// Error is a classified playback error.
type Error struct {
	Code    int
	Kind    ErrorKind
	Message string
}

func (e Error) Error() string { return e.Message }

// Classify maps an error code reported by the player to its kind and display
// message.
func Classify(code int) Error {
	e := Error{Code: code}
	switch code {
	case 2:
		e.Kind, e.Message = KindInvalidParameter, "잘못된 매개변수"
	case 5:
		e.Kind, e.Message = KindHTML5, "HTML5 플레이어 오류"
	case 100:
		e.Kind, e.Message = KindNotFound, "요청한 동영상을 찾을 수 없습니다"
	case 101, 150:
		e.Kind, e.Message = KindEmbedDisallowed, "동영상 소유자가 재생을 허용하지 않았습니다"
	default:
		e.Kind, e.Message = KindGeneric, "오류 코드: "+strconv.Itoa(code)
	}
	return e
}
