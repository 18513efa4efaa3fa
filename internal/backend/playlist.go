package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/GG-O-BP/chzpuri-streaming-assistant/internal/commands"
	"github.com/GG-O-BP/chzpuri-streaming-assistant/internal/core"
	"github.com/GG-O-BP/chzpuri-streaming-assistant/internal/playlist"
)

var (
	errNotYouTube = errors.New("YouTube 링크만 신청할 수 있습니다.")
	errNoCurrent  = errors.New("재생할 곡이 없습니다.")
)

func (s *Service) GetPlaylist(context.Context) (core.PlaylistState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.State(), nil
}

func (s *Service) MoveItem(ctx context.Context, from, to int) error {
	return s.mutate(ctx, func() error { return s.queue.Move(from, to) })
}

func (s *Service) PlayAtIndex(ctx context.Context, index int) error {
	return s.mutate(ctx, func() error {
		item, ok := s.queue.PlayAt(index)
		if !ok {
			return playlist.ErrIndexOutOfRange
		}
		s.publish(ctx, core.ChannelPlaylistPlay, item)
		return nil
	})
}

func (s *Service) RemoveItem(ctx context.Context, index int) error {
	return s.mutate(ctx, func() error {
		_, err := s.queue.Remove(index)
		return err
	})
}

// SkipToNext advances the queue. At the end of a queue without autoplay
// playback stops.
func (s *Service) SkipToNext(ctx context.Context) error {
	return s.mutate(ctx, func() error {
		s.advanceLocked(ctx, s.queue.Next)
		return nil
	})
}

func (s *Service) Previous(ctx context.Context) error {
	return s.mutate(ctx, func() error {
		s.advanceLocked(ctx, s.queue.Previous)
		return nil
	})
}

func (s *Service) Pause(ctx context.Context) error {
	return s.mutate(ctx, func() error {
		s.queue.SetPlaying(false)
		s.publish(ctx, core.ChannelPlaylistPause, nil)
		return nil
	})
}

// Resume resumes the current item or starts the queue when nothing is
// selected.
func (s *Service) Resume(ctx context.Context) error {
	return s.mutate(ctx, func() error {
		if _, ok := s.queue.Current(); ok {
			s.queue.SetPlaying(true)
			s.publish(ctx, core.ChannelPlaylistResume, nil)
			return nil
		}
		item, ok := s.queue.Next()
		if !ok {
			return errNoCurrent
		}
		s.queue.SetPlaying(true)
		s.publish(ctx, core.ChannelPlaylistPlay, item)
		return nil
	})
}

func (s *Service) ClearPlaylist(ctx context.Context) error {
	return s.mutate(ctx, func() error {
		s.queue.Clear()
		return nil
	})
}

func (s *Service) SetAutoplay(ctx context.Context, enabled bool) error {
	return s.mutate(ctx, func() error {
		s.queue.SetAutoplay(enabled)
		return nil
	})
}

// AddRequest queues a video requested by user. A request that makes the
// queue non-empty starts playback.
func (s *Service) AddRequest(ctx context.Context, user, query string) error {
	if !playlist.IsYouTubeURL(query) {
		return errNotYouTube
	}
	videoID, ok := playlist.ExtractVideoID(query)
	if !ok || videoID == "" {
		return errNotYouTube
	}
	limit := s.parser.Config().PlaylistLimits.UserLimit

	return s.mutate(ctx, func() error {
		if limit != nil && s.queue.CountBy(user) >= *limit {
			return fmt.Errorf("신청곡은 1인당 %d곡까지 가능합니다.", *limit)
		}
		item := core.PlaylistItem{
			ID:      uuid.NewString(),
			VideoID: videoID,
			Title:   videoID,
			URL:     query,
			AddedBy: user,
			AddedAt: s.now().Unix(),
		}
		wasEmpty := s.queue.Len() == 0
		s.queue.Add(item)
		slog.Info("backend: playlist request", "user", user, "video_id", videoID)
		if wasEmpty {
			s.queue.SetPlaying(true)
			s.publish(ctx, core.ChannelPlaylistPlay, item)
		}
		return nil
	})
}

func (s *Service) execute(ctx context.Context, author string, cmd commands.Parsed) error {
	var err error
	switch cmd.Kind {
	case commands.KindPlaylist:
		err = s.AddRequest(ctx, author, cmd.Query)
	case commands.KindSkip:
		err = s.SkipToNext(ctx)
	case commands.KindPrevious:
		err = s.Previous(ctx)
	case commands.KindPause:
		err = s.Pause(ctx)
	case commands.KindPlay:
		err = s.Resume(ctx)
	case commands.KindClear:
		err = s.ClearPlaylist(ctx)
	default:
		err = fmt.Errorf("알 수 없는 명령어: %s", cmd.Name)
	}
	if err != nil {
		s.publish(ctx, core.ChannelPlaylistError, err.Error())
		return fmt.Errorf("command %s: %w", cmd.Kind, err)
	}
	return nil
}

func (s *Service) advanceLocked(ctx context.Context, step func() (core.PlaylistItem, bool)) {
	item, ok := step()
	if !ok {
		s.queue.SetPlaying(false)
		s.publish(ctx, core.ChannelPlaylistPause, nil)
		return
	}
	s.queue.SetPlaying(true)
	s.publish(ctx, core.ChannelPlaylistPlay, item)
}

// mutate runs fn under the lock, then persists and publishes the new state.
// Nothing is published when fn fails.
func (s *Service) mutate(ctx context.Context, fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := fn(); err != nil {
		return err
	}
	st := s.queue.State()
	if err := s.store.SavePlaylist(ctx, st); err != nil {
		slog.Warn("backend: save playlist", "err", err)
	}
	s.publish(ctx, core.ChannelPlaylistUpdated, st)
	return nil
}
