package companion

import (
	"context"
	"strings"

	"github.com/GG-O-BP/chzpuri-streaming-assistant/internal/chatstate"
	"github.com/GG-O-BP/chzpuri-streaming-assistant/internal/player"
	"github.com/GG-O-BP/chzpuri-streaming-assistant/internal/playlist"
)

func (c *Companion) ChatState() chatstate.State { return c.session.Snapshot() }

func (c *Companion) Playlist() playlist.View { return c.playlist.View() }

func (c *Companion) Player() player.Status { return c.machine.Status() }

// Connect records channelID, when given, and joins it.
func (c *Companion) Connect(ctx context.Context, channelID string) error {
	if id := strings.TrimSpace(channelID); id != "" {
		c.session.SetChannelID(id)
	}
	return c.session.Connect(ctx)
}

func (c *Companion) Disconnect(ctx context.Context) error { return c.session.Disconnect(ctx) }

func (c *Companion) ClearMessages() { c.session.ClearMessages() }

// The player machine is only touched on the loop.

func (c *Companion) RetryPlayer() { c.loop.Post(c.machine.Retry) }

func (c *Companion) TogglePlayback() { c.loop.Post(c.machine.TogglePlayback) }

func (c *Companion) Seek(seconds float64) {
	c.loop.Post(func() { c.machine.Seek(seconds) })
}

func (c *Companion) SetVolume(volume int) {
	c.loop.Post(func() { c.machine.SetVolume(volume) })
}

func (c *Companion) ToggleAutoplay() { c.playlist.ToggleAutoplay() }

func (c *Companion) SkipToNext() { c.playlist.SkipToNext() }

func (c *Companion) PlayAtIndex(index int) { c.playlist.PlayAtIndex(index) }

func (c *Companion) RemoveItem(index int) { c.playlist.RemoveItem(index) }

func (c *Companion) MoveItem(from, to int) { c.playlist.MoveItem(from, to) }

func (c *Companion) ClearPlaylist() { c.playlist.ClearPlaylist() }

// ReloadCommands re-reads the command file and returns the active prefix.
func (c *Companion) ReloadCommands() (string, error) {
	cfg, err := c.commands.Load()
	if err != nil {
		return "", err
	}
	c.applyCommands(cfg)
	c.logger.Info("companion: command config reloaded", "prefix", c.parser.Prefix())
	return c.parser.Prefix(), nil
}
