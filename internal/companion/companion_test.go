package companion

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	json "github.com/goccy/go-json"

	"github.com/GG-O-BP/chzpuri-streaming-assistant/internal/commands"
	"github.com/GG-O-BP/chzpuri-streaming-assistant/internal/config"
	"github.com/GG-O-BP/chzpuri-streaming-assistant/internal/core"
	"github.com/GG-O-BP/chzpuri-streaming-assistant/internal/player"
)

type overlayHandle struct {
	mu    sync.Mutex
	loads []string
}

func (h *overlayHandle) LoadVideoByID(id string) error {
	h.mu.Lock()
	h.loads = append(h.loads, id)
	h.mu.Unlock()
	return nil
}

func (h *overlayHandle) Play() error                   { return nil }
func (h *overlayHandle) Pause() error                  { return nil }
func (h *overlayHandle) SeekTo(float64) error          { return nil }
func (h *overlayHandle) SetVolume(int) error           { return nil }
func (h *overlayHandle) CurrentTime() (float64, error) { return 0, nil }
func (h *overlayHandle) Duration() (float64, error)    { return 200, nil }
func (h *overlayHandle) Destroy()                      {}

func (h *overlayHandle) Loads() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.loads...)
}

// overlayAPI creates players that report ready right away.
type overlayAPI struct {
	handle *overlayHandle
}

func (a *overlayAPI) Create(_ string, opts player.Options) (player.Handle, error) {
	go opts.Callbacks.OnReady()
	return a.handle, nil
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func post(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post %s: %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func startMemoryCompanion(t *testing.T) (*Companion, *httptest.Server, *overlayHandle, string) {
	t.Helper()
	cmdPath := filepath.Join(t.TempDir(), "config.json")
	cfg := config.Config{
		Transport: config.TransportConfig{Kind: config.TransportMemory},
		Backend:   config.BackendConfig{TimeoutMS: 2000, ChatBuffer: 100},
		HTTP:      config.HTTPConfig{Addr: "127.0.0.1:0"},
		Commands:  config.CommandsConfig{Path: cmdPath},
	}
	handle := &overlayHandle{}

	ctx, cancel := context.WithCancel(context.Background())
	c, err := New(ctx, cfg, Options{Player: &overlayAPI{handle: handle}})
	if err != nil {
		cancel()
		t.Fatalf("new companion: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- c.Serve(ctx) }()

	ts := httptest.NewServer(c.Handler())
	t.Cleanup(func() {
		ts.Close()
		cancel()
		select {
		case <-done:
		case <-time.After(15 * time.Second):
			t.Errorf("companion did not stop")
		}
	})
	return c, ts, handle, cmdPath
}

func hasMessage(c *Companion, id string) bool {
	return c.ChatState().Has(id)
}

func TestMemoryCompanionChatFlow(t *testing.T) {
	c, ts, _, _ := startMemoryCompanion(t)

	if resp := post(t, ts.URL+"/connect", `{"channel_id":"abc"}`); resp.StatusCode != http.StatusOK {
		t.Fatalf("connect status %d", resp.StatusCode)
	}
	waitFor(t, "connected", func() bool { return c.ChatState().Connected() })
	if got := c.ChatState().ChannelID; got != "abc" {
		t.Fatalf("channel id %q", got)
	}

	if resp := post(t, ts.URL+"/dev/emit", `{"uid":"c1","nickname":"alice","message":"hello"}`); resp.StatusCode != http.StatusOK {
		t.Fatalf("emit status %d", resp.StatusCode)
	}
	waitFor(t, "chat record", func() bool { return hasMessage(c, "c1") })

	waitFor(t, "stored display message", func() bool {
		stored, err := c.local.GetMessages(context.Background())
		if err != nil {
			return false
		}
		for _, m := range stored {
			if m.ID == "c1" {
				return true
			}
		}
		return false
	})
	waitFor(t, "forwarded chat", func() bool {
		for _, line := range c.local.ChatBuffer() {
			if line.Username == "alice" && line.Message == "hello" {
				return true
			}
		}
		return false
	})

	resp, err := http.Get(ts.URL + "/messages?type=chat")
	if err != nil {
		t.Fatalf("get messages: %v", err)
	}
	defer resp.Body.Close()
	var payload struct {
		Messages []core.DisplayMessage `json:"messages"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(payload.Messages) != 1 || payload.Messages[0].ID != "c1" {
		t.Fatalf("unexpected messages %+v", payload.Messages)
	}

	if resp := post(t, ts.URL+"/disconnect", ``); resp.StatusCode != http.StatusOK {
		t.Fatalf("disconnect status %d", resp.StatusCode)
	}
	waitFor(t, "disconnected", func() bool { return !c.ChatState().Connected() })
	if !hasMessage(c, "c1") {
		t.Fatalf("disconnect must keep the log")
	}
}

func TestMemoryCompanionPlaylistCommand(t *testing.T) {
	c, ts, handle, _ := startMemoryCompanion(t)

	c.PlayerAPIReady()
	waitFor(t, "player ready", func() bool { return c.Player().State == player.Ready })

	post(t, ts.URL+"/connect", `{"channel_id":"abc"}`)
	waitFor(t, "connected", func() bool { return c.ChatState().Connected() })

	post(t, ts.URL+"/dev/emit", `{"uid":"r1","nickname":"bob","message":"!playlist https://youtu.be/dQw4w9WgXcQ"}`)

	waitFor(t, "video loaded", func() bool {
		loads := handle.Loads()
		return len(loads) == 1 && loads[0] == "dQw4w9WgXcQ"
	})
	waitFor(t, "playlist view", func() bool {
		v := c.Playlist()
		return len(v.State.Items) == 1 && v.State.IsPlaying
	})

	post(t, ts.URL+"/playlist/clear", ``)
	waitFor(t, "playlist cleared", func() bool { return len(c.Playlist().State.Items) == 0 })
}

func TestReloadCommandsUpdatesPrefix(t *testing.T) {
	c, ts, _, cmdPath := startMemoryCompanion(t)

	cfg := commands.DefaultConfig()
	cfg.Prefix = "?"
	if err := commands.NewManager(cmdPath).Save(cfg); err != nil {
		t.Fatalf("save: %v", err)
	}

	resp := post(t, ts.URL+"/admin/commands/reload", ``)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("reload status %d", resp.StatusCode)
	}
	var payload struct {
		Prefix string `json:"prefix"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.Prefix != "?" {
		t.Fatalf("reported prefix %q", payload.Prefix)
	}
	if c.bridge.CommandPrefix() != "?" || c.local.Parser().Prefix() != "?" {
		t.Fatalf("prefix not applied: bridge %q backend %q", c.bridge.CommandPrefix(), c.local.Parser().Prefix())
	}
}
