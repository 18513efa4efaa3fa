// Package companion assembles the sync engine: transports, the backend
// bridge, the chat session, the player machine, the playlist orchestrator
// and the local HTTP API, run under one supervisor tree.
package companion

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/GG-O-BP/chzpuri-streaming-assistant/internal/backend"
	"github.com/GG-O-BP/chzpuri-streaming-assistant/internal/bridge"
	"github.com/GG-O-BP/chzpuri-streaming-assistant/internal/chat"
	"github.com/GG-O-BP/chzpuri-streaming-assistant/internal/commands"
	"github.com/GG-O-BP/chzpuri-streaming-assistant/internal/config"
	"github.com/GG-O-BP/chzpuri-streaming-assistant/internal/core"
	httpadmin "github.com/GG-O-BP/chzpuri-streaming-assistant/internal/http"
	"github.com/GG-O-BP/chzpuri-streaming-assistant/internal/httpapi"
	"github.com/GG-O-BP/chzpuri-streaming-assistant/internal/ingress"
	"github.com/GG-O-BP/chzpuri-streaming-assistant/internal/loop"
	"github.com/GG-O-BP/chzpuri-streaming-assistant/internal/metrics"
	"github.com/GG-O-BP/chzpuri-streaming-assistant/internal/player"
	"github.com/GG-O-BP/chzpuri-streaming-assistant/internal/player/remote"
	"github.com/GG-O-BP/chzpuri-streaming-assistant/internal/playlist"
	"github.com/GG-O-BP/chzpuri-streaming-assistant/internal/rpc"
	"github.com/GG-O-BP/chzpuri-streaming-assistant/internal/supervisor"
	"github.com/GG-O-BP/chzpuri-streaming-assistant/internal/transport/redisbus"
	"github.com/GG-O-BP/chzpuri-streaming-assistant/internal/transport/wsevents"
)

const playerContainer = "player"

// OverlayPath serves the browser overlay that hosts the player.
const OverlayPath = "/player/overlay"

type Options struct {
	Registry *prometheus.Registry
	Build    httpapi.BuildInfo
	Logger   *slog.Logger
	// Transport and Backend replace the configured ones when both are set.
	Transport ingress.Transport
	Backend   bridge.Backend
	// Player replaces the overlay player API.
	Player player.API
}

// Companion implements httpapi.Engine and httpadmin.Reloader.
type Companion struct {
	cfg    config.Config
	logger *slog.Logger

	loop       *loop.Actor
	metrics    *metrics.Engine
	transport  ingress.Transport
	backend    bridge.Backend
	dispatcher *ingress.Dispatcher
	bridge     *bridge.Bridge
	session    *chat.Session
	machine    *player.Machine
	overlay    *remote.API
	playlist   *playlist.Orchestrator
	commands   *commands.Manager
	parser     *commands.Parser
	api        *httpapi.Server

	events    *wsevents.Client
	redis     *redisbus.Bus
	local     *backend.Service
	simulator *backend.SimulatedConnector

	autoJoined atomic.Bool
	closeOnce  sync.Once
}

var (
	_ httpapi.Engine     = (*Companion)(nil)
	_ httpadmin.Reloader = (*Companion)(nil)
)

// New builds the engine. Nothing runs until Serve.
func New(ctx context.Context, cfg config.Config, opts Options) (*Companion, error) {
	reg := opts.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := &Companion{
		cfg:      cfg,
		logger:   logger,
		loop:     loop.New(),
		metrics:  metrics.New(reg),
		commands: commands.NewManager(cfg.Commands.Path),
	}

	cmdCfg, err := c.commands.Load()
	if err != nil {
		logger.Warn("companion: command config unreadable, using defaults", "path", cfg.Commands.Path, "err", err)
		cmdCfg = commands.DefaultConfig()
	}
	c.parser = commands.NewParser(cmdCfg)

	if err := c.openTransport(ctx, opts); err != nil {
		return nil, err
	}

	c.bridge = bridge.New(c.backend, c.loop, bridge.Options{Timeout: cfg.BackendTimeout(), Metrics: c.metrics})
	c.bridge.SetCommandPrefix(c.parser.Prefix())

	c.session = chat.NewSession(c.backend, c.bridge, c.loop, chat.Options{
		Metrics:    c.metrics,
		OnAccepted: c.broadcast,
	})

	api := opts.Player
	if api == nil {
		c.overlay = remote.New(remote.Options{
			OnAPIReady:     c.PlayerAPIReady,
			OriginPatterns: cfg.Player.OverlayOrigins,
		})
		api = c.overlay
	}
	c.machine = player.NewMachine(api, c.loop, c.bridge, player.Config{
		Container: playerContainer,
		Metrics:   c.metrics,
		OnEnded:   c.videoEnded,
	})
	c.playlist = playlist.New(c.backend, c.bridge, c.loop, c.machine, playlist.Options{Metrics: c.metrics})

	c.dispatcher = ingress.New(c.transport, c.loop, ingress.Options{
		Metrics:      c.metrics,
		VerboseDrops: cfg.VerboseDrops,
	})

	if cfg.HTTP.Addr != "" {
		c.api = httpapi.New(c, httpapi.Options{
			Addr:         cfg.HTTP.Addr,
			Build:        opts.Build,
			CORSOrigins:  cfg.HTTP.CORSOrigins,
			RateLimitRPS: cfg.HTTP.RateLimitRPS,
			RateBurst:    cfg.HTTP.RateBurst,
			Registry:     reg,
			Mount:        c.mount,
		})
	}

	if cfg.ChannelID != "" {
		c.session.SetChannelID(cfg.ChannelID)
	}
	return c, nil
}

func (c *Companion) openTransport(ctx context.Context, opts Options) error {
	if opts.Transport != nil && opts.Backend != nil {
		c.transport, c.backend = opts.Transport, opts.Backend
		return nil
	}

	switch c.cfg.Transport.Kind {
	case config.TransportMemory:
		bus := ingress.NewMemoryBus()
		c.simulator = backend.NewSimulatedConnector(bus)
		c.local = backend.New(c.simulator, bus, backend.Options{
			Parser:     c.parser,
			BufferSize: c.cfg.Backend.ChatBuffer,
			Trace:      c.cfg.Backend.Trace,
		})
		c.transport, c.backend = bus, c.local
		c.logger.Info("companion: using in-process backend")
		return nil
	case config.TransportRedis:
		bus, err := redisbus.Open(ctx, c.cfg.Transport.RedisURL, c.cfg.Transport.RedisPassword, c.cfg.Transport.RedisPrefix)
		if err != nil {
			return errors.Wrap(err, "open redis transport")
		}
		c.redis = bus
		c.transport = bus
	default:
		c.events = wsevents.NewClient(c.cfg.Transport.EventsURL, wsevents.ClientOptions{
			Metrics:   c.metrics,
			OnConnect: c.resync,
		})
		c.transport = c.events
	}

	c.backend = rpc.NewClient(c.cfg.Backend.URL, rpc.ClientOptions{
		Metrics:   c.metrics,
		TripAfter: uint32(c.cfg.Backend.TripAfter),
	})
	return nil
}

func (c *Companion) mount(mux *http.ServeMux) {
	if c.overlay != nil {
		mux.Handle(OverlayPath, c.overlay)
	}
	if c.simulator != nil {
		mux.Handle("/dev/emit", backend.EmitHandler(c.simulator))
	}
	httpadmin.New(c).Register(mux)
}

// Serve attaches the event handlers and runs every service until ctx is
// canceled.
func (c *Companion) Serve(ctx context.Context) error {
	if err := c.session.Attach(ctx, c.dispatcher); err != nil {
		return errors.Wrap(err, "attach chat")
	}
	if err := c.playlist.Attach(ctx, c.dispatcher); err != nil {
		c.session.Close()
		return errors.Wrap(err, "attach playlist")
	}

	tree := supervisor.NewTree(c.logger, supervisor.TreeConfig{})
	tree.AddEngineService(c.loop)
	tree.AddEngineService(supervisor.Once("reconcile", c.reconcile))
	if c.events != nil {
		tree.AddTransportService(c.events)
	}
	tree.AddTransportService(supervisor.UntilDone("commands-watch", func(ctx context.Context) error {
		return c.commands.Watch(ctx, c.applyCommands)
	}))
	if c.api != nil {
		tree.AddAPIService(c.api)
	}

	err := tree.Serve(ctx)
	c.Close()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close releases subscriptions and the player. It is called by Serve and is
// safe to call again.
func (c *Companion) Close() {
	c.closeOnce.Do(func() {
		c.session.Close()
		c.playlist.Close()
		c.dispatcher.Close()
		// The loop has stopped; nothing else touches the machine now.
		c.loop.Stop()
		c.machine.Close()
		c.bridge.Wait()
		if c.redis != nil {
			if err := c.redis.Close(); err != nil {
				c.logger.Warn("companion: close redis", "err", err)
			}
		}
	})
}

// reconcile seeds chat and playlist state from the backend, then joins the
// configured channel once.
func (c *Companion) reconcile(ctx context.Context) error {
	if err := c.session.Activate(ctx); err != nil {
		return err
	}
	if err := c.playlist.Load(ctx); err != nil {
		return err
	}
	if c.cfg.ChannelID == "" || c.autoJoined.Swap(true) {
		return nil
	}
	if err := c.loop.Do(ctx, func() {}); err != nil {
		return err
	}
	if c.session.Snapshot().Connected() {
		return nil
	}
	if err := c.session.Connect(ctx); err != nil {
		c.logger.Warn("companion: auto-join failed", "channel", c.cfg.ChannelID, "err", err)
	}
	return nil
}

// resync reloads state after the event transport reconnects, since events
// published while it was down are lost.
func (c *Companion) resync() {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.BackendTimeout())
		defer cancel()
		if err := c.session.Activate(ctx); err != nil {
			c.logger.Warn("companion: resync chat", "err", err)
		}
		if err := c.playlist.Load(ctx); err != nil {
			c.logger.Warn("companion: resync playlist", "err", err)
		}
	}()
}

func (c *Companion) applyCommands(cfg commands.Config) {
	c.parser.Update(cfg)
	c.bridge.SetCommandPrefix(c.parser.Prefix())
}

func (c *Companion) broadcast(msg core.DisplayMessage) {
	if c.api != nil {
		c.api.Broadcast(msg)
	}
}

func (c *Companion) videoEnded() { c.playlist.Ended() }

// PlayerAPIReady reports that a player renderer is available.
func (c *Companion) PlayerAPIReady() {
	c.loop.Post(c.machine.APIReady)
}

// Simulator returns the in-process platform stand-in, or nil when the
// companion talks to a remote backend.
func (c *Companion) Simulator() *backend.SimulatedConnector { return c.simulator }

// Handler returns the HTTP API handler, or nil when the API is disabled.
func (c *Companion) Handler() http.Handler {
	if c.api == nil {
		return nil
	}
	return c.api.Handler()
}
