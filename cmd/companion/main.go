package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/GG-O-BP/chzpuri-streaming-assistant/internal/companion"
	"github.com/GG-O-BP/chzpuri-streaming-assistant/internal/config"
	"github.com/GG-O-BP/chzpuri-streaming-assistant/internal/version"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	var (
		versionFlag     bool
		transport       string
		eventsURL       string
		redisURL        string
		backendURL      string
		channelID       string
		commandsFile    string
		httpAddr        string
		httpCorsOrigins string
		httpRateRPS     int
		httpRateBurst   int
		overlayOrigins  string
		verboseDrops    bool
	)

	flag.BoolVar(&versionFlag, "version", false, "Print build version and exit")
	flag.StringVar(&transport, "transport", config.TransportWebSocket, "Event transport: websocket, redis or memory")
	flag.StringVar(&eventsURL, "events-url", "", "WebSocket URL of the backend event hub")
	flag.StringVar(&redisURL, "redis-url", "", "Redis URL for the redis transport")
	flag.StringVar(&backendURL, "backend-url", "", "Base URL of the backend RPC endpoint")
	flag.StringVar(&channelID, "channel", "", "Chat channel id to join on startup")
	flag.StringVar(&commandsFile, "commands", "", "Path to the command configuration file")
	flag.StringVar(&httpAddr, "http-addr", "", "Local API address (e.g., :8765); empty disables it")
	flag.StringVar(&httpCorsOrigins, "http-cors-origins", "", "Comma-separated list of allowed CORS origins")
	flag.IntVar(&httpRateRPS, "http-rate-rps", 20, "Maximum HTTP requests per second per client")
	flag.IntVar(&httpRateBurst, "http-rate-burst", 40, "Burst size for HTTP rate limiter")
	flag.StringVar(&overlayOrigins, "overlay-origins", "", "Comma-separated hosts allowed to open the player overlay socket")
	flag.BoolVar(&verboseDrops, "verbose-drops", false, "Log every dropped event, not just summaries")
	flag.Parse()

	if versionFlag {
		fmt.Printf(
			"companion version: %s (commit %s, built %s)\n",
			version.Version,
			version.Commit,
			version.BuildTime,
		)
		os.Exit(0)
	}

	config.LoadDotEnv()

	overrides := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) {
		overrides[f.Name] = true
	})

	cfg := config.Load()

	if overrides["transport"] {
		cfg.Transport.Kind = strings.ToLower(strings.TrimSpace(transport))
	}
	if overrides["events-url"] {
		cfg.Transport.EventsURL = strings.TrimSpace(eventsURL)
	}
	if overrides["redis-url"] {
		cfg.Transport.RedisURL = strings.TrimSpace(redisURL)
	}
	if overrides["backend-url"] {
		cfg.Backend.URL = strings.TrimRight(strings.TrimSpace(backendURL), "/")
	}
	if overrides["channel"] {
		cfg.ChannelID = strings.TrimSpace(channelID)
	}
	if overrides["commands"] {
		cfg.Commands.Path = strings.TrimSpace(commandsFile)
	}
	if overrides["http-addr"] {
		cfg.HTTP.Addr = strings.TrimSpace(httpAddr)
	}
	if overrides["http-cors-origins"] {
		cfg.HTTP.CORSOrigins = config.SplitList(httpCorsOrigins)
	}
	if overrides["http-rate-rps"] {
		cfg.HTTP.RateLimitRPS = httpRateRPS
	}
	if overrides["http-rate-burst"] {
		cfg.HTTP.RateBurst = httpRateBurst
	}
	if overrides["overlay-origins"] {
		cfg.Player.OverlayOrigins = config.SplitList(overlayOrigins)
	}
	if overrides["verbose-drops"] {
		cfg.VerboseDrops = verboseDrops
	}

	switch cfg.Transport.Kind {
	case config.TransportWebSocket, config.TransportRedis, config.TransportMemory:
	default:
		log.Fatalf("companion: unknown transport %q", cfg.Transport.Kind)
	}
	if cfg.Transport.Kind == config.TransportRedis && cfg.Transport.RedisURL == "" {
		log.Fatal("companion: redis transport requires CHZPURI_REDIS_URL or -redis-url")
	}

	log.Printf("%s", cfg.SummaryJSON())

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	c, err := companion.New(ctx, cfg, companion.Options{
		Registry: reg,
		Build:    version.Info(),
	})
	if err != nil {
		log.Fatalf("companion: %v", err)
	}

	if cfg.HTTP.Addr != "" {
		log.Printf("companion: api on %s, player overlay at %s", cfg.HTTP.Addr, companion.OverlayPath)
	} else {
		log.Printf("companion: http api disabled")
	}

	if err := c.Serve(ctx); err != nil {
		log.Fatalf("companion: %v", err)
	}
	log.Printf("companion: stopped")
}
