package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	json "github.com/goccy/go-json"

	"github.com/GG-O-BP/chzpuri-streaming-assistant/internal/backend"
	"github.com/GG-O-BP/chzpuri-streaming-assistant/internal/commands"
	"github.com/GG-O-BP/chzpuri-streaming-assistant/internal/config"
	"github.com/GG-O-BP/chzpuri-streaming-assistant/internal/httpapi"
	"github.com/GG-O-BP/chzpuri-streaming-assistant/internal/ingress"
	"github.com/GG-O-BP/chzpuri-streaming-assistant/internal/rpc"
	"github.com/GG-O-BP/chzpuri-streaming-assistant/internal/store"
	"github.com/GG-O-BP/chzpuri-streaming-assistant/internal/transport/redisbus"
	"github.com/GG-O-BP/chzpuri-streaming-assistant/internal/transport/wsevents"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	var (
		addr         string
		dbPath       string
		transport    string
		redisURL     string
		commandsFile string
	)

	flag.StringVar(&addr, "addr", "", "HTTP listen address for RPC and events")
	flag.StringVar(&dbPath, "db", "", "SQLite database path")
	flag.StringVar(&transport, "transport", "", "Event publisher: websocket or redis")
	flag.StringVar(&redisURL, "redis-url", "", "Redis URL for the redis publisher")
	flag.StringVar(&commandsFile, "commands", "", "Path to the command configuration file")
	flag.Parse()

	config.LoadDotEnv()
	cfg := config.Load()

	overrides := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { overrides[f.Name] = true })
	if overrides["addr"] {
		cfg.Backend.ListenAddr = strings.TrimSpace(addr)
	}
	if overrides["db"] {
		cfg.Store.SQLitePath = strings.TrimSpace(dbPath)
	}
	if overrides["transport"] {
		cfg.Transport.Kind = strings.ToLower(strings.TrimSpace(transport))
	}
	if overrides["redis-url"] {
		cfg.Transport.RedisURL = strings.TrimSpace(redisURL)
	}
	if overrides["commands"] {
		cfg.Commands.Path = strings.TrimSpace(commandsFile)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	base, err := store.OpenSQLite(cfg.Store.SQLitePath)
	if err != nil {
		log.Fatalf("devbackend: open sqlite: %v", err)
	}
	if err := base.Ping(); err != nil {
		log.Fatalf("devbackend: ping sqlite: %v", err)
	}
	display := store.NewDisplay(base, store.BufferedOptions{
		BatchSize:     cfg.Batch(),
		FlushInterval: cfg.FlushInterval(),
	})
	defer func() {
		if err := display.Close(); err != nil {
			log.Printf("devbackend: closing store: %v", err)
		}
	}()

	mux := http.NewServeMux()

	var pub ingress.Publisher
	switch cfg.Transport.Kind {
	case config.TransportRedis:
		bus, err := redisbus.Open(ctx, cfg.Transport.RedisURL, cfg.Transport.RedisPassword, cfg.Transport.RedisPrefix)
		if err != nil {
			log.Fatalf("devbackend: redis: %v", err)
		}
		defer bus.Close()
		pub = bus
		log.Printf("devbackend: publishing events to redis prefix %q", cfg.Transport.RedisPrefix)
	default:
		hub := wsevents.NewHub(wsevents.HubOptions{OriginPatterns: cfg.HTTP.CORSOrigins})
		defer hub.Close()
		mux.Handle("/events", hub)
		pub = hub
		log.Printf("devbackend: serving events on /events")
	}

	cmds := commands.NewManager(cfg.Commands.Path)
	cmdCfg, err := cmds.Load()
	if err != nil {
		log.Printf("devbackend: command config: %v; using defaults", err)
		cmdCfg = commands.DefaultConfig()
	}
	parser := commands.NewParser(cmdCfg)
	if err := cmds.Watch(ctx, parser.Update); err != nil {
		log.Printf("devbackend: command config watch disabled: %v", err)
	}

	conn := backend.NewSimulatedConnector(pub)
	svc := backend.New(conn, pub, backend.Options{
		Store:      display,
		Parser:     parser,
		BufferSize: cfg.Backend.ChatBuffer,
		Trace:      cfg.Backend.Trace,
	})
	if err := svc.Restore(ctx); err != nil {
		log.Printf("devbackend: restore playlist: %v", err)
	}

	mux.Handle(rpc.PathPrefix, rpc.NewHandler(svc))
	mux.Handle("/emit", backend.EmitHandler(conn))

	mux.HandleFunc("GET /state", func(w http.ResponseWriter, r *http.Request) {
		st := svc.State()
		writeJSON(w, map[string]any{
			"state":      st.Phase.String(),
			"channel_id": st.ChannelID,
			"message":    st.Message,
			"prefix":     parser.Prefix(),
		})
	})

	mux.HandleFunc("GET /chat-buffer", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, svc.ChatBuffer())
	})

	mux.HandleFunc("GET /count", func(w http.ResponseWriter, r *http.Request) {
		filters, err := httpapi.FiltersFromRequest(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		n, err := display.CountMessages(r.Context(), filters)
		if err != nil {
			http.Error(w, "count failed: "+err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, map[string]any{"count": n})
	})

	mux.HandleFunc("GET /messages", func(w http.ResponseWriter, r *http.Request) {
		filters, err := httpapi.FiltersFromRequest(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		list, err := display.ListMessages(r.Context(), filters)
		if err != nil {
			http.Error(w, "list failed: "+err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, list)
	})

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	srv := &http.Server{
		Addr:              cfg.Backend.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Printf("devbackend listening on %s (db=%s)", cfg.Backend.ListenAddr, cfg.Store.SQLitePath)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("devbackend: %v", err)
	}
	log.Printf("devbackend: stopped")
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
