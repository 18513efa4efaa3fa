package commands

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	json "github.com/goccy/go-json"
	"github.com/pkg/errors"
)

const watchDebounce = 250 * time.Millisecond

type fileConfig struct {
	CommandConfig Config `json:"command_config"`
}

// Manager reads and writes the command configuration file.
type Manager struct {
	path string
	mu   sync.Mutex
}

func NewManager(path string) *Manager {
	return &Manager{path: path}
}

func (m *Manager) Path() string { return m.path }

// Load reads the configuration. A missing file is created with the defaults.
func (m *Manager) Load() (Config, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := os.ReadFile(m.path)
	if errors.Is(err, os.ErrNotExist) {
		cfg := DefaultConfig()
		if err := m.saveLocked(cfg); err != nil {
			return Config{}, err
		}
		slog.Info("commands: wrote default config", "path", m.path)
		return cfg, nil
	}
	if err != nil {
		return Config{}, errors.Wrap(err, "read command config")
	}

	var fc fileConfig
	if err := json.Unmarshal(data, &fc); err != nil {
		return Config{}, errors.Wrap(err, "parse command config")
	}
	return fc.CommandConfig.Normalize(), nil
}

func (m *Manager) Save(cfg Config) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveLocked(cfg.Normalize())
}

func (m *Manager) saveLocked(cfg Config) error {
	if dir := filepath.Dir(m.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrap(err, "create config dir")
		}
	}
	data, err := json.MarshalIndent(fileConfig{CommandConfig: cfg}, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode command config")
	}
	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.Wrap(err, "write command config")
	}
	return errors.Wrap(os.Rename(tmp, m.path), "replace command config")
}

// Watch reloads the file after changes settle and hands the result to
// onChange. It returns once the watcher is installed; the watch stops when
// ctx is done.
func (m *Manager) Watch(ctx context.Context, onChange func(Config)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	// Watch the directory so atomic replacements are seen.
	if err := w.Add(filepath.Dir(m.path)); err != nil {
		w.Close()
		return errors.Wrap(err, "watch command config")
	}
	name := filepath.Clean(m.path)

	go func() {
		defer w.Close()
		debounce := time.NewTimer(0)
		if !debounce.Stop() {
			<-debounce.C
		}
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != name {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
					if !debounce.Stop() {
						select {
						case <-debounce.C:
						default:
						}
					}
					debounce.Reset(watchDebounce)
				}
			case <-debounce.C:
				cfg, err := m.Load()
				if err != nil {
					slog.Error("commands: reload failed", "path", m.path, "err", err)
					continue
				}
				slog.Info("commands: config reloaded", "path", m.path, "prefix", cfg.Prefix, "commands", len(cfg.Commands))
				onChange(cfg)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				slog.Error("commands: watch error", "err", err)
			}
		}
	}()
	return nil
}
