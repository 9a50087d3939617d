package config

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "releasebot/pkg/logx"
)

type Manager struct {
	path string

	mu  sync.RWMutex
	cfg *Config

	log logx.Logger

	// lastHash tracks the last successfully committed config content.
	// It helps avoid redundant reloads when the editor causes multiple write
	// events without content changes.
	lastHash uint64
}

func NewManager(path string) *Manager {
	return &Manager{path: path, log: logx.Nop()}
}

func (m *Manager) SetLogger(log logx.Logger) {
	if !log.IsZero() {
		m.log = log
	}
}

func (m *Manager) Parse() (*Config, error) {
	b, err := os.ReadFile(m.path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := decodeStrict(m.path, b, &cfg); err != nil {
		return nil, err
	}
	cfg.applyFallbacks()
	return &cfg, nil
}

func (m *Manager) Commit(cfg *Config) {
	m.mu.Lock()
	m.cfg = cfg
	m.lastHash = hashConfig(cfg)
	m.mu.Unlock()
}

func (m *Manager) Load() (*Config, error) {
	cfg, err := m.Parse()
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	m.Commit(cfg)
	return cfg, nil
}

func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// applyFallbacks fills secrets and paths from the environment so they can
// stay out of the config file, then sets static defaults.
func (c *Config) applyFallbacks() {
	if strings.TrimSpace(c.Telegram.Token) == "" {
		c.Telegram.Token = os.Getenv("TELEGRAM_TOKEN")
	}
	if strings.TrimSpace(c.Feed.URL) == "" {
		c.Feed.URL = os.Getenv("FEED_URL")
	}
	if strings.TrimSpace(c.Storage.Dir) == "" {
		c.Storage.Dir = os.Getenv("STORE_DIR")
	}
	if strings.TrimSpace(c.Storage.Dir) == "" {
		c.Storage.Dir = "./releasebot_store"
	}
}

// Validate checks the parts of the config that cannot be defaulted. Duration
// fields are validated by the subsystems that consume them.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		return fmt.Errorf("telegram.token is required (or set TELEGRAM_TOKEN)")
	}
	if strings.TrimSpace(cfg.Feed.URL) == "" {
		return fmt.Errorf("feed.url is required (or set FEED_URL)")
	}
	switch cfg.Resolver.Strategy {
	case "", "torrent", "scrape":
	default:
		return fmt.Errorf("resolver.strategy: unknown strategy %q", cfg.Resolver.Strategy)
	}
	switch cfg.Storage.Driver {
	case "", "file", "sqlite", "sqlite3":
	default:
		return fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver)
	}
	return nil
}

func hashConfig(cfg *Config) uint64 {
	if cfg == nil {
		return 0
	}
	b, err := json.Marshal(cfg)
	if err != nil {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}

// Watch re-reads the config when the file changes and calls onChange with the
// new snapshot. Invalid edits are logged and ignored so a half-saved file
// never takes down the running bot. Watch blocks until ctx is done.
func (m *Manager) Watch(ctx context.Context, onChange func(*Config)) error {
	dir := filepath.Dir(m.path)
	file := filepath.Base(m.path)

	const restartBackoff = time.Second

	// debounce to avoid partial writes
	var (
		timerMu sync.Mutex
		timer   *time.Timer
	)
	debounce := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(250*time.Millisecond, func() {
			cfg, err := m.Parse()
			if err == nil {
				err = Validate(cfg)
			}
			if err != nil {
				m.log.Warn("config reload rejected", logx.String("path", m.path), logx.Err(err))
				return
			}

			// Skip redundant reloads when content is unchanged.
			h := hashConfig(cfg)
			m.mu.RLock()
			unchanged := h != 0 && h == m.lastHash
			m.mu.RUnlock()
			if unchanged {
				return
			}

			m.Commit(cfg)
			if onChange != nil {
				onChange(cfg)
			}
			m.log.Info("config reloaded", logx.String("path", m.path))
		})
	}

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		w, err := fsnotify.NewWatcher()
		if err == nil {
			err = w.Add(dir)
			if err != nil {
				_ = w.Close()
			}
		}
		if err != nil {
			m.log.Warn("config watch init failed", logx.Err(err), logx.String("dir", dir))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(restartBackoff):
				continue
			}
		}

		// inner loop: runs until the watcher breaks, then the outer loop
		// recreates it.
		broken := false
		for !broken {
			select {
			case <-ctx.Done():
				_ = w.Close()
				return ctx.Err()
			case ev, ok := <-w.Events:
				if !ok {
					broken = true
					break
				}
				// Compare by basename; editors often replace the file via
				// rename, which reports a different absolute path.
				if strings.EqualFold(filepath.Base(ev.Name), file) {
					if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove|fsnotify.Chmod) != 0 {
						debounce()
					}
				}
			case werr, ok := <-w.Errors:
				if !ok {
					broken = true
					break
				}
				if werr == nil {
					continue
				}
				m.log.Warn("config watch error", logx.Err(werr), logx.String("dir", dir))
			}
		}

		_ = w.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		m.log.Warn("config watcher stopped; restarting", logx.String("dir", dir))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(restartBackoff):
		}
	}
}
