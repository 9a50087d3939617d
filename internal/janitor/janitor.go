package janitor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"releasebot/pkg/logx"
)

type Config struct {
	// Schedule is a cron expression (descriptors like "@daily" work too).
	Schedule string

	// MaxAge is how long failure artifacts are kept for operator inspection
	// before being pruned.
	MaxAge time.Duration
}

const (
	defaultSchedule = "@daily"
	defaultMaxAge   = 14 * 24 * time.Hour
)

// Janitor prunes old failure artifacts from the store directory. The scrape
// resolver writes one file per unresolvable page and nothing ever reads them
// back programmatically, so without pruning the directory grows forever.
type Janitor struct {
	cfg Config
	dir string
	log logx.Logger
}

func New(cfg Config, artifactDir string, log logx.Logger) *Janitor {
	if strings.TrimSpace(cfg.Schedule) == "" {
		cfg.Schedule = defaultSchedule
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = defaultMaxAge
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Janitor{cfg: cfg, dir: artifactDir, log: log}
}

// Run installs the cron entry and blocks until ctx is done.
func (j *Janitor) Run(ctx context.Context) error {
	c := cron.New()
	_, err := c.AddFunc(j.cfg.Schedule, func() {
		removed, err := pruneDir(j.dir, j.cfg.MaxAge)
		if err != nil {
			j.log.Error("artifact prune failed", logx.Err(err))
			return
		}
		if removed > 0 {
			j.log.Info("artifacts pruned", logx.Int("removed", removed))
		}
	})
	if err != nil {
		return err
	}

	c.Start()
	<-ctx.Done()

	stopCtx := c.Stop()
	<-stopCtx.Done()
	return ctx.Err()
}

// pruneDir removes regular files older than maxAge. A missing directory is
// fine: the scrape strategy may simply never have failed.
func pruneDir(dir string, maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, e.Name())); err == nil {
			removed++
		}
	}
	return removed, nil
}
