package feed

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"releasebot/pkg/logx"
)

// Release is one feed entry that survived field validation. It lives only for
// the duration of one poll cycle and its downstream dispatch.
type Release struct {
	Title       string
	PageURL     string
	PublishedAt time.Time
}

type Config struct {
	URL          string
	PollInterval time.Duration
	FailInterval time.Duration
	FetchTimeout time.Duration
	CursorPath   string
}

const (
	defaultPollInterval = time.Minute
	defaultFailInterval = 3 * time.Minute
	defaultFetchTimeout = 30 * time.Second
)

// Poller fetches the feed on a timer and forwards batches of newly seen
// releases downstream. It alternates between two states: polling (normal
// interval) and backing off (after a fetch/parse failure).
type Poller struct {
	cfg    Config
	log    logx.Logger
	parser *gofeed.Parser
	out    chan<- []Release

	cursor time.Time
}

func NewPoller(cfg Config, out chan<- []Release, log logx.Logger) (*Poller, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("feed.url is empty")
	}
	if strings.TrimSpace(cfg.CursorPath) == "" {
		return nil, errors.New("feed cursor path is empty")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.FailInterval <= 0 {
		cfg.FailInterval = defaultFailInterval
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = defaultFetchTimeout
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	cursor, err := loadCursor(cfg.CursorPath)
	if err != nil {
		return nil, err
	}

	parser := gofeed.NewParser()
	parser.Client = &http.Client{Timeout: cfg.FetchTimeout}

	return &Poller{cfg: cfg, log: log, parser: parser, out: out, cursor: cursor}, nil
}

// Run loops until ctx is done. The batch send blocks when the downstream
// channel is full; that is the deliberate backpressure point keeping the
// poller from outrunning the dispatcher.
func (p *Poller) Run(ctx context.Context) error {
	p.log.Info("feed poller started",
		logx.String("url", p.cfg.URL),
		logx.Duration("interval", p.cfg.PollInterval),
		logx.Time("cursor", p.cursor))

	for {
		entries, err := p.fetchOnce(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.log.Error("feed fetch failed, backing off",
				logx.Err(err), logx.Duration("backoff", p.cfg.FailInterval))
			if err := sleep(ctx, p.cfg.FailInterval); err != nil {
				return err
			}
			continue
		}

		batch := newerThan(entries, p.cursor)
		if len(batch) == 0 {
			if err := sleep(ctx, p.cfg.PollInterval); err != nil {
				return err
			}
			continue
		}

		// Most recent first.
		sort.Slice(batch, func(i, j int) bool {
			return batch[i].PublishedAt.After(batch[j].PublishedAt)
		})

		select {
		case p.out <- batch:
		case <-ctx.Done():
			return ctx.Err()
		}

		// Cursor is advanced only after the batch is handed off. A crash in
		// between re-delivers the batch on restart (at-least-once).
		next := batch[0].PublishedAt
		if err := writeCursor(p.cfg.CursorPath, next); err != nil {
			return err
		}
		p.cursor = next
		p.log.Info("new releases dispatched",
			logx.Int("count", len(batch)), logx.Time("cursor", next))

		if err := sleep(ctx, p.cfg.PollInterval); err != nil {
			return err
		}
	}
}

// fetchOnce fetches and validates the feed. A feed with zero valid entries is
// an error so the caller backs off instead of treating it as "no news".
func (p *Poller) fetchOnce(ctx context.Context) ([]Release, error) {
	feed, err := p.parser.ParseURLWithContext(p.cfg.URL, ctx)
	if err != nil {
		return nil, err
	}

	entries := validEntries(feed.Items, p.log)
	if len(entries) == 0 {
		return nil, errors.New("feed returned no valid items")
	}
	return entries, nil
}

// validEntries drops items missing a title, link or parsable publish time,
// logging each skip individually.
func validEntries(items []*gofeed.Item, log logx.Logger) []Release {
	out := make([]Release, 0, len(items))
	for i, item := range items {
		if item == nil {
			continue
		}
		if item.Title == "" {
			log.Warn("feed item has no title", logx.Int("index", i))
			continue
		}
		if item.Link == "" {
			log.Warn("feed item has no link", logx.Int("index", i), logx.String("title", item.Title))
			continue
		}
		published := item.PublishedParsed
		if published == nil {
			published = item.UpdatedParsed
		}
		if published == nil {
			log.Warn("feed item has no parsable publish time",
				logx.Int("index", i), logx.String("title", item.Title))
			continue
		}
		out = append(out, Release{Title: item.Title, PageURL: item.Link, PublishedAt: *published})
	}
	return out
}

// newerThan keeps entries strictly newer than the cursor. An entry whose key
// equals the cursor has already been delivered.
func newerThan(entries []Release, cursor time.Time) []Release {
	var out []Release
	for _, e := range entries {
		if e.PublishedAt.After(cursor) {
			out = append(out, e)
		}
	}
	return out
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
