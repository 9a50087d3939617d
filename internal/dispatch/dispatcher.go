package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"releasebot/internal/feed"
	"releasebot/internal/resolver"
	"releasebot/internal/storage"
	"releasebot/internal/transport"
	"releasebot/pkg/logx"
)

type Config struct {
	// CourtesyDelay paces release processing so scraping the detail pages
	// doesn't trip upstream rate limiting. It applies between releases,
	// within and across batches, not between recipients.
	CourtesyDelay time.Duration

	// FanoutLimit bounds concurrent per-user deliveries for one release.
	FanoutLimit int
}

const (
	defaultCourtesyDelay = time.Second
	defaultFanoutLimit   = 8
)

// Dispatcher consumes release batches sequentially: batch N+1 is not read
// until every release of batch N has been dispatched. Within a batch,
// releases are processed most-recent-first (the poller's order); within one
// release, deliveries to recipients run concurrently with no ordering.
type Dispatcher struct {
	cfg     Config
	store   storage.Store
	res     resolver.Resolver
	adapter transport.Adapter
	in      <-chan []feed.Release
	pacer   *rate.Limiter
	log     logx.Logger
}

func New(cfg Config, store storage.Store, res resolver.Resolver, adapter transport.Adapter, in <-chan []feed.Release, log logx.Logger) *Dispatcher {
	if cfg.CourtesyDelay <= 0 {
		cfg.CourtesyDelay = defaultCourtesyDelay
	}
	if cfg.FanoutLimit <= 0 {
		cfg.FanoutLimit = defaultFanoutLimit
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Dispatcher{
		cfg:     cfg,
		store:   store,
		res:     res,
		adapter: adapter,
		in:      in,
		pacer:   rate.NewLimiter(rate.Every(cfg.CourtesyDelay), 1),
		log:     log,
	}
}

// Run loops until ctx is done. A closed input channel means the poller is
// gone; that is fatal and reported to the supervisor.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case batch, ok := <-d.in:
			if !ok {
				return errors.New("release channel closed")
			}
			for _, rel := range batch {
				if err := d.pacer.Wait(ctx); err != nil {
					return err
				}
				d.dispatch(ctx, rel)
			}
		}
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, rel feed.Release) {
	users := d.store.MatchingUsers(rel.Title)
	if len(users) == 0 {
		// Resolution cost is only paid when somebody will hear about it.
		return
	}

	// Resolve once, reuse for every recipient. A failed resolution degrades
	// to delivering the error text in place of the link: a matching user is
	// never silently skipped because a detail page was broken.
	link, err := d.res.Resolve(ctx, rel.Title, rel.PageURL)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		d.log.Warn("link resolution failed, delivering error text",
			logx.String("title", rel.Title), logx.Err(err))
		link = err.Error()
	}

	text := formatNotification(rel, link)

	var g errgroup.Group
	g.SetLimit(d.cfg.FanoutLimit)
	for _, uid := range users {
		g.Go(func() error {
			err := d.adapter.SendText(ctx, transport.ChatTarget{ChatID: uid}, text, &transport.SendOptions{})
			if err != nil {
				// Logged and swallowed: one user's failure must not block or
				// cancel sibling deliveries.
				d.log.Error("delivery failed",
					logx.Int64("user", uid), logx.String("title", rel.Title), logx.Err(err))
			}
			return nil
		})
	}
	_ = g.Wait()

	d.log.Info("release dispatched",
		logx.String("title", rel.Title), logx.Int("recipients", len(users)))
}

func formatNotification(rel feed.Release, link string) string {
	return fmt.Sprintf("New release: %s\n%s\n\nDownload:\n%s", rel.Title, rel.PageURL, link)
}
