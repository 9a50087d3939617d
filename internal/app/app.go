package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"releasebot/internal/config"
	"releasebot/internal/dispatch"
	"releasebot/internal/feed"
	"releasebot/internal/janitor"
	"releasebot/internal/resolver"
	"releasebot/internal/router"
	"releasebot/internal/runtime/supervisor"
	"releasebot/internal/storage"
	"releasebot/internal/transport"
	"releasebot/internal/transport/telegram"
	"releasebot/pkg/logx"
)

const (
	defaultQueueSize  = 3
	defaultUpdatesCap = 16
)

// App owns every long-running piece of the bot and the channels between them:
//
//	telegram --updates--> router
//	poller --batches--> dispatcher --sends--> telegram
//
// All loops run under one supervisor; the first one to die takes the process
// down with it.
type App struct {
	cfgm   *config.Manager
	logSvc *logx.Service
	log    logx.Logger

	store    storage.Store
	adapter  *telegram.Adapter
	poller   *feed.Poller
	disp     *dispatch.Dispatcher
	rt       *router.Router
	jan      *janitor.Janitor
	artifact string

	updates chan transport.Message

	sup *supervisor.Supervisor
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	a := &App{cfgm: cfgm, logSvc: logSvc, log: log}
	if err := a.build(cfg); err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(cfg *config.Config) error {
	if err := os.MkdirAll(cfg.Storage.Dir, 0o755); err != nil {
		return fmt.Errorf("storage dir: %w", err)
	}

	pollTimeout, err := config.ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout)
	if err != nil {
		return err
	}
	adapter, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, a.log.With(logx.String("comp", "telegram")))
	if err != nil {
		return err
	}
	a.adapter = adapter

	busyTimeout, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return err
	}
	store, err := storage.Open(storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.SubscriptionsPath(),
		BusyTimeout: busyTimeout,
	}, a.log.With(logx.String("comp", "storage")))
	if err != nil {
		return err
	}
	a.store = store

	resolveDelay, err := config.ParseDurationField("resolver.courtesy_delay", cfg.Resolver.CourtesyDelay)
	if err != nil {
		return err
	}
	resolveTimeout, err := config.ParseDurationField("resolver.fetch_timeout", cfg.Resolver.FetchTimeout)
	if err != nil {
		return err
	}
	a.artifact = cfg.Storage.ArtifactDir()
	res, err := resolver.New(resolver.Config{
		Strategy:      cfg.Resolver.Strategy,
		CourtesyDelay: resolveDelay,
		FetchTimeout:  resolveTimeout,
		ArtifactDir:   a.artifact,
	}, a.log.With(logx.String("comp", "resolver")))
	if err != nil {
		return err
	}

	pollInterval, err := config.ParseDurationField("feed.poll_interval", cfg.Feed.PollInterval)
	if err != nil {
		return err
	}
	failInterval, err := config.ParseDurationField("feed.fail_interval", cfg.Feed.FailInterval)
	if err != nil {
		return err
	}
	fetchTimeout, err := config.ParseDurationField("feed.fetch_timeout", cfg.Feed.FetchTimeout)
	if err != nil {
		return err
	}

	queueSize := cfg.Dispatch.QueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	batches := make(chan []feed.Release, queueSize)
	a.updates = make(chan transport.Message, defaultUpdatesCap)

	poller, err := feed.NewPoller(feed.Config{
		URL:          cfg.Feed.URL,
		PollInterval: pollInterval,
		FailInterval: failInterval,
		FetchTimeout: fetchTimeout,
		CursorPath:   cfg.Storage.CursorPath(),
	}, batches, a.log.With(logx.String("comp", "feed")))
	if err != nil {
		return err
	}
	a.poller = poller

	dispatchDelay, err := config.ParseDurationField("dispatch.courtesy_delay", cfg.Dispatch.CourtesyDelay)
	if err != nil {
		return err
	}
	a.disp = dispatch.New(dispatch.Config{
		CourtesyDelay: dispatchDelay,
		FanoutLimit:   cfg.Dispatch.FanoutLimit,
	}, store, res, adapter, batches, a.log.With(logx.String("comp", "dispatch")))

	a.rt = router.New(store, adapter, a.updates, a.log.With(logx.String("comp", "router")))

	if cfg.Janitor.IsEnabled() {
		maxAge, err := config.ParseDurationField("janitor.max_artifact_age", cfg.Janitor.MaxArtifactAge)
		if err != nil {
			return err
		}
		a.jan = janitor.New(janitor.Config{
			Schedule: cfg.Janitor.Schedule,
			MaxAge:   maxAge,
		}, a.artifact, a.log.With(logx.String("comp", "janitor")))
	}

	return nil
}

// Start launches every loop under the supervisor. It returns immediately;
// use Wait to block until shutdown or the first failure.
func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log))

	a.sup.Go("telegram", func(ctx context.Context) error {
		return a.adapter.Start(ctx, a.updates)
	})
	a.sup.Go("feed", a.poller.Run)
	a.sup.Go("dispatch", a.disp.Run)
	a.sup.Go("router", a.rt.Run)
	if a.jan != nil {
		a.sup.Go("janitor", a.jan.Run)
	}
	a.sup.Go("config-watch", func(ctx context.Context) error {
		return a.cfgm.Watch(ctx, func(cfg *config.Config) {
			// Only logging is hot-reloadable; everything else needs a restart
			// because it is baked into running loops at build time.
			a.logSvc.Apply(logx.Config{
				Level:   cfg.Logging.Level,
				Console: cfg.Logging.Console,
				File: logx.FileConfig{
					Enabled: cfg.Logging.File.Enabled,
					Path:    cfg.Logging.File.Path,
				},
			})
		})
	})

	a.log.Info("started")
	return nil
}

// Wait blocks until every loop has exited. The returned error is the first
// failure, or nil when shutdown was triggered by the parent context.
func (a *App) Wait(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Wait(ctx)
}

// FailedTask names the loop whose death triggered shutdown, or "".
func (a *App) FailedTask() string {
	if a.sup == nil {
		return ""
	}
	return a.sup.FailedTask()
}

func (a *App) Stop(ctx context.Context) error {
	var first error
	if a.sup != nil {
		stopCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		first = a.sup.Stop(stopCtx)
		cancel()
	}
	if a.adapter != nil {
		_ = a.adapter.Stop(ctx)
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil && first == nil {
			first = err
		}
	}
	a.log.Info("stopped")
	_ = a.logSvc.Close()
	return first
}
