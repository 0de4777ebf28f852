// Package app assembles the pipeline: config, logging, storage, the
// correlation buffer, fan-out, the random selector, and the Telegram
// adapter, plus the runtime pieces (config hot reload, scheduled posts).
package app

import (
	"context"
	"fmt"
	"time"

	"mediavault/internal/bot"
	"mediavault/internal/config"
	"mediavault/internal/fanout"
	"mediavault/internal/mediagroup"
	"mediavault/internal/random"
	"mediavault/internal/retry"
	rtsup "mediavault/internal/runtime/supervisor"
	"mediavault/internal/storage"
	kit "mediavault/internal/transport"
	"mediavault/internal/transport/telegram"
	"mediavault/pkg/logx"
)

// updateQueue sizes the adapter-to-router channel. Telegram long polling
// delivers at most 100 updates per poll.
const updateQueue = 256

type App struct {
	cfgPath string
	cfg     *config.Config

	logs  *logx.Service
	log   logx.Logger
	store storage.Store

	engine   *fanout.Engine
	selector *random.Selector
	router   *bot.Router
	buffer   *mediagroup.Buffer
	adapter  *telegram.Adapter
	autopost *autopost

	sup     *rtsup.Supervisor
	updates chan kit.Update
}

// New builds the full object graph from cfg. Nothing starts running until
// Start; a New error leaves no resources behind except the opened store,
// which New closes itself on failure.
func New(cfgPath string, cfg *config.Config) (*App, error) {
	logs, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})

	tuning, err := pipelineTuning(cfg)
	if err != nil {
		logs.Close()
		return nil, err
	}

	busy, err := config.Duration("storage.busy_timeout", cfg.Storage.BusyTimeout, 5*time.Second)
	if err != nil {
		logs.Close()
		return nil, err
	}
	store, err := storage.Open(storage.Config{
		Path:        cfg.Storage.Path,
		BusyTimeout: busy,
	}, log.With(logx.String("comp", "storage")))
	if err != nil {
		logs.Close()
		return nil, fmt.Errorf("open storage: %w", err)
	}

	reg := fanout.NewRegistry(cfg.Forward.ChatIDs)

	pollTimeout, err := config.Duration("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		_ = store.Close()
		logs.Close()
		return nil, err
	}
	adapter, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, log.With(logx.String("comp", "telegram")))
	if err != nil {
		_ = store.Close()
		logs.Close()
		return nil, fmt.Errorf("telegram adapter: %w", err)
	}

	engine := fanout.NewEngine(fanout.EngineConfig{
		RatePerSec: tuning.ratePerSec,
		Retry:      tuning.retry,
	}, reg, adapter, log.With(logx.String("comp", "fanout")))

	selector := random.New(store, cfg.BotName, tuning.singleWeight,
		log.With(logx.String("comp", "random")))

	router := bot.New(cfg.BotName, store, engine, selector, adapter, tuning.retry,
		log.With(logx.String("comp", "router")))
	buffer := mediagroup.New(tuning.window, router.CommitBatch,
		log.With(logx.String("comp", "mediagroup")))
	router.SetBuffer(buffer)

	a := &App{
		cfgPath:  cfgPath,
		cfg:      cfg,
		logs:     logs,
		log:      log,
		store:    store,
		engine:   engine,
		selector: selector,
		router:   router,
		buffer:   buffer,
		adapter:  adapter,
		updates:  make(chan kit.Update, updateQueue),
	}

	if cfg.Autopost.Enabled && cfg.Autopost.Schedule != "" {
		ap, err := newAutopost(cfg.Autopost.Schedule, selector, engine,
			log.With(logx.String("comp", "autopost")))
		if err != nil {
			_ = store.Close()
			logs.Close()
			return nil, fmt.Errorf("autopost: %w", err)
		}
		a.autopost = ap
	}
	return a, nil
}

type tuning struct {
	window       time.Duration
	retry        retry.Policy
	ratePerSec   int
	singleWeight float64
}

func pipelineTuning(cfg *config.Config) (tuning, error) {
	window, err := config.Duration("pipeline.debounce_window",
		cfg.Pipeline.DebounceWindow, mediagroup.DefaultWindow)
	if err != nil {
		return tuning{}, err
	}
	base, err := config.Duration("pipeline.retry_base",
		cfg.Pipeline.RetryBase, retry.Default.BaseDelay)
	if err != nil {
		return tuning{}, err
	}
	pol := retry.Policy{MaxAttempts: cfg.Pipeline.RetryMax, BaseDelay: base}
	if pol.MaxAttempts <= 0 {
		pol.MaxAttempts = retry.Default.MaxAttempts
	}
	weight := cfg.Pipeline.SingleWeight
	if weight == 0 {
		weight = random.DefaultSingleWeight
	}
	return tuning{
		window:       window,
		retry:        pol,
		ratePerSec:   cfg.Pipeline.RatePerSec,
		singleWeight: weight,
	}, nil
}

// Start brings up the adapter and the consumer loop and begins watching
// the config file. It returns once everything is running.
func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log))

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		a.sup.Cancel()
		return fmt.Errorf("start adapter: %w", err)
	}

	a.sup.Go("router.run", func(c context.Context) error {
		return a.router.Run(c, a.updates)
	})

	if a.cfgPath != "" {
		a.sup.Go("config.watch", func(c context.Context) error {
			return config.Watch(c, a.cfgPath, a.log.With(logx.String("comp", "config")), a.applyConfig)
		})
	}

	if a.autopost != nil {
		a.autopost.Start()
	}

	a.log.Info("started",
		logx.String("bot", a.cfg.BotName),
		logx.Int("destinations", len(a.cfg.Forward.ChatIDs)),
		logx.Bool("autopost", a.autopost != nil))
	return nil
}

// applyConfig handles a hot reload. Only safe-to-swap settings are
// applied live (logging sinks, debounce window, forward destinations);
// identity, token, and storage path changes need a restart and are
// logged as ignored.
func (a *App) applyConfig(next *config.Config) {
	a.logs.Apply(logx.Config{
		Level:   next.Logging.Level,
		Console: next.Logging.Console,
		File: logx.FileConfig{
			Enabled: next.Logging.File.Enabled,
			Path:    next.Logging.File.Path,
		},
	})

	if window, err := config.Duration("pipeline.debounce_window",
		next.Pipeline.DebounceWindow, mediagroup.DefaultWindow); err == nil {
		a.buffer.SetWindow(window)
	} else {
		a.log.Warn("reload: bad debounce window", logx.Err(err))
	}

	added := 0
	for _, id := range next.Forward.ChatIDs {
		if a.engine.Registry().Add(id) {
			added++
		}
	}
	if added > 0 {
		a.log.Info("forward destinations added", logx.Int("count", added))
	}

	if next.BotName != a.cfg.BotName || next.Telegram.Token != a.cfg.Telegram.Token ||
		next.Storage.Path != a.cfg.Storage.Path {
		a.log.Warn("identity/storage changes ignored until restart")
	}
	a.cfg = next
}

// Stop shuts the pipeline down in dependency order: intake first, then
// background work, then the store and log sinks.
func (a *App) Stop(ctx context.Context) error {
	if a.autopost != nil {
		a.autopost.Stop()
	}
	if err := a.adapter.Stop(ctx); err != nil {
		a.log.Warn("adapter stop", logx.Err(err))
	}
	if a.sup != nil {
		a.sup.Cancel()
		if err := a.sup.Wait(ctx); err != nil && ctx.Err() == nil {
			a.log.Warn("supervisor wait", logx.Err(err))
		}
	}
	if err := a.store.Close(); err != nil {
		a.log.Warn("store close", logx.Err(err))
	}
	a.log.Info("stopped")
	return a.logs.Close()
}
