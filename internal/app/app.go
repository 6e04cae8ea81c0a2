// Package app wires the bot together: config, logging, storage, the job
// engine and its triggers, delivery, extraction and the chat front-end.
package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"taskbot/internal/adapters/telegram"
	"taskbot/internal/chart"
	"taskbot/internal/config"
	"taskbot/internal/eventbus"
	"taskbot/internal/extract"
	"taskbot/internal/extract/gemini"
	"taskbot/internal/job/engine"
	"taskbot/internal/job/scheduler"
	"taskbot/internal/notifier"
	"taskbot/internal/reminder"
	"taskbot/internal/router"
	"taskbot/internal/runtime/supervisor"
	"taskbot/internal/speech"
	"taskbot/internal/storage"
	"taskbot/internal/transport"
	"taskbot/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  *eventbus.MemBus

	adapter transport.Adapter
	store   storage.Store

	engine    *engine.Service
	sched     *scheduler.Service
	notif     *notifier.Service
	reminders *reminder.Service
	router    *router.Router

	updates chan transport.Update
}

// NewApp loads the config and constructs every component. Nothing runs
// until Start.
func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validateMapped(cfg); err != nil {
		return nil, err
	}
	loc, _ := mapLocation(cfg)

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{Token: cfg.Telegram.Token, PollTimeout: pollTimeout}, logx.NewConsole("INFO"))
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg), ad)
	bus := eventbus.New()

	stCfg, _ := mapStorageConfig(cfg, loc)
	store, err := storage.Open(stCfg, log)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	engCfg, _ := mapEngineConfig(cfg)
	engineSvc := engine.New(engCfg, log, bus)
	schedSvc := scheduler.New(scheduler.Config{Timezone: cfg.Scheduler.Timezone}, engineSvc, log, bus)

	ncfg, _ := mapNotifierConfig(cfg)
	notifSvc := notifier.New(ncfg, ad, log, bus)

	renderer := chart.New()

	remCfg, _ := mapReminderConfig(cfg, loc)
	remSvc := reminder.New(remCfg, schedSvc, store, notifSvc, renderer, log, bus)

	coord, err := newCoordinator(cfg, loc, log)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	spCfg, _ := mapSpeechConfig(cfg)
	var transcriber speech.Transcriber
	if sp := speech.NewCommand(spCfg, log); sp.Enabled() {
		transcriber = sp
	} else {
		log.Info("speech disabled; voice notes get a text-only notice")
	}

	handlers := NewHandlers(HandlerDeps{
		Store:      store,
		Extractor:  coord,
		Reminders:  remSvc,
		Chart:      renderer,
		Speech:     transcriber,
		SpeechLang: spCfg.Language,
		Replier:    ad,
		Notifier:   notifSvc,
		Bus:        bus,
		Log:        log,
		Location:   loc,
		TempDir:    voiceTempDir(stCfg),
	})
	rcfg, _ := mapRouterConfig(cfg)

	return &App{
		cfgm:      cfgm,
		log:       log.With(logx.String("comp", "app")),
		logs:      logSvc,
		bus:       bus,
		adapter:   ad,
		store:     store,
		engine:    engineSvc,
		sched:     schedSvc,
		notif:     notifSvc,
		reminders: remSvc,
		router:    router.New(rcfg, handlers.Routes(), log),
		updates:   make(chan transport.Update, 256),
	}, nil
}

// newCoordinator uses Gemini as the primary extractor when an API key is
// configured and the rule-based fallback otherwise.
func newCoordinator(cfg *config.Config, loc *time.Location, log logx.Logger) (*extract.Coordinator, error) {
	gcfg, enabled, err := mapGeminiConfig(cfg)
	if err != nil {
		return nil, err
	}
	ttl, err := mapCacheTTL(cfg)
	if err != nil {
		return nil, err
	}
	opt := extract.Options{
		PrimaryTimeout: gcfg.Timeout,
		Location:       loc,
		CacheSize:      cfg.Extract.CacheSize,
		CacheTTL:       ttl,
		Log:            log,
	}
	if enabled {
		client := gemini.New(gcfg)
		opt.Primary = client
		log.Info("gemini extraction enabled", logx.String("model", client.Model()))
	} else {
		log.Info("no gemini api key; using rule-based extraction only")
	}
	return extract.NewCoordinator(opt), nil
}

// voiceTempDir keeps downloads next to the database when it lives on disk.
func voiceTempDir(sc storage.Config) string {
	if sc.Driver == "memory" || sc.Path == "" {
		return ""
	}
	return filepath.Dir(sc.Path)
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return validateMapped(cfg)
	})

	// Engine before triggers, notifier before anything that sends.
	a.engine.Start(a.sup.Context())
	a.sched.Start(a.sup.Context())
	if a.notif.Enabled() {
		a.notif.Start(a.sup.Context())
	}
	if err := a.reminders.Start(a.sup.Context()); err != nil {
		return err
	}

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}
	if mu, ok := a.adapter.(transport.CommandMenuUpdater); ok {
		if err := mu.UpdateMenuCommands(a.sup.Context(), Commands()); err != nil {
			a.log.Warn("command menu not updated", logx.Err(err))
		}
	}

	a.sup.Go("router.dispatch", func(c context.Context) error {
		return a.router.Run(c, a.updates)
	})

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						break drain
					}
				}
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started")
	return nil
}

// restartOnly names sections that are read once in NewApp. The scheduler
// timezone is shared by cron, reminders, storage and handlers, so it only
// changes on restart.
var restartOnly = map[string]bool{
	"telegram":   true,
	"scheduler":  true,
	"storage":    true,
	"extract":    true,
	"speech":     true,
	"router":     true,
	"job_engine": true,
}

// restartSections returns the changed sections that need a restart.
func restartSections(changed []string) []string {
	var out []string
	for _, s := range changed {
		if restartOnly[s] {
			out = append(out, s)
		}
	}
	return out
}

func (a *App) applyConfig(c context.Context, prev, next *config.Config) {
	sections, attrs := config.SummarizeChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if restart := restartSections(sections); len(restart) > 0 {
		a.log.Warn("config sections changed; restart required for them to take effect", logx.String("sections", strings.Join(restart, ",")))
	}

	a.logs.Apply(mapLogConfig(next))
	a.reminders.SetDefaultSchedule(mapDefaultSchedule(next))

	if ncfg, err := mapNotifierConfig(next); err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
	} else {
		wasEnabled := a.notif.Enabled()
		a.notif.Apply(ncfg)
		switch {
		case wasEnabled && !ncfg.Enabled:
			a.log.Info("notifier disabled via config")
			stopCtx, cancel := context.WithTimeout(c, 3*time.Second)
			a.notif.Stop(stopCtx)
			cancel()
		case !wasEnabled && ncfg.Enabled:
			a.log.Info("notifier enabled via config")
			a.notif.Start(c)
		}
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config applied", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// Cancel the run context first so background loops start unwinding.
	a.sup.Cancel()

	var errs []error
	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		if dl, ok := ctx.Deadline(); ok {
			limit = min(limit, time.Until(dl))
		}
		if limit <= 0 {
			a.log.Warn("stop step skipped: deadline reached", logx.String("name", name))
			return
		}
		stepCtx, cancel := context.WithTimeout(ctx, limit)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	// Triggers first so no new jobs arrive, then the workers that run them.
	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("engine", 3*time.Second, func(c context.Context) error { a.engine.Stop(c); return nil })
	step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("supervisor", 3*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("notifier", 3*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return errors.Join(errs...)
}
