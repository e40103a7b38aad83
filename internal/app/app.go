package app

import (
	"context"
	"fmt"
	"time"

	"mailerbot/internal/config"
	"mailerbot/internal/runtime/supervisor"
	"mailerbot/internal/services/mailing"
	"mailerbot/internal/services/retention"
	"mailerbot/internal/storage"
	kit "mailerbot/internal/transport"
	telegram "mailerbot/internal/transport/telegram/adapter"
	"mailerbot/internal/transport/telegram/router"
	logx "mailerbot/pkg/logx"
)

// App wires config, logging, storage, the Telegram adapter, the mailing
// core, and the router into one lifecycle.
type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service

	store   *storage.Store
	adapter kit.Adapter

	svc       *mailing.Service
	reporter  *router.ProgressReporter
	rt        *router.Router
	retention *retention.Service

	updates chan kit.Update
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
	log = log.With(logx.String("comp", "app"))

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, logSvc.Logger().With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}

	busyTimeout, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 0)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(storage.Config{
		Path:        cfg.Storage.Path,
		BusyTimeout: busyTimeout,
	}, logSvc.Logger().With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}

	return &App{
		cfgm:     cfgm,
		log:      log,
		logs:     logSvc,
		store:    store,
		adapter:  ad,
		reporter: router.NewProgressReporter(ad, logSvc.Logger().With(logx.String("comp", "reporter"))),
		updates:  make(chan kit.Update, 256),
	}, nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop).
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
	cfg := a.cfgm.Get()
	if len(cfg.Telegram.AdminUserIDs) == 0 {
		return fmt.Errorf("telegram.admin_user_ids must not be empty")
	}
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	mailCfg, err := mapMailingConfig(cfg)
	if err != nil {
		return err
	}
	a.svc = mailing.New(mailCfg, a.store, a.adapter, a.reporter, a.sup,
		a.logs.Logger().With(logx.String("comp", "mailing")))

	a.rt = router.New(a.logs.Logger().With(logx.String("comp", "router")),
		a.adapter, a.svc, a.store, a.reporter, cfg.Telegram.AdminUserIDs)

	if retCfg, enabled, err := mapRetentionConfig(cfg); err != nil {
		return err
	} else if enabled {
		a.retention = retention.New(retCfg, a.store,
			a.logs.Logger().With(logx.String("comp", "retention")))
		if err := a.retention.Start(a.sup.Context()); err != nil {
			return err
		}
	}

	// Transactional config reload: validate before commit/publish.
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if len(cfg.Telegram.AdminUserIDs) == 0 {
			return fmt.Errorf("telegram.admin_user_ids must not be empty")
		}
		if _, err := config.ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout); err != nil {
			return err
		}
		if _, err := mapMailingConfig(cfg); err != nil {
			return err
		}
		if _, _, err := mapRetentionConfig(cfg); err != nil {
			return err
		}
		return nil
	})

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}

	a.sup.Go("router.dispatch", func(c context.Context) error {
		return a.rt.DispatchLoop(c, a.updates)
	})

	// Hot reload fan-out.
	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-c.Done():
				return nil
			case newCfg, ok := <-sub:
				if !ok {
					return nil
				}
				// Coalesce bursts: keep only the latest config.
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				a.applyConfig(newCfg)
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started")
	return nil
}

// applyConfig pushes a validated reloaded config into the live components.
// Token and storage path changes need a restart and are only logged.
func (a *App) applyConfig(cfg *config.Config) {
	a.logs.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})

	a.rt.SetAdmins(cfg.Telegram.AdminUserIDs)

	if mailCfg, err := mapMailingConfig(cfg); err != nil {
		a.log.Warn("invalid mailing config; keeping previous", logx.Err(err))
	} else {
		a.svc.Apply(mailCfg)
	}

	if retCfg, enabled, err := mapRetentionConfig(cfg); err != nil {
		a.log.Warn("invalid retention config; keeping previous", logx.Err(err))
	} else if enabled && a.retention != nil {
		if err := a.retention.Apply(retCfg); err != nil {
			a.log.Warn("retention reconfigure failed", logx.Err(err))
		}
	} else if enabled != (a.retention != nil) {
		a.log.Warn("retention enable/disable via reload requires restart")
	}

	a.log.Info("config reloaded")
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping")
	a.sup.Cancel()

	// Bound each shutdown step so a single component cannot stall the stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()
		start := time.Now()
		if err := fn(stepCtx); err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	}

	step("adapter", 3*time.Second, func(c context.Context) error {
		return a.adapter.Stop(c)
	})
	if a.retention != nil {
		step("retention", 2*time.Second, func(c context.Context) error {
			return a.retention.Stop(c)
		})
	}
	step("supervisor", 5*time.Second, func(c context.Context) error {
		return a.sup.Wait(c)
	})
	step("storage", 2*time.Second, func(context.Context) error {
		return a.store.Close()
	})

	a.log.Info("stopped")
	_ = a.logs.Close()
	return nil
}

func mapMailingConfig(cfg *config.Config) (mailing.Config, error) {
	sendDelay, err := config.ParseDurationOrDefault("mailing.send_delay", cfg.Mailing.SendDelay, 100*time.Millisecond)
	if err != nil {
		return mailing.Config{}, err
	}
	sessionTTL, err := config.ParseDurationOrDefault("mailing.session_ttl", cfg.Mailing.SessionTTL, 30*time.Minute)
	if err != nil {
		return mailing.Config{}, err
	}
	if cfg.Mailing.ProgressEvery < 0 {
		return mailing.Config{}, fmt.Errorf("mailing.progress_every must be >= 0")
	}
	if cfg.Mailing.PreviewRunes < 0 {
		return mailing.Config{}, fmt.Errorf("mailing.preview_runes must be >= 0")
	}
	return mailing.Config{
		SendDelay:     sendDelay,
		ProgressEvery: cfg.Mailing.ProgressEvery,
		SessionTTL:    sessionTTL,
		PreviewRunes:  cfg.Mailing.PreviewRunes,
	}, nil
}

func mapRetentionConfig(cfg *config.Config) (retention.Config, bool, error) {
	if cfg.Retention.MaxAge == "" {
		return retention.Config{}, false, nil
	}
	maxAge, err := config.ParseDurationField("retention.max_age", cfg.Retention.MaxAge)
	if err != nil {
		return retention.Config{}, false, err
	}
	return retention.Config{
		Schedule: cfg.Retention.Schedule,
		MaxAge:   maxAge,
	}, true, nil
}
