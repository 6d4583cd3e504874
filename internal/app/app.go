package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"choreboard/internal/config"
	"choreboard/internal/eventbus"
	"choreboard/internal/services/chores"
	"choreboard/internal/services/notify"
	"choreboard/internal/services/scheduler"
	"choreboard/internal/storage"
	logx "choreboard/pkg/logx"
)

const sweepJobName = "chores.auto_assign"

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *Supervisor

	log  logx.Logger
	logs *logx.Service

	bus    eventbus.Bus
	store  storage.Store
	notif  *notify.Service
	chores *chores.Service
	sched  *scheduler.Service
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

	busyTimeout, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 0)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busyTimeout,
	}, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}

	bus := eventbus.New()

	notifCfg, err := mapNotifierConfig(cfg.Notifier)
	if err != nil {
		return nil, err
	}
	notifSvc := notify.New(notifCfg,
		notify.NewLogSink(log),
		log.With(logx.String("comp", "notify")), bus, store)

	choresSvc := chores.New(store, log.With(logx.String("comp", "chores")), bus, notifSvc)

	jobTimeout, err := config.ParseDurationOrDefault("scheduler.job_timeout", cfg.Scheduler.JobTimeout, time.Minute)
	if err != nil {
		return nil, err
	}
	schedSvc := scheduler.New(scheduler.Config{
		Enabled:     cfg.Scheduler.Enabled,
		Timezone:    cfg.Scheduler.Timezone,
		Workers:     cfg.Scheduler.Workers,
		HistorySize: cfg.Scheduler.HistorySize,
		JobTimeout:  jobTimeout,
	}, log.With(logx.String("comp", "scheduler")), bus)

	return &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		notif:   notifSvc,
		chores:  choresSvc,
		sched:   schedSvc,
	}, nil
}

// Chores exposes the orchestration service (used by embedding callers and tests).
func (a *App) Chores() *chores.Service { return a.chores }

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
	a.sup = NewSupervisor(ctx, WithLogger(a.log), WithCancelOnError(true))

	// Transactional config reload: validate before commit/publish.
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(c context.Context, cfg *config.Config) error {
		_ = c
		if cfg.Scheduler.Workers < 0 {
			return fmt.Errorf("scheduler.workers must be >= 0")
		}
		if _, err := config.ParseDurationOrDefault("scheduler.job_timeout", cfg.Scheduler.JobTimeout, time.Minute); err != nil {
			return err
		}
		if _, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 0); err != nil {
			return err
		}
		if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
			if _, err := time.LoadLocation(tz); err != nil {
				return fmt.Errorf("scheduler.timezone: invalid %q: %w", tz, err)
			}
		}
		if sched := strings.TrimSpace(cfg.Scheduler.AutoAssignSchedule); sched != "" {
			if _, err := scheduler.ParseSchedule(sched); err != nil {
				return fmt.Errorf("scheduler.auto_assign_schedule: %w", err)
			}
		}
		if _, err := mapNotifierConfig(cfg.Notifier); err != nil {
			return err
		}
		return nil
	})

	cfg := a.cfgm.Get()

	a.notif.Start(a.sup.Context())

	if a.sched.Enabled() {
		if err := a.registerSweep(cfg); err != nil {
			return err
		}
		a.sched.Start(a.sup.Context())
	}

	// Hot reload config fan-out.
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
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
				a.applyConfig(c, newCfg)
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started")
	return nil
}

func (a *App) applyConfig(ctx context.Context, cfg *config.Config) {
	a.logs.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})

	if notifCfg, err := mapNotifierConfig(cfg.Notifier); err == nil {
		prev := a.notif.Enabled()
		a.notif.Apply(notifCfg)
		if prev && !notifCfg.Enabled {
			a.log.Info("notifier disabled via config")
			stopCtx, cancel := context.WithTimeout(ctx, time.Second)
			a.notif.Stop(stopCtx)
			cancel()
		} else if !prev && notifCfg.Enabled {
			a.log.Info("notifier enabled via config")
			a.notif.Start(ctx)
		}
	} else {
		a.log.Warn("invalid notifier config ignored", logx.Err(err))
	}

	prevSched := a.sched.Enabled()
	jobTimeout, err := config.ParseDurationOrDefault("scheduler.job_timeout", cfg.Scheduler.JobTimeout, time.Minute)
	if err != nil {
		a.log.Warn("invalid scheduler.job_timeout; using 1m", logx.Err(err))
		jobTimeout = time.Minute
	}
	a.sched.Apply(scheduler.Config{
		Enabled:     cfg.Scheduler.Enabled,
		Timezone:    cfg.Scheduler.Timezone,
		Workers:     cfg.Scheduler.Workers,
		HistorySize: cfg.Scheduler.HistorySize,
		JobTimeout:  jobTimeout,
	})
	if prevSched && !cfg.Scheduler.Enabled {
		a.log.Info("scheduler disabled via config")
		stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		a.sched.Stop(stopCtx)
		cancel()
	} else if !prevSched && cfg.Scheduler.Enabled {
		a.log.Info("scheduler enabled via config")
		if err := a.registerSweep(cfg); err != nil {
			a.log.Error("sweep registration failed", logx.Err(err))
		}
		a.sched.Start(ctx)
	} else if cfg.Scheduler.Enabled {
		// Schedule string may have changed; Register upserts by name.
		if err := a.registerSweep(cfg); err != nil {
			a.log.Error("sweep registration failed", logx.Err(err))
		}
	}

	a.log.Info("config reloaded")
}

func (a *App) registerSweep(cfg *config.Config) error {
	spec := strings.TrimSpace(cfg.Scheduler.AutoAssignSchedule)
	if spec == "" {
		spec = "0 6 * * MON"
	}
	return a.sched.Register(sweepJobName, spec, a.chores.AutoAssignSweep)
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping")

	// Cancel the run context first so background loops start unwinding.
	a.sup.Cancel()

	// Run each shutdown step with an upper bound so one component can't stall
	// the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			if dl, ok := ctx.Deadline(); ok {
				rem := time.Until(dl)
				if rem <= 0 {
					max = 0
				} else if rem < max {
					max = rem
				}
			}
			if max > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
		}

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
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("notifier", 2*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	if a.store != nil {
		step("storage", time.Second, func(c context.Context) error { return a.store.Close() })
	}
	step("logging", time.Second, func(c context.Context) error { return a.logs.Close() })

	a.log.Info("stopped")
	return nil
}

func mapNotifierConfig(nc *config.NotifierConfig) (notify.Config, error) {
	if nc == nil {
		return notify.Config{}, nil
	}
	retryBase, err := config.ParseDurationOrDefault("notifier.retry_base", nc.RetryBase, 0)
	if err != nil {
		return notify.Config{}, err
	}
	retryMaxDelay, err := config.ParseDurationOrDefault("notifier.retry_max_delay", nc.RetryMaxDelay, 0)
	if err != nil {
		return notify.Config{}, err
	}
	dedupWindow, err := config.ParseDurationOrDefault("notifier.dedup_window", nc.DedupWindow, 0)
	if err != nil {
		return notify.Config{}, err
	}
	return notify.Config{
		Enabled:         nc.Enabled,
		Workers:         nc.Workers,
		QueueSize:       nc.QueueSize,
		RatePerSec:      nc.RatePerSec,
		RetryMax:        nc.RetryMax,
		RetryBase:       retryBase,
		RetryMaxDelay:   retryMaxDelay,
		DedupWindow:     dedupWindow,
		DedupMaxEntries: nc.DedupMaxEntries,
		PersistDedup:    nc.PersistDedup,
	}, nil
}
