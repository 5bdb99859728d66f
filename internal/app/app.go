// Package app is the composition root: it wires config, logging, the store,
// the scheduler, delivery, intake, calendar sync, and the HTTP surface into
// one process with a start/stop lifecycle.
package app

import (
	"context"
	"strings"
	"time"

	"remindbot/internal/calsync"
	"remindbot/internal/clock"
	"remindbot/internal/config"
	"remindbot/internal/delivery"
	"remindbot/internal/gcal"
	"remindbot/internal/httpapi"
	"remindbot/internal/intake"
	"remindbot/internal/ollama"
	"remindbot/internal/runtime/supervisor"
	"remindbot/internal/scheduler"
	"remindbot/internal/store"
	"remindbot/internal/telegram"
	"remindbot/internal/textparse"
	"remindbot/pkg/logx"
	"remindbot/pkg/systemd"
)

type App struct {
	cfgm *config.Manager

	log  logx.Logger
	logs *logx.Service

	clk    *clock.Clock
	st     *store.Store
	notify *telegram.Notifier
	sched  *scheduler.Scheduler
	in     *intake.Service
	sync   *calsync.Syncer // nil when calendar is off
	api    *httpapi.Server // nil when http is off

	sup *supervisor.Supervisor
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLoggingConfig(cfg))
	log = log.With(logx.String("comp", "app"))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	// Zone data must load before anything computes an instant.
	clk, err := clock.New(cfg.Timezone)
	if err != nil {
		return nil, err
	}

	stCfg, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	st, err := store.Open(stCfg, clk, log.With(logx.String("comp", "store")))
	if err != nil {
		return nil, err
	}

	tgCfg, err := mapTelegramConfig(cfg)
	if err != nil {
		return nil, err
	}
	notify, err := telegram.New(tgCfg, log.With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}
	if !notify.Configured() {
		log.Warn("telegram not configured; reminders will be held unsent until credentials arrive")
	}

	schedCfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		return nil, err
	}
	exec := delivery.New(st, notify, log.With(logx.String("comp", "delivery")))
	sched := scheduler.New(schedCfg, clk, st, exec, log.With(logx.String("comp", "scheduler")))

	// Optional integrations. A broken calendar setup degrades to "no
	// mirror, no sync" instead of taking the reminder core down.
	gcCfg, syncCfg, err := mapCalendarConfig(cfg)
	if err != nil {
		return nil, err
	}
	var cal *gcal.Client
	if gcCfg.Enabled {
		cal, err = gcal.New(context.Background(), gcCfg)
		if err != nil {
			log.Warn("calendar disabled: client setup failed", logx.Err(err))
			cal = nil
		}
	}

	llmCfg, err := mapOllamaConfig(cfg)
	if err != nil {
		return nil, err
	}
	var llm intake.Extractor
	if llmCfg.Enabled {
		llm = ollama.New(llmCfg, log.With(logx.String("comp", "ollama")))
	}

	var mirror intake.Calendar
	if cal != nil {
		mirror = cal
	}
	in := intake.New(st, sched, mirror, llm,
		textparse.New(clk), clk, log.With(logx.String("comp", "intake")))

	a := &App{
		cfgm:   cfgm,
		log:    log,
		logs:   logSvc,
		clk:    clk,
		st:     st,
		notify: notify,
		sched:  sched,
		in:     in,
	}

	if cal != nil {
		a.sync = calsync.New(syncCfg, cal, st, sched, clk, log.With(logx.String("comp", "calsync")))
		if err := sched.AddInterval("calendar.sync", a.sync.Interval(), a.sync.Sync); err != nil {
			return nil, err
		}
	}

	if cfg.HTTP.Enabled {
		apiCfg, err := mapHTTPConfig(cfg)
		if err != nil {
			return nil, err
		}
		a.api = httpapi.New(apiCfg, in, st, sched, notify, log.With(logx.String("comp", "http")))
	}

	a.installValidator()
	return a, nil
}

// Intake exposes the submission service (used by alternate frontends and
// tests).
func (a *App) Intake() *intake.Service { return a.in }

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	runCtx := a.sup.Context()

	a.sched.Start(runCtx)
	if err := a.sched.ReconcileFromStore(runCtx); err != nil {
		_ = a.sup.Stop(context.Background())
		return err
	}

	if a.sync != nil {
		// Prime the calendar window immediately; the interval job takes
		// over from here.
		a.sup.Go0("calsync.initial", func(c context.Context) {
			if err := a.sync.Sync(c); err != nil {
				a.log.Warn("initial calendar sync failed", logx.Err(err))
			}
		})
	}

	if a.api != nil {
		a.sup.Go("http.serve", func(context.Context) error {
			return a.api.Start()
		})
	}

	a.sup.Go("config.watch", a.cfgm.Watch)
	a.sup.Go0("config.reload", a.reloadLoop)

	systemd.NotifyReady()
	a.sup.Go0("systemd.watchdog", systemd.RunWatchdog)

	a.log.Info("remindbot started", logx.String("tz", a.clk.Location().String()))
	return nil
}

// Done is closed when the supervisor context ends (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

func (a *App) Stop(ctx context.Context) error {
	systemd.NotifyStopping()
	if a.api != nil {
		shCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		_ = a.api.Shutdown(shCtx)
		cancel()
	}
	if a.sup != nil {
		_ = a.sup.Stop(ctx)
	}
	a.sched.Stop(ctx)

	err := a.st.Close()
	a.log.Info("remindbot stopped")
	_ = a.logs.Close()
	return err
}

// installValidator rejects bad configs before commit/publish so a broken
// hot-reload never reaches running components.
func (a *App) installValidator() {
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if tz := strings.TrimSpace(cfg.Timezone); tz != "" {
			if _, err := time.LoadLocation(tz); err != nil {
				return err
			}
		}
		if _, err := mapStorageConfig(cfg); err != nil {
			return err
		}
		if _, err := mapSchedulerConfig(cfg); err != nil {
			return err
		}
		if _, err := mapTelegramConfig(cfg); err != nil {
			return err
		}
		if _, _, err := mapCalendarConfig(cfg); err != nil {
			return err
		}
		if _, err := mapOllamaConfig(cfg); err != nil {
			return err
		}
		_, err := mapHTTPConfig(cfg)
		return err
	})
}

// reloadLoop applies hot config changes: logging and telegram credentials
// swap live; storage/scheduler/calendar changes need a restart and are
// called out in the log.
func (a *App) reloadLoop(ctx context.Context) {
	sub := a.cfgm.Subscribe(8)
	defer a.cfgm.Unsubscribe(sub)

	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			sections, attrs := config.SummarizeConfigChange(lastApplied, newCfg)
			if len(sections) == 0 {
				continue
			}
			fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
			a.log.Info("config reloaded", fields...)
			lastApplied = newCfg

			for _, s := range sections {
				switch s {
				case "storage", "scheduler", "calendar", "http", "timezone", "ollama":
					a.log.Warn("config section requires restart to take effect", logx.String("section", s))
				}
			}

			a.logs.Apply(mapLoggingConfig(newCfg))

			wasConfigured := a.notify.Configured()
			tgCfg, err := mapTelegramConfig(newCfg)
			if err != nil {
				a.log.Warn("invalid telegram config; keeping previous", logx.Err(err))
				continue
			}
			if err := a.notify.Apply(tgCfg); err != nil {
				a.log.Warn("telegram apply failed; keeping previous", logx.Err(err))
				continue
			}

			// Credentials arriving unblocks reminders that were held
			// unsent; re-arm them from the store.
			if !wasConfigured && a.notify.Configured() {
				if err := a.sched.ReconcileFromStore(ctx); err != nil {
					a.log.Warn("reconcile after credential change failed", logx.Err(err))
				}
			}
		}
	}
}
