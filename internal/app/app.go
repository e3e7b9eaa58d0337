// Package app wires configuration, logging, storage, the remote client,
// and the batch machinery into a long-running process.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"busbot/internal/auth"
	"busbot/internal/batch"
	"busbot/internal/config"
	"busbot/internal/countdown"
	"busbot/internal/notify"
	"busbot/internal/remote"
	"busbot/internal/schedule"
	"busbot/internal/storage"
	"busbot/internal/trigger"
	"busbot/pkg/logx"
)

const (
	defaultLead     = time.Minute
	defaultProbeTTL = 2 * time.Minute
	defaultTimeout  = 30 * time.Second

	// Stale stored sessions are pruned once a day at this local time.
	pruneHour   = 4
	pruneMinute = 30
)

type App struct {
	cfgMgr   *config.Manager
	logSvc   *logx.Service
	log      logx.Logger
	store    storage.Store
	sessions *auth.Manager
	orch     *batch.Orchestrator
	notifier *notify.Service
	trig     *trigger.Service
}

func New(configPath string) (*App, error) {
	a := &App{cfgMgr: config.NewManager(configPath)}
	cfg, err := a.cfgMgr.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	a.logSvc, a.log = logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.ConsoleEnabled(),
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	a.cfgMgr.SetLogger(a.log.With(logx.String("component", "config")))

	a.store, err = storage.Open(storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: config.DurationOr(cfg.Storage.BusyTimeout, 0),
	}, a.log.With(logx.String("component", "storage")))
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	client, err := remote.New(remote.Config{
		BaseURL:           cfg.Remote.BaseURL,
		Timeout:           config.DurationOr(cfg.Remote.Timeout, 0),
		UserAgent:         cfg.Remote.UserAgent,
		RequestsPerSecond: cfg.Remote.RequestsPerSecond,
		Burst:             cfg.Remote.Burst,
	}, a.log.With(logx.String("component", "remote")))
	if err != nil {
		return nil, err
	}

	var authStore auth.Store
	var recorder batch.Recorder
	if a.store != nil {
		authStore = sessionStore{st: a.store}
		recorder = resultRecorder{st: a.store, log: a.log}
	}

	a.sessions = auth.NewManager(auth.Config{
		ProbeTTL: config.DurationOr(cfg.Session.ProbeTTL, defaultProbeTTL),
	}, client, authStore, a.log.With(logx.String("component", "auth")))

	a.orch = batch.New(batch.Config{
		PipelineTimeout: config.DurationOr(cfg.Batch.PipelineTimeout, defaultTimeout),
	}, a.sessions, countdown.SystemClock(), recorder, a.log.With(logx.String("component", "batch")))

	a.notifier, err = notify.New(notify.Config{
		Enabled:           cfg.Notify.Enabled,
		Token:             cfg.Notify.Token,
		ChatID:            cfg.Notify.ChatID,
		MessagesPerMinute: cfg.Notify.MessagesPerMinute,
	}, a.log.With(logx.String("component", "notify")))
	if err != nil {
		return nil, fmt.Errorf("notifier: %w", err)
	}

	a.trig = trigger.New(trigger.Config{
		Enabled:  cfg.Trigger.Enabled,
		Timezone: cfg.Trigger.Timezone,
	}, a.log.With(logx.String("component", "trigger")))

	if err := a.registerJobs(cfg); err != nil {
		return nil, err
	}
	return a, nil
}

// registerJobs installs the weekly batch wake-ups and the daily session
// prune on the trigger.
func (a *App) registerJobs(cfg *config.Config) error {
	slots, err := schedule.Build(cfg)
	if err != nil {
		return err
	}
	lead := config.DurationOr(cfg.Trigger.Lead, defaultLead)
	pipeTimeout := config.DurationOr(cfg.Batch.PipelineTimeout, defaultTimeout)
	jobTimeout := lead + pipeTimeout + 30*time.Second

	loc, err := a.trig.Location()
	if err != nil {
		return err
	}

	for _, slot := range slots {
		slot := slot
		wd, h, m, sec := slot.WakePoint(lead)
		err := a.trig.AddWeekly(slot.Name, wd, h, m, sec, jobTimeout, func(ctx context.Context) error {
			fireAt := slot.NextFire(time.Now(), loc)
			if until := time.Until(fireAt); until > lead+time.Minute {
				// Clock jumped or the wake fired absurdly early; bail
				// rather than hold a worker for most of a week.
				return fmt.Errorf("slot %s fires in %s, refusing to wait", slot.Name, until)
			}
			report, err := a.orch.Run(ctx, fireAt, slot.Requests)
			if err != nil {
				return err
			}
			a.notifier.Publish(report)
			return nil
		})
		if err != nil {
			return err
		}
		a.log.Info("schedule registered",
			logx.String("slot", slot.Name),
			logx.String("wake", fmt.Sprintf("%s %02d:%02d:%02d", wd, h, m, sec)),
			logx.Int("requests", len(slot.Requests)),
		)
	}

	maxAge := config.DurationOr(cfg.Session.MaxAge, 0)
	if a.store != nil && maxAge > 0 {
		st := a.store
		err := a.trig.AddDaily("session-prune", pruneHour, pruneMinute, time.Minute, func(ctx context.Context) error {
			n, err := st.PruneSessions(ctx, time.Now().Add(-maxAge))
			if err != nil {
				return err
			}
			if n > 0 {
				a.log.Info("stale sessions pruned", logx.Int("count", n))
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// Run blocks until ctx is cancelled, then shuts down in reverse start
// order.
func (a *App) Run(ctx context.Context) error {
	a.notifier.Start(ctx)
	if err := a.trig.Start(ctx); err != nil {
		return err
	}

	// Hot reload: logging applies live; schedule or remote changes need a
	// restart and are logged as such by the validator path.
	cfgCh := a.cfgMgr.Subscribe(1)
	defer a.cfgMgr.Unsubscribe(cfgCh)
	go func() {
		_ = a.cfgMgr.Watch(ctx)
	}()

	a.notifySystemd(ctx)
	a.log.Info("bot running")

	for {
		select {
		case <-ctx.Done():
			a.shutdown()
			return nil
		case cfg := <-cfgCh:
			if cfg == nil {
				continue
			}
			a.applyConfig(cfg)
		}
	}
}

// RunOnce executes one named schedule immediately (no countdown), for
// manual runs and dry-outs of a new config.
func (a *App) RunOnce(ctx context.Context, name string) error {
	cfg := a.cfgMgr.Get()
	slots, err := schedule.Build(cfg)
	if err != nil {
		return err
	}
	for _, slot := range slots {
		if slot.Name != name {
			continue
		}
		report, err := a.orch.Run(ctx, time.Time{}, slot.Requests)
		if err != nil {
			return err
		}
		a.notifier.Start(ctx)
		a.notifier.Publish(report)
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		a.notifier.Stop(stopCtx)
		cancel()
		if report.Failed() > 0 {
			return fmt.Errorf("%d of %d pipelines failed", report.Failed(), report.Total())
		}
		return nil
	}
	return fmt.Errorf("no enabled schedule named %q", name)
}

func (a *App) applyConfig(cfg *config.Config) {
	a.logSvc.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.ConsoleEnabled(),
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	a.log.Info("logging config applied", logx.String("level", cfg.Logging.Level))
}

// notifySystemd reports readiness and services the watchdog when running
// under systemd; a plain shell run is a silent no-op.
func (a *App) notifySystemd(ctx context.Context) {
	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Debug("systemd notify failed", logx.Err(err))
	} else if ok {
		a.log.Debug("systemd readiness reported")
	}

	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval <= 0 {
		return
	}
	go func() {
		t := time.NewTicker(interval / 2)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
			}
		}
	}()
}

func (a *App) shutdown() {
	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	a.trig.Stop(stopCtx)
	a.notifier.Stop(stopCtx)
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("storage close failed", logx.Err(err))
		}
	}
	a.log.Info("bot stopped")
	_ = a.logSvc.Close()
}
