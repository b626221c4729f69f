package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"learnbyemail/internal/config"
	"learnbyemail/internal/content"
	"learnbyemail/internal/delivery"
	"learnbyemail/internal/eventbus"
	"learnbyemail/internal/notifier"
	"learnbyemail/internal/observability/ops"
	"learnbyemail/internal/receipts"
	"learnbyemail/internal/runtime/supervisor"
	"learnbyemail/internal/storage"
	"learnbyemail/internal/task/engine"
	"learnbyemail/internal/task/scheduler"
	logx "learnbyemail/pkg/logx"
	"learnbyemail/pkg/systemd"
)

type App struct {
	cfgm    *config.ConfigManager
	secrets config.Secrets
	sup     *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store  *storage.SQLStore
	engine *engine.Service
	sched  *scheduler.Service
	notif  *notifier.Service
	gen    *content.Generator
	wf     *delivery.Workflow
	jobs   *delivery.Jobs

	receipts      receipts.Store
	recorder      *receipts.Recorder
	closeReceipts func() error

	ops *ops.Service
}

// New loads config and secrets and builds every component. Nothing runs
// until Start.
func New(ctx context.Context, cfgPath, envFile string) (_ *App, err error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	sec, err := config.LoadSecrets(envFile)
	if err != nil {
		return nil, err
	}

	alerts, err := buildAlerts(cfg, sec)
	if err != nil {
		return nil, err
	}
	logs, log := logx.New(mapLogConfig(cfg), alerts)
	a := &App{cfgm: cfgm, secrets: sec, logs: logs, log: log.With(logx.String("comp", "app")), bus: eventbus.New()}
	defer func() {
		if err != nil {
			a.closeResources()
		}
	}()

	sc, err := mapStorageConfig(cfg, sec)
	if err != nil {
		return nil, err
	}
	if a.store, err = storage.Open(ctx, sc, log); err != nil {
		return nil, err
	}
	a.log.Info("storage ready", logx.String("driver", sc.Driver))

	engCfg, err := mapEngineConfig(cfg)
	if err != nil {
		return nil, err
	}
	a.engine = engine.New(engCfg, log, a.bus)
	a.sched = scheduler.New(scheduler.Config{Enabled: cfg.Scheduler.Enabled}, a.engine, log)

	transports, err := buildTransports(cfg, sec)
	if err != nil {
		return nil, err
	}
	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		return nil, err
	}
	a.notif = notifier.New(ncfg, transports, log, a.bus)

	model, err := buildModel(ctx, cfg, sec)
	if err != nil {
		return nil, err
	}
	copt, err := mapContentOptions(cfg)
	if err != nil {
		return nil, err
	}
	a.gen = content.NewGenerator(model, copt, log)

	dopt, err := mapDeliveryOptions(cfg)
	if err != nil {
		return nil, err
	}
	a.wf = delivery.NewWorkflow(a.store, a.gen, a.notif, dopt, log, a.bus)

	jcfg, err := mapJobsConfig(cfg)
	if err != nil {
		return nil, err
	}
	a.jobs = delivery.NewJobs(a.sched, a.engine, a.store, a.wf, jcfg, log)

	deps := ops.Deps{Store: a.store, Jobs: a.jobs, Engine: a.engine, Preview: a.gen}
	if cfg.Receipts.Enabled {
		var ready func(context.Context) error
		a.receipts, ready, a.closeReceipts, err = buildReceipts(ctx, cfg, sec, a.log)
		if err != nil {
			return nil, err
		}
		a.recorder = receipts.NewRecorder(a.bus, a.receipts, log)
		deps.Receipts = a.receipts
		if ready != nil {
			deps.Ready = map[string]func(context.Context) error{"redis": ready}
		}
	}

	opsCfg, err := mapOpsConfig(cfg, sec)
	if err != nil {
		return nil, err
	}
	a.ops = ops.New(opsCfg, deps, log)

	a.log.Info("app built",
		logx.String("transports", strings.Join(a.notif.Transports(), ",")),
		logx.String("content", cfg.Content.Provider),
		logx.Bool("receipts", cfg.Receipts.Enabled),
		logx.Bool("ops", opsCfg.Enabled),
	)
	return a, nil
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

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	run := a.sup.Context()

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return validateLive(cfg, a.secrets)
	})

	a.engine.Start(run)
	rep, err := a.jobs.Start(run)
	if err != nil {
		return fmt.Errorf("load delivery jobs: %w", err)
	}
	a.log.Info("delivery jobs loaded",
		logx.Int("total", rep.Total),
		logx.Int("scheduled", rep.Scheduled),
		logx.Int("skipped", rep.Skipped),
		logx.Int("invalid", rep.Invalid),
		logx.Int("caught_up", rep.CaughtUp),
	)
	a.sched.Start(run)
	if !a.sched.Enabled() {
		a.log.Warn("scheduler disabled; deliveries run only on manual trigger")
	}

	if a.recorder != nil {
		a.sup.Go("receipts.recorder", a.recorder.Run)
	}
	a.ops.Start(run)

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
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case next, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts; only the newest config matters.
				for drained := false; !drained; {
					select {
					case newer := <-sub:
						if newer != nil {
							next = newer
						}
					default:
						drained = true
					}
				}
				a.applyConfig(c, last, next)
				last = next
			}
		}
	})
	a.sup.Go("config.watch", a.cfgm.Watch)
	a.sup.Go("systemd.watchdog", systemd.Watchdog)

	if _, err := systemd.Ready(); err != nil {
		a.log.Warn("sd_notify ready failed", logx.Err(err))
	}
	a.log.Info("app started")
	return nil
}

// applyConfig pushes the live-applicable parts of next into running
// services. Everything else is logged as needing a restart.
func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	ch := config.SummarizeConfigChange(prev, next)
	if ch.Empty() {
		a.log.Info("config reloaded (no changes)")
		return
	}
	a.logs.Apply(mapLogConfig(next))

	if ncfg, err := mapNotifierConfig(next); err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
	} else {
		a.notif.Apply(ncfg)
	}
	if ecfg, err := mapEngineConfig(next); err != nil {
		a.log.Warn("invalid task_engine config; keeping previous", logx.Err(err))
	} else {
		a.engine.Apply(ctx, ecfg)
	}
	if ocfg, err := mapOpsConfig(next, a.secrets); err != nil {
		a.log.Warn("invalid ops config; keeping previous", logx.Err(err))
	} else {
		a.ops.Reconfigure(ctx, ocfg)
	}

	if len(ch.RestartRequired) > 0 {
		a.log.Warn("config changed; restart required for changes to take effect",
			logx.String("sections", strings.Join(ch.RestartRequired, ",")))
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(ch.Sections, ","))}, ch.Attrs...)
	a.log.Info("config reloaded", fields...)
}

// validateLive rejects a reloaded config that the running services could not
// apply.
func validateLive(cfg *config.Config, sec config.Secrets) error {
	var errs []error
	_, err := mapNotifierConfig(cfg)
	errs = append(errs, err)
	_, err = mapEngineConfig(cfg)
	errs = append(errs, err)
	_, err = mapOpsConfig(cfg, sec)
	errs = append(errs, err)
	_, err = mapJobsConfig(cfg)
	errs = append(errs, err)
	return errors.Join(errs...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		a.closeResources()
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	_, _ = systemd.Stopping()
	a.sup.Cancel()

	a.step(ctx, "ops", time.Second, func(c context.Context) error { a.ops.Stop(c); return nil })
	a.step(ctx, "scheduler", 2*time.Second, func(c context.Context) error {
		a.jobs.Stop()
		a.sched.Stop(c)
		return nil
	})
	// In-flight deliveries get the longest window; a cut-off send is retried
	// by the next day's fire, not replayed.
	a.step(ctx, "taskengine", 10*time.Second, func(c context.Context) error { a.engine.Stop(c); return nil })
	a.step(ctx, "supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	a.closeResources()
	return nil
}

func (a *App) closeResources() {
	if a.closeReceipts != nil {
		if err := a.closeReceipts(); err != nil {
			a.log.Warn("close receipts", logx.Err(err))
		}
		a.closeReceipts = nil
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("close storage", logx.Err(err))
		}
		a.store = nil
	}
	if a.logs != nil {
		_ = a.logs.Close()
	}
}

// step runs one shutdown step bounded by limit (never past ctx's deadline) so a
// stuck component cannot stall the whole stop.
func (a *App) step(ctx context.Context, name string, limit time.Duration, fn func(context.Context) error) {
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
		if err != nil && !errors.Is(err, context.Canceled) {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
	}
}
