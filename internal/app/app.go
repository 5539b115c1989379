package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"remindd/internal/alert"
	"remindd/internal/clock"
	"remindd/internal/config"
	"remindd/internal/eventbus"
	"remindd/internal/metrics"
	"remindd/internal/observability/debugsrv"
	"remindd/internal/recovery"
	rtsup "remindd/internal/runtime/supervisor"
	"remindd/internal/scheduler"
	"remindd/internal/storage"
	logx "remindd/pkg/logx"
)

// App wires the reminder daemon: config, logging, storage, the scheduler,
// alert channels, recovery and the debug server.
type App struct {
	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	reg   *prometheus.Registry
	store storage.Store

	sched    *scheduler.Service
	disp     *alert.Dispatcher
	popup    *alert.PopupChannel
	sysChan  *alert.SystemChannel
	dbus     *alert.DBusNotifier
	recovery *recovery.Manager
	debug    *debugsrv.Service

	owner string

	mu      sync.Mutex
	stopped bool
}

type Option func(*options)

type options struct {
	clk clock.Clock
	reg *prometheus.Registry
}

// WithClock replaces the wall clock used by the scheduler and popups.
func WithClock(c clock.Clock) Option { return func(o *options) { o.clk = c } }

// WithRegistry collects metrics into reg instead of a fresh registry.
func WithRegistry(reg *prometheus.Registry) Option { return func(o *options) { o.reg = reg } }

// New loads cfgPath and builds every component. Nothing runs until Start.
func New(cfgPath string, opts ...Option) (*App, error) {
	o := options{clk: clock.Real()}
	for _, fn := range opts {
		fn(&o)
	}

	// Logging needs the config before the real manager can get a logger.
	boot, err := config.NewManager(cfgPath).Load()
	if err != nil {
		return nil, err
	}
	logSvc, log := logx.New(mapLogging(boot))

	a := &App{logs: logSvc, log: log.With(logx.String("comp", "app"))}
	a.cfgm = config.NewManager(cfgPath,
		config.WithLogger(log.With(logx.String("comp", "config"))),
		config.WithValidator(a.validateReload),
	)
	cfg, err := a.cfgm.Load()
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}

	a.bus = eventbus.New()
	a.reg = o.reg
	if a.reg == nil {
		a.reg = prometheus.NewRegistry()
		a.reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	m := metrics.MustNewMetrics(a.reg)

	if sc, enabled := mapStorage(cfg); enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")), storage.WithMetrics(m))
		if err != nil {
			_ = logSvc.Close()
			return nil, fmt.Errorf("open storage: %w", err)
		}
		a.store = st
		a.log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	a.sched = scheduler.New(mapScheduler(cfg), log.With(logx.String("comp", "scheduler")), a.bus,
		scheduler.WithClock(o.clk),
		scheduler.WithMetrics(m),
	)

	if err := a.buildAlerts(cfg, log, o.clk, m); err != nil {
		_ = a.closeStore()
		_ = logSvc.Close()
		return nil, err
	}

	a.owner = ownerOf(cfg)
	a.recovery = recovery.New(mapRecovery(cfg), log.With(logx.String("comp", "recovery")), a.sched, a.store,
		recovery.WithDispatcher(a.disp),
		recovery.WithMetrics(m),
	)

	a.debug = debugsrv.New(mapDebug(cfg), log.With(logx.String("comp", "debug")),
		debugsrv.WithGatherer(a.reg),
		debugsrv.WithStatus("scheduler", func() any { return a.sched.Stats() }),
		debugsrv.WithStatus("recovery", func() any {
			return map[string]any{"state": a.recovery.State().String(), "sessions": a.recovery.Sessions()}
		}),
		debugsrv.WithStatus("supervisors", a.supervisorStatus),
		debugsrv.WithStatus("eventbus", func() any { return map[string]uint64{"dropped": a.bus.Dropped()} }),
	)
	return a, nil
}

func (a *App) buildAlerts(cfg *config.Config, log logx.Logger, clk clock.Clock, m *metrics.Metrics) error {
	alog := log.With(logx.String("comp", "alert"))
	r := mapRenderer(cfg, a.bus, alog)

	backend := mapNotifier(cfg, a.bus, alog)
	if cfg.Alerts.DBus {
		n, err := alert.NewDBusNotifier(cfg.Alerts.AppName)
		if err != nil {
			a.log.Warn("dbus notifications unavailable; using fallback", logx.Err(err))
		} else {
			a.dbus = n
			backend = n
		}
	}

	a.popup = alert.NewPopupChannel(r, clk, alog)
	a.sysChan = alert.NewSystemChannel(mapSystem(cfg), backend, alog)

	d, err := alert.New(alert.Config{RecentlyResolved: cfg.Alerts.RecentlyResolved}, alog,
		alert.WithMetrics(m),
		alert.WithChannels(
			a.popup,
			alert.NewSoundChannel(r),
			alert.NewFlashChannel(r),
			a.sysChan,
		),
	)
	if err != nil {
		return err
	}
	d.SetController(a.sched)
	a.disp = d
	return nil
}

// Scheduler exposes the orchestrator to feature modules.
func (a *App) Scheduler() *scheduler.Service { return a.sched }

// Recovery exposes session lifecycle hooks.
func (a *App) Recovery() *recovery.Manager { return a.recovery }

// Dispatcher exposes the alert dispatcher.
func (a *App) Dispatcher() *alert.Dispatcher { return a.disp }

// Bus exposes the event bus the platform shell subscribes to.
func (a *App) Bus() eventbus.Bus { return a.bus }

// Registry is the Prometheus registry behind /metrics.
func (a *App) Registry() *prometheus.Registry { return a.reg }

// Owner is the session opened at startup.
func (a *App) Owner() string { return a.owner }

// validateReload rejects a config that would shrink the live cap below the
// number of entries already live.
func (a *App) validateReload(_ context.Context, cfg *config.Config) error {
	if a.sched == nil || cfg.Scheduler.MaxLive <= 0 {
		return nil
	}
	if live := a.sched.Stats().Live; live > cfg.Scheduler.MaxLive {
		return fmt.Errorf("scheduler.max_live=%d is below the %d live entries", cfg.Scheduler.MaxLive, live)
	}
	return nil
}

func (a *App) supervisorStatus() any {
	out := map[string][]rtsup.TaskStats{}
	if a.sup != nil {
		out["app"] = a.sup.Snapshot()
	}
	if s := a.debug.Supervisor(); s != nil {
		out["debug"] = s.Snapshot()
	}
	return out
}

// Start arms the scheduler, restores persisted entries for the configured
// owner and starts the background loops.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.sup != nil {
		a.mu.Unlock()
		return errors.New("app already started")
	}
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.mu.Unlock()
	runCtx := a.sup.Context()

	a.sched.Start(runCtx)
	a.sysChan.Start(runCtx)

	if err := a.recovery.OnAppStart(runCtx); err != nil {
		return fmt.Errorf("recovery start: %w", err)
	}
	rep, err := a.recovery.OnRestart(runCtx)
	if err != nil {
		a.log.Warn("restart recovery failed", logx.Err(err))
	} else if rep.Loaded > 0 {
		a.log.Info("entries recovered",
			logx.Int("loaded", rep.Loaded),
			logx.Int("restored", rep.Restored),
			logx.Int("rescheduled", rep.Rescheduled),
			logx.Int("purged", rep.Purged),
			logx.Int("skipped", rep.Skipped),
		)
	}
	if _, err := a.recovery.OnSessionStart(runCtx, a.owner); err != nil {
		a.log.Warn("session start failed", logx.String("owner", a.owner), logx.Err(err))
	}

	a.debug.Start(runCtx)

	actions, unsubActions := a.bus.Subscribe(64, eventbus.TopicAlertAction)
	a.sup.Go0("alert.actions", func(c context.Context) {
		defer unsubActions()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-actions:
				if !ok {
					return
				}
				act, ok := e.Data.(alert.Action)
				if !ok {
					a.log.Warn("alert action with unexpected payload", logx.String("key", e.Key))
					continue
				}
				if res := a.disp.HandleAction(c, act); !res.OK {
					a.log.Debug("alert action not applied",
						logx.String("entry_id", act.EntryID),
						logx.String("kind", string(act.Kind)),
						logx.String("reason", res.Message),
					)
				}
			}
		}
	})

	// Debug-level trace of every bus event.
	events, unsubEvents := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsubEvents()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("topic", e.Topic), logx.String("key", e.Key), logx.Time("time", e.Time))
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

	a.sup.Go0("systemd.watchdog", a.watchdog)
	a.notify("READY=1")
	a.log.Info("app started", logx.String("owner", a.owner), logx.String("timezone", a.sched.Location().String()))
	return nil
}

// applyConfig pushes a reloaded config into every live-reloadable component.
func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.Summarize(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if restart := config.RequiresRestart(sections); len(restart) > 0 {
		a.log.Warn("config sections changed; restart required for changes to take effect",
			logx.Strings("sections", restart))
	}

	a.logs.Apply(mapLogging(newCfg))
	a.sched.Apply(mapScheduler(newCfg))
	a.sysChan.Apply(mapSystem(newCfg))
	if oldCfg.Alerts.DBus != newCfg.Alerts.DBus {
		a.log.Warn("alerts.dbus changed; restart required for changes to take effect")
	}
	if a.dbus == nil {
		a.sysChan.SetBackend(mapNotifier(newCfg, a.bus, a.log.With(logx.String("comp", "alert"))))
	}
	a.debug.Reconfigure(ctx, mapDebug(newCfg))

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

// Stop persists live entries, then tears components down in reverse order.
// Each step is bounded so one component cannot stall shutdown.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	a.mu.Lock()
	if a.sup == nil || a.stopped {
		a.mu.Unlock()
		return nil
	}
	a.stopped = true
	a.mu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}
	if reason == "" {
		reason = StopUnknown
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.notify("STOPPING=1")
	a.sup.Cancel()

	var errs []error
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		if max > 0 {
			if dl, ok := ctx.Deadline(); ok {
				if rem := time.Until(dl); rem < max {
					max = rem
				}
			}
			var cancel context.CancelFunc
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
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
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			errs = append(errs, fmt.Errorf("%s: %w", name, stepCtx.Err()))
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	// Persist before timers are torn down so nothing pending is lost.
	step("recovery", 5*time.Second, a.recovery.OnAppShutdown)
	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("notifications", 2*time.Second, func(c context.Context) error { a.sysChan.Stop(c); return nil })
	step("dbus", time.Second, func(context.Context) error {
		if a.dbus != nil {
			return a.dbus.Close()
		}
		return nil
	})
	step("debug", time.Second, func(c context.Context) error { a.debug.Stop(c); return nil })
	step("storage", time.Second, func(context.Context) error { return a.closeStore() })
	step("supervisor", 2*time.Second, func(c context.Context) error {
		if err := a.sup.Wait(c); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	a.log.Info("stopped")
	_ = a.logs.Close()
	return errors.Join(errs...)
}

func (a *App) closeStore() error {
	if a.store == nil {
		return nil
	}
	return a.store.Close()
}

// Reload re-reads the config file now instead of waiting for the watcher.
func (a *App) Reload(ctx context.Context) (bool, error) { return a.cfgm.Reload(ctx) }
