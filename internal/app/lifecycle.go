package app

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"jobvisor/internal/config"
	"jobvisor/internal/eventbus"
	"jobvisor/internal/runtime/supervisor"
	"jobvisor/internal/task/scheduler"
	logx "jobvisor/pkg/logx"
)

type StopReason string

const (
	StopUnknown    StopReason = "unknown"
	StopSIGINT     StopReason = "sigint"
	StopSIGTERM    StopReason = "sigterm"
	StopFatalError StopReason = "fatal_error"
)

// Start runs the daemon: execution engines, the trigger loop, config hot
// reload and the event log. It returns once everything is running.
func (a *App) Start(ctx context.Context) error {
	if a.sup != nil {
		return errors.New("app already started")
	}
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	a.cfgm.SetLogger(a.root.Named("config"))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if _, err := config.Validate(cfg); err != nil {
			return err
		}
		if _, err := mapNotifierConfig(cfg); err != nil {
			return err
		}
		_, err := mapDebugConfig(cfg)
		return err
	})

	a.engine.Start(a.sup.Context())
	a.manual.Start(a.sup.Context())
	a.sched.Start()

	events, unsub := a.bus.Subscribe(128, "task.", "notify.", eventbus.ConfigReloaded)
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

	reloads, unsubReloads := a.cfgm.Subscribe(1)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer unsubReloads()
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case next, ok := <-reloads:
				if !ok {
					return
				}
				a.applyConfig(c, last, next)
				last = next
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	if dcfg, err := mapDebugConfig(a.cfgm.Get()); err != nil {
		a.log.Warn("invalid debug config; listener disabled", logx.Err(err))
	} else {
		a.debug.Reconfigure(a.sup.Context(), dcfg)
	}

	notifyReady(a.log)
	a.log.Info("jobvisor started",
		logx.String("config", a.cfgPath),
		logx.Int("tasks", len(a.Tasks())),
		logx.Int("registrations", len(a.sched.Registrations())),
	)
	return nil
}

// applyConfig moves every live component to next. Storage locations are
// fixed for the process lifetime.
func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	notifyReloading(a.log)
	defer notifyReady(a.log)

	sections, attrs, tc := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Debug("config change summary", fields...)

	warnings, _ := config.Validate(next)
	for _, w := range warnings {
		a.log.Warn("config warning", logx.String("detail", w))
	}

	for _, s := range sections {
		switch s {
		case "logging":
			if a.logs != nil {
				a.logs.Apply(mapLoggingConfig(next, a.baseDir))
			}
		case "paths", "history":
			a.log.Warn(s + " config changed; restart required for changes to take effect")
		case "debug":
			if dcfg, err := mapDebugConfig(next); err != nil {
				a.log.Warn("invalid debug config; keeping previous", logx.Err(err))
			} else {
				a.debug.Reconfigure(a.baseCtx(ctx), dcfg)
			}
		}
	}

	if has(sections, "settings") {
		a.runner.Store(a.newRunner(next))
	}
	if has(sections, "notifier") || has(sections, "settings") {
		ncfg, err := mapNotifierConfig(next)
		if err != nil {
			a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
		} else {
			a.notif.Apply(ncfg, a.channels(next, a.root))
		}
	}

	a.setTasks(next, warnings)
	a.sched.Apply(scheduler.Config{Timezone: next.Scheduler.Timezone})
	if !tc.Empty() {
		a.sched.Rebuild(next.Tasks)
		for _, name := range tc.Removed {
			a.tracker.Forget(name)
		}
	}

	a.bus.Publish(eventbus.Event{Type: eventbus.ConfigReloaded, Time: time.Now(), Data: sections})
	a.log.Info("config reloaded", fields...)
}

func has(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}

// Stop shuts the daemon down. Triggering stops at once; running executions
// get a bounded grace period and their child processes are left alone.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return a.Close()
	}
	if reason == "" {
		reason = StopUnknown
	}
	notifyStopping(a.log)
	a.log.Info("stopping", logx.String("reason", string(reason)))

	a.sched.Shutdown()
	a.sup.Cancel()

	a.step(ctx, "debug", 2*time.Second, func(c context.Context) error { a.debug.Stop(c); return nil })
	a.step(ctx, "taskengine", 2*time.Second, func(c context.Context) error { a.engine.Stop(c); return nil })
	a.step(ctx, "manual", 2*time.Second, func(c context.Context) error { a.manual.Stop(c); return nil })
	a.step(ctx, "history", time.Second, func(context.Context) error { return a.hist.Close() })
	a.step(ctx, "supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// step runs one shutdown step with an upper bound so a stuck component
// cannot stall the rest. The caller's deadline is never extended.
func (a *App) step(ctx context.Context, name string, limit time.Duration, fn func(context.Context) error) {
	start := time.Now()
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem < limit {
			limit = rem
		}
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
				done <- errors.Newf("panic in stop step %s: %v", name, r)
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
		a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		go func() {
			if err := <-done; err != nil {
				a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err))
			}
		}()
	}
}

// ValidateFile loads and validates a config file without building anything.
func ValidateFile(path string) (*config.Config, []string, error) {
	cfg, err := config.NewConfigManager(path).Parse()
	if err != nil {
		return nil, nil, err
	}
	warnings, err := config.Validate(cfg)
	return cfg, warnings, err
}
