// Package app wires configuration, scheduling, execution, history and
// notifications into the jobvisor daemon.
package app

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"

	"jobvisor/internal/config"
	"jobvisor/internal/eventbus"
	"jobvisor/internal/history"
	"jobvisor/internal/notifier"
	"jobvisor/internal/observability/debug"
	"jobvisor/internal/runtime/supervisor"
	"jobvisor/internal/task"
	"jobvisor/internal/task/engine"
	"jobvisor/internal/task/liveness"
	"jobvisor/internal/task/runner"
	"jobvisor/internal/task/scheduler"
	logx "jobvisor/pkg/logx"
)

// ErrNotFound is returned for an unknown task name.
var ErrNotFound = errors.New("task not found")

// TriggerManual labels executions started by an operator.
const TriggerManual = "manual"

type App struct {
	cfgPath string
	baseDir string

	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log  logx.Logger
	root logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	paths   config.ResolvedPaths
	hist    *history.Recorder
	tracker *liveness.PIDFiles
	runner  atomic.Pointer[runner.Runner]

	// engine runs scheduled fires; manual runs operator actions on its own
	// supervisor so they never compete with scheduled executions.
	engine *engine.Service
	manual *engine.Service
	sched  *scheduler.Service
	notif  *notifier.Service
	debug  *debug.Server

	channels func(cfg *config.Config, log logx.Logger) []notifier.Channel

	mu       sync.RWMutex
	tasks    []task.Task
	warnings []string
}

type Option func(*appOptions)

type appOptions struct {
	log      *logx.Logger
	channels func(cfg *config.Config, log logx.Logger) []notifier.Channel
}

// WithLogger replaces the configured logging service with log.
func WithLogger(log logx.Logger) Option {
	return func(o *appOptions) { o.log = &log }
}

// WithChannels overrides how notification channels are built from config.
func WithChannels(fn func(cfg *config.Config, log logx.Logger) []notifier.Channel) Option {
	return func(o *appOptions) { o.channels = fn }
}

// New loads and validates the config at cfgPath and builds every component.
// Nothing runs until Start; manual actions work without Start.
func New(cfgPath string, opts ...Option) (*App, error) {
	var o appOptions
	for _, fn := range opts {
		fn(&o)
	}
	if o.channels == nil {
		o.channels = buildChannels
	}

	absPath, err := filepath.Abs(cfgPath)
	if err != nil {
		return nil, errors.Wrapf(err, "config path %s", cfgPath)
	}
	cfgm := config.NewConfigManager(absPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	warnings, err := config.Validate(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}
	baseDir := filepath.Dir(absPath)

	var (
		logSvc *logx.Service
		log    logx.Logger
	)
	if o.log != nil {
		log = *o.log
	} else {
		logSvc, log = logx.New(mapLoggingConfig(cfg, baseDir))
	}
	appLog := log.Named("app")
	for _, w := range warnings {
		appLog.Warn("config warning", logx.String("detail", w))
	}

	paths := cfg.ResolvePaths(baseDir)
	for _, dir := range []string{paths.DataDir, paths.LogDir, paths.PIDDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrapf(err, "create %s", dir)
		}
	}

	hcfg, err := mapHistoryConfig(cfg, paths)
	if err != nil {
		return nil, err
	}
	store, err := history.Open(hcfg, log.Named("history"))
	if err != nil {
		return nil, err
	}
	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	bus := eventbus.New()
	a := &App{
		cfgPath:  absPath,
		baseDir:  baseDir,
		cfgm:     cfgm,
		log:      appLog,
		root:     log,
		logs:     logSvc,
		bus:      bus,
		paths:    paths,
		hist:     history.NewRecorder(store, log.Named("history")),
		tracker:  liveness.NewPIDFiles(paths.PIDDir, liveness.WithLogger(log.Named("liveness"))),
		channels: o.channels,
		tasks:    cfg.Tasks,
		warnings: warnings,
	}
	a.runner.Store(a.newRunner(cfg))

	a.engine = engine.New(engine.Config{HistorySize: cfg.Scheduler.HistorySize}, log.Named("taskengine"), bus)
	a.manual = engine.New(engine.Config{HistorySize: cfg.Scheduler.HistorySize}, log.Named("manual"), bus)
	a.notif = notifier.New(ncfg, o.channels(cfg, log), log.Named("notifier"), bus)
	a.sched = scheduler.New(scheduler.Config{Timezone: cfg.Scheduler.Timezone}, a.engine, a.fire,
		log.Named("scheduler"), bus)
	a.sched.Rebuild(cfg.Tasks)
	a.debug = debug.New(func(ctx context.Context) any { return a.Status(ctx) }, log.Named("debug"))
	return a, nil
}

func (a *App) newRunner(cfg *config.Config) *runner.Runner {
	return runner.New(a.paths.LogDir, commandOptions(cfg), a.tracker,
		runner.WithLogger(a.root.Named("runner")))
}

func (a *App) ConfigPath() string                      { return a.cfgPath }
func (a *App) Paths() config.ResolvedPaths             { return a.paths }
func (a *App) Bus() eventbus.Bus                       { return a.bus }
func (a *App) Scheduler() *scheduler.Service           { return a.sched }
func (a *App) Notifier() *notifier.Service             { return a.notif }
func (a *App) EngineSnapshot() engine.Snapshot         { return a.engine.Snapshot() }
func (a *App) Registrations() []scheduler.Registration { return a.sched.Registrations() }

// Warnings returns the validation warnings of the current config.
func (a *App) Warnings() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]string(nil), a.warnings...)
}

// Tasks returns the current task set. Callers must not modify it.
func (a *App) Tasks() []task.Task {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.tasks
}

func (a *App) Task(name string) (task.Task, bool) {
	return task.Find(a.Tasks(), name)
}

// History returns the stored records of a task, oldest first.
func (a *App) History(ctx context.Context, name string) ([]history.Record, error) {
	return a.hist.List(ctx, name)
}

// HistoryTasks lists task names that have history.
func (a *App) HistoryTasks(ctx context.Context) ([]string, error) {
	return a.hist.Tasks(ctx)
}

// Running reports whether a task currently holds its scheduled gate, and,
// for spawn tasks, whether its detached process is alive.
func (a *App) Running(ctx context.Context, t task.Task) bool {
	if busy, _ := a.engine.State(t.Name).Running(); busy {
		return true
	}
	return t.Spawn && a.tracker.IsAlive(ctx, t.Name)
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

// baseCtx is the context manual work hangs off: the app supervisor when
// serving, otherwise the caller's.
func (a *App) baseCtx(ctx context.Context) context.Context {
	if a.sup != nil {
		return a.sup.Context()
	}
	return ctx
}

// execute is the fire pipeline shared by scheduled and manual runs:
// run, record, notify. It never fails; outcomes live in the Result.
func (a *App) execute(ctx context.Context, t task.Task, trigger string, progress chan<- runner.Line) runner.Result {
	var opts []runner.RunOption
	if progress != nil {
		opts = append(opts, runner.WithProgress(progress))
	}
	res := a.runner.Load().Run(ctx, t, opts...)

	log := a.log.With(logx.String("task", t.Name), logx.String("trigger", trigger), logx.String("run_id", res.RunID))
	if res.ReturnCode == 0 {
		log.Info("task finished", logx.Int("rc", res.ReturnCode), logx.Duration("dur", res.Duration), logx.Bool("spawned", res.Spawned))
	} else {
		log.Warn("task failed", logx.Int("rc", res.ReturnCode), logx.Duration("dur", res.Duration), logx.String("log", res.LogPath))
	}

	if err := a.hist.Append(ctx, t.Name, res.ReturnCode, res.Duration); err != nil {
		log.Error("history append failed", logx.Err(err))
	}
	a.notif.MaybeNotify(ctx, t, res.ReturnCode, res.LogPath)
	return res
}

// fire is the scheduler's FireFunc.
func (a *App) fire(ctx context.Context, t task.Task, trigger string) error {
	res := a.execute(ctx, t, trigger, nil)
	if res.ReturnCode != 0 {
		return errors.Newf("%s exited with RC=%d", t.Name, res.ReturnCode)
	}
	return nil
}

// RunNow executes the named task immediately, outside the scheduler's
// overlap gate, and waits for the result.
func (a *App) RunNow(ctx context.Context, name string, progress chan<- runner.Line) (runner.Result, error) {
	t, ok := a.Task(name)
	if !ok {
		return runner.Result{}, errors.Wrapf(ErrNotFound, "%q", name)
	}
	a.manual.Start(a.baseCtx(ctx))

	done := make(chan runner.Result, 1)
	err := a.manual.Go(engine.Task{
		Name:    t.Name,
		Trigger: TriggerManual,
		Overlap: engine.OverlapAllow,
		Run: func(c context.Context) error {
			defer close(done)
			done <- a.execute(c, t, TriggerManual, progress)
			return nil
		},
	})
	if err != nil {
		return runner.Result{}, err
	}
	select {
	case res, ok := <-done:
		if !ok {
			return runner.Result{}, errors.Newf("run of %q aborted", name)
		}
		return res, nil
	case <-ctx.Done():
		return runner.Result{}, ctx.Err()
	}
}

// SimulateFailure exercises the failure path of a task without running it:
// a marker log, a history record with RC 1 and a notification on every
// channel. The returned slice holds one entry per failed channel.
func (a *App) SimulateFailure(ctx context.Context, name string) ([]notifier.ChannelError, error) {
	t, ok := a.Task(name)
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "%q", name)
	}
	now := time.Now()
	logPath := filepath.Join(a.paths.LogDir, t.Name+"_SIMULATED.log")
	if err := os.WriteFile(logPath, []byte("# Simulated failure @ "+now.Format("2006-01-02 15:04:05")+"\n"), 0o644); err != nil {
		a.log.Warn("simulated log not written", logx.String("path", logPath), logx.Err(err))
	}
	if err := a.hist.Append(ctx, t.Name, 1, 0); err != nil {
		return nil, err
	}
	subject, body := notifier.SimulatedMessage(t.Name, now, logPath)
	errs := a.notif.Notify(ctx, subject, body)
	a.log.Info("failure simulated", logx.String("task", t.Name), logx.Int("channel_errors", len(errs)))
	return errs, nil
}

// Close releases resources of an app that was never started.
func (a *App) Close() error {
	err := a.hist.Close()
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return err
}

func (a *App) setTasks(cfg *config.Config, warnings []string) {
	a.mu.Lock()
	a.tasks = cfg.Tasks
	a.warnings = warnings
	a.mu.Unlock()
}
