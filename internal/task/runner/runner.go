// Package runner executes a task's command and captures its output to a
// per-run log file.
//
// Wait mode streams combined stdout/stderr into the log, bounded by the task
// timeout. Spawn mode starts a detached process and returns at once, using the
// liveness tracker so a second spawn of a live instance is a no-op.
package runner

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	shellquote "github.com/kballard/go-shellquote"

	"jobvisor/internal/task"
	"jobvisor/internal/task/command"
	"jobvisor/internal/task/liveness"
	logx "jobvisor/pkg/logx"
)

// Return codes for outcomes that have no process exit code.
const (
	RCLaunchFailed = -1
	RCTimeout      = -9
)

const (
	progressWidth = 140
	// waitDelay bounds how long Wait keeps copying output after a timeout kill
	// when grandchildren still hold the pipe.
	waitDelay = 5 * time.Second
)

// Result describes one execution.
type Result struct {
	RunID      string
	ReturnCode int
	Started    time.Time
	Duration   time.Duration
	LogPath    string
	Spawned    bool
}

func (r Result) DurationSeconds() float64 { return r.Duration.Seconds() }

// Line is one output line offered to a progress listener.
type Line struct {
	Task  string
	RunID string
	Text  string
}

type Runner struct {
	logDir  string
	cmdOpt  command.Options
	tracker liveness.Tracker
	log     logx.Logger
	argv    func(task.Task) []string
	now     func() time.Time
}

type Option func(*Runner)

func WithLogger(log logx.Logger) Option {
	return func(r *Runner) { r.log = log }
}

// WithCommand overrides how a task maps to argv.
func WithCommand(fn func(task.Task) []string) Option {
	return func(r *Runner) {
		if fn != nil {
			r.argv = fn
		}
	}
}

func withClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

func New(logDir string, cmdOpt command.Options, tracker liveness.Tracker, opts ...Option) *Runner {
	r := &Runner{
		logDir:  logDir,
		cmdOpt:  cmdOpt,
		tracker: tracker,
		log:     logx.Nop(),
		now:     time.Now,
	}
	r.argv = func(t task.Task) []string { return command.Build(t, r.cmdOpt) }
	for _, o := range opts {
		o(r)
	}
	return r
}

type runCfg struct {
	progress chan<- Line
}

type RunOption func(*runCfg)

// WithProgress offers every output line, truncated, to ch. Lines are dropped
// while ch is full.
func WithProgress(ch chan<- Line) RunOption {
	return func(c *runCfg) { c.progress = ch }
}

// Run executes t and always returns a Result; failures are encoded in the
// return code and the log file. ctx cancellation never stops a running child.
func (r *Runner) Run(ctx context.Context, t task.Task, opts ...RunOption) Result {
	var rc runCfg
	for _, o := range opts {
		o(&rc)
	}
	start := r.now()
	res := Result{
		RunID:   uuid.NewString(),
		Started: start,
		LogPath: filepath.Join(r.logDir, fmt.Sprintf("%s_%s.log", t.Name, start.Format("20060102_150405"))),
	}
	log := r.log.With(logx.String("task", t.Name), logx.String("run_id", res.RunID))

	if err := os.MkdirAll(r.logDir, 0o755); err != nil {
		log.Error("create log dir failed", logx.Err(err))
		res.ReturnCode = RCLaunchFailed
		return res
	}

	if t.Spawn {
		r.spawn(ctx, t, &res, log)
	} else {
		r.wait(ctx, t, &res, rc, log)
	}
	res.Duration = r.now().Sub(start)
	return res
}

func header(name string, at time.Time, spawn bool) string {
	h := fmt.Sprintf("# %s @ %s", name, at.Format("2006-01-02 15:04:05"))
	if spawn {
		h += " (spawn)"
	}
	return h + "\n"
}

func (r *Runner) command(ctx context.Context, t task.Task) (*exec.Cmd, []string) {
	argv := r.argv(t)
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = t.Dir()
	cmd.Env = childEnv(os.Environ())
	return cmd, argv
}

func (r *Runner) wait(ctx context.Context, t task.Task, res *Result, rc runCfg, log logx.Logger) {
	f, err := os.Create(res.LogPath)
	if err != nil {
		log.Error("create task log failed", logx.Err(err))
		res.ReturnCode = RCLaunchFailed
		return
	}
	defer f.Close()

	runCtx := context.WithoutCancel(ctx)
	if d := t.TimeoutDuration(); d > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(runCtx, d)
		defer cancel()
	}

	cmd, argv := r.command(runCtx, t)
	fmt.Fprintf(f, "%sCMD: %s\n\n", header(t.Name, res.Started, false), shellquote.Join(argv...))

	out := newLineWriter(f, func(line string) {
		if rc.progress == nil {
			return
		}
		select {
		case rc.progress <- Line{Task: t.Name, RunID: res.RunID, Text: clip(line, progressWidth)}:
		default:
		}
	})
	cmd.Stdout = out
	cmd.Stderr = out
	cmd.WaitDelay = waitDelay

	log.Info("task starting", logx.Strings("argv", argv), logx.String("dir", cmd.Dir))
	if err := cmd.Start(); err != nil {
		res.ReturnCode = RCLaunchFailed
		fmt.Fprintf(f, "\n### ERROR starting process:\n%+v\n", errors.Wrap(err, "start"))
		log.Error("task launch failed", logx.Err(err))
		return
	}

	err = cmd.Wait()
	out.Flush()

	switch {
	case err != nil && errors.Is(runCtx.Err(), context.DeadlineExceeded):
		res.ReturnCode = RCTimeout
		fmt.Fprint(f, "\n### TIMEOUT reached.\n")
		log.Warn("task timed out", logx.Duration("timeout", t.TimeoutDuration()))
	case err == nil:
		res.ReturnCode = 0
	default:
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ReturnCode = exitErr.ExitCode()
		} else {
			res.ReturnCode = RCLaunchFailed
			fmt.Fprintf(f, "\n### ERROR while running:\n%+v\n", errors.Wrap(err, "wait"))
		}
	}
	log.Info("task finished", logx.Int("rc", res.ReturnCode), logx.Duration("dur", r.now().Sub(res.Started)))
}

func (r *Runner) spawn(ctx context.Context, t task.Task, res *Result, log logx.Logger) {
	res.Spawned = true
	f, err := os.OpenFile(res.LogPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		log.Error("create task log failed", logx.Err(err))
		res.ReturnCode = RCLaunchFailed
		return
	}
	defer f.Close()

	if r.tracker != nil && r.tracker.IsAlive(ctx, t.Name) {
		fmt.Fprintf(f, "%sProcess already running. Nothing to do.\n", header(t.Name, res.Started, true))
		log.Info("spawn skipped: previous instance alive")
		return
	}

	cmd, argv := r.command(context.WithoutCancel(ctx), t)
	fmt.Fprintf(f, "%sCMD: %s\n\n", header(t.Name, res.Started, true), shellquote.Join(argv...))
	cmd.Stdout = f
	cmd.Stderr = f
	detach(cmd)

	if err := cmd.Start(); err != nil {
		res.ReturnCode = RCLaunchFailed
		fmt.Fprintf(f, "\n### ERROR starting in spawn mode:\n%+v\n", errors.Wrap(err, "spawn"))
		log.Error("spawn failed", logx.Err(err))
		return
	}
	pid := cmd.Process.Pid
	if r.tracker != nil {
		if err := r.tracker.Record(ctx, t.Name, pid); err != nil {
			log.Warn("record pid failed", logx.Int("pid", pid), logx.Err(err))
		}
	}
	// Reap in the background so the exited child does not stay a zombie and
	// read as alive on the next trigger.
	go func() {
		err := cmd.Wait()
		log.Debug("spawned process exited", logx.Int("pid", pid), logx.Err(err))
	}()
	log.Info("task spawned", logx.Int("pid", pid), logx.Strings("argv", argv))
}

// childEnv returns env with the UTF-8 variables for Python children added
// unless already set.
func childEnv(env []string) []string {
	out := append([]string(nil), env...)
	for _, kv := range [][2]string{{"PYTHONIOENCODING", "utf-8"}, {"PYTHONUTF8", "1"}} {
		if !hasEnv(out, kv[0]) {
			out = append(out, kv[0]+"="+kv[1])
		}
	}
	return out
}

func hasEnv(env []string, key string) bool {
	prefix := key + "="
	for _, e := range env {
		if strings.HasPrefix(e, prefix) {
			return true
		}
	}
	return false
}

// clip keeps the first n runes of s.
func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
