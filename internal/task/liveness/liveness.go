// Package liveness tracks detached task processes through PID records on disk
// and answers whether the recorded process is still running.
package liveness

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unicode"

	"github.com/cockroachdb/errors"

	logx "jobvisor/pkg/logx"
)

// Tracker answers whether a previously spawned instance of a task is alive.
type Tracker interface {
	IsAlive(ctx context.Context, name string) bool
	Record(ctx context.Context, name string, pid int) error
	Forget(name string)
}

// PIDFiles keeps one "<dir>/<safe name>.pid" file per task.
type PIDFiles struct {
	dir   string
	probe Prober
	log   logx.Logger
}

type Option func(*PIDFiles)

// WithProber replaces the OS probe (tests use a fake).
func WithProber(p Prober) Option {
	return func(f *PIDFiles) {
		if p != nil {
			f.probe = p
		}
	}
}

func WithLogger(log logx.Logger) Option {
	return func(f *PIDFiles) { f.log = log }
}

func NewPIDFiles(dir string, opts ...Option) *PIDFiles {
	f := &PIDFiles{dir: dir, probe: SystemProber{}, log: logx.Nop()}
	for _, o := range opts {
		o(f)
	}
	return f
}

// SafeName replaces every rune that is not a letter or digit with '_'.
func SafeName(name string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return '_'
	}, name)
}

// Path returns the PID file location for a task.
func (f *PIDFiles) Path(name string) string {
	return filepath.Join(f.dir, SafeName(name)+".pid")
}

// Record overwrites the task's PID file.
func (f *PIDFiles) Record(ctx context.Context, name string, pid int) error {
	_ = ctx
	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return errors.Wrap(err, "create pid dir")
	}
	if err := os.WriteFile(f.Path(name), []byte(strconv.Itoa(pid)), 0o644); err != nil {
		return errors.Wrapf(err, "write pid file for %q", name)
	}
	return nil
}

// IsAlive reports whether the recorded process is still running. A dead
// process has its record removed. Any read or parse problem means not alive.
func (f *PIDFiles) IsAlive(ctx context.Context, name string) bool {
	path := f.Path(name)
	b, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil || pid <= 0 {
		f.log.Debug("unreadable pid record", logx.String("task", name), logx.String("path", path))
		return false
	}
	if f.probe.Alive(ctx, pid) {
		return true
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		f.log.Warn("remove stale pid record failed", logx.String("task", name), logx.Err(err))
	}
	return false
}

// Forget deletes the task's record if present.
func (f *PIDFiles) Forget(name string) {
	if err := os.Remove(f.Path(name)); err != nil && !os.IsNotExist(err) {
		f.log.Warn("forget pid record failed", logx.String("task", name), logx.Err(err))
	}
}
