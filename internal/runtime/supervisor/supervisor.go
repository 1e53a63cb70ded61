package supervisor

import (
	"context"
	"fmt"
	"runtime/debug"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"

	logx "jobvisor/pkg/logx"
)

// Supervisor runs named goroutines under one cancellable context.
//
// Panics are recovered and logged with their stack. Per-name stats are kept
// for /status and for reporting what is still running at shutdown.
// Task executions run under a Supervisor: Stop cancels their context but the
// child processes they started are not interrupted.
type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc
	log    logx.Logger

	cancelOnErr bool
	firstErr    atomic.Pointer[error]

	wg       sync.WaitGroup
	started  atomic.Uint64
	active   atomic.Int64
	waitOnce sync.Once
	idle     chan struct{}

	mu      sync.Mutex
	workers map[string]*NameStats
}

type Option func(*Supervisor)

func WithLogger(log logx.Logger) Option {
	return func(s *Supervisor) { s.log = log }
}

// WithCancelOnError makes the first goroutine error cancel the whole group.
func WithCancelOnError(enabled bool) Option {
	return func(s *Supervisor) { s.cancelOnErr = enabled }
}

type Counters struct {
	Active  int64  `json:"active"`
	Started uint64 `json:"started"`
}

// NameStats aggregates every run of goroutines sharing a name.
type NameStats struct {
	Name        string    `json:"name"`
	Active      int64     `json:"active"`
	Started     uint64    `json:"started"`
	Panics      uint64    `json:"panics"`
	Restarts    uint64    `json:"restarts"`
	LastStartAt time.Time `json:"last_start_at"`
	LastErr     string    `json:"last_err,omitempty"`
	LastPanic   string    `json:"last_panic,omitempty"`
}

type Snapshot struct {
	Counters   Counters    `json:"counters"`
	FirstError string      `json:"first_error,omitempty"`
	Goroutines []NameStats `json:"goroutines"`
}

func New(parent context.Context, opts ...Option) *Supervisor {
	s := &Supervisor{
		log:     logx.Nop(),
		idle:    make(chan struct{}),
		workers: make(map[string]*NameStats),
	}
	s.ctx, s.cancel = context.WithCancel(parent)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Supervisor) Context() context.Context { return s.ctx }

// Cancel cancels the group context without waiting.
func (s *Supervisor) Cancel() { s.cancel() }

// Err is the first error returned by a non-restarting goroutine, if any.
func (s *Supervisor) Err() error {
	if p := s.firstErr.Load(); p != nil {
		return *p
	}
	return nil
}

func (s *Supervisor) Counters() Counters {
	if s == nil {
		return Counters{}
	}
	return Counters{Active: s.active.Load(), Started: s.started.Load()}
}

// Snapshot copies the per-name stats, busiest names first.
func (s *Supervisor) Snapshot() Snapshot {
	if s == nil {
		return Snapshot{}
	}
	out := Snapshot{Counters: s.Counters()}
	if err := s.Err(); err != nil {
		out.FirstError = err.Error()
	}
	s.mu.Lock()
	for _, w := range s.workers {
		out.Goroutines = append(out.Goroutines, *w)
	}
	s.mu.Unlock()
	slices.SortFunc(out.Goroutines, func(a, b NameStats) int {
		if a.Active != b.Active {
			return int(b.Active - a.Active)
		}
		return strings.Compare(a.Name, b.Name)
	})
	return out
}

// Go runs fn once. A non-nil error other than context.Canceled is recorded as
// the group error.
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) {
	s.spawn(name, fn, nil)
}

func (s *Supervisor) Go0(name string, fn func(ctx context.Context)) {
	if fn == nil {
		return
	}
	s.spawn(name, func(ctx context.Context) error { fn(ctx); return nil }, nil)
}

// GoRestart reruns fn after an error or panic, waiting minBackoff and doubling
// up to maxBackoff, until fn returns nil or the context ends. Its errors are
// logged but never become the group error.
func (s *Supervisor) GoRestart(name string, fn func(ctx context.Context) error, minBackoff, maxBackoff time.Duration) {
	if minBackoff <= 0 {
		minBackoff = 250 * time.Millisecond
	}
	if maxBackoff < minBackoff {
		maxBackoff = 30 * time.Second
	}
	s.spawn(name, fn, &restartPolicy{min: minBackoff, max: maxBackoff})
}

type restartPolicy struct {
	min, max time.Duration
}

// healthyRun resets the backoff when a restarted goroutine survives this long.
const healthyRun = 30 * time.Second

func (s *Supervisor) spawn(name string, fn func(ctx context.Context) error, rp *restartPolicy) {
	if fn == nil {
		return
	}
	s.started.Add(1)
	s.active.Add(1)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.active.Add(-1)

		wait := time.Duration(0)
		for attempt := 0; ; attempt++ {
			began := s.begin(name, attempt > 0)
			err, pan := s.invoke(name, fn)
			if pan == nil && errors.Is(err, context.Canceled) {
				err = nil
			}
			s.end(name, err, pan)

			switch {
			case err == nil:
				return
			case rp == nil:
				s.fail(errors.Wrap(err, name))
				return
			case s.ctx.Err() != nil:
				return
			}

			if wait == 0 || time.Since(began) >= healthyRun {
				wait = rp.min
			} else {
				wait = min(wait*2, rp.max)
			}
			s.log.Warn("goroutine restarting", logx.String("name", name), logx.Duration("backoff", wait), logx.Err(err))
			t := time.NewTimer(wait)
			select {
			case <-s.ctx.Done():
				t.Stop()
				return
			case <-t.C:
			}
		}
	}()
}

// invoke calls fn with the group context, turning a panic into an error.
func (s *Supervisor) invoke(name string, fn func(ctx context.Context) error) (err error, pan any) {
	defer func() {
		if r := recover(); r != nil {
			pan = r
			err = errors.Newf("panic in %s: %v", name, r)
			s.log.Error("goroutine panicked", logx.String("name", name), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
	}()
	return fn(s.ctx), nil
}

func (s *Supervisor) worker(name string) *NameStats {
	w, ok := s.workers[name]
	if !ok {
		w = &NameStats{Name: name}
		s.workers[name] = w
	}
	return w
}

func (s *Supervisor) begin(name string, restart bool) time.Time {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	w := s.worker(name)
	w.Started++
	w.Active++
	w.LastStartAt = now
	if restart {
		w.Restarts++
	}
	return now
}

func (s *Supervisor) end(name string, err error, pan any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w := s.worker(name)
	w.Active = max(w.Active-1, 0)
	if err == nil {
		return
	}
	w.LastErr = err.Error()
	if pan != nil {
		w.Panics++
		w.LastPanic = fmt.Sprint(pan)
	}
}

func (s *Supervisor) fail(err error) {
	s.firstErr.CompareAndSwap(nil, &err)
	if s.cancelOnErr {
		s.cancel()
	}
}

// Stop cancels the context and waits for goroutines until ctx expires.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.cancel()
	return s.Wait(ctx)
}

// Wait blocks until every goroutine has returned or ctx is done.
func (s *Supervisor) Wait(ctx context.Context) error {
	s.waitOnce.Do(func() {
		go func() {
			s.wg.Wait()
			close(s.idle)
		}()
	})
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.idle:
		return s.Err()
	}
}
