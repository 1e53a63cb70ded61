package engine

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"jobvisor/internal/eventbus"
	rtsup "jobvisor/internal/runtime/supervisor"
	logx "jobvisor/pkg/logx"
)

// Service runs every accepted execution on its own supervised goroutine.
//
// There is no queue: a trigger either starts immediately or, when the task is
// already in flight, is dropped with ErrOverlapSkip.
type Service struct {
	log logx.Logger
	bus eventbus.Bus

	mu  sync.Mutex
	sup *rtsup.Supervisor

	states sync.Map // task name -> *RunState
	recent *ring

	inFlight atomic.Int32
	started  atomic.Uint64
	skipped  atomic.Uint64
	failed   atomic.Uint64
	panics   atomic.Uint64
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	size := cfg.HistorySize
	if size <= 0 {
		size = 200
	}
	return &Service{log: log, bus: bus, recent: newRing(size)}
}

// Start is idempotent.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup == nil {
		s.sup = rtsup.New(ctx, rtsup.WithLogger(s.log))
	}
}

// Stop cancels the execution context and waits for goroutines until ctx
// expires. Child processes are not affected by the cancellation.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	sup := s.sup
	s.sup = nil
	s.mu.Unlock()
	if sup == nil {
		return
	}
	if err := sup.Stop(ctx); err != nil && errors.Is(err, context.DeadlineExceeded) {
		s.log.Warn("task engine stop timed out", logx.Int64("active", sup.Counters().Active))
		return
	}
	s.log.Debug("task engine stopped")
}

// Supervisor exposes the goroutine owner for diagnostics.
func (s *Service) Supervisor() *rtsup.Supervisor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sup
}

// State returns the overlap gate shared by all triggers of a task.
func (s *Service) State(name string) *RunState {
	key := strings.TrimSpace(name)
	if st, ok := s.states.Load(key); ok {
		return st.(*RunState)
	}
	st, _ := s.states.LoadOrStore(key, &RunState{})
	return st.(*RunState)
}

// Go starts t on a new goroutine without waiting for it.
func (s *Service) Go(t Task) error {
	if t.Run == nil {
		return errors.New("task Run is nil")
	}
	t.Name = strings.TrimSpace(t.Name)
	if t.Name == "" {
		return errors.New("task Name is required")
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}

	s.mu.Lock()
	sup := s.sup
	s.mu.Unlock()
	if sup == nil {
		return ErrStopped
	}

	gate := t.State
	if gate == nil {
		gate = s.State(t.Name)
	}
	gated := t.Overlap == OverlapSkipIfRunning
	if gated && !gate.tryAcquire() {
		s.skipped.Add(1)
		_, since := gate.Running()
		s.log.Info("trigger skipped: task still running",
			logx.String("task", t.Name),
			logx.String("trigger", t.Trigger),
			logx.Time("running_since", since),
		)
		s.publish(eventbus.TaskSkipped, TaskEvent{ID: t.ID, Name: t.Name, Trigger: t.Trigger, Started: time.Now(), Error: "overlap_skip"})
		return ErrOverlapSkip
	}

	sup.Go(fmt.Sprintf("task.%s", t.Name), func(ctx context.Context) error {
		if gated {
			defer gate.release()
		}
		s.exec(ctx, t)
		return nil
	})
	return nil
}

// exec is the job boundary: nothing raised by t.Run escapes it.
func (s *Service) exec(ctx context.Context, t Task) {
	s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	s.started.Add(1)

	ev := TaskEvent{ID: t.ID, Name: t.Name, Trigger: t.Trigger, Started: time.Now()}
	log := s.log.With(logx.String("task", t.Name), logx.String("id", t.ID))
	log.Debug("task.started", logx.String("trigger", t.Trigger))
	s.publish(eventbus.TaskStarted, ev)

	err := s.runGuarded(ctx, t, log)
	ev.Duration = time.Since(ev.Started)
	typ := eventbus.TaskFinished
	if err != nil {
		s.failed.Add(1)
		ev.Error = err.Error()
		typ = eventbus.TaskFailed
		log.Warn("task.failed", logx.Err(err), logx.Duration("dur", ev.Duration))
	} else {
		log.Debug("task.completed", logx.Duration("dur", ev.Duration))
	}
	s.publish(typ, ev)
	s.recent.add(HistoryItem{ID: ev.ID, Name: ev.Name, Trigger: ev.Trigger, Started: ev.Started, Duration: ev.Duration, Error: ev.Error})
}

func (s *Service) runGuarded(ctx context.Context, t Task, log logx.Logger) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.panics.Add(1)
			err = errors.Newf("panic: %v", r)
			log.Error("task.panic", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
	}()
	return t.Run(ctx)
}

func (s *Service) publish(typ string, ev TaskEvent) {
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: typ, Data: ev})
	}
}

func (s *Service) Snapshot() Snapshot {
	return Snapshot{
		InFlight: int(s.inFlight.Load()),
		Started:  s.started.Load(),
		Skipped:  s.skipped.Load(),
		Failed:   s.failed.Load(),
		Panics:   s.panics.Load(),
		History:  s.recent.list(),
	}
}

// ring keeps the newest executions, oldest first on list.
type ring struct {
	mu    sync.Mutex
	items []HistoryItem
	next  int
	full  bool
}

func newRing(n int) *ring { return &ring{items: make([]HistoryItem, n)} }

func (r *ring) add(it HistoryItem) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[r.next] = it
	r.next = (r.next + 1) % len(r.items)
	r.full = r.full || r.next == 0
}

func (r *ring) list() []HistoryItem {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.full {
		return append([]HistoryItem(nil), r.items[:r.next]...)
	}
	return append(append([]HistoryItem(nil), r.items[r.next:]...), r.items[:r.next]...)
}
