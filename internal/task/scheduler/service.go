package scheduler

import (
	"context"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"jobvisor/internal/eventbus"
	"jobvisor/internal/task"
	"jobvisor/internal/task/engine"
	logx "jobvisor/pkg/logx"
)

func New(cfg Config, eng *engine.Service, fire FireFunc, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		cfg:      cfg,
		log:      log,
		bus:      bus,
		eng:      eng,
		fire:     fire,
		lastWarn: map[string]time.Time{},
	}
	s.loc = s.loadLocation()
	s.c = s.newCron()
	return s
}

func (s *Service) newCron() *cron.Cron {
	cl := cronLogger{log: s.log}
	return cron.New(
		cron.WithLocation(s.loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl)),
	)
}

// Start begins triggering. It is idempotent.
func (s *Service) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.c.Start()
	s.running = true
	s.log.Info("scheduler started", logx.String("tz", s.loc.String()), logx.Int("registrations", len(s.regs)))
}

// Shutdown stops triggering without waiting for in-flight executions.
func (s *Service) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.c.Stop()
	s.running = false
	s.log.Info("scheduler stopped")
}

// Apply updates the timezone. A change restarts the cron loop with the
// current registrations.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	oldTZ := strings.TrimSpace(s.cfg.Timezone)
	s.cfg = cfg
	if oldTZ == strings.TrimSpace(cfg.Timezone) {
		return
	}
	running := s.running
	if running {
		s.c.Stop()
	}
	s.loc = s.loadLocation()
	s.c = s.newCron()
	for i := range s.regs {
		s.addLocked(&s.regs[i])
	}
	if running {
		s.c.Start()
	}
	s.log.Info("scheduler timezone changed", logx.String("tz", s.loc.String()), logx.Int("registrations", len(s.regs)))
}

// Rebuild removes every registration and registers the given task set again.
// Tasks that cannot be planned are logged and skipped.
func (s *Service) Rebuild(tasks []task.Task) []Registration {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.regs {
		s.c.Remove(r.entryID)
	}
	s.regs = s.regs[:0]

	skipped := 0
	for _, t := range tasks {
		regs, err := plan(t)
		if err != nil {
			s.log.Warn("task not scheduled", logx.String("task", t.Name), logx.Err(err))
			skipped++
			continue
		}
		if len(regs) == 0 {
			s.log.Debug("task has no active weekday", logx.String("task", t.Name))
			skipped++
			continue
		}
		for i := range regs {
			s.addLocked(&regs[i])
			s.regs = append(s.regs, regs[i])
		}
	}
	s.log.Info("schedules rebuilt", logx.Int("tasks", len(tasks)), logx.Int("registrations", len(s.regs)), logx.Int("skipped", skipped))
	return s.registrationsLocked()
}

func (s *Service) addLocked(r *registration) {
	t := r.task
	id := r.ID
	r.entryID = s.c.Schedule(r.sched, cron.FuncJob(func() { s.trigger(t, id) }))
	if s.log.Enabled(logx.LevelDebug) {
		s.log.Debug("schedule registered",
			logx.String("id", id),
			logx.String("spec", r.Spec),
			logx.String("next", preview(r.sched, time.Now().In(s.loc), 3)),
		)
	}
}

// trigger hands one fire to the engine. The engine gate is shared by every
// registration of the task, so extra fires are dropped, not queued.
func (s *Service) trigger(t task.Task, id string) {
	if s.eng == nil || s.fire == nil {
		return
	}
	fire := s.fire
	err := s.eng.Go(engine.Task{
		Name:    t.Name,
		Trigger: id,
		State:   s.eng.State(t.Name),
		Run:     func(ctx context.Context) error { return fire(ctx, t, id) },
	})
	s.reportTriggerError(id, err)
}

func (s *Service) registrationsLocked() []Registration {
	out := make([]Registration, 0, len(s.regs))
	for _, r := range s.regs {
		reg := r.Registration
		if s.running {
			e := s.c.Entry(r.entryID)
			reg.Next, reg.Prev = e.Next, e.Prev
		} else {
			reg.Next = r.sched.Next(time.Now().In(s.loc))
		}
		out = append(out, reg)
	}
	return out
}

func (s *Service) loadLocation() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone, using local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

// preview lists the next n fire times for debug output.
func preview(sched cron.Schedule, from time.Time, n int) string {
	var b strings.Builder
	t := from
	for i := 0; i < n; i++ {
		t = sched.Next(t)
		if t.IsZero() {
			break
		}
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(t.Format("Mon 2006-01-02 15:04"))
	}
	return b.String()
}
