package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"jobvisor/internal/task"
	"jobvisor/internal/task/engine"
	logx "jobvisor/pkg/logx"
)

var utc = time.UTC

// 2024-01-01 is a Monday.
func at(day, hour, minute int) time.Time {
	return time.Date(2024, 1, day, hour, minute, 0, 0, utc)
}

func newService(t *testing.T, fire FireFunc) (*Service, *engine.Service) {
	t.Helper()
	eng := engine.New(engine.Config{}, logx.Nop(), nil)
	eng.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		eng.Stop(ctx)
	})
	return New(Config{Timezone: "UTC"}, eng, fire, logx.Nop(), nil), eng
}

func ids(regs []Registration) []string {
	out := make([]string, len(regs))
	for i, r := range regs {
		out[i] = r.ID
	}
	return out
}

func TestBackupFixedTimes(t *testing.T) {
	t.Parallel()
	s, _ := newService(t, nil)
	regs := s.Rebuild([]task.Task{{
		Name: "Backup", Path: "backup.exe",
		ScheduleType: task.FixedTimes, Times: []string{"06:00", "18:00"}, Days: task.EveryDay,
	}})
	if got := ids(regs); len(got) != 2 || got[0] != "Backup::0" || got[1] != "Backup::1" {
		t.Fatalf("ids = %v", got)
	}

	morning, evening := s.regs[0].sched, s.regs[1].sched
	if got := morning.Next(at(1, 5, 0)); !got.Equal(at(1, 6, 0)) {
		t.Fatalf("Backup::0 next = %v", got)
	}
	if got := morning.Next(at(1, 6, 0)); !got.Equal(at(2, 6, 0)) {
		t.Fatalf("Backup::0 next after fire = %v", got)
	}
	if got := evening.Next(at(1, 7, 0)); !got.Equal(at(1, 18, 0)) {
		t.Fatalf("Backup::1 next = %v", got)
	}
}

func TestDuplicateTimesCollapse(t *testing.T) {
	t.Parallel()
	s, _ := newService(t, nil)
	regs := s.Rebuild([]task.Task{{
		Name: "Dup", Path: "x.bat", Times: []string{"6:00", "06:00", "18:00"}, Days: task.EveryDay,
	}})
	if len(regs) != 2 {
		t.Fatalf("registrations = %d, want 2", len(regs))
	}
}

func TestZeroDaysNotScheduled(t *testing.T) {
	t.Parallel()
	s, _ := newService(t, nil)
	regs := s.Rebuild([]task.Task{
		{Name: "Off", Path: "x.exe", Times: []string{"06:00"}},
		{Name: "OffToo", Path: "x.exe", ScheduleType: task.Interval, EveryValue: 5, EveryUnit: task.Minutes},
		{Name: "BadInterval", Path: "x.exe", ScheduleType: task.Interval, EveryValue: 0, Days: task.EveryDay},
	})
	if len(regs) != 0 {
		t.Fatalf("registrations = %v, want none", ids(regs))
	}
	if n := len(s.c.Entries()); n != 0 {
		t.Fatalf("cron entries = %d, want 0", n)
	}
}

func TestRebuildIdempotent(t *testing.T) {
	t.Parallel()
	s, _ := newService(t, nil)
	tasks := []task.Task{
		{Name: "A", Path: "a.exe", Times: []string{"01:00", "02:00"}, Days: task.EveryDay},
		{Name: "B", Path: "b.py", ScheduleType: task.Interval, EveryValue: 2, EveryUnit: task.Hours, Days: task.EveryDay},
	}
	first := ids(s.Rebuild(tasks))
	second := ids(s.Rebuild(tasks))
	if len(first) != 3 || len(second) != 3 {
		t.Fatalf("first=%v second=%v", first, second)
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("rebuild changed ids: %v vs %v", first, second)
		}
	}
	if n := len(s.c.Entries()); n != 3 {
		t.Fatalf("cron entries = %d, want 3", n)
	}

	// Removing a task drops its registrations.
	if got := ids(s.Rebuild(tasks[1:])); len(got) != 1 || got[0] != "B" {
		t.Fatalf("after removal ids = %v", got)
	}
}

func TestIntervalMonWedFri(t *testing.T) {
	t.Parallel()
	days := task.Days{true, false, true, false, true, false, false}
	sched, err := interval(15, task.Minutes, days)
	if err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"monday quarter", at(1, 10, 15), true},
		{"monday off-slot", at(1, 10, 20), false},
		{"tuesday", at(2, 10, 15), false},
		{"wednesday midnight", at(3, 0, 0), true},
		{"friday", at(5, 23, 45), true},
		{"sunday", at(7, 12, 0), false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := sched.Eligible(tt.at); got != tt.want {
				t.Fatalf("Eligible(%v) = %v, want %v", tt.at, got, tt.want)
			}
		})
	}

	if got := sched.Next(at(2, 23, 50)); !got.Equal(at(3, 0, 0)) {
		t.Fatalf("next after tuesday = %v", got)
	}
	if got := sched.Next(at(5, 23, 45)); !got.Equal(at(8, 0, 0)) {
		t.Fatalf("next after friday = %v", got)
	}
}

func TestIntervalResetsAtMidnight(t *testing.T) {
	t.Parallel()
	sched, _ := interval(7, task.Minutes, task.EveryDay)
	if got := sched.Next(at(1, 23, 55)); !got.Equal(at(2, 0, 0)) {
		t.Fatalf("next = %v, want midnight", got)
	}
	if got := sched.Next(at(2, 0, 0)); !got.Equal(at(2, 0, 7)) {
		t.Fatalf("next = %v, want 00:07", got)
	}
}

func TestIntervalHours(t *testing.T) {
	t.Parallel()
	sched, _ := interval(2, task.Hours, task.EveryDay)
	cases := map[time.Time]time.Time{
		at(1, 9, 30):  at(1, 10, 0),
		at(1, 10, 0):  at(1, 12, 0),
		at(1, 23, 0):  at(2, 0, 0),
		at(1, 22, 59): at(2, 0, 0),
	}
	for from, want := range cases {
		if got := sched.Next(from); !got.Equal(want) {
			t.Fatalf("Next(%v) = %v, want %v", from, got, want)
		}
	}
	if sched.Eligible(at(1, 10, 30)) {
		t.Fatal("10:30 must not be eligible for an hourly stride")
	}
}

func TestNoDaysNeverFires(t *testing.T) {
	t.Parallel()
	if got := dailyAt(6, 0, task.Days{}).Next(at(1, 0, 0)); !got.IsZero() {
		t.Fatalf("next = %v, want zero", got)
	}
}

func TestTriggerCoalesces(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	var (
		mu    sync.Mutex
		fired []string
		runs  atomic.Int32
	)
	s, eng := newService(t, func(_ context.Context, tk task.Task, trigger string) error {
		mu.Lock()
		fired = append(fired, trigger)
		mu.Unlock()
		runs.Add(1)
		<-release
		return nil
	})
	s.Rebuild([]task.Task{{Name: "Long", Path: "x.exe", Times: []string{"06:00", "07:00"}, Days: task.EveryDay}})

	job0 := s.c.Entry(s.regs[0].entryID).Job
	job1 := s.c.Entry(s.regs[1].entryID).Job
	job0.Run()
	waitUntil(t, func() bool { return runs.Load() == 1 })

	// Both registrations share the gate of the running task.
	job0.Run()
	job1.Run()
	close(release)
	waitUntil(t, func() bool { running, _ := eng.State("Long").Running(); return !running })

	if n := runs.Load(); n != 1 {
		t.Fatalf("runs = %d, want 1", n)
	}
	if skipped := eng.Snapshot().Skipped; skipped != 2 {
		t.Fatalf("skipped = %d, want 2", skipped)
	}
	mu.Lock()
	defer mu.Unlock()
	if fired[0] != "Long::0" {
		t.Fatalf("trigger = %q", fired[0])
	}
}

func TestStartShutdownSnapshot(t *testing.T) {
	t.Parallel()
	s, _ := newService(t, nil)
	s.Rebuild([]task.Task{{Name: "A", Path: "a.exe", Times: []string{"06:00"}, Days: task.EveryDay}})
	s.Start()
	s.Start()
	snap := s.Snapshot()
	if !snap.Running || snap.Timezone != "UTC" || len(snap.Registrations) != 1 {
		t.Fatalf("snapshot = %+v", snap)
	}
	s.Shutdown()
	s.Shutdown()
	if s.Snapshot().Running {
		t.Fatal("still running after shutdown")
	}
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestNextAdvancesThroughRepeatedHour(t *testing.T) {
	t.Parallel()
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	// 2024-11-03 01:30 EST, the second pass through 01:00-02:00.
	now := time.Date(2024, 11, 3, 6, 30, 0, 0, time.UTC).In(ny)
	stride, _ := interval(5, task.Minutes, task.EveryDay)
	cases := map[string]struct {
		sched weekdaySchedule
		want  time.Time
	}{
		"fixed":  {dailyAt(1, 45, task.EveryDay), time.Date(2024, 11, 4, 1, 45, 0, 0, ny)},
		"stride": {stride, time.Date(2024, 11, 3, 7, 0, 0, 0, time.UTC)},
	}
	for name, tc := range cases {
		got := tc.sched.Next(now)
		if !got.After(now) {
			t.Fatalf("%s: Next(%v) = %v, not after now", name, now, got)
		}
		if !got.Equal(tc.want) {
			t.Fatalf("%s: Next(%v) = %v, want %v", name, now, got, tc.want)
		}
	}

	// During the first pass the repeated slots still fire.
	early := time.Date(2024, 11, 3, 5, 30, 0, 0, time.UTC).In(ny)
	if got := stride.Next(early); !got.Equal(early.Add(5 * time.Minute)) {
		t.Fatalf("first pass: Next = %v, want %v", got, early.Add(5*time.Minute))
	}

	// Walking Next forward over the whole day never stalls.
	cur := time.Date(2024, 11, 3, 0, 0, 0, 0, ny)
	for i := 0; i < 400; i++ {
		next := stride.Next(cur)
		if !next.After(cur) {
			t.Fatalf("step %d: Next(%v) = %v", i, cur, next)
		}
		cur = next
	}
}
