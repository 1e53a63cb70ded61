package engine

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobvisor/internal/eventbus"
	logx "jobvisor/pkg/logx"
)

func newStarted(t *testing.T, bus eventbus.Bus) *Service {
	t.Helper()
	s := New(Config{HistorySize: 4}, logx.Nop(), bus)
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestOverlapCoalesces(t *testing.T) {
	t.Parallel()
	s := newStarted(t, nil)
	release := make(chan struct{})
	var runs atomic.Int32
	job := Task{Name: "Backup", Run: func(context.Context) error {
		runs.Add(1)
		<-release
		return nil
	}}

	require.NoError(t, s.Go(job))
	waitFor(t, func() bool { return runs.Load() == 1 })

	// Another trigger of the same task, under a different registration.
	job.Trigger = "Backup::1"
	assert.ErrorIs(t, s.Go(job), ErrOverlapSkip)

	close(release)
	waitFor(t, func() bool { running, _ := s.State("Backup").Running(); return !running })

	require.NoError(t, s.Go(job))
	waitFor(t, func() bool { return runs.Load() == 2 })
	assert.Equal(t, uint64(1), s.Snapshot().Skipped)
}

func TestDifferentTasksRunConcurrently(t *testing.T) {
	t.Parallel()
	s := newStarted(t, nil)
	release := make(chan struct{})
	defer close(release)
	var inside atomic.Int32
	for _, name := range []string{"a", "b"} {
		require.NoError(t, s.Go(Task{Name: name, Run: func(context.Context) error {
			inside.Add(1)
			<-release
			return nil
		}}))
	}
	waitFor(t, func() bool { return inside.Load() == 2 })
}

func TestPanicAndErrorAbsorbed(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(8)
	defer unsub()
	s := newStarted(t, bus)

	require.NoError(t, s.Go(Task{Name: "p", Run: func(context.Context) error { panic("bad") }}))
	waitFor(t, func() bool { return s.Snapshot().Panics == 1 })
	require.NoError(t, s.Go(Task{Name: "e", Run: func(context.Context) error { return errors.New("exit") }}))
	waitFor(t, func() bool { return s.Snapshot().Failed == 2 })

	// The gate is released even after a panic.
	require.NoError(t, s.Go(Task{Name: "p", Run: func(context.Context) error { return nil }}))
	waitFor(t, func() bool { return len(s.Snapshot().History) == 3 })

	var failed int
	for i := 0; i < 6; i++ {
		select {
		case e := <-events:
			if e.Type == eventbus.TaskFailed {
				failed++
			}
		case <-time.After(time.Second):
		}
		if failed == 2 {
			break
		}
	}
	assert.Equal(t, 2, failed)
}

func TestGoBeforeStart(t *testing.T) {
	t.Parallel()
	s := New(Config{}, logx.Nop(), nil)
	assert.ErrorIs(t, s.Go(Task{Name: "x", Run: func(context.Context) error { return nil }}), ErrStopped)
}

func TestAllowOverlap(t *testing.T) {
	t.Parallel()
	s := newStarted(t, nil)
	release := make(chan struct{})
	defer close(release)
	var inside atomic.Int32
	job := Task{Name: "manual", Overlap: OverlapAllow, Run: func(context.Context) error {
		inside.Add(1)
		<-release
		return nil
	}}
	require.NoError(t, s.Go(job))
	require.NoError(t, s.Go(job))
	waitFor(t, func() bool { return inside.Load() == 2 })
}

func TestRecentKeepsNewest(t *testing.T) {
	t.Parallel()
	r := newRing(3)
	assert.Empty(t, r.list())
	for _, n := range []string{"a", "b", "c", "d", "e"} {
		r.add(HistoryItem{Name: n})
	}
	var names []string
	for _, it := range r.list() {
		names = append(names, it.Name)
	}
	assert.Equal(t, []string{"c", "d", "e"}, names)
}
