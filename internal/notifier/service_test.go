package notifier

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobvisor/internal/eventbus"
	"jobvisor/internal/task"
	logx "jobvisor/pkg/logx"
)

type fakeChannel struct {
	name    string
	enabled bool
	err     error

	mu       sync.Mutex
	subjects []string
	bodies   []string
}

func (f *fakeChannel) Name() string  { return f.name }
func (f *fakeChannel) Enabled() bool { return f.enabled }
func (f *fakeChannel) Send(_ context.Context, subject, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subjects = append(f.subjects, subject)
	f.bodies = append(f.bodies, body)
	return f.err
}

func (f *fakeChannel) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subjects)
}

func newTestService(chs ...Channel) *Service {
	s := New(Config{RatePerSec: 100}, chs, logx.Nop(), nil)
	s.now = func() time.Time { return time.Date(2026, 3, 2, 6, 0, 5, 0, time.Local) }
	return s
}

func TestMaybeNotifyFailureReachesEveryEnabledChannel(t *testing.T) {
	t.Parallel()
	mail := &fakeChannel{name: "email", enabled: true}
	msg := &fakeChannel{name: "messaging", enabled: true}
	off := &fakeChannel{name: "off", enabled: false}
	s := newTestService(mail, msg, off)

	errs := s.MaybeNotify(context.Background(), task.Task{Name: "Backup"}, 3, "/logs/Backup_20260302_060000.log")
	require.Empty(t, errs)

	require.Equal(t, 1, mail.calls())
	require.Equal(t, 1, msg.calls())
	assert.Zero(t, off.calls())
	assert.Equal(t, "[Backup] FAILED (RC=3)", mail.subjects[0])
	assert.Contains(t, mail.subjects[0], "RC=3")
	assert.Equal(t, "Task: Backup\nDate: 2026-03-02 06:00:05\nRC: 3\nLog: /logs/Backup_20260302_060000.log", mail.bodies[0])
}

func TestMaybeNotifySkipsSuccessAndOptOut(t *testing.T) {
	t.Parallel()
	ch := &fakeChannel{name: "email", enabled: true}
	s := newTestService(ch)

	assert.Nil(t, s.MaybeNotify(context.Background(), task.Task{Name: "ok"}, 0, ""))
	no := false
	assert.Nil(t, s.MaybeNotify(context.Background(), task.Task{Name: "quiet", NotifyFail: &no}, 2, ""))
	assert.Zero(t, ch.calls())
}

func TestNotifyChannelFailureIsIsolated(t *testing.T) {
	t.Parallel()
	bad := &fakeChannel{name: "email", enabled: true, err: errors.New("smtp down")}
	good := &fakeChannel{name: "messaging", enabled: true}
	bus := eventbus.New()
	events, unsub := bus.Subscribe(8)
	defer unsub()

	s := New(Config{RatePerSec: 100}, []Channel{bad, good}, logx.Nop(), bus)
	errs := s.Notify(context.Background(), "subj", "body")

	require.Len(t, errs, 1)
	assert.Equal(t, "email", errs[0].Channel)
	assert.ErrorContains(t, errs[0], "smtp down")
	assert.Equal(t, 1, good.calls())

	var types []string
	for i := 0; i < 2; i++ {
		select {
		case ev := <-events:
			types = append(types, ev.Type)
		case <-time.After(time.Second):
			t.Fatal("missing notify event")
		}
	}
	assert.ElementsMatch(t, []string{eventbus.NotifyFailed, eventbus.NotifySent}, types)
}

type panickyChannel struct{}

func (panickyChannel) Name() string                               { return "email" }
func (panickyChannel) Enabled() bool                              { return true }
func (panickyChannel) Send(context.Context, string, string) error { panic("smtp client nil") }

func TestNotifyChannelPanicIsolated(t *testing.T) {
	t.Parallel()
	msg := &fakeChannel{name: "messaging", enabled: true}
	s := newTestService(panickyChannel{}, msg)

	errs := s.Notify(context.Background(), "subj", "body")
	require.Len(t, errs, 1)
	assert.Equal(t, "email", errs[0].Channel)
	assert.ErrorContains(t, errs[0], "smtp client nil")
	assert.Equal(t, 1, msg.calls())
}

func TestNotifyRetries(t *testing.T) {
	t.Parallel()
	bad := &fakeChannel{name: "email", enabled: true, err: errors.New("temporary")}
	s := New(Config{RatePerSec: 100, RetryMax: 2, RetryBase: time.Millisecond, RetryMaxDelay: 2 * time.Millisecond}, []Channel{bad}, logx.Nop(), nil)

	errs := s.Notify(context.Background(), "subj", "body")
	require.Len(t, errs, 1)
	assert.Equal(t, 3, bad.calls())
}

func TestSimulatedMessage(t *testing.T) {
	t.Parallel()
	at := time.Date(2026, 1, 5, 9, 30, 0, 0, time.UTC)
	subject, body := SimulatedMessage("Backup", at, "/logs/Backup_SIMULATED.log")
	assert.Equal(t, "[Backup] FAILED (RC=1) - Simulated", subject)
	assert.True(t, strings.HasPrefix(body, "Task: Backup\nDate: 2026-01-05 09:30:00\nRC: 1 (Simulation)"))
}

func TestBackoffBounds(t *testing.T) {
	t.Parallel()
	cfg := Config{RetryBase: 100 * time.Millisecond, RetryMaxDelay: time.Second}
	first := cfg.backoff(1)
	assert.GreaterOrEqual(t, first, 50*time.Millisecond)
	assert.LessOrEqual(t, first, 100*time.Millisecond)
	for attempt := 2; attempt <= 40; attempt++ {
		d := cfg.backoff(attempt)
		assert.Greater(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, time.Second)
	}
}
