package app

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobvisor/internal/config"
	"jobvisor/internal/notifier"
	"jobvisor/internal/task/runner"
	logx "jobvisor/pkg/logx"
)

type recordingChannel struct {
	name string
	err  error

	mu       sync.Mutex
	subjects []string
}

func (c *recordingChannel) Name() string  { return c.name }
func (c *recordingChannel) Enabled() bool { return true }
func (c *recordingChannel) Send(_ context.Context, subject, _ string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subjects = append(c.subjects, subject)
	return c.err
}

func (c *recordingChannel) sent() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.subjects...)
}

type fixture struct {
	app      *App
	mail     *recordingChannel
	messages *recordingChannel
}

func newFixture(t *testing.T, cfgBody string) *fixture {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("uses POSIX shell scripts")
	}
	dir := t.TempDir()
	script := filepath.Join(dir, "backup.sh")
	require.NoError(t, os.WriteFile(script, []byte("echo working\nexit 3\n"), 0o755))

	cfgPath := filepath.Join(dir, "jobvisor.json")
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfgBody), 0o600))

	f := &fixture{
		mail:     &recordingChannel{name: "email"},
		messages: &recordingChannel{name: "messaging", err: errors.New("companion not reachable")},
	}
	a, err := New(cfgPath,
		WithLogger(logx.Nop()),
		WithChannels(func(*config.Config, logx.Logger) []notifier.Channel {
			return []notifier.Channel{f.mail, f.messages}
		}),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	f.app = a
	return f
}

const backupConfig = `{
  "notifier": {"rate_per_sec": 100},
  "tasks": [
    {"name": "Backup", "path": "backup.sh", "schedule_type": "fixed_times", "times": ["06:00", "18:00"]},
    {"name": "Report", "path": "backup.sh", "schedule_type": "interval", "every_value": 15, "every_unit": "minutes"}
  ]
}`

func TestNewRegistersSchedules(t *testing.T) {
	f := newFixture(t, backupConfig)
	var ids []string
	for _, r := range f.app.Registrations() {
		ids = append(ids, r.ID)
	}
	assert.ElementsMatch(t, []string{"Backup::0", "Backup::1", "Report"}, ids)
}

func TestRunNowExitCode3(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses POSIX shell scripts")
	}
	dir := t.TempDir()
	script := filepath.Join(dir, "backup.sh")
	require.NoError(t, os.WriteFile(script, []byte("echo working\nexit 3\n"), 0o755))
	cfgPath := filepath.Join(dir, "jobvisor.json")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`{
  "notifier": {"rate_per_sec": 100},
  "tasks": [{"name": "Backup", "path": "`+script+`", "times": ["06:00"]}]
}`), 0o600))

	mail := &recordingChannel{name: "email"}
	msg := &recordingChannel{name: "messaging", err: errors.New("companion not reachable")}
	a, err := New(cfgPath, WithLogger(logx.Nop()), WithChannels(func(*config.Config, logx.Logger) []notifier.Channel {
		return []notifier.Channel{mail, msg}
	}))
	require.NoError(t, err)
	defer a.Close()

	progress := make(chan runner.Line, 16)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	res, err := a.RunNow(ctx, "Backup", progress)
	require.NoError(t, err)
	assert.Equal(t, 3, res.ReturnCode)

	select {
	case l := <-progress:
		assert.Equal(t, "working", l.Text)
	default:
		t.Fatal("no progress line")
	}

	recs, err := a.History(ctx, "Backup")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, 3, recs[0].ReturnCode)

	require.Len(t, mail.sent(), 1)
	assert.Contains(t, mail.sent()[0], "RC=3")
	assert.Len(t, msg.sent(), 1, "failing channel is still attempted once")
}

func TestSimulateFailure(t *testing.T) {
	f := newFixture(t, backupConfig)
	ctx := context.Background()

	errs, err := f.app.SimulateFailure(ctx, "Backup")
	require.NoError(t, err)
	require.Len(t, errs, 1)
	assert.Equal(t, "messaging", errs[0].Channel)

	require.Equal(t, []string{"[Backup] FAILED (RC=1) - Simulated"}, f.mail.sent())

	b, err := os.ReadFile(filepath.Join(f.app.Paths().LogDir, "Backup_SIMULATED.log"))
	require.NoError(t, err)
	assert.Contains(t, string(b), "# Simulated failure @ ")

	recs, err := f.app.History(ctx, "Backup")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, 1, recs[0].ReturnCode)
	assert.Zero(t, recs[0].Duration)
}

func TestUnknownTask(t *testing.T) {
	f := newFixture(t, backupConfig)
	_, err := f.app.RunNow(context.Background(), "Nope", nil)
	assert.True(t, errors.Is(err, ErrNotFound))
	_, err = f.app.SimulateFailure(context.Background(), "Nope")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestApplyConfigRebuildsAndForgetsRemoved(t *testing.T) {
	f := newFixture(t, backupConfig)
	prev := f.app.cfgm.Get()

	require.NoError(t, f.app.tracker.Record(context.Background(), "Report", os.Getpid()))
	pidFile := f.app.tracker.Path("Report")
	require.FileExists(t, pidFile)

	next, err := config.Decode("c.json", []byte(`{
  "scheduler": {"timezone": "UTC"},
  "notifier": {"rate_per_sec": 100},
  "tasks": [{"name": "Backup", "path": "backup.sh", "times": ["07:30"]}]
}`))
	require.NoError(t, err)

	f.app.applyConfig(context.Background(), prev, next)

	regs := f.app.Registrations()
	require.Len(t, regs, 1)
	assert.Equal(t, "Backup::0", regs[0].ID)
	assert.Equal(t, 7, regs[0].Next.In(time.UTC).Hour())
	assert.Len(t, f.app.Tasks(), 1)
	assert.NoFileExists(t, pidFile)
}

func TestStatusListsTasksWithLastResult(t *testing.T) {
	f := newFixture(t, backupConfig)
	ctx := context.Background()
	_, err := f.app.SimulateFailure(ctx, "Report")
	require.NoError(t, err)

	st := f.app.Status(ctx)
	require.Len(t, st.Tasks, 2)
	assert.Equal(t, "Backup", st.Tasks[0].Name)
	assert.Nil(t, st.Tasks[0].LastRC)
	require.NotNil(t, st.Tasks[1].LastRC)
	assert.Equal(t, 1, *st.Tasks[1].LastRC)
	assert.Len(t, st.Scheduler.Registrations, 3)
	assert.Nil(t, st.Supervisor)
}
