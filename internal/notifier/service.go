package notifier

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/time/rate"

	"jobvisor/internal/eventbus"
	"jobvisor/internal/task"
	logx "jobvisor/pkg/logx"
)

const dateLayout = "2006-01-02 15:04:05"

// Service fans a message out to the configured channels.
//
// It is safe for concurrent use. Apply swaps configuration and channels
// atomically with respect to in-progress sends, which keep their snapshot.
type Service struct {
	mu sync.Mutex

	log logx.Logger
	bus eventbus.Bus

	cfg      Config
	limiter  *rate.Limiter
	channels []Channel

	now func() time.Time
}

func New(cfg Config, channels []Channel, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{log: log, bus: bus, now: time.Now}
	s.applyLocked(cfg, channels)
	return s
}

func (s *Service) Apply(cfg Config, channels []Channel) {
	s.mu.Lock()
	s.applyLocked(cfg, channels)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config, channels []Channel) {
	s.cfg = cfg.normalized()
	s.limiter = rate.NewLimiter(rate.Limit(s.cfg.RatePerSec), s.cfg.RatePerSec)
	s.channels = append([]Channel(nil), channels...)
}

// Channels returns the configured channels, enabled or not.
func (s *Service) Channels() []Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Channel(nil), s.channels...)
}

// FailureMessage builds the subject and body sent when a task fails.
func FailureMessage(name string, rc int, at time.Time, logPath string) (subject, body string) {
	subject = fmt.Sprintf("[%s] FAILED (RC=%d)", name, rc)
	body = fmt.Sprintf("Task: %s\nDate: %s\nRC: %d\nLog: %s", name, at.Format(dateLayout), rc, logPath)
	return subject, body
}

// SimulatedMessage builds the message of a simulated failure.
func SimulatedMessage(name string, at time.Time, logPath string) (subject, body string) {
	subject = fmt.Sprintf("[%s] FAILED (RC=1) - Simulated", name)
	body = fmt.Sprintf("Task: %s\nDate: %s\nRC: 1 (Simulation)\nLog: %s", name, at.Format(dateLayout), logPath)
	return subject, body
}

// MaybeNotify sends a failure message when rc is non-zero and the task wants
// failure notifications. Channel errors are logged and returned, never raised.
func (s *Service) MaybeNotify(ctx context.Context, t task.Task, rc int, logPath string) []ChannelError {
	if rc == 0 || !t.ShouldNotify() {
		return nil
	}
	subject, body := FailureMessage(t.Name, rc, s.now(), logPath)
	return s.Notify(ctx, subject, body)
}

// Notify attempts every enabled channel once (plus retries) and returns the
// failures, one per failed channel.
func (s *Service) Notify(ctx context.Context, subject, body string) []ChannelError {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	cfg := s.cfg
	lim := s.limiter
	channels := s.channels
	s.mu.Unlock()

	var errs []ChannelError
	for _, ch := range channels {
		if ch == nil || !ch.Enabled() {
			continue
		}
		err := s.deliver(ctx, cfg, lim, ch, subject, body)
		now := s.now()
		if err != nil {
			s.log.Warn("notification failed", logx.String("channel", ch.Name()), logx.String("subject", subject), logx.Err(err))
			errs = append(errs, ChannelError{Channel: ch.Name(), Err: err})
			s.publish(eventbus.NotifyFailed, NotificationEvent{Channel: ch.Name(), Subject: subject, At: now, Error: err.Error()})
			continue
		}
		s.log.Info("notification sent", logx.String("channel", ch.Name()), logx.String("subject", subject))
		s.publish(eventbus.NotifySent, NotificationEvent{Channel: ch.Name(), Subject: subject, At: now})
	}
	return errs
}

// deliver sends through one channel, pacing every attempt on the shared
// limiter. The last send error wins over a limiter or context error.
func (s *Service) deliver(ctx context.Context, cfg Config, lim *rate.Limiter, ch Channel, subject, body string) error {
	var err error
	for attempt := 1; ; attempt++ {
		if werr := lim.Wait(ctx); werr != nil {
			return firstNonNil(err, werr)
		}
		sendCtx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
		err = s.send(sendCtx, ch, subject, body)
		cancel()
		if err == nil || attempt > cfg.RetryMax {
			return err
		}
		wait := cfg.backoff(attempt)
		s.log.Debug("notify retry", logx.String("channel", ch.Name()), logx.Int("attempt", attempt), logx.Duration("wait", wait), logx.Err(err))
		select {
		case <-ctx.Done():
			return err
		case <-time.After(wait):
		}
	}
}

// send calls ch.Send, turning a panic into that channel's error so the
// remaining channels are still tried.
func (s *Service) send(ctx context.Context, ch Channel, subject, body string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf("channel %s panicked: %v", ch.Name(), r)
			s.log.Error("notify channel panicked", logx.String("channel", ch.Name()), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
	}()
	return ch.Send(ctx, subject, body)
}

func firstNonNil(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) publish(typ string, ev NotificationEvent) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: ev.At, Data: ev})
}
