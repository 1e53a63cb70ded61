package notifier

import (
	"context"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"

	kit "jobvisor/internal/transport"
	"jobvisor/internal/transport/telegram"
	logx "jobvisor/pkg/logx"
)

const hostedBodyLimit = 1500

// Messaging delivers to an instant-messaging service, either through the
// hosted Bot API or a local companion process.
type Messaging struct {
	cfg MessagingConfig
	log logx.Logger

	once   sync.Once
	sender kit.TextSender
	err    error
}

type MessagingOption func(*Messaging)

// WithSender replaces the hosted API client.
func WithSender(s kit.TextSender) MessagingOption {
	return func(m *Messaging) { m.sender = s }
}

func NewMessaging(cfg MessagingConfig, log logx.Logger, opts ...MessagingOption) *Messaging {
	if log.IsZero() {
		log = logx.Nop()
	}
	if strings.TrimSpace(cfg.Mode) == "" {
		cfg.Mode = ModeCompanion
	}
	m := &Messaging{cfg: cfg, log: log}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *Messaging) Name() string { return "messaging" }

func (m *Messaging) Enabled() bool {
	return m.cfg.Enabled && len(recipients(m.cfg.To)) > 0
}

func (m *Messaging) Send(ctx context.Context, subject, body string) error {
	to := recipients(m.cfg.To)
	if len(to) == 0 {
		return nil
	}
	switch strings.ToLower(strings.TrimSpace(m.cfg.Mode)) {
	case ModeTelegram:
		return m.sendHosted(ctx, to, subject+"\n\n"+truncateRunes(body, hostedBodyLimit))
	case ModeCompanion:
		return runCompanion(ctx, m.cfg.Companion, to, subject+"\n\n"+body)
	default:
		return errors.Newf("messaging: unknown mode %q", m.cfg.Mode)
	}
}

func (m *Messaging) hosted() (kit.TextSender, error) {
	m.once.Do(func() {
		if m.sender != nil {
			return
		}
		s, err := telegram.New(telegram.Config{Token: m.cfg.Telegram.Token, APIURL: m.cfg.Telegram.APIURL}, m.log)
		if err != nil {
			m.err = err
			return
		}
		m.sender = s
	})
	return m.sender, m.err
}

func (m *Messaging) sendHosted(ctx context.Context, to []string, text string) error {
	sender, err := m.hosted()
	if err != nil {
		return err
	}
	var errs []error
	for _, raw := range to {
		target, err := kit.ParseTarget(raw)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if _, err := sender.SendText(ctx, target, text, &kit.SendOptions{DisablePreview: true}); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func truncateRunes(s string, n int) string {
	rs := []rune(s)
	if len(rs) <= n {
		return s
	}
	return string(rs[:n])
}
