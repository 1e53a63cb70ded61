package notifier

import (
	"context"
	"math/rand/v2"
	"time"
)

// Config controls pacing and retries shared by all channels. Zero values take
// the defaults below.
type Config struct {
	RatePerSec    int           // 3
	SendTimeout   time.Duration // 60s
	RetryMax      int           // extra attempts per channel, 0
	RetryBase     time.Duration // 500ms
	RetryMaxDelay time.Duration // 10s
}

func (c Config) normalized() Config {
	c.RatePerSec = cmpOr(c.RatePerSec, 3)
	c.SendTimeout = cmpOr(c.SendTimeout, 60*time.Second)
	c.RetryBase = cmpOr(c.RetryBase, 500*time.Millisecond)
	c.RetryMaxDelay = cmpOr(c.RetryMaxDelay, 10*time.Second)
	c.RetryMax = max(c.RetryMax, 0)
	return c
}

func cmpOr[T int | time.Duration](v, def T) T {
	if v <= 0 {
		return def
	}
	return v
}

// backoff is the wait after failed attempt n (1-based): RetryBase doubled per
// attempt, capped at RetryMaxDelay, with the upper half randomised.
func (c Config) backoff(n int) time.Duration {
	c = c.normalized()
	d := c.RetryMaxDelay
	if n < 16 {
		d = min(c.RetryBase<<(n-1), c.RetryMaxDelay)
	}
	half := d / 2
	return half + rand.N(half+1)
}

// Channel is one delivery route.
type Channel interface {
	Name() string
	// Enabled is false when the channel is switched off or has no recipients.
	Enabled() bool
	Send(ctx context.Context, subject, body string) error
}

// ChannelError is a delivery failure of a single channel.
type ChannelError struct {
	Channel string
	Err     error
}

func (e ChannelError) Error() string { return e.Channel + ": " + e.Err.Error() }
func (e ChannelError) Unwrap() error { return e.Err }

// NotificationEvent is published on the event bus after each channel attempt.
type NotificationEvent struct {
	Channel string    `json:"channel"`
	Subject string    `json:"subject"`
	At      time.Time `json:"at"`
	Error   string    `json:"error,omitempty"`
}

// EmailConfig is the SMTP channel configuration.
type EmailConfig struct {
	Enabled  bool     `json:"enabled"`
	Host     string   `json:"host"`
	Port     int      `json:"port"`
	Username string   `json:"username,omitempty"`
	Password string   `json:"password,omitempty"`
	From     string   `json:"from,omitempty"`
	To       []string `json:"to"`
	// InsecureSkipVerify disables certificate checks after STARTTLS.
	InsecureSkipVerify bool `json:"insecure_skip_verify,omitempty"`
}

const (
	ModeTelegram  = "telegram"
	ModeCompanion = "companion"
)

// MessagingConfig is the instant-messaging channel configuration.
type MessagingConfig struct {
	Enabled   bool            `json:"enabled"`
	Mode      string          `json:"mode"`
	Telegram  TelegramConfig  `json:"telegram"`
	Companion CompanionConfig `json:"companion"`
	To        []string        `json:"to"`
}

type TelegramConfig struct {
	Token  string `json:"token,omitempty"`
	APIURL string `json:"api_url,omitempty"`
}

// CompanionConfig describes the local helper that relays messages.
// It is invoked as: executable [script] --to <a,b> --message <text>.
type CompanionConfig struct {
	Executable string `json:"executable"`
	Script     string `json:"script,omitempty"`
	WorkDir    string `json:"work_dir,omitempty"`
	// Timeout in seconds, 45 when zero.
	Timeout int `json:"timeout,omitempty"`
}
