package config

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"jobvisor/internal/observability/debug"

	"jobvisor/internal/notifier"
	"jobvisor/internal/task"
)

// Validate checks cfg. Problems that stop the daemon from working are
// returned as the error; questionable but runnable settings become warnings.
func Validate(cfg *Config) (warnings []string, err error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if err := task.ValidateSet(cfg.Tasks); err != nil {
		return nil, err
	}
	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return nil, errors.Wrapf(err, "scheduler.timezone %q", tz)
		}
	}
	if cfg.Scheduler.HistorySize < 0 {
		return nil, errors.New("scheduler.history_size must be >= 0")
	}

	switch d := strings.ToLower(strings.TrimSpace(cfg.History.Driver)); d {
	case "", "file", "json", "sqlite", "sqlite3":
	default:
		return nil, errors.Newf("history.driver %q is not supported", cfg.History.Driver)
	}
	if cfg.History.Keep < 0 {
		return nil, errors.New("history.keep must be >= 0")
	}
	if _, err := ParseDurationField("history.busy_timeout", cfg.History.BusyTimeout); err != nil {
		return nil, err
	}

	n := cfg.Notifier
	for _, f := range []struct{ path, raw string }{
		{"notifier.send_timeout", n.SendTimeout},
		{"notifier.retry_base", n.RetryBase},
		{"notifier.retry_max_delay", n.RetryMaxDelay},
	} {
		if _, err := ParseDurationField(f.path, f.raw); err != nil {
			return nil, err
		}
	}
	if n.RatePerSec < 0 || n.RetryMax < 0 {
		return nil, errors.New("notifier.rate_per_sec and notifier.retry_max must be >= 0")
	}

	em := cfg.Settings.Email
	if em.Enabled {
		if strings.TrimSpace(em.Host) == "" {
			warnings = append(warnings, "settings.email is enabled but host is empty; email is skipped")
		}
		if len(em.To) == 0 {
			warnings = append(warnings, "settings.email is enabled without recipients; email is skipped")
		}
		if strings.TrimSpace(em.From) == "" && strings.TrimSpace(em.Username) == "" {
			warnings = append(warnings, "settings.email has neither from nor username; sends will fail")
		}
	}
	ms := cfg.Settings.Messaging
	if ms.Enabled {
		switch strings.ToLower(strings.TrimSpace(ms.Mode)) {
		case "", notifier.ModeCompanion:
			if strings.TrimSpace(ms.Companion.Executable) == "" {
				warnings = append(warnings, "settings.messaging companion mode has no executable; sends will fail")
			}
		case notifier.ModeTelegram:
			if strings.TrimSpace(ms.Telegram.Token) == "" {
				return nil, errors.New("settings.messaging.telegram.token is required in telegram mode")
			}
		default:
			return nil, errors.Newf("settings.messaging.mode %q is not supported", ms.Mode)
		}
		if len(ms.To) == 0 {
			warnings = append(warnings, "settings.messaging is enabled without recipients; messaging is skipped")
		}
	}

	if err := validateDebug(cfg.Debug); err != nil {
		return nil, err
	}

	for _, t := range cfg.Tasks {
		if why := t.Disabled(); why != "" {
			warnings = append(warnings, fmt.Sprintf("task %q is never scheduled: %s", t.Name, why))
		}
	}
	return warnings, nil
}

func validateDebug(d DebugConfig) error {
	for _, f := range []struct{ path, raw string }{
		{"debug.read_timeout", d.ReadTimeout},
		{"debug.idle_timeout", d.IdleTimeout},
	} {
		if _, err := ParseDurationField(f.path, f.raw); err != nil {
			return err
		}
	}
	if !d.Enabled {
		return nil
	}
	addr := strings.TrimSpace(d.Addr)
	if addr == "" {
		addr = debug.DefaultAddr
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return errors.Wrapf(err, "debug.addr %q", addr)
	}
	if !d.AllowInsecure && strings.TrimSpace(d.Token) == "" && !debug.IsLoopback(addr) {
		return errors.Newf("debug.addr %q is not loopback; set debug.token or debug.allow_insecure", addr)
	}
	return nil
}
