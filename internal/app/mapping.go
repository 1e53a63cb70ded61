package app

import (
	"path/filepath"
	"strings"
	"time"

	"jobvisor/internal/config"
	"jobvisor/internal/history"
	"jobvisor/internal/notifier"
	"jobvisor/internal/observability/debug"
	"jobvisor/internal/task/command"
	logx "jobvisor/pkg/logx"
)

func mapLoggingConfig(cfg *config.Config, baseDir string) logx.Config {
	lc := logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled:   cfg.Logging.File.Enabled,
			Path:      cfg.Logging.File.Path,
			MaxSizeMB: cfg.Logging.File.MaxSizeMB,
		},
	}
	if p := strings.TrimSpace(lc.File.Path); p != "" && !filepath.IsAbs(p) {
		lc.File.Path = filepath.Join(baseDir, p)
	}
	return lc
}

func mapHistoryConfig(cfg *config.Config, paths config.ResolvedPaths) (history.Config, error) {
	busy, err := config.ParseDurationOrDefault("history.busy_timeout", cfg.History.BusyTimeout, time.Second)
	if err != nil {
		return history.Config{}, err
	}
	return history.Config{
		Driver:      strings.ToLower(strings.TrimSpace(cfg.History.Driver)),
		Path:        paths.HistoryPath,
		Keep:        cfg.History.Keep,
		BusyTimeout: busy,
	}, nil
}

func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	n := cfg.Notifier
	sendTimeout, err := config.ParseDurationOrDefault("notifier.send_timeout", n.SendTimeout, 60*time.Second)
	if err != nil {
		return notifier.Config{}, err
	}
	base, err := config.ParseDurationOrDefault("notifier.retry_base", n.RetryBase, 500*time.Millisecond)
	if err != nil {
		return notifier.Config{}, err
	}
	maxDelay, err := config.ParseDurationOrDefault("notifier.retry_max_delay", n.RetryMaxDelay, 10*time.Second)
	if err != nil {
		return notifier.Config{}, err
	}
	return notifier.Config{
		RatePerSec:    n.RatePerSec,
		SendTimeout:   sendTimeout,
		RetryMax:      n.RetryMax,
		RetryBase:     base,
		RetryMaxDelay: maxDelay,
	}, nil
}

func mapDebugConfig(cfg *config.Config) (debug.Config, error) {
	d := cfg.Debug
	readTO, err := config.ParseDurationOrDefault("debug.read_timeout", d.ReadTimeout, 5*time.Second)
	if err != nil {
		return debug.Config{}, err
	}
	idleTO, err := config.ParseDurationOrDefault("debug.idle_timeout", d.IdleTimeout, 120*time.Second)
	if err != nil {
		return debug.Config{}, err
	}
	return debug.Config{
		Enabled:       d.Enabled,
		Addr:          strings.TrimSpace(d.Addr),
		Token:         strings.TrimSpace(d.Token),
		AllowInsecure: d.AllowInsecure,
		ReadTimeout:   readTO,
		IdleTimeout:   idleTO,
	}, nil
}

// buildChannels creates one channel per settings section. Disabled channels
// are still returned so status views can list them.
func buildChannels(cfg *config.Config, log logx.Logger) []notifier.Channel {
	return []notifier.Channel{
		notifier.NewEmail(cfg.Settings.Email),
		notifier.NewMessaging(cfg.Settings.Messaging, log.With(logx.String("channel", "messaging"))),
	}
}

func commandOptions(cfg *config.Config) command.Options {
	return command.Options{
		PDIHome: strings.TrimSpace(cfg.Settings.PDIHome),
		Python:  strings.TrimSpace(cfg.Settings.Python),
	}
}
