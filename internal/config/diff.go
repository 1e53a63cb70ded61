package config

import (
	"reflect"
	"sort"
	"strings"

	"jobvisor/internal/task"
	logx "jobvisor/pkg/logx"
)

// TaskChanges lists task names by kind of change.
type TaskChanges struct {
	Added   []string
	Removed []string
	Changed []string
}

func (c TaskChanges) Empty() bool {
	return len(c.Added) == 0 && len(c.Removed) == 0 && len(c.Changed) == 0
}

// SummarizeConfigChange returns (1) a compact list of changed sections,
// (2) safe structured attrs for logging (never secrets such as passwords or
// tokens), and (3) the task-level diff.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, TaskChanges) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)),
			logx.Int("scheduler.history_size", newCfg.Scheduler.HistorySize),
		)
	}

	if oldCfg.Paths != newCfg.Paths {
		changed = append(changed, "paths")
	}

	if oldCfg.History != newCfg.History {
		changed = append(changed, "history")
		attrs = append(attrs,
			logx.String("history.driver", strings.TrimSpace(newCfg.History.Driver)),
			logx.Int("history.keep", newCfg.History.Keep),
		)
	}

	if oldCfg.Notifier != newCfg.Notifier {
		changed = append(changed, "notifier")
		attrs = append(attrs,
			logx.Int("notifier.rate_per_sec", newCfg.Notifier.RatePerSec),
			logx.Int("notifier.retry_max", newCfg.Notifier.RetryMax),
		)
	}

	if !reflect.DeepEqual(oldCfg.Settings, newCfg.Settings) {
		changed = append(changed, "settings")
		em, ms := newCfg.Settings.Email, newCfg.Settings.Messaging
		attrs = append(attrs,
			logx.Bool("settings.email_enabled", em.Enabled),
			logx.Int("settings.email_to", len(em.To)),
			logx.Bool("settings.email_password_set", em.Password != ""),
			logx.Bool("settings.messaging_enabled", ms.Enabled),
			logx.String("settings.messaging_mode", ms.Mode),
			logx.Int("settings.messaging_to", len(ms.To)),
			logx.Bool("settings.telegram_token_set", ms.Telegram.Token != ""),
		)
	}

	if oldCfg.Debug != newCfg.Debug {
		changed = append(changed, "debug")
		attrs = append(attrs,
			logx.Bool("debug.enabled", newCfg.Debug.Enabled),
			logx.String("debug.addr", newCfg.Debug.Addr),
			logx.Bool("debug.token_set", newCfg.Debug.Token != ""),
		)
	}

	tc := diffTasks(oldCfg.Tasks, newCfg.Tasks)
	if !tc.Empty() {
		changed = append(changed, "tasks")
		attrs = append(attrs,
			logx.Strings("tasks.added", tc.Added),
			logx.Strings("tasks.removed", tc.Removed),
			logx.Strings("tasks.changed", tc.Changed),
		)
	}

	sort.Strings(changed)
	return changed, attrs, tc
}

func diffTasks(oldT, newT []task.Task) TaskChanges {
	index := func(ts []task.Task) map[string]uint64 {
		m := make(map[string]uint64, len(ts))
		for _, t := range ts {
			m[t.Name] = hashJSON(t)
		}
		return m
	}
	om, nm := index(oldT), index(newT)

	var tc TaskChanges
	for name, h := range nm {
		oh, ok := om[name]
		switch {
		case !ok:
			tc.Added = append(tc.Added, name)
		case oh != h:
			tc.Changed = append(tc.Changed, name)
		}
	}
	for name := range om {
		if _, ok := nm[name]; !ok {
			tc.Removed = append(tc.Removed, name)
		}
	}
	sort.Strings(tc.Added)
	sort.Strings(tc.Removed)
	sort.Strings(tc.Changed)
	return tc
}
