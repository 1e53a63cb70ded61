package config

import (
	"jobvisor/internal/notifier"
	"jobvisor/internal/task"
)

// Config is the whole daemon configuration. Every section may be omitted.
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Paths     PathsConfig     `json:"paths"`
	History   HistoryConfig   `json:"history"`
	Notifier  NotifierConfig  `json:"notifier"`
	Settings  Settings        `json:"settings"`
	Debug     DebugConfig     `json:"debug"`
	Tasks     []task.Task     `json:"tasks"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
	// MaxSizeMB moves an oversized file to <path>.1 when it is opened.
	MaxSizeMB int `json:"max_size_mb,omitempty"`
}

// SchedulerConfig controls trigger evaluation.
type SchedulerConfig struct {
	// Timezone is an IANA name; empty means the host's local zone.
	Timezone string `json:"timezone,omitempty"`
	// HistorySize bounds the in-memory list of recent executions (diagnostics only).
	HistorySize int `json:"history_size,omitempty"`
}

// PathsConfig locates runtime files. Relative paths are resolved against the
// directory of the config file.
//
// Defaults:
//   - data_dir: "."
//   - log_dir: "<data_dir>/logs"
//   - pid_dir: "<data_dir>/pids"
type PathsConfig struct {
	DataDir string `json:"data_dir,omitempty"`
	LogDir  string `json:"log_dir,omitempty"`
	PIDDir  string `json:"pid_dir,omitempty"`
}

// HistoryConfig selects the execution history backend.
//
// Example:
//
//	"history": { "driver": "sqlite", "path": "./history.db", "keep": 50 }
type HistoryConfig struct {
	Driver      string `json:"driver,omitempty"` // file (default) | sqlite
	Path        string `json:"path,omitempty"`
	Keep        int    `json:"keep,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// NotifierConfig paces notification sends.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type NotifierConfig struct {
	RatePerSec    int    `json:"rate_per_sec,omitempty"`
	SendTimeout   string `json:"send_timeout,omitempty"`
	RetryMax      int    `json:"retry_max,omitempty"`
	RetryBase     string `json:"retry_base,omitempty"`
	RetryMaxDelay string `json:"retry_max_delay,omitempty"`
}

// Settings holds execution and channel settings shared by all tasks.
type Settings struct {
	// PDIHome is the data-integration install dir holding Pan/Kitchen.
	PDIHome string `json:"pdi_home,omitempty"`
	// Python is the interpreter for .py targets.
	Python    string                   `json:"python,omitempty"`
	Email     notifier.EmailConfig     `json:"email"`
	Messaging notifier.MessagingConfig `json:"messaging"`
}

// DebugConfig enables the local status and profiling listener.
//
// Binding to a non-loopback address requires a token or allow_insecure.
type DebugConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"` // default 127.0.0.1:6060
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	ReadTimeout   string `json:"read_timeout,omitempty"`
	IdleTimeout   string `json:"idle_timeout,omitempty"`
}
