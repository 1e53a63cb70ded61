// Package task defines the schedulable unit of work and its schedule definition.
//
// A Task is owned by the config layer. Scheduler, runner and notifier receive it
// by value and never mutate it.
package task

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"time"
)

type ScheduleType string

const (
	FixedTimes ScheduleType = "fixed_times"
	Interval   ScheduleType = "interval"

	// legacyCron is the value older config files use for FixedTimes.
	legacyCron ScheduleType = "cron"
)

type Unit string

const (
	Minutes Unit = "minutes"
	Hours   Unit = "hours"
)

// Days selects active weekdays, Monday first.
type Days [7]bool

// EveryDay has every weekday selected.
var EveryDay = Days{true, true, true, true, true, true, true}

// Task is a user-defined job bound to an external command.
type Task struct {
	Name       string `json:"name"`
	Path       string `json:"path"`
	Args       string `json:"args,omitempty"`
	WorkingDir string `json:"working_dir,omitempty"`

	ScheduleType ScheduleType `json:"schedule_type"`
	Times        []string     `json:"times,omitempty"`
	// Time is the single-time field of older configs; used only when Times is empty.
	Time       string `json:"time,omitempty"`
	EveryValue int    `json:"every_value,omitempty"`
	EveryUnit  Unit   `json:"every_unit,omitempty"`
	Days       Days   `json:"days"`

	// Timeout is in seconds. 0 means unbounded.
	Timeout    int   `json:"timeout,omitempty"`
	NotifyFail *bool `json:"notify_fail,omitempty"`
	Spawn      bool  `json:"spawn,omitempty"`
}

// Kind returns the normalized schedule type.
func (t Task) Kind() ScheduleType {
	switch ScheduleType(strings.ToLower(strings.TrimSpace(string(t.ScheduleType)))) {
	case Interval:
		return Interval
	case FixedTimes, legacyCron, "":
		return FixedTimes
	default:
		return t.ScheduleType
	}
}

// Unit returns the normalized interval unit (minutes when unset).
func (t Task) Unit() Unit {
	switch Unit(strings.ToLower(strings.TrimSpace(string(t.EveryUnit)))) {
	case Hours:
		return Hours
	case Minutes, "":
		return Minutes
	default:
		return t.EveryUnit
	}
}

// ShouldNotify reports whether failures of this task trigger notifications (default true).
func (t Task) ShouldNotify() bool {
	return t.NotifyFail == nil || *t.NotifyFail
}

// TimeoutDuration converts Timeout to a duration; 0 means no timeout.
func (t Task) TimeoutDuration() time.Duration {
	if t.Timeout <= 0 {
		return 0
	}
	return time.Duration(t.Timeout) * time.Second
}

// Dir returns the execution directory, defaulting to the parent of Path.
func (t Task) Dir() string {
	if wd := strings.TrimSpace(t.WorkingDir); wd != "" {
		return wd
	}
	return filepath.Dir(t.Path)
}

// ScheduleTimes returns the normalized fixed times, falling back to the legacy Time field.
func (t Task) ScheduleTimes() ([]string, error) {
	raw := t.Times
	if len(raw) == 0 && strings.TrimSpace(t.Time) != "" {
		raw = []string{t.Time}
	}
	return ParseTimes(strings.Join(raw, ","))
}

// Any reports whether at least one day is selected.
func (d Days) Any() bool {
	for _, v := range d {
		if v {
			return true
		}
	}
	return false
}

// Has reports whether wd is selected.
func (d Days) Has(wd time.Weekday) bool {
	// time.Weekday is Sunday=0; Days is Monday first.
	return d[(int(wd)+6)%7]
}

var dayLabels = [7]string{"mon", "tue", "wed", "thu", "fri", "sat", "sun"}

func (d Days) String() string {
	out := make([]string, 0, 7)
	for i, v := range d {
		if v {
			out = append(out, dayLabels[i])
		}
	}
	return strings.Join(out, ",")
}

// UnmarshalJSON rejects unknown fields and defaults Days to every day when the
// key is absent, matching how tasks created without a day picker behave.
func (t *Task) UnmarshalJSON(b []byte) error {
	type plain Task
	v := plain{Days: EveryDay}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&v); err != nil {
		return err
	}
	*t = Task(v)
	return nil
}
