package task

import (
	"strings"

	"github.com/cockroachdb/errors"
)

// Validate checks a single task definition.
//
// A task with no active day is valid: the scheduler simply never registers it.
// Callers that want to surface that case use Disabled.
func (t Task) Validate() error {
	if strings.TrimSpace(t.Name) == "" {
		return errors.New("name is required")
	}
	// The name becomes part of log and PID file names under log_dir.
	if n := strings.TrimSpace(t.Name); strings.ContainsAny(n, `/\`+"\x00") || n == "." || n == ".." {
		return errors.Newf("task %q: name must not contain path separators", t.Name)
	}
	if strings.TrimSpace(t.Path) == "" {
		return errors.Newf("task %q: path is required", t.Name)
	}
	if t.Timeout < 0 {
		return errors.Newf("task %q: timeout must be >= 0", t.Name)
	}
	switch t.Kind() {
	case FixedTimes:
		if _, err := t.ScheduleTimes(); err != nil {
			return errors.Wrapf(err, "task %q", t.Name)
		}
	case Interval:
		if t.EveryValue <= 0 {
			return errors.Newf("task %q: every_value must be > 0", t.Name)
		}
		if u := t.Unit(); u != Minutes && u != Hours {
			return errors.Newf("task %q: unknown every_unit %q", t.Name, u)
		}
	default:
		return errors.Newf("task %q: unknown schedule_type %q", t.Name, t.ScheduleType)
	}
	return nil
}

// Disabled reports why a valid task will never fire, or "" if it will.
func (t Task) Disabled() string {
	if !t.Days.Any() {
		return "no active weekday selected"
	}
	return ""
}

// ValidateSet validates every task and enforces name uniqueness.
func ValidateSet(tasks []Task) error {
	seen := make(map[string]int, len(tasks))
	for i, t := range tasks {
		if err := t.Validate(); err != nil {
			return errors.Wrapf(err, "tasks[%d]", i)
		}
		key := strings.TrimSpace(t.Name)
		if j, dup := seen[key]; dup {
			return errors.Newf("tasks[%d]: duplicate name %q (also tasks[%d])", i, key, j)
		}
		seen[key] = i
	}
	return nil
}

// Find returns the task named name.
func Find(tasks []Task, name string) (Task, bool) {
	name = strings.TrimSpace(name)
	for _, t := range tasks {
		if t.Name == name {
			return t, true
		}
	}
	return Task{}, false
}
