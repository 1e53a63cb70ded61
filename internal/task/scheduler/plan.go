package scheduler

import (
	"fmt"

	"github.com/cockroachdb/errors"

	"jobvisor/internal/task"
)

// FixedID is the registration ID of the idx-th fixed time of a task.
func FixedID(name string, idx int) string { return fmt.Sprintf("%s::%d", name, idx) }

// plan returns the registrations a task needs. A task with no active weekday
// yields none.
func plan(t task.Task) ([]registration, error) {
	if !t.Days.Any() {
		return nil, nil
	}
	switch t.Kind() {
	case task.FixedTimes:
		times, err := t.ScheduleTimes()
		if err != nil {
			return nil, err
		}
		out := make([]registration, 0, len(times))
		for i, hhmm := range times {
			h, m, err := task.ParseHHMM(hhmm)
			if err != nil {
				return nil, err
			}
			out = append(out, registration{
				Registration: Registration{
					ID:   FixedID(t.Name, i),
					Task: t.Name,
					Kind: task.FixedTimes,
					Spec: fmt.Sprintf("%s on %s", hhmm, t.Days),
				},
				task:  t,
				sched: dailyAt(h, m, t.Days),
			})
		}
		return out, nil
	case task.Interval:
		sched, err := interval(t.EveryValue, t.Unit(), t.Days)
		if err != nil {
			return nil, err
		}
		return []registration{{
			Registration: Registration{
				ID:   t.Name,
				Task: t.Name,
				Kind: task.Interval,
				Spec: fmt.Sprintf("every %d %s on %s", t.EveryValue, t.Unit(), t.Days),
			},
			task:  t,
			sched: sched,
		}}, nil
	default:
		return nil, errors.Newf("unknown schedule_type %q", t.ScheduleType)
	}
}
