package scheduler

import (
	"time"

	"github.com/cockroachdb/errors"

	"jobvisor/internal/task"
)

const minutesPerDay = 24 * 60

// weekdaySchedule fires at selected minutes of the day on selected weekdays.
// It implements cron.Schedule. Minute slots are counted from local midnight,
// so strides restart every day.
type weekdaySchedule struct {
	days task.Days
	// slot returns the first eligible minute-of-day >= from, or false.
	slot func(from int) (int, bool)
}

// dailyAt fires once a day at hour:minute.
func dailyAt(hour, minute int, days task.Days) weekdaySchedule {
	at := hour*60 + minute
	return weekdaySchedule{days: days, slot: func(from int) (int, bool) {
		return at, from <= at
	}}
}

// everyStride fires at every minute-of-day divisible by step.
func everyStride(step int, days task.Days) weekdaySchedule {
	return weekdaySchedule{days: days, slot: func(from int) (int, bool) {
		m := (from + step - 1) / step * step
		return m, m < minutesPerDay
	}}
}

// interval builds the stride schedule for an interval task:
// every N minutes on minutes since midnight divisible by N, or every N hours
// on the hour when hours since midnight are divisible by N.
func interval(every int, unit task.Unit, days task.Days) (weekdaySchedule, error) {
	if every <= 0 {
		return weekdaySchedule{}, errors.Newf("every_value must be > 0, got %d", every)
	}
	switch unit {
	case task.Minutes:
		return everyStride(every, days), nil
	case task.Hours:
		return everyStride(every*60, days), nil
	default:
		return weekdaySchedule{}, errors.Newf("unknown unit %q", unit)
	}
}

// Next returns the first slot strictly after t, or the zero time when no
// weekday is selected. Slots are wall-clock minutes and each fires at most
// once a day: in a repeated DST hour time.Date resolves to the first
// occurrence, so a slot already behind t is passed over rather than fired
// again.
func (s weekdaySchedule) Next(t time.Time) time.Time {
	if !s.days.Any() {
		return time.Time{}
	}
	y, mo, d := t.Date()
	loc := t.Location()
	from := t.Hour()*60 + t.Minute() + 1
	for i := 0; i <= 7; i++ {
		day := time.Date(y, mo, d+i, 12, 0, 0, 0, loc)
		for s.days.Has(day.Weekday()) && from < minutesPerDay {
			m, ok := s.slot(from)
			if !ok {
				break
			}
			if cand := time.Date(y, mo, d+i, 0, m, 0, 0, loc); cand.After(t) {
				return cand
			}
			from = m + 1
		}
		from = 0
	}
	return time.Time{}
}

// Eligible reports whether the minute containing t is a firing slot.
func (s weekdaySchedule) Eligible(t time.Time) bool {
	if !s.days.Has(t.Weekday()) {
		return false
	}
	m := t.Hour()*60 + t.Minute()
	got, ok := s.slot(m)
	return ok && got == m
}
