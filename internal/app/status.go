package app

import (
	"context"
	"time"

	"jobvisor/internal/runtime/supervisor"
	"jobvisor/internal/task/engine"
	"jobvisor/internal/task/scheduler"
)

// Status is the document served by the debug listener at /status.
type Status struct {
	Config        string               `json:"config"`
	Now           time.Time            `json:"now"`
	Scheduler     scheduler.Snapshot   `json:"scheduler"`
	Manual        engine.Snapshot      `json:"manual"`
	Supervisor    *supervisor.Snapshot `json:"supervisor,omitempty"`
	Tasks         []TaskStatus         `json:"tasks"`
	DroppedEvents uint64               `json:"dropped_events"`
	Warnings      []string             `json:"warnings,omitempty"`
}

type TaskStatus struct {
	Name    string    `json:"name"`
	Running bool      `json:"running"`
	LastRC  *int      `json:"last_rc,omitempty"`
	LastRun time.Time `json:"last_run,omitempty"`
}

func (a *App) Status(ctx context.Context) Status {
	st := Status{
		Config:        a.cfgPath,
		Now:           time.Now(),
		Scheduler:     a.sched.Snapshot(),
		Manual:        a.manual.Snapshot(),
		DroppedEvents: a.bus.Dropped(),
		Warnings:      a.Warnings(),
	}
	if a.sup != nil {
		snap := a.sup.Snapshot()
		st.Supervisor = &snap
	}
	for _, t := range a.Tasks() {
		ts := TaskStatus{Name: t.Name, Running: a.Running(ctx, t)}
		if recs, err := a.History(ctx, t.Name); err == nil && len(recs) > 0 {
			last := recs[len(recs)-1]
			rc := last.ReturnCode
			ts.LastRC, ts.LastRun = &rc, last.Timestamp
		}
		st.Tasks = append(st.Tasks, ts)
	}
	return st
}
