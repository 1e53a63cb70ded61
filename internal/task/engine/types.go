package engine

import (
	"context"
	"sync/atomic"
	"time"
)

// Config controls the execution engine.
type Config struct {
	// HistorySize bounds the in-memory list of recent executions.
	HistorySize int
}

type OverlapPolicy int

const (
	// OverlapSkipIfRunning drops a trigger while the task is in flight.
	OverlapSkipIfRunning OverlapPolicy = iota
	OverlapAllow
)

// RunState is the in-flight gate of one task. Every trigger registered for the
// task shares it, so two fixed times of one task never overlap either.
// It holds the start time in unix nanoseconds, 0 while idle.
type RunState struct {
	since atomic.Int64
}

func (s *RunState) tryAcquire() bool {
	return s == nil || s.since.CompareAndSwap(0, time.Now().UnixNano())
}

func (s *RunState) release() {
	if s != nil {
		s.since.Store(0)
	}
}

// Running reports whether an execution holds the gate and since when.
func (s *RunState) Running() (bool, time.Time) {
	if s == nil {
		return false, time.Time{}
	}
	ns := s.since.Load()
	if ns == 0 {
		return false, time.Time{}
	}
	return true, time.Unix(0, ns)
}

type HistoryItem struct {
	ID       string
	Name     string
	Trigger  string
	Started  time.Time
	Duration time.Duration
	Error    string
}

// TaskEvent is published on the event bus for execution lifecycle changes.
type TaskEvent struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	Trigger  string        `json:"trigger,omitempty"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// Task is one execution request.
//
// Trigger names what caused it (a registration ID or "manual"). State gates
// overlap; when nil the engine uses its own state keyed by Name.
type Task struct {
	ID      string
	Name    string
	Trigger string
	Run     func(ctx context.Context) error
	Overlap OverlapPolicy
	State   *RunState
}

// Snapshot is a diagnostics view of the engine.
type Snapshot struct {
	InFlight int
	Started  uint64
	Skipped  uint64
	Failed   uint64
	Panics   uint64
	History  []HistoryItem
}
