package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"jobvisor/internal/eventbus"
	"jobvisor/internal/task"
	"jobvisor/internal/task/engine"
	logx "jobvisor/pkg/logx"
)

// Config controls the trigger service.
type Config struct {
	Timezone string // IANA name, e.g. "America/Sao_Paulo"; empty means local
}

// FireFunc executes one triggered run of t. trigger is the registration ID.
type FireFunc func(ctx context.Context, t task.Task, trigger string) error

// Registration is one live cron entry.
type Registration struct {
	ID   string
	Task string
	Kind task.ScheduleType
	// Spec is a human description such as "06:00 on mon,tue".
	Spec string
	Next time.Time
	Prev time.Time
}

type registration struct {
	Registration
	task    task.Task
	sched   cron.Schedule
	entryID cron.EntryID
}

type Service struct {
	mu sync.Mutex

	log  logx.Logger
	cfg  Config
	loc  *time.Location
	bus  eventbus.Bus
	eng  *engine.Service
	fire FireFunc

	c       *cron.Cron
	running bool
	regs    []registration

	warnMu   sync.Mutex
	lastWarn map[string]time.Time
}

type Snapshot struct {
	Timezone      string
	Running       bool
	Registrations []Registration
	Engine        engine.Snapshot
}
