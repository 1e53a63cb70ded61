package liveness

import (
	"bytes"
	"context"
	"os/exec"
	"runtime"
	"strconv"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// Prober checks whether a PID belongs to a running process.
type Prober interface {
	Alive(ctx context.Context, pid int) bool
}

// ProbeFunc adapts a function to Prober.
type ProbeFunc func(ctx context.Context, pid int) bool

func (f ProbeFunc) Alive(ctx context.Context, pid int) bool { return f(ctx, pid) }

// SystemProber asks the process table through gopsutil and falls back to the
// platform's process listing command when that query fails.
type SystemProber struct{}

const listTimeout = 5 * time.Second

func (SystemProber) Alive(ctx context.Context, pid int) bool {
	ok, err := process.PidExistsWithContext(ctx, int32(pid))
	if err != nil {
		return listed(ctx, pid)
	}
	if !ok {
		return false
	}
	p, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return false
	}
	st, err := p.StatusWithContext(ctx)
	if err != nil {
		// Status is not available on every platform; existence is enough.
		return true
	}
	for _, s := range st {
		if s == process.Zombie {
			return false
		}
	}
	return true
}

func listed(ctx context.Context, pid int) bool {
	ctx, cancel := context.WithTimeout(ctx, listTimeout)
	defer cancel()

	id := strconv.Itoa(pid)
	if runtime.GOOS == "windows" {
		out, err := exec.CommandContext(ctx, "tasklist", "/FI", "PID eq "+id).Output()
		if err != nil {
			return false
		}
		return bytes.Contains(out, []byte(id))
	}
	// ps exits non-zero when the pid is unknown.
	return exec.CommandContext(ctx, "ps", "-p", id).Run() == nil
}
