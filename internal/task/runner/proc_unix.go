//go:build !windows

package runner

import (
	"os/exec"
	"syscall"
)

// detach puts the child in its own session so it survives the daemon.
func detach(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}
