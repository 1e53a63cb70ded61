package notifier

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

const (
	companionTimeout = 45 * time.Second
	companionTail    = 800
)

// NotConfiguredError reports a companion setup that cannot run.
type NotConfiguredError struct {
	Reason string
}

func (e *NotConfiguredError) Error() string { return "companion not configured: " + e.Reason }

func (c CompanionConfig) timeout() time.Duration {
	if c.Timeout <= 0 {
		return companionTimeout
	}
	return time.Duration(c.Timeout) * time.Second
}

// argv returns the companion command line.
func (c CompanionConfig) argv(to []string, message string) []string {
	out := []string{c.Executable}
	if c.Script != "" {
		out = append(out, c.Script)
	}
	return append(out, "--to", strings.Join(to, ","), "--message", message)
}

func (c CompanionConfig) check() error {
	if strings.TrimSpace(c.Executable) == "" {
		return &NotConfiguredError{Reason: "executable is empty"}
	}
	if _, err := exec.LookPath(c.Executable); err != nil {
		return &NotConfiguredError{Reason: "executable " + c.Executable + " not found"}
	}
	if c.Script != "" {
		if _, err := os.Stat(c.Script); err != nil {
			return &NotConfiguredError{Reason: "script " + c.Script + " not found"}
		}
	}
	return nil
}

// runCompanion runs the helper and waits for it. A non-zero exit carries the
// tail of its combined output.
func runCompanion(ctx context.Context, c CompanionConfig, to []string, message string) error {
	if err := c.check(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout())
	defer cancel()

	argv := c.argv(to, message)
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = c.WorkDir
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	cmd.WaitDelay = 2 * time.Second

	err := cmd.Run()
	if err == nil {
		return nil
	}
	if ctx.Err() == context.DeadlineExceeded {
		return errors.Newf("companion timed out after %s", c.timeout())
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return errors.Newf("companion exited with RC=%d\n%s", ee.ExitCode(), tail(out.String(), companionTail))
	}
	return errors.Wrap(err, "companion start")
}

func tail(s string, n int) string {
	rs := []rune(s)
	if len(rs) <= n {
		return s
	}
	return string(rs[len(rs)-n:])
}
