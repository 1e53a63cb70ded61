package history

import (
	"time"

	"github.com/cockroachdb/errors"
)

// DefaultKeep is how many records are kept per task.
const DefaultKeep = 50

var ErrClosed = errors.New("history store closed")

// Config selects and configures the backend.
//
// Driver is "file" (default) or "sqlite".
type Config struct {
	Driver      string
	Path        string
	Keep        int
	BusyTimeout time.Duration // sqlite only
}

func (c Config) keep() int {
	if c.Keep <= 0 {
		return DefaultKeep
	}
	return c.Keep
}

// Record is one completed execution.
type Record struct {
	Timestamp  time.Time `json:"ts"`
	ReturnCode int       `json:"rc"`
	// Duration in seconds.
	Duration float64 `json:"dur"`
}

// OK reports whether the execution exited with code 0.
func (r Record) OK() bool { return r.ReturnCode == 0 }
