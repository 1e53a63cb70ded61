package history

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"

	logx "jobvisor/pkg/logx"
)

// Store is the persistence API behind the Recorder.
//
// Append must trim the task's list to the configured bound and be durable
// when it returns.
type Store interface {
	Append(ctx context.Context, task string, r Record) error
	List(ctx context.Context, task string) ([]Record, error)
	Tasks(ctx context.Context) ([]string, error)
	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	switch driver := strings.ToLower(strings.TrimSpace(cfg.Driver)); driver {
	case "", "file", "json":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.Newf("unknown history driver: %s", driver)
	}
}
