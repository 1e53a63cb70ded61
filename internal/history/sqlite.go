package history

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	_ "modernc.org/sqlite"

	logx "jobvisor/pkg/logx"
)

//go:embed migrations.sql
var migrations string

type sqliteStore struct {
	db   *sql.DB
	log  logx.Logger
	keep int
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("history.path is required for sqlite driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "create history dir")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	// One writer; the Recorder serializes appends anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.ExecContext(context.Background(), migrations); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "migrate history schema")
	}
	return &sqliteStore{db: db, log: log, keep: cfg.keep()}, nil
}

func (s *sqliteStore) Append(ctx context.Context, task string, r Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO history(task, ts, rc, dur) VALUES(?,?,?,?)`,
		task, r.Timestamp.Format(time.RFC3339Nano), r.ReturnCode, r.Duration,
	); err != nil {
		return errors.Wrap(err, "insert history")
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM history WHERE task = ? AND id NOT IN (
		   SELECT id FROM history WHERE task = ? ORDER BY id DESC LIMIT ?)`,
		task, task, s.keep,
	); err != nil {
		return errors.Wrap(err, "trim history")
	}
	return errors.Wrap(tx.Commit(), "commit history")
}

func (s *sqliteStore) List(ctx context.Context, task string) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT ts, rc, dur FROM history WHERE task = ? ORDER BY id ASC`, task)
	if err != nil {
		return nil, errors.Wrap(err, "query history")
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			ts  string
			rec Record
		)
		if err := rows.Scan(&ts, &rec.ReturnCode, &rec.Duration); err != nil {
			return nil, errors.Wrap(err, "scan history")
		}
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			rec.Timestamp = t
		} else {
			s.log.Debug("bad history timestamp", logx.String("task", task), logx.String("ts", ts))
		}
		out = append(out, rec)
	}
	return out, errors.Wrap(rows.Err(), "iterate history")
}

func (s *sqliteStore) Tasks(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT task FROM history ORDER BY task`)
	if err != nil {
		return nil, errors.Wrap(err, "query tasks")
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, errors.Wrap(err, "scan task")
		}
		out = append(out, name)
	}
	return out, errors.Wrap(rows.Err(), "iterate tasks")
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
