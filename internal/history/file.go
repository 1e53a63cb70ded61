package history

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gofrs/flock"

	logx "jobvisor/pkg/logx"
)

// lockRetry is how often a blocked Append polls the lock file.
const lockRetry = 20 * time.Millisecond

// fileStore keeps every task's records in one JSON document:
//
//	{"Backup": [{"ts": "...", "rc": 0, "dur": 12.5}, ...], ...}
//
// The daemon and one-shot CLI commands may share the file, so nothing is
// cached: Append holds an exclusive lock on <path>.lock while it re-reads,
// merges, trims and replaces the document through a temp file and rename.
type fileStore struct {
	log  logx.Logger
	path string
	keep int
	lock *flock.Flock

	mu     sync.Mutex
	closed bool
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("history.path is required for file driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "create history dir")
	}
	s := &fileStore{log: log, path: path, keep: cfg.keep(), lock: flock.New(path + ".lock")}
	// Surface an unreadable file now rather than on the first append.
	if err := s.withLock(context.Background(), func() error {
		_, err := s.load()
		return err
	}); err != nil {
		return nil, err
	}
	return s, nil
}

// load reads the document. An unreadable file is moved aside to
// <path>.corrupt and treated as empty.
func (s *fileStore) load() (map[string][]Record, error) {
	data := map[string][]Record{}
	b, err := os.ReadFile(s.path)
	switch {
	case os.IsNotExist(err):
		return data, nil
	case err != nil:
		return nil, errors.Wrap(err, "read history")
	case len(strings.TrimSpace(string(b))) == 0:
		return data, nil
	}
	if err := json.Unmarshal(b, &data); err != nil {
		bad := s.path + ".corrupt"
		_ = os.Rename(s.path, bad)
		s.log.Warn("history file unreadable, starting empty", logx.String("path", s.path), logx.String("moved_to", bad), logx.Err(err))
		return map[string][]Record{}, nil
	}
	return data, nil
}

func (s *fileStore) withLock(ctx context.Context, fn func() error) error {
	ok, err := s.lock.TryLockContext(ctx, lockRetry)
	if err != nil {
		return errors.Wrapf(err, "lock %s", s.lock.Path())
	}
	if !ok {
		return errors.Newf("lock %s: not acquired", s.lock.Path())
	}
	defer func() { _ = s.lock.Unlock() }()
	return fn()
}

func (s *fileStore) Append(ctx context.Context, task string, r Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return s.withLock(ctx, func() error {
		data, err := s.load()
		if err != nil {
			return err
		}
		list := append(data[task], r)
		if len(list) > s.keep {
			list = list[len(list)-s.keep:]
		}
		data[task] = list
		return s.write(data)
	})
}

func (s *fileStore) List(ctx context.Context, task string) ([]Record, error) {
	data, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return data[task], nil
}

func (s *fileStore) Tasks(ctx context.Context) ([]string, error) {
	data, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(data))
	for k := range data {
		names = append(names, k)
	}
	sort.Strings(names)
	return names, nil
}

// snapshot reads without the lock: writers replace the file by rename, so a
// reader always sees one complete document.
func (s *fileStore) snapshot(ctx context.Context) (map[string][]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.load()
}

func (s *fileStore) write(data map[string][]Record) error {
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode history")
	}
	tmp := s.path + ".tmp." + strconv.Itoa(os.Getpid())
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return errors.Wrap(err, "write history")
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return errors.Wrap(err, "replace history")
	}
	return nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
