package config

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/fsnotify/fsnotify"

	logx "jobvisor/pkg/logx"
)

const (
	reloadDebounce = 250 * time.Millisecond
	retryBase      = 250 * time.Millisecond
	retryMax       = 5 * time.Second
	validateBudget = 5 * time.Second
)

// ConfigManager owns the current configuration and publishes reloads.
type ConfigManager struct {
	path string

	mu  sync.RWMutex
	cfg *Config
	// lastHash is the content hash of the committed config; editors often emit
	// several write events for one save.
	lastHash uint64

	subsMu sync.Mutex
	subs   map[chan *Config]struct{}

	log       logx.Logger
	validator func(ctx context.Context, cfg *Config) error
}

func NewConfigManager(path string) *ConfigManager {
	return &ConfigManager{path: path, subs: map[chan *Config]struct{}{}}
}

func (m *ConfigManager) Path() string { return m.path }

func (m *ConfigManager) SetLogger(log logx.Logger) { m.log = log }

// SetValidator installs a validation hook used by Watch before committing.
func (m *ConfigManager) SetValidator(fn func(ctx context.Context, cfg *Config) error) {
	m.validator = fn
}

// Parse reads and strictly decodes the config file without committing it.
func (m *ConfigManager) Parse() (*Config, error) {
	b, err := os.ReadFile(m.path)
	if err != nil {
		return nil, errors.Wrapf(err, "read config %s", m.path)
	}
	return Decode(m.path, b)
}

// Decode parses data as the format implied by path's extension.
func Decode(path string, data []byte) (*Config, error) {
	jb, format, err := coerceToJSONBytes(path, data)
	if err != nil {
		return nil, err
	}
	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, errors.Wrapf(err, "decode %s config", format)
	}
	// reject trailing tokens (e.g. concatenated JSON)
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return nil, errors.New("invalid config: trailing data")
		}
		return nil, errors.Wrap(err, "invalid config")
	}
	return &cfg, nil
}

func (m *ConfigManager) Commit(cfg *Config) {
	h := hashConfig(cfg)
	m.mu.Lock()
	m.cfg, m.lastHash = cfg, h
	m.mu.Unlock()
}

func (m *ConfigManager) Load() (*Config, error) {
	cfg, err := m.Parse()
	if err == nil {
		m.Commit(cfg)
	}
	return cfg, err
}

func (m *ConfigManager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// Subscribe returns a channel that receives every committed reload and a
// cancel func that closes it. A slow reader only ever misses stale configs:
// the newest one replaces whatever is still queued.
func (m *ConfigManager) Subscribe(buffer int) (<-chan *Config, func()) {
	ch := make(chan *Config, max(buffer, 1))
	m.subsMu.Lock()
	m.subs[ch] = struct{}{}
	m.subsMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.subsMu.Lock()
			delete(m.subs, ch)
			close(ch)
			m.subsMu.Unlock()
		})
	}
}

func (m *ConfigManager) publish(cfg *Config) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for ch := range m.subs {
		for {
			select {
			case ch <- cfg:
			default:
				// Full: discard the oldest queued config and try again.
				select {
				case <-ch:
				default:
				}
				continue
			}
			break
		}
	}
}

// reload parses, validates and commits the file, reporting whether a new
// config went out to subscribers.
func (m *ConfigManager) reload(ctx context.Context) bool {
	log := m.log.With(logx.String("path", m.path))
	cfg, err := m.Parse()
	if err != nil {
		log.Warn("config parse failed", logx.Err(err))
		return false
	}
	h := hashConfig(cfg)
	m.mu.RLock()
	unchanged := h != 0 && h == m.lastHash
	m.mu.RUnlock()
	if unchanged {
		log.Debug("config unchanged")
		return false
	}
	if m.validator != nil {
		vctx, cancel := context.WithTimeout(ctx, validateBudget)
		err = m.validator(vctx, cfg)
		cancel()
		if err != nil {
			log.Warn("config rejected", logx.Err(err))
			return false
		}
	}
	m.Commit(cfg)
	m.publish(cfg)
	log.Info("config reloaded", logx.String("hash", fmt.Sprintf("%016x", h)))
	return true
}

// retryDelay is the jittered wait before watcher attempt n (0-based).
func retryDelay(n int) time.Duration {
	d := retryMax
	if n < 8 {
		d = min(retryBase<<n, retryMax)
	}
	return d + rand.N(d/2+1)
}

// Watch follows the config file's directory and reloads after a quiet period
// following any change to the file. The fsnotify watcher is rebuilt when it
// fails. Watch returns nil once ctx is done.
func (m *ConfigManager) Watch(ctx context.Context) error {
	dir, file := filepath.Dir(m.path), filepath.Base(m.path)
	for attempt := 0; ; attempt++ {
		err := m.watchOnce(ctx, dir, file, func() { attempt = 0 })
		if ctx.Err() != nil {
			return nil
		}
		wait := retryDelay(attempt)
		m.log.Warn("config watcher failed", logx.Err(err), logx.String("dir", dir), logx.Duration("retry_in", wait))
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
}

// watchOnce runs one fsnotify watcher until it breaks or ctx ends. ready is
// called once the directory is being watched.
func (m *ConfigManager) watchOnce(ctx context.Context, dir, file string, ready func()) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "new watcher")
	}
	defer w.Close()
	if err := w.Add(dir); err != nil {
		return errors.Wrapf(err, "watch %s", dir)
	}
	ready()
	m.log.Debug("config watcher started", logx.String("dir", dir), logx.String("file", file))

	quiet := time.NewTimer(time.Hour)
	quiet.Stop()
	defer quiet.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-quiet.C:
			m.reload(ctx)
		case ev, ok := <-w.Events:
			if !ok {
				return errors.New("event channel closed")
			}
			// Editors often replace the file by rename, so match on basename.
			if strings.EqualFold(filepath.Base(ev.Name), file) {
				quiet.Reset(reloadDebounce)
			}
		case err, ok := <-w.Errors:
			switch {
			case !ok:
				return errors.New("error channel closed")
			case errors.Is(err, fsnotify.ErrEventOverflow):
				m.log.Warn("config watch overflow", logx.Err(err))
				quiet.Reset(reloadDebounce)
			case err != nil:
				m.log.Warn("config watch error", logx.Err(err))
			}
		}
	}
}
