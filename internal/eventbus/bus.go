package eventbus

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	TaskStarted    = "task.started"
	TaskFinished   = "task.finished"
	TaskFailed     = "task.failed"
	TaskSkipped    = "task.skipped"
	NotifySent     = "notify.sent"
	NotifyFailed   = "notify.failed"
	ConfigReloaded = "config.reloaded"
)

type Event struct {
	Type string
	Time time.Time
	Data any
}

// Bus fans events out to buffered subscribers. Publish never blocks: an event
// for a subscriber whose buffer is full is dropped and counted.
type Bus interface {
	Publish(e Event)
	// Subscribe delivers events whose type equals one of topics or starts with
	// a topic ending in "." (so "task." matches every task event). No topics
	// means everything.
	Subscribe(buffer int, topics ...string) (ch <-chan Event, unsubscribe func())
	Dropped() uint64
}

func New() Bus { return &fanout{} }

type subscriber struct {
	ch     chan Event
	topics []string
}

func (s *subscriber) wants(typ string) bool {
	if len(s.topics) == 0 {
		return true
	}
	for _, t := range s.topics {
		if typ == t || (strings.HasSuffix(t, ".") && strings.HasPrefix(typ, t)) {
			return true
		}
	}
	return false
}

type fanout struct {
	mu      sync.RWMutex
	subs    []*subscriber
	dropped atomic.Uint64
}

func (b *fanout) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		if !s.wants(e.Type) {
			continue
		}
		select {
		case s.ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

func (b *fanout) Subscribe(buffer int, topics ...string) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 16
	}
	s := &subscriber{ch: make(chan Event, buffer), topics: append([]string(nil), topics...)}

	b.mu.Lock()
	b.subs = append(b.subs, s)
	b.mu.Unlock()

	var once sync.Once
	return s.ch, func() {
		once.Do(func() { b.remove(s) })
	}
}

// remove closes under the write lock so no Publish can send on a closed channel.
func (b *fanout) remove(s *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, cur := range b.subs {
		if cur == s {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			break
		}
	}
	close(s.ch)
}

func (b *fanout) Dropped() uint64 { return b.dropped.Load() }
