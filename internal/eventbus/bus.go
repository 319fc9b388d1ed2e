// Package eventbus fans task lifecycle records out to in-process listeners.
// Publishing never blocks the scheduler: a listener whose buffer is full
// misses the event and the miss is counted.
package eventbus

import (
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"tempo/internal/storage"
)

// TaskPrefix prefixes task event types ("task.run", "task.success"...).
const TaskPrefix = "task."

type Event struct {
	Type string
	Time time.Time
	Data any
}

// TaskEvent wraps a log record; Data is the storage.Record.
func TaskEvent(rec storage.Record) Event {
	return Event{Type: TaskPrefix + string(rec.Action), Time: rec.Created, Data: rec}
}

// Record returns the log record carried by a task event.
func (e Event) Record() (storage.Record, bool) {
	if !strings.HasPrefix(e.Type, TaskPrefix) {
		return storage.Record{}, false
	}
	r, ok := e.Data.(storage.Record)
	return r, ok
}

// Filter selects the events a subscription receives.
type Filter func(Event) bool

// ForTasks keeps task events of the named tasks.
func ForTasks(names ...string) Filter {
	return func(e Event) bool {
		r, ok := e.Record()
		return ok && slices.Contains(names, r.TaskName)
	}
}

// ForActions keeps task events with one of the actions.
func ForActions(actions ...storage.Action) Filter {
	return func(e Event) bool {
		r, ok := e.Record()
		return ok && slices.Contains(actions, r.Action)
	}
}

type Bus interface {
	Publish(e Event)
	// Subscribe registers a listener receiving events that pass every
	// filter. unsubscribe closes the channel and is idempotent.
	Subscribe(buffer int, filters ...Filter) (ch <-chan Event, unsubscribe func())
	// Dropped is the number of deliveries missed because a buffer was full.
	Dropped() uint64
}

func New() Bus { return &bus{} }

type listener struct {
	ch      chan Event
	filters []Filter
	closed  bool
}

func (l *listener) wants(e Event) bool {
	for _, f := range l.filters {
		if !f(e) {
			return false
		}
	}
	return true
}

type bus struct {
	mu        sync.RWMutex
	listeners []*listener
	dropped   atomic.Uint64
}

// Publish holds the read lock while sending; sends never block, and a
// listener is only closed under the write lock.
func (b *bus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, l := range b.listeners {
		if l.closed || !l.wants(e) {
			continue
		}
		select {
		case l.ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

func (b *bus) Subscribe(buffer int, filters ...Filter) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	l := &listener{ch: make(chan Event, buffer), filters: filters}

	b.mu.Lock()
	b.listeners = append(b.listeners, l)
	b.mu.Unlock()

	return l.ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if l.closed {
			return
		}
		l.closed = true
		close(l.ch)
		b.listeners = slices.DeleteFunc(b.listeners, func(x *listener) bool { return x == l })
	}
}

func (b *bus) Dropped() uint64 { return b.dropped.Load() }
