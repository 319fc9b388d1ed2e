// Package systemdmanager answers systemd unit state queries over D-Bus.
package systemdmanager

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"
)

var ErrUnsupported = errors.New("systemdmanager: unsupported OS (linux only)")

const (
	defaultCacheTTL = 5 * time.Second
	defaultCacheMax = 512
)

// State is a unit's state as systemd reports it.
type State struct {
	Unit    string `json:"unit"`
	Active  string `json:"active"` // active, inactive, failed, activating, ...
	Sub     string `json:"sub"`    // running, dead, exited, ...
	Load    string `json:"load"`   // loaded, not-found, ...
	Enabled bool   `json:"enabled"`
}

// Found reports whether systemd knows the unit.
func (s State) Found() bool { return s.Load != "" && s.Load != "not-found" }

type querier interface {
	state(ctx context.Context, unit string) (State, error)
	close()
}

type cacheEntry struct {
	st      State
	expires time.Time
}

// Manager looks up unit states. The D-Bus connection is opened on first use
// and answers are cached for the TTL.
type Manager struct {
	mu    sync.Mutex
	q     querier
	dial  func(ctx context.Context) (querier, error)
	now   func() time.Time
	ttl   time.Duration
	max   int
	cache map[string]cacheEntry
}

// New returns a manager on the system bus. ttl == 0 uses the default;
// ttl < 0 disables caching.
func New(ttl time.Duration) *Manager {
	return newManager(dialSystem, ttl)
}

func newManager(dial func(ctx context.Context) (querier, error), ttl time.Duration) *Manager {
	if ttl == 0 {
		ttl = defaultCacheTTL
	}
	return &Manager{
		dial:  dial,
		now:   time.Now,
		ttl:   ttl,
		max:   defaultCacheMax,
		cache: map[string]cacheEntry{},
	}
}

// UnitName appends ".service" to names without a unit suffix.
func UnitName(name string) string {
	name = strings.TrimSpace(name)
	if i := strings.LastIndexByte(name, '.'); i > 0 && i < len(name)-1 {
		return name
	}
	return name + ".service"
}

// State returns the state of unit, from cache when fresh.
func (m *Manager) State(ctx context.Context, unit string) (State, error) {
	unit = UnitName(unit)
	now := m.now()

	m.mu.Lock()
	if m.cache == nil {
		m.mu.Unlock()
		return State{}, errors.New("systemdmanager: closed")
	}
	if ent, ok := m.cache[unit]; ok && now.Before(ent.expires) {
		m.mu.Unlock()
		return ent.st, nil
	}
	q := m.q
	m.mu.Unlock()

	if q == nil {
		nq, err := m.dial(ctx)
		if err != nil {
			return State{}, err
		}
		m.mu.Lock()
		if m.q == nil {
			m.q = nq
		} else {
			nq.close()
		}
		q = m.q
		m.mu.Unlock()
	}

	st, err := q.state(ctx, unit)
	if err != nil {
		// Failures are not cached; D-Bus timeouts can be transient.
		return State{}, err
	}
	st.Unit = unit

	if m.ttl > 0 {
		m.mu.Lock()
		if m.cache != nil {
			m.cache[unit] = cacheEntry{st: st, expires: now.Add(m.ttl)}
			if len(m.cache) > m.max {
				m.pruneLocked(now)
			}
		}
		m.mu.Unlock()
	}
	return st, nil
}

func (m *Manager) pruneLocked(now time.Time) {
	for k, ent := range m.cache {
		if now.After(ent.expires) {
			delete(m.cache, k)
		}
	}
	if len(m.cache) <= m.max {
		return
	}
	// Still too large: drop the entries closest to expiry.
	type kv struct {
		k string
		e time.Time
	}
	items := make([]kv, 0, len(m.cache))
	for k, ent := range m.cache {
		items = append(items, kv{k: k, e: ent.expires})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].e.Before(items[j].e) })
	for i := 0; i < len(items)-m.max; i++ {
		delete(m.cache, items[i].k)
	}
}

// Close drops the connection and the cache.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.q != nil {
		m.q.close()
		m.q = nil
	}
	m.cache = nil
	return nil
}
