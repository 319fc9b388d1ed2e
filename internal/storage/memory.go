package storage

import (
	"context"
	"slices"
	"sync"
)

// Memory keeps records in process memory.
type Memory struct {
	mu      sync.RWMutex
	records []Record
	closed  bool
}

func NewMemory() *Memory { return &Memory{} }

func (m *Memory) Add(ctx context.Context, r Record) error {
	_ = ctx
	if err := r.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.appendLocked(r)
	return nil
}

// appendLocked keeps records ordered by Created; equal timestamps keep
// insertion order.
func (m *Memory) appendLocked(r Record) {
	i := len(m.records)
	for i > 0 && m.records[i-1].Created.After(r.Created) {
		i--
	}
	m.records = slices.Insert(m.records, i, r)
}

func (m *Memory) Filter(ctx context.Context, q Query) ([]Record, error) {
	_ = ctx
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	return filterSorted(m.records, q), nil
}

func (m *Memory) Count(ctx context.Context, q Query) (int, error) {
	_ = ctx
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return 0, ErrClosed
	}
	n := 0
	for _, r := range m.records {
		if q.Match(r) {
			n++
		}
	}
	if q.Limit > 0 && n > q.Limit {
		n = q.Limit
	}
	return n, nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// Len returns the number of stored records.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

func filterSorted(recs []Record, q Query) []Record {
	out := make([]Record, 0)
	if q.Desc {
		for i := len(recs) - 1; i >= 0; i-- {
			if q.Match(recs[i]) {
				out = append(out, recs[i])
				if q.Limit > 0 && len(out) >= q.Limit {
					break
				}
			}
		}
		return out
	}
	for _, r := range recs {
		if q.Match(r) {
			out = append(out, r)
			if q.Limit > 0 && len(out) >= q.Limit {
				break
			}
		}
	}
	return out
}
