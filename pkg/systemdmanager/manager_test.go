package systemdmanager

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

type fakeQuerier struct {
	calls  int
	closed bool
	states map[string]State
	err    error
}

func (f *fakeQuerier) state(_ context.Context, unit string) (State, error) {
	f.calls++
	if f.err != nil {
		return State{}, f.err
	}
	if st, ok := f.states[unit]; ok {
		return st, nil
	}
	return State{Active: "unknown", Load: "not-found"}, nil
}

func (f *fakeQuerier) close() { f.closed = true }

func newFake(q *fakeQuerier, ttl time.Duration) (*Manager, *time.Time) {
	m := newManager(func(context.Context) (querier, error) { return q, nil }, ttl)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }
	return m, &now
}

func TestUnitName(t *testing.T) {
	cases := map[string]string{
		"nginx":         "nginx.service",
		" nginx ":       "nginx.service",
		"backup.timer":  "backup.timer",
		"nginx.service": "nginx.service",
		"odd.":          "odd..service",
	}
	for in, want := range cases {
		if got := UnitName(in); got != want {
			t.Fatalf("UnitName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestStateCachesForTTL(t *testing.T) {
	q := &fakeQuerier{states: map[string]State{"nginx.service": {Active: "active", Load: "loaded", Enabled: true}}}
	m, now := newFake(q, time.Second)

	for i := 0; i < 3; i++ {
		st, err := m.State(context.Background(), "nginx")
		if err != nil {
			t.Fatalf("State: %v", err)
		}
		if st.Active != "active" || !st.Enabled || st.Unit != "nginx.service" {
			t.Fatalf("unexpected state %+v", st)
		}
	}
	if q.calls != 1 {
		t.Fatalf("calls = %d, want 1", q.calls)
	}
	*now = now.Add(2 * time.Second)
	if _, err := m.State(context.Background(), "nginx"); err != nil {
		t.Fatalf("State: %v", err)
	}
	if q.calls != 2 {
		t.Fatalf("calls after expiry = %d, want 2", q.calls)
	}
}

func TestStateNegativeTTLDisablesCache(t *testing.T) {
	q := &fakeQuerier{}
	m, _ := newFake(q, -1)
	for i := 0; i < 2; i++ {
		st, err := m.State(context.Background(), "ghost")
		if err != nil {
			t.Fatalf("State: %v", err)
		}
		if st.Found() {
			t.Fatalf("ghost unit reported as found")
		}
	}
	if q.calls != 2 {
		t.Fatalf("calls = %d, want 2", q.calls)
	}
}

func TestStateErrorsAreNotCached(t *testing.T) {
	q := &fakeQuerier{err: errors.New("timeout")}
	m, _ := newFake(q, time.Minute)
	if _, err := m.State(context.Background(), "nginx"); err == nil {
		t.Fatalf("expected error")
	}
	q.err = nil
	if _, err := m.State(context.Background(), "nginx"); err != nil {
		t.Fatalf("State: %v", err)
	}
	if q.calls != 2 {
		t.Fatalf("calls = %d, want 2", q.calls)
	}
}

func TestDialFailureRetries(t *testing.T) {
	dials := 0
	q := &fakeQuerier{}
	m := newManager(func(context.Context) (querier, error) {
		dials++
		if dials == 1 {
			return nil, ErrUnsupported
		}
		return q, nil
	}, time.Minute)
	if _, err := m.State(context.Background(), "a"); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("err = %v, want ErrUnsupported", err)
	}
	if _, err := m.State(context.Background(), "a"); err != nil {
		t.Fatalf("State: %v", err)
	}
	if dials != 2 {
		t.Fatalf("dials = %d, want 2", dials)
	}
}

func TestPruneKeepsMax(t *testing.T) {
	q := &fakeQuerier{}
	m, now := newFake(q, time.Hour)
	m.max = 4
	for i := 0; i < 10; i++ {
		*now = now.Add(time.Second)
		if _, err := m.State(context.Background(), fmt.Sprintf("u%d", i)); err != nil {
			t.Fatalf("State: %v", err)
		}
	}
	if len(m.cache) > m.max {
		t.Fatalf("cache size = %d, want <= %d", len(m.cache), m.max)
	}
	if _, ok := m.cache["u9.service"]; !ok {
		t.Fatalf("newest entry was pruned")
	}
}

func TestClose(t *testing.T) {
	q := &fakeQuerier{}
	m, _ := newFake(q, time.Minute)
	if _, err := m.State(context.Background(), "a"); err != nil {
		t.Fatalf("State: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !q.closed {
		t.Fatalf("querier not closed")
	}
	if _, err := m.State(context.Background(), "a"); err == nil {
		t.Fatalf("expected error after Close")
	}
}
