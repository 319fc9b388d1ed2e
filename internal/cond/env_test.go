package cond

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"tempo/internal/period"
	"tempo/internal/storage"
)

type fakeTask struct {
	name   string
	last   map[storage.Action]time.Time
	status storage.Action
	runs   []time.Time
	period period.Period
}

func (f *fakeTask) Name() string                       { return f.name }
func (f *fakeTask) Last(a storage.Action) time.Time    { return f.last[a] }
func (f *fakeTask) Status() storage.Action             { return f.status }
func (f *fakeTask) RunStarts() []time.Time             { return f.runs }
func (f *fakeTask) Period() period.Period              { return f.period }
func (f *fakeTask) set(a storage.Action, at time.Time) { f.last[a] = at; f.status = a }
func newFakeTask(name string, p period.Period) *fakeTask {
	return &fakeTask{name: name, last: map[storage.Action]time.Time{}, period: p}
}

// countingRepo counts reads so tests can assert the cache answered.
type countingRepo struct {
	storage.Repo
	reads atomic.Int64
}

func (c *countingRepo) Filter(ctx context.Context, q storage.Query) ([]storage.Record, error) {
	c.reads.Add(1)
	return c.Repo.Filter(ctx, q)
}

func (c *countingRepo) Count(ctx context.Context, q storage.Query) (int, error) {
	c.reads.Add(1)
	return c.Repo.Count(ctx, q)
}

type fakeEnv struct {
	now     time.Time
	tasks   map[string]*fakeTask
	repo    *countingRepo
	force   bool
	params  map[string]any
	started time.Time
	cycles  int
}

func newFakeEnv(now time.Time, tasks ...*fakeTask) *fakeEnv {
	e := &fakeEnv{
		now:    now,
		tasks:  map[string]*fakeTask{},
		repo:   &countingRepo{Repo: storage.NewMemory()},
		params: map[string]any{},
	}
	for _, t := range tasks {
		e.tasks[t.name] = t
	}
	return e
}

func (e *fakeEnv) Now() time.Time { return e.now }
func (e *fakeEnv) Task(name string) (TaskView, bool) {
	t, ok := e.tasks[name]
	if !ok {
		return nil, false
	}
	return t, true
}
func (e *fakeEnv) Logs() storage.Repo            { return e.repo }
func (e *fakeEnv) ForceStatusFromLogs() bool     { return e.force }
func (e *fakeEnv) Param(name string) (any, bool) { v, ok := e.params[name]; return v, ok }
func (e *fakeEnv) SchedulerStarted() time.Time   { return e.started }
func (e *fakeEnv) Cycles() int                   { return e.cycles }
func (e *fakeEnv) ctx(task string) *Context      { return &Context{Env: e, Task: task} }

// log appends a record and mirrors it into the task cache like the
// scheduler does when draining.
func (e *fakeEnv) log(t *testing.T, task string, a storage.Action, at time.Time) {
	t.Helper()
	if err := e.repo.Add(context.Background(), storage.Record{TaskName: task, Action: a, Created: at}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	e.tasks[task].set(a, at)
}

func observe(t *testing.T, c Condition, ctx *Context) bool {
	t.Helper()
	ok, err := c.Observe(ctx)
	if err != nil {
		t.Fatalf("%s: Observe error: %v", c, err)
	}
	return ok
}

func at(s string) time.Time {
	t, err := time.ParseInLocation("2006-01-02 15:04", s, time.UTC)
	if err != nil {
		panic(err)
	}
	return t
}
