// Package task holds the task data model: declaration fields, the cached
// status per action and the stack of live runs.
//
// A Task is mutated only by the scheduler goroutine. Workers report through
// log records, which the scheduler applies with Apply.
package task

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"tempo/internal/arg"
	"tempo/internal/cond"
	"tempo/internal/period"
	"tempo/internal/storage"
)

var (
	// ErrInaction makes a run end with an inaction record.
	ErrInaction = errors.New("task inacted")
	// ErrTerminated makes a run end with a terminate record.
	ErrTerminated = errors.New("task terminated")

	// ErrSchedulerExit, returned by a task body, asks the scheduler to shut down.
	ErrSchedulerExit = errors.New("scheduler exit requested")
	// ErrSchedulerRestart, returned by a task body, asks the scheduler to restart.
	ErrSchedulerRestart = errors.New("scheduler restart requested")

	ErrNoBody       = errors.New("task has neither a function nor a command")
	ErrNeedsCommand = errors.New("process execution requires a command task")
)

// Execution selects where a run executes.
type Execution string

const (
	// Main runs the body on the scheduler goroutine.
	Main Execution = "main"
	// Async runs the body on its own goroutine; termination cancels its context.
	Async Execution = "async"
	// Thread runs the body on its own goroutine; termination sets its Flag.
	Thread Execution = "thread"
	// Process runs a command in a child process; termination kills it.
	Process Execution = "process"
)

func ParseExecution(v string) (Execution, error) {
	switch e := Execution(strings.ToLower(strings.TrimSpace(v))); e {
	case Main, Async, Thread, Process:
		return e, nil
	}
	return "", fmt.Errorf("unknown execution %q", v)
}

// Func is a Go task body. The returned value is stored as the task's return
// on success.
type Func func(ctx context.Context, params arg.Values) (any, error)

// Command is a task body executed as a child process. Staged parameters are
// appended as --name=value arguments and stdout becomes the return value.
type Command struct {
	Path string
	Args []string
	Dir  string
	Env  []string
}

func (c *Command) String() string {
	if c == nil {
		return ""
	}
	return strings.TrimSpace(c.Path + " " + strings.Join(c.Args, " "))
}

// Handle controls a live run.
type Handle interface {
	Terminate(reason string)
	Alive() bool
}

// Run is one live dispatch.
type Run struct {
	ID     string
	Start  time.Time
	Handle Handle
	// After runs once the run's terminal record is applied.
	After []func(storage.Record)
}

// Task is a named unit of work.
type Task struct {
	Name      string
	Func      Func
	Command   *Command
	Execution Execution

	Start cond.Condition
	End   cond.Condition

	Params arg.Params
	// Accepts names the parameters the body takes. Nil forwards the task's
	// own Params only.
	Accepts []string

	Priority int
	// Timeout 0 falls back to the session timeout; negative disables it.
	Timeout     time.Duration
	Multilaunch bool
	// MaxRuns caps concurrent runs under multilaunch; 0 uses the session's
	// max process count.
	MaxRuns int
	RunID   RunIDFunc

	Disabled         bool
	ForceRun         bool
	ForceTermination bool
	OnStartup        bool
	OnShutdown       bool

	status storage.Action
	last   map[storage.Action]time.Time
	runs   []*Run
	period period.Period
}

// Validate checks the declaration.
func (t *Task) Validate() error {
	if strings.TrimSpace(t.Name) == "" {
		return errors.New("task name is required")
	}
	if t.Func == nil && t.Command == nil {
		return fmt.Errorf("task %q: %w", t.Name, ErrNoBody)
	}
	if t.Execution == Process && t.Command == nil {
		return fmt.Errorf("task %q: %w", t.Name, ErrNeedsCommand)
	}
	if t.Func == nil && t.Execution != "" && t.Execution != Process {
		return fmt.Errorf("task %q: command tasks run as %s", t.Name, Process)
	}
	if t.Execution != "" {
		if _, err := ParseExecution(string(t.Execution)); err != nil {
			return fmt.Errorf("task %q: %w", t.Name, err)
		}
	}
	if t.MaxRuns < 0 {
		return fmt.Errorf("task %q: max runs must be >= 0", t.Name)
	}
	return nil
}

// SetPeriod fixes the task's own period, derived from its start condition.
func (t *Task) SetPeriod(p period.Period) { t.period = p }

func (t *Task) Period() period.Period { return t.period }

func (t *Task) Status() storage.Action { return t.status }

func (t *Task) Last(a storage.Action) time.Time {
	if t.last == nil {
		return time.Time{}
	}
	return t.last[a]
}

func (t *Task) RunStarts() []time.Time {
	out := make([]time.Time, len(t.runs))
	for i, r := range t.runs {
		out[i] = r.Start
	}
	return out
}

// Runs returns the live runs, oldest first.
func (t *Task) Runs() []*Run { return slices.Clone(t.runs) }

func (t *Task) Running() int { return len(t.runs) }

// Cap is the number of concurrent runs allowed. A multilaunch task is
// bounded by maxProcessCount and, when set, by MaxRuns; maxProcessCount <= 0
// is unbounded.
func (t *Task) Cap(maxProcessCount int) int {
	if !t.Multilaunch {
		return 1
	}
	switch {
	case t.MaxRuns > 0 && maxProcessCount > 0:
		return min(t.MaxRuns, maxProcessCount)
	case t.MaxRuns > 0:
		return t.MaxRuns
	case maxProcessCount > 0:
		return maxProcessCount
	}
	return math.MaxInt
}

// Push records a new live run.
func (t *Task) Push(r *Run) { t.runs = append(t.runs, r) }

// Pop removes the live run with id and returns it.
func (t *Task) Pop(id string) (*Run, bool) {
	i := slices.IndexFunc(t.runs, func(r *Run) bool { return r.ID == id })
	if i < 0 {
		return nil, false
	}
	r := t.runs[i]
	t.runs = slices.Delete(t.runs, i, i+1)
	return r, true
}

// Find returns the live run with id.
func (t *Task) Find(id string) (*Run, bool) {
	i := slices.IndexFunc(t.runs, func(r *Run) bool { return r.ID == id })
	if i < 0 {
		return nil, false
	}
	return t.runs[i], true
}

// Apply updates the cache from a record. Terminal records pop the matching
// run and return it.
func (t *Task) Apply(r storage.Record) (*Run, bool) {
	t.mark(r.Action, r.Created)
	if !r.Action.Terminal() {
		return nil, false
	}
	return t.Pop(r.RunID)
}

// ForceStatus sets the status without a record.
func (t *Task) ForceStatus(a storage.Action, at time.Time) { t.mark(a, at) }

func (t *Task) mark(a storage.Action, at time.Time) {
	if t.last == nil {
		t.last = make(map[storage.Action]time.Time, len(storage.Actions))
	}
	if at.After(t.last[a]) || t.last[a].IsZero() {
		t.last[a] = at
	}
	t.status = a
}

// Reset drops cached status. Live runs are kept.
func (t *Task) Reset() {
	t.status = ""
	t.last = nil
}

// LoadCache rebuilds the cache from the repository.
func (t *Task) LoadCache(ctx context.Context, repo storage.Repo) error {
	t.Reset()
	var (
		latest time.Time
		status storage.Action
	)
	for _, a := range storage.Actions {
		at, ok, err := storage.MaxCreated(ctx, repo, storage.Query{TaskName: t.Name, Actions: []storage.Action{a}})
		if err != nil {
			return fmt.Errorf("task %q: load cache: %w", t.Name, err)
		}
		if !ok {
			continue
		}
		if t.last == nil {
			t.last = make(map[storage.Action]time.Time, len(storage.Actions))
		}
		t.last[a] = at
		if !at.Before(latest) {
			latest, status = at, a
		}
	}
	t.status = status
	return nil
}

// Process reports whether runs cross a process boundary.
func (t *Task) Process() bool { return t.Execution == Process }

// SortByPriority orders tasks by priority, highest first. Equal priorities
// keep their order.
func SortByPriority(ts []*Task) {
	slices.SortStableFunc(ts, func(a, b *Task) int { return cmp.Compare(b.Priority, a.Priority) })
}
