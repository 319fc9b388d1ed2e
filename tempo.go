// Package tempo is a condition-driven task scheduler.
//
// Tasks carry a start condition written as a sentence ("daily between 10:00
// and 11:00", "after task 'fetch' succeeded") or built from the cond package.
// Every cycle the scheduler dispatches the tasks whose conditions hold and
// records each run in a log repository that later conditions observe.
//
//	app, _ := tempo.New()
//	app.Task("report", "daily after 07:00", func(ctx context.Context, p tempo.Values) (any, error) {
//		return build(ctx)
//	})
//	_ = app.Run(ctx)
package tempo

import (
	"context"
	"time"

	"tempo/internal/arg"
	"tempo/internal/cond"
	"tempo/internal/eventbus"
	"tempo/internal/session"
	"tempo/internal/storage"
	"tempo/internal/task"
	"tempo/internal/task/scheduler"
	logx "tempo/pkg/logx"
)

type (
	Config    = session.Config
	Session   = session.Session
	Task      = task.Task
	Func      = task.Func
	Command   = task.Command
	Execution = task.Execution
	Condition = cond.Condition
	Params    = arg.Params
	Values    = arg.Values
	Record    = storage.Record
	Snapshot  = scheduler.Snapshot
)

const (
	Main    = task.Main
	Async   = task.Async
	Thread  = task.Thread
	Process = task.Process
)

var (
	ErrInaction         = task.ErrInaction
	ErrTerminated       = task.ErrTerminated
	ErrSchedulerExit    = scheduler.ErrSchedulerExit
	ErrSchedulerRestart = scheduler.ErrSchedulerRestart
)

// DefaultConfig returns the production session options.
func DefaultConfig() Config { return session.DefaultConfig() }

type options struct {
	cfg  Config
	repo storage.Repo
	log  logx.Logger
	bus  eventbus.Bus
}

type Option func(*options)

func WithConfig(cfg Config) Option           { return func(o *options) { o.cfg = cfg } }
func WithRepo(repo storage.Repo) Option      { return func(o *options) { o.repo = repo } }
func WithLogger(log logx.Logger) Option      { return func(o *options) { o.log = log } }
func WithBus(bus eventbus.Bus) Option        { return func(o *options) { o.bus = bus } }
func WithClock(now func() time.Time) Option  { return func(o *options) { o.cfg.TimeFunc = now } }
func WithLocation(loc *time.Location) Option { return func(o *options) { o.cfg.Location = loc } }
func WithShutCond(c Condition) Option        { return func(o *options) { o.cfg.ShutCond = c } }

// App is a session and the scheduler that runs it.
type App struct {
	*session.Session
	sched *scheduler.Scheduler
}

func New(opts ...Option) (*App, error) {
	o := options{cfg: session.DefaultConfig()}
	for _, opt := range opts {
		opt(&o)
	}
	s, err := session.New(o.cfg, o.repo, o.log, o.bus)
	if err != nil {
		return nil, err
	}
	return &App{Session: s, sched: scheduler.New(s, o.log)}, nil
}

// TaskOption adjusts a task declared with App.Task.
type TaskOption func(*task.Task) error

func WithExecution(e Execution) TaskOption {
	return func(t *task.Task) error { t.Execution = e; return nil }
}

func WithPriority(p int) TaskOption {
	return func(t *task.Task) error { t.Priority = p; return nil }
}

func WithParams(p Params) TaskOption {
	return func(t *task.Task) error { t.Params = p; return nil }
}

// WithAccepts names the parameters the body takes from the session.
func WithAccepts(names ...string) TaskOption {
	return func(t *task.Task) error { t.Accepts = names; return nil }
}

func WithTimeout(d time.Duration) TaskOption {
	return func(t *task.Task) error { t.Timeout = d; return nil }
}

// WithMultilaunch allows up to n concurrent runs; 0 uses max_process_count.
func WithMultilaunch(n int) TaskOption {
	return func(t *task.Task) error { t.Multilaunch, t.MaxRuns = true, n; return nil }
}

// OnStartup runs the task once when the scheduler starts.
func OnStartup() TaskOption {
	return func(t *task.Task) error { t.OnStartup = true; return nil }
}

// OnShutdown runs the task once when the scheduler stops.
func OnShutdown() TaskOption {
	return func(t *task.Task) error { t.OnShutdown = true; return nil }
}

// Task declares and registers a function task. start and end are condition
// sentences; end may be empty.
func (a *App) Task(name, start string, fn Func, opts ...TaskOption) (*Task, error) {
	t := &task.Task{Name: name, Func: fn}
	return a.declare(t, start, opts)
}

// Command declares and registers a command task; it runs as a process.
func (a *App) Command(name, start string, cmd Command, opts ...TaskOption) (*Task, error) {
	t := &task.Task{Name: name, Command: &cmd, Execution: task.Process}
	return a.declare(t, start, opts)
}

// EndCond returns a TaskOption setting the end condition from a sentence.
func (a *App) EndCond(v string) TaskOption {
	return func(t *task.Task) error {
		c, err := a.Cond(v)
		if err != nil {
			return err
		}
		t.End = c
		return nil
	}
}

func (a *App) declare(t *task.Task, start string, opts []TaskOption) (*Task, error) {
	if start != "" {
		c, err := a.Cond(start)
		if err != nil {
			return nil, err
		}
		t.Start = c
	}
	for _, opt := range opts {
		if err := opt(t); err != nil {
			return nil, err
		}
	}
	return a.Add(t)
}

// Run runs the scheduler until shut_cond holds, a shutdown is requested or
// ctx ends.
func (a *App) Run(ctx context.Context) error { return a.sched.Run(ctx) }

func (a *App) Snapshot() Snapshot { return a.sched.Snapshot() }

func (a *App) Scheduler() *scheduler.Scheduler { return a.sched }
