// Package session is the container a scheduler runs: the task registry,
// shared parameters, task returns, options, hooks and the condition parser.
//
// A Session is the condition environment (cond.Env) for every observation.
package session

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"tempo/internal/arg"
	"tempo/internal/cond"
	"tempo/internal/eventbus"
	"tempo/internal/storage"
	"tempo/internal/task"
	logx "tempo/pkg/logx"
)

var ErrTaskExists = errors.New("task already exists")

// Session owns tasks, parameters and returns.
type Session struct {
	mu      sync.RWMutex
	cfg     Config
	pending *Config

	log    logx.Logger
	repo   storage.Repo
	bus    eventbus.Bus
	parser *cond.Parser

	tasks   map[string]*task.Task
	order   []*task.Task
	params  arg.Params
	returns map[string]any
	hooks   Hooks

	started time.Time
	cycles  int

	ctlMu   sync.Mutex
	request error
}

// New builds a session. A nil repo keeps logs in memory; a nil bus drops
// events.
func New(cfg Config, repo storage.Repo, log logx.Logger, bus eventbus.Bus) (*Session, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if repo == nil {
		repo = storage.NewMemory()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.New()
	}
	return &Session{
		cfg:     cfg,
		log:     log,
		repo:    repo,
		bus:     bus,
		parser:  cond.NewParser(cfg.Location),
		tasks:   map[string]*task.Task{},
		params:  arg.Params{},
		returns: map[string]any{},
	}, nil
}

func (s *Session) Log() logx.Logger     { return s.log }
func (s *Session) Repo() storage.Repo   { return s.repo }
func (s *Session) Bus() eventbus.Bus    { return s.bus }
func (s *Session) Parser() *cond.Parser { return s.parser }
func (s *Session) Location() *time.Location {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Location
}

func (s *Session) Config() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Apply validates cfg and queues it; the scheduler commits it at the next
// cycle boundary.
func (s *Session) Apply(cfg Config) error {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return err
	}
	s.mu.Lock()
	s.pending = &cfg
	s.mu.Unlock()
	return nil
}

// TakePending returns and clears the queued config.
func (s *Session) TakePending() (Config, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		return Config{}, false
	}
	c := *s.pending
	s.pending = nil
	return c, true
}

// Commit replaces the active config.
func (s *Session) Commit(cfg Config) {
	s.mu.Lock()
	s.cfg = cfg
	s.parser.Location = cfg.Location
	s.mu.Unlock()
}

// Cond parses a condition string with the session parser.
func (s *Session) Cond(v string) (cond.Condition, error) { return s.parser.Parse(v) }

// ---- tasks ----

// Add registers t, applying session defaults. Name collisions follow the
// task_pre_exist policy. The returned task is the one registered.
func (s *Session) Add(t *task.Task) (*task.Task, error) {
	if t == nil {
		return nil, errors.New("nil task")
	}
	t.Name = strings.TrimSpace(t.Name)

	s.mu.Lock()
	cfg := s.cfg
	s.applyDefaults(t, cfg)
	if err := t.Validate(); err != nil {
		s.mu.Unlock()
		return nil, err
	}

	if old, ok := s.tasks[t.Name]; ok {
		switch cfg.TaskPreExist {
		case ExistsIgnore:
			s.mu.Unlock()
			return old, nil
		case ExistsReplace:
			i := slices.Index(s.order, old)
			s.order[i] = t
			s.tasks[t.Name] = t
		case ExistsRename:
			base := t.Name
			for n := 1; ; n++ {
				name := fmt.Sprintf("%s - %d", base, n)
				if _, taken := s.tasks[name]; !taken {
					t.Name = name
					break
				}
			}
			s.insertLocked(t)
		default:
			s.mu.Unlock()
			return nil, fmt.Errorf("%w: %q", ErrTaskExists, t.Name)
		}
	} else {
		s.insertLocked(t)
	}
	hooks := slices.Clone(s.hooks.TaskInit)
	s.mu.Unlock()

	for _, h := range hooks {
		if err := h(t); err != nil {
			s.Remove(t.Name)
			return nil, fmt.Errorf("task %q init hook: %w", t.Name, err)
		}
	}
	s.log.Debug("task registered", logx.String("task", t.Name), logx.String("execution", string(t.Execution)), logx.Int("priority", t.Priority))
	return t, nil
}

func (s *Session) insertLocked(t *task.Task) {
	s.tasks[t.Name] = t
	s.order = append(s.order, t)
}

func (s *Session) applyDefaults(t *task.Task, cfg Config) {
	if t.Execution == "" {
		switch {
		case t.Func == nil && t.Command != nil:
			t.Execution = task.Process
		case cfg.TaskExecution == task.Process:
			t.Execution = task.Thread
		default:
			t.Execution = cfg.TaskExecution
		}
	}
	if t.Priority == 0 {
		t.Priority = cfg.TaskPriority
	}
	if cfg.Multilaunch {
		t.Multilaunch = true
	}
	if t.RunID == nil {
		t.RunID = cfg.RunID
	}
	if t.Start == nil {
		t.Start = cond.False
	}
	if t.End == nil {
		t.End = cond.False
	}
	t.SetPeriod(cond.PeriodOf(t.Start))
}

// Remove unregisters a task.
func (s *Session) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[name]
	if !ok {
		return false
	}
	delete(s.tasks, name)
	s.order = slices.DeleteFunc(s.order, func(x *task.Task) bool { return x == t })
	return true
}

// Get returns a registered task.
func (s *Session) Get(name string) (*task.Task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[name]
	return t, ok
}

// Tasks returns the tasks in dispatch order: priority descending, then
// registration order.
func (s *Session) Tasks() []*task.Task {
	s.mu.RLock()
	out := slices.Clone(s.order)
	s.mu.RUnlock()
	task.SortByPriority(out)
	return out
}

// Check reports conditions that name unregistered tasks.
func (s *Session) Check() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var errs []error
	check := func(owner, what string, c cond.Condition) {
		for _, name := range cond.TaskRefs(c) {
			if _, ok := s.tasks[name]; !ok {
				errs = append(errs, fmt.Errorf("%s %s: %w", owner, what, &cond.UnknownTaskError{Name: name}))
			}
		}
	}
	for _, t := range s.order {
		check("task "+quote(t.Name), "start_cond", t.Start)
		check("task "+quote(t.Name), "end_cond", t.End)
	}
	check("session", "shut_cond", s.cfg.ShutCond)
	return errors.Join(errs...)
}

func quote(s string) string { return "'" + s + "'" }

// ---- parameters and returns ----

// SetParam sets a session parameter. Values that are not arguments are
// wrapped as literals.
func (s *Session) SetParam(name string, v any) {
	a, ok := v.(arg.Argument)
	if !ok {
		a = arg.Value{V: v}
	}
	s.mu.Lock()
	s.params[name] = a
	s.mu.Unlock()
}

// Arg returns the session parameter as an argument.
func (s *Session) Arg(name string) (arg.Argument, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.params[name]
	return a, ok
}

func (s *Session) HasParam(name string) bool {
	_, ok := s.Arg(name)
	return ok
}

// Param returns the literal value of a parameter, or the argument itself
// when it is resolved at dispatch.
func (s *Session) Param(name string) (any, bool) {
	a, ok := s.Arg(name)
	if !ok {
		return nil, false
	}
	switch v := a.(type) {
	case arg.Value:
		return v.V, true
	case arg.Private:
		return v.V, true
	}
	return a, true
}

func (s *Session) SetReturn(taskName string, v any) {
	s.mu.Lock()
	s.returns[taskName] = v
	s.mu.Unlock()
}

func (s *Session) Return(taskName string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.returns[taskName]
	return v, ok
}

// ---- cond.Env ----

func (s *Session) Now() time.Time {
	s.mu.RLock()
	fn, loc := s.cfg.TimeFunc, s.cfg.Location
	s.mu.RUnlock()
	return fn().In(loc)
}

func (s *Session) Task(name string) (cond.TaskView, bool) {
	t, ok := s.Get(name)
	if !ok {
		return nil, false
	}
	return taskView{t}, true
}

type taskView struct{ *task.Task }

func (v taskView) Name() string { return v.Task.Name }

func (s *Session) Logs() storage.Repo { return s.repo }

func (s *Session) ForceStatusFromLogs() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.ForceStatusFromLogs
}

func (s *Session) SchedulerStarted() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.started
}

func (s *Session) Cycles() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cycles
}

// MarkStarted records the scheduler start time.
func (s *Session) MarkStarted(at time.Time) {
	s.mu.Lock()
	s.started = at
	s.mu.Unlock()
}

// AddCycle counts a completed cycle.
func (s *Session) AddCycle() {
	s.mu.Lock()
	s.cycles++
	s.mu.Unlock()
}

func (s *Session) ResetCycles() {
	s.mu.Lock()
	s.cycles = 0
	s.mu.Unlock()
}

// ---- control ----

// ShutDown asks the scheduler to exit at the next cycle boundary.
func (s *Session) ShutDown() { s.Request(task.ErrSchedulerExit) }

// Restart asks the scheduler to restart at the next cycle boundary.
func (s *Session) Restart() { s.Request(task.ErrSchedulerRestart) }

// Request records a control request. An exit request is never replaced by a
// restart request.
func (s *Session) Request(err error) {
	s.ctlMu.Lock()
	defer s.ctlMu.Unlock()
	if errors.Is(s.request, task.ErrSchedulerExit) {
		return
	}
	s.request = err
}

// TakeRequest returns and clears the pending control request.
func (s *Session) TakeRequest() error {
	s.ctlMu.Lock()
	defer s.ctlMu.Unlock()
	err := s.request
	s.request = nil
	return err
}
