package session

import (
	"slices"

	"tempo/internal/storage"
	"tempo/internal/task"
)

// InitHook runs once when a task is registered.
type InitHook func(t *task.Task) error

// ExecuteHook runs when a task is dispatched. A non-nil return runs once the
// run's terminal record is applied.
type ExecuteHook func(t *task.Task) func(rec storage.Record)

// PhaseHook runs before a scheduler phase. A non-nil after runs once the
// phase body completes. Errors abort the scheduler.
type PhaseHook func(s *Session) (after func() error, err error)

// Hooks are called in registration order.
type Hooks struct {
	TaskInit    []InitHook
	TaskExecute []ExecuteHook
	Startup     []PhaseHook
	Cycle       []PhaseHook
	Shutdown    []PhaseHook
}

func (s *Session) OnTaskInit(h InitHook) {
	s.mu.Lock()
	s.hooks.TaskInit = append(s.hooks.TaskInit, h)
	s.mu.Unlock()
}

func (s *Session) OnTaskExecute(h ExecuteHook) {
	s.mu.Lock()
	s.hooks.TaskExecute = append(s.hooks.TaskExecute, h)
	s.mu.Unlock()
}

func (s *Session) OnStartup(h PhaseHook) {
	s.mu.Lock()
	s.hooks.Startup = append(s.hooks.Startup, h)
	s.mu.Unlock()
}

func (s *Session) OnCycle(h PhaseHook) {
	s.mu.Lock()
	s.hooks.Cycle = append(s.hooks.Cycle, h)
	s.mu.Unlock()
}

func (s *Session) OnShutdown(h PhaseHook) {
	s.mu.Lock()
	s.hooks.Shutdown = append(s.hooks.Shutdown, h)
	s.mu.Unlock()
}

// Hooks returns a copy of the registered hooks.
func (s *Session) Hooks() Hooks {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Hooks{
		TaskInit:    slices.Clone(s.hooks.TaskInit),
		TaskExecute: slices.Clone(s.hooks.TaskExecute),
		Startup:     slices.Clone(s.hooks.Startup),
		Cycle:       slices.Clone(s.hooks.Cycle),
		Shutdown:    slices.Clone(s.hooks.Shutdown),
	}
}
