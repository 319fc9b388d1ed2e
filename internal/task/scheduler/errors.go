package scheduler

import (
	"context"
	"errors"
	"fmt"

	"tempo/internal/session"
	"tempo/internal/task"
	"tempo/internal/task/engine"
)

var (
	// ErrSchedulerExit asks the scheduler to shut down. Task bodies may
	// return it; Session.ShutDown requests it from any goroutine.
	ErrSchedulerExit = task.ErrSchedulerExit
	// ErrSchedulerRestart asks the scheduler to restart.
	ErrSchedulerRestart = task.ErrSchedulerRestart

	ErrAlreadyRunning = errors.New("scheduler already running")

	errShutCond = errors.New("shut condition met")
)

// PrerunError is a staging failure raised when silence_task_prerun is off.
type PrerunError = engine.PrerunError

// TaskLoggingError reports a record the repository refused.
type TaskLoggingError struct {
	Task   string
	RunID  string
	Action string
	Err    error
}

func (e *TaskLoggingError) Error() string {
	return fmt.Sprintf("task %q run %s: logging %s record: %v", e.Task, e.RunID, e.Action, e.Err)
}

func (e *TaskLoggingError) Unwrap() error { return e.Err }

// CondError is a condition failure raised when silence_cond_check is off.
type CondError struct {
	Task string
	Cond string
	Err  error
}

func (e *CondError) Error() string {
	owner := "shut_cond"
	if e.Task != "" {
		owner = "task " + quote(e.Task)
	}
	return fmt.Sprintf("%s: observing %s: %v", owner, e.Cond, e.Err)
}

func (e *CondError) Unwrap() error { return e.Err }

// RestartError is returned by Run for the replace and relaunch restart
// modes; the caller re-executes or relaunches the program.
type RestartError struct {
	Mode session.Restarting
}

func (e *RestartError) Error() string { return "scheduler restart requested (" + string(e.Mode) + ")" }

func (e *RestartError) Is(target error) bool { return target == ErrSchedulerRestart }

func quote(s string) string { return "'" + s + "'" }

// fatal reports whether a loop exit cause is an error rather than a request.
func fatal(err error) bool {
	switch {
	case err == nil,
		errors.Is(err, errShutCond),
		errors.Is(err, ErrSchedulerExit),
		errors.Is(err, ErrSchedulerRestart),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return false
	}
	return true
}
