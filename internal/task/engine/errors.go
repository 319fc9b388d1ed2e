package engine

import (
	"errors"
	"fmt"
)

var (
	ErrStopped = errors.New("task engine stopped")
	// ErrNoSlot is returned when every process slot is in use.
	ErrNoSlot = errors.New("no free process slot")
)

// MessagePrerun marks fail records of runs whose parameters could not be
// materialized.
const MessagePrerun = "prerun"

// PrerunError reports a failure to materialize parameters before the body
// ran. The run has already been recorded as failed.
type PrerunError struct {
	Task  string
	RunID string
	Err   error
}

func (e *PrerunError) Error() string {
	return fmt.Sprintf("task %q run %s: prerun: %v", e.Task, e.RunID, e.Err)
}

func (e *PrerunError) Unwrap() error { return e.Err }

// panicError carries a recovered panic from a task body.
type panicError struct {
	value any
	stack string
}

func (e *panicError) Error() string { return fmt.Sprintf("panic: %v", e.value) }
