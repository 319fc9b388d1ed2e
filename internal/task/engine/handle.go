package engine

import (
	"context"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"tempo/internal/arg"
	"tempo/internal/task"
)

// Handle controls one live run. It satisfies task.Handle.
type Handle struct {
	task  string
	runID string
	mode  task.Execution
	start time.Time

	flag   *arg.Flag
	cancel context.CancelFunc
	done   chan struct{}

	terminated atomic.Bool
	reason     atomic.Value // string

	mu  sync.Mutex
	cmd *exec.Cmd
}

func newHandle(j Job) *Handle {
	return &Handle{
		task:  j.Task,
		runID: j.RunID,
		mode:  j.Mode,
		start: j.Start,
		flag:  arg.NewFlag(),
		done:  make(chan struct{}),
	}
}

// Terminate asks the run to stop. Thread runs see their Flag set, async runs
// see their context canceled, process runs are killed. Main runs cannot be
// interrupted.
func (h *Handle) Terminate(reason string) {
	if !h.terminated.CompareAndSwap(false, true) {
		return
	}
	h.reason.Store(reason)
	h.flag.Set()
	h.mu.Lock()
	cancel, cmd := h.cancel, h.cmd
	h.mu.Unlock()
	switch h.mode {
	case task.Async:
		if cancel != nil {
			cancel()
		}
	case task.Process:
		if cmd != nil && cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
	}
}

// Terminated reports whether termination was requested, and why.
func (h *Handle) Terminated() (bool, string) {
	if !h.terminated.Load() {
		return false, ""
	}
	r, _ := h.reason.Load().(string)
	return true, r
}

func (h *Handle) Alive() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// Done is closed once the terminal record is queued.
func (h *Handle) Done() <-chan struct{} { return h.done }

func (h *Handle) RunID() string { return h.runID }

// setCmd binds a started process. A termination that raced the start kills
// it immediately.
func (h *Handle) setCmd(cmd *exec.Cmd) {
	h.mu.Lock()
	h.cmd = cmd
	h.mu.Unlock()
	if h.terminated.Load() && cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
}

func (h *Handle) live() LiveRun {
	t, _ := h.Terminated()
	return LiveRun{Task: h.task, RunID: h.runID, Mode: h.mode, Started: h.start, Terminated: t}
}
