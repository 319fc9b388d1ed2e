package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime/debug"
	"slices"
	"strings"
	"time"

	"tempo/internal/arg"
	"tempo/internal/storage"
	"tempo/internal/task"
	logx "tempo/pkg/logx"
)

// outcome is what a worker reports for a finished run.
type outcome struct {
	action  storage.Action
	ret     any
	message string
	exc     string
}

// runFunc materializes parameters and calls the Go body. A panic outside the
// body is recorded as a crash; a panic inside it as a fail.
func (s *Service) runFunc(ctx context.Context, h *Handle, j Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.finish(h, j, outcome{action: storage.ActionCrash, exc: fmt.Sprintf("panic: %v\n%s", r, debug.Stack())})
			err = fmt.Errorf("task %q: worker panic: %v", j.Task, r)
		}
	}()

	vals, err := j.Params.Values(ctx)
	if err != nil {
		s.finish(h, j, outcome{action: storage.ActionFail, exc: err.Error(), message: MessagePrerun})
		return &PrerunError{Task: j.Task, RunID: j.RunID, Err: err}
	}

	out, err := callBody(ctx, j, vals)
	s.finish(h, j, s.classify(h, out, err))
	return nil
}

func callBody(ctx context.Context, j Job, vals arg.Values) (out any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{value: r, stack: string(debug.Stack())}
		}
	}()
	return j.Func(ctx, vals)
}

func (s *Service) classify(h *Handle, out any, err error) outcome {
	if t, reason := h.Terminated(); t {
		return outcome{action: storage.ActionTerminate, message: reason}
	}
	var pe *panicError
	switch {
	case err == nil:
		return outcome{action: storage.ActionSuccess, ret: out}
	case errors.Is(err, task.ErrSchedulerExit), errors.Is(err, task.ErrSchedulerRestart):
		s.control(err)
		return outcome{action: storage.ActionSuccess, ret: out, message: err.Error()}
	case errors.Is(err, task.ErrInaction):
		return outcome{action: storage.ActionInaction, message: err.Error()}
	case errors.Is(err, task.ErrTerminated):
		return outcome{action: storage.ActionTerminate, message: err.Error()}
	case errors.As(err, &pe):
		return outcome{action: storage.ActionFail, exc: pe.Error() + "\n" + pe.stack}
	}
	return outcome{action: storage.ActionFail, exc: err.Error()}
}

// runProcess runs a command task. Staged parameters become --name=value
// arguments; trimmed stdout is the return value, decoded as JSON when valid.
func (s *Service) runProcess(ctx context.Context, h *Handle, j Job) {
	defer func() {
		if r := recover(); r != nil {
			s.finish(h, j, outcome{action: storage.ActionCrash, exc: fmt.Sprintf("panic: %v\n%s", r, debug.Stack())})
		}
	}()

	vals, err := j.Params.Values(ctx)
	if err != nil {
		s.finish(h, j, outcome{action: storage.ActionFail, exc: err.Error(), message: MessagePrerun})
		return
	}

	args := append(slices.Clone(j.Command.Args), vals.CommandArgs()...)
	cmd := exec.Command(j.Command.Path, args...)
	cmd.Dir = j.Command.Dir
	if len(j.Command.Env) > 0 {
		cmd.Env = append(os.Environ(), j.Command.Env...)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout, cmd.Stderr = &stdout, &stderr

	if err := cmd.Start(); err != nil {
		s.finish(h, j, outcome{action: storage.ActionFail, exc: err.Error()})
		return
	}
	h.setCmd(cmd)
	s.log.Debug("process started", logx.String("task", j.Task), logx.String("run_id", j.RunID), logx.Int("pid", cmd.Process.Pid))

	err = cmd.Wait()
	if t, reason := h.Terminated(); t {
		s.finish(h, j, outcome{action: storage.ActionTerminate, message: reason})
		return
	}
	if err != nil {
		exc := strings.TrimSpace(stderr.String())
		if exc == "" {
			exc = err.Error()
		} else {
			exc = err.Error() + ": " + exc
		}
		s.finish(h, j, outcome{action: storage.ActionFail, exc: exc})
		return
	}
	s.finish(h, j, outcome{action: storage.ActionSuccess, ret: decodeOutput(stdout.Bytes())})
}

func decodeOutput(b []byte) any {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return nil
	}
	if json.Valid(b) {
		var v any
		if err := json.Unmarshal(b, &v); err == nil {
			return v
		}
	}
	return string(b)
}

// finish queues the terminal record once per run.
func (s *Service) finish(h *Handle, j Job, o outcome) {
	select {
	case <-h.done:
		return
	default:
	}
	end := s.now()
	rec := storage.Record{
		TaskName: j.Task,
		Action:   o.action,
		Created:  end,
		RunID:    j.RunID,
		Start:    j.Start,
		End:      end,
		Runtime:  max(end.Sub(j.Start), 0),
		ExcText:  o.exc,
		Message:  o.message,
	}
	if o.action == storage.ActionSuccess {
		rec.Return = o.ret
	}
	s.queue.push(rec)
	s.untrack(h)
	close(h.done)

	item := HistoryItem{Task: j.Task, RunID: j.RunID, Mode: j.Mode, Action: o.action, Started: j.Start, Duration: rec.Runtime}
	switch o.action {
	case storage.ActionFail, storage.ActionCrash:
		item.Error = firstLine(o.exc)
		s.log.Warn("run."+string(o.action), logx.String("task", j.Task), logx.String("run_id", j.RunID), logx.String("err", item.Error), logx.Duration("dur", rec.Runtime))
	default:
		if rec.Runtime >= 750*time.Millisecond {
			s.log.Info("run."+string(o.action), logx.String("task", j.Task), logx.String("run_id", j.RunID), logx.Duration("dur", rec.Runtime))
		} else {
			s.log.Debug("run."+string(o.action), logx.String("task", j.Task), logx.String("run_id", j.RunID), logx.Duration("dur", rec.Runtime))
		}
	}
	s.remember(item)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
