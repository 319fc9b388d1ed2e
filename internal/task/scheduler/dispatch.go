package scheduler

import (
	"context"
	"errors"

	"tempo/internal/arg"
	"tempo/internal/cond"
	"tempo/internal/eventbus"
	"tempo/internal/session"
	"tempo/internal/storage"
	"tempo/internal/task"
	"tempo/internal/task/engine"
	logx "tempo/pkg/logx"
)

// isRunnable: not disabled (or forced), below the run cap, a process slot is
// free for process tasks, and start_cond holds. ForceRun skips start_cond but
// waits for the cap.
func (sc *Scheduler) isRunnable(ctx context.Context, t *task.Task) (bool, error) {
	if t.Disabled && !t.ForceRun {
		return false, nil
	}
	if t.Running() >= t.Cap(sc.s.Config().MaxProcessCount) {
		return false, nil
	}
	if t.Process() && sc.eng.FreeProcessSlots() == 0 {
		return false, nil
	}
	if t.ForceRun {
		return true, nil
	}
	return sc.observe(ctx, t.Start, t)
}

// observe evaluates c. Errors count as false when silence_cond_check is on.
func (sc *Scheduler) observe(ctx context.Context, c cond.Condition, t *task.Task) (bool, error) {
	if c == nil {
		return false, nil
	}
	cc := &cond.Context{Ctx: ctx, Env: sc.s}
	if t != nil {
		cc.Task = t.Name
	}
	ok, err := c.Observe(cc)
	if err == nil {
		return ok, nil
	}
	ce := &CondError{Task: cc.Task, Cond: c.String(), Err: err}
	if sc.s.Config().SilenceCondCheck {
		sc.warn("cond:"+cc.Task, "condition failed", logx.String("task", cc.Task), logx.String("cond", ce.Cond), logx.Any("err", err))
		return false, nil
	}
	return false, ce
}

// stageEnv is what arguments see while staging for one dispatch.
type stageEnv struct {
	s *session.Session
	t *task.Task
}

func (e stageEnv) Param(name string) (arg.Argument, bool) { return e.s.Arg(name) }
func (e stageEnv) Return(name string) (any, bool)         { return e.s.Return(name) }
func (e stageEnv) TaskHandle() any                        { return e.t }
func (e stageEnv) SessionHandle() any                     { return e.s }
func (e stageEnv) Process() bool                          { return e.t.Process() }

// dispatch writes the run record, stages arguments and hands the run to the
// engine. Main runs finish before dispatch returns and are drained at once.
func (sc *Scheduler) dispatch(ctx context.Context, t *task.Task) error {
	cfg := sc.s.Config()
	start := sc.s.Now()
	runID := t.RunID(t, t.Params)

	rec := storage.Record{TaskName: t.Name, Action: storage.ActionRun, Created: start, RunID: runID, Start: start}
	if err := sc.s.Repo().Add(ctx, rec); err != nil {
		return &TaskLoggingError{Task: t.Name, RunID: runID, Action: string(rec.Action), Err: err}
	}
	t.Apply(rec)
	run := &task.Run{ID: runID, Start: start}
	t.Push(run)
	t.ForceRun = false
	sc.publish(rec)
	sc.log.Debug("task.dispatched", logx.String("task", t.Name), logx.String("run_id", runID), logx.String("execution", string(t.Execution)))

	params, err := arg.Resolve(t.Accepts, t.Params, sc.s.HasParam)
	if err == nil {
		params, err = params.Stage(stageEnv{s: sc.s, t: t})
	}
	if err != nil {
		return sc.prerunFailed(ctx, t, run, err, cfg.SilenceTaskPrerun)
	}

	for _, h := range sc.s.Hooks().TaskExecute {
		if after := h(t); after != nil {
			run.After = append(run.After, after)
		}
	}

	job := engine.Job{
		Task:    t.Name,
		RunID:   runID,
		Mode:    t.Execution,
		Func:    t.Func,
		Command: t.Command,
		Params:  params,
		Start:   start,
	}
	h, err := sc.eng.Dispatch(ctx, job)
	if h != nil {
		run.Handle = h
	}
	var pe *engine.PrerunError
	switch {
	case errors.As(err, &pe):
		// The engine queued the fail record already.
		if derr := sc.drain(ctx); derr != nil && !errors.As(derr, new(*PrerunError)) {
			return derr
		}
		if !cfg.SilenceTaskPrerun {
			return err
		}
		return nil
	case err != nil:
		return sc.prerunFailed(ctx, t, run, err, cfg.SilenceTaskPrerun)
	}
	if t.Execution == task.Main {
		return sc.drain(ctx)
	}
	return nil
}

// prerunFailed closes a run that never reached its body.
func (sc *Scheduler) prerunFailed(ctx context.Context, t *task.Task, run *task.Run, cause error, silence bool) error {
	now := sc.s.Now()
	rec := storage.Record{
		TaskName: t.Name,
		Action:   storage.ActionFail,
		Created:  now,
		RunID:    run.ID,
		Start:    run.Start,
		End:      now,
		Runtime:  max(now.Sub(run.Start), 0),
		ExcText:  cause.Error(),
		Message:  engine.MessagePrerun,
	}
	sc.log.Warn("task prerun failed", logx.String("task", t.Name), logx.String("run_id", run.ID), logx.Any("err", cause))
	if err := sc.apply(ctx, rec); err != nil {
		return err
	}
	if !silence {
		return &PrerunError{Task: t.Name, RunID: run.ID, Err: cause}
	}
	return nil
}

// checkTermination terminates live runs past their timeout and, when
// checkEnd is set, all live runs once end_cond holds or force_termination is
// set.
func (sc *Scheduler) checkTermination(ctx context.Context, t *task.Task, checkEnd bool) error {
	runs := t.Runs()
	if len(runs) == 0 {
		return nil
	}
	reason := ""
	if checkEnd {
		if t.ForceTermination {
			reason = "force_termination"
			t.ForceTermination = false
		} else {
			end, err := sc.observe(ctx, t.End, t)
			if err != nil {
				return err
			}
			if end {
				reason = "end_cond"
			}
		}
	}

	timeout := t.Timeout
	if timeout == 0 {
		timeout = sc.s.Config().Timeout
	}
	now := sc.s.Now()
	for _, r := range runs {
		why := reason
		if why == "" && timeout > 0 && now.Sub(r.Start) > timeout {
			why = "timeout"
		}
		if why == "" || r.Handle == nil {
			continue
		}
		if eh, ok := r.Handle.(*engine.Handle); ok {
			if done, _ := eh.Terminated(); done {
				continue
			}
		}
		sc.log.Info("task.terminating", logx.String("task", t.Name), logx.String("run_id", r.ID), logx.String("reason", why))
		r.Handle.Terminate(why)
	}
	return nil
}

// drain applies every record the engine queued since the last drain. A
// worker-side prerun failure is raised after the batch unless
// silence_task_prerun is set.
func (sc *Scheduler) drain(ctx context.Context) error {
	var prerr error
	for _, rec := range sc.eng.Drain() {
		if err := sc.apply(ctx, rec); err != nil {
			return err
		}
		if prerr == nil && rec.Action == storage.ActionFail && rec.Message == engine.MessagePrerun && !sc.s.Config().SilenceTaskPrerun {
			prerr = &PrerunError{Task: rec.TaskName, RunID: rec.RunID, Err: errors.New(rec.ExcText)}
		}
	}
	return prerr
}

// apply stores a terminal record and updates the task. When the repository
// refuses it the run is closed as fail anyway.
func (sc *Scheduler) apply(ctx context.Context, rec storage.Record) error {
	t, known := sc.s.Get(rec.TaskName)
	if err := sc.s.Repo().Add(ctx, rec); err != nil {
		sc.log.Error("task record not stored", logx.String("task", rec.TaskName), logx.String("run_id", rec.RunID), logx.String("action", string(rec.Action)), logx.Any("err", err))
		if known {
			t.Pop(rec.RunID)
			t.ForceStatus(storage.ActionFail, rec.Created)
		}
		if !sc.s.Config().SilenceTaskLogging {
			return &TaskLoggingError{Task: rec.TaskName, RunID: rec.RunID, Action: string(rec.Action), Err: err}
		}
		return nil
	}
	sc.publish(rec)
	if !known {
		return nil
	}
	run, _ := t.Apply(rec)
	if rec.Action == storage.ActionSuccess {
		sc.s.SetReturn(t.Name, rec.Return)
	}
	if run != nil {
		for _, f := range run.After {
			f(rec)
		}
	}
	return nil
}

func (sc *Scheduler) publish(rec storage.Record) {
	sc.s.Bus().Publish(eventbus.TaskEvent(rec))
}
