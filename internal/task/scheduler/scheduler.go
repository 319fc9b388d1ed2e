package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"tempo/internal/session"
	"tempo/internal/storage"
	"tempo/internal/task"
	"tempo/internal/task/engine"
	logx "tempo/pkg/logx"
)

const (
	// terminateGrace bounds how long shutdown waits for terminated runs to
	// report.
	terminateGrace = 5 * time.Second
	slowCycle      = time.Second
	historySize    = 64
)

// State is the scheduler lifecycle state.
type State string

const (
	StateCreated  State = "created"
	StateRunning  State = "running"
	StateShutdown State = "shutting_down"
	StateStopped  State = "stopped"
)

// Scheduler runs a session: it evaluates conditions, dispatches runs and
// applies their records. Task state is only touched by the Run goroutine.
type Scheduler struct {
	s   *session.Session
	eng *engine.Service
	log logx.Logger

	running atomic.Bool
	// recovered is set once dangling runs have been closed.
	recovered bool

	wmu   sync.Mutex
	warns map[string]*rate.Limiter

	smu      sync.Mutex
	state    State
	snap     Snapshot
	runnable map[string]bool
}

func New(s *session.Session, log logx.Logger) *Scheduler {
	if log.IsZero() {
		log = s.Log()
	}
	sc := &Scheduler{
		s:        s,
		log:      log,
		warns:    map[string]*rate.Limiter{},
		state:    StateCreated,
		runnable: map[string]bool{},
	}
	sc.eng = engine.New(sc.engineConfig(s.Config()), log.With(logx.String("comp", "engine")))
	return sc
}

func (sc *Scheduler) Session() *session.Session { return sc.s }

func (sc *Scheduler) engineConfig(c session.Config) engine.Config {
	return engine.Config{
		MaxProcessCount: c.MaxProcessCount,
		HistorySize:     historySize,
		Clock:           sc.s.Now,
		OnControl:       sc.s.Request,
	}
}

// Run starts the scheduler and blocks until shut_cond holds, a shutdown is
// requested, ctx ends, or a fatal error occurs. Shutdown requests and shut_cond
// return nil; a canceled ctx returns nil too. Restarts in the replace and
// relaunch modes return a *RestartError.
func (sc *Scheduler) Run(ctx context.Context) error {
	if !sc.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer sc.running.Store(false)

	if err := sc.s.Check(); err != nil {
		return err
	}
	sc.eng.Apply(sc.engineConfig(sc.s.Config()))
	sc.eng.Start(context.WithoutCancel(ctx))
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), terminateGrace)
		defer cancel()
		sc.eng.Stop(stopCtx)
		sc.setState(StateStopped)
	}()

	for {
		cause := sc.serve(ctx)
		if fatal(cause) {
			sc.log.Error("scheduler crashed", logx.String("action", string(storage.ActionCrash)), logx.Any("err", cause))
		}
		if err := sc.shutdown(ctx, cause); err != nil {
			sc.log.Error("scheduler crashed", logx.String("action", string(storage.ActionCrash)), logx.String("phase", "shutdown"), logx.Any("err", err))
			if !fatal(cause) {
				cause = err
			}
		}

		switch {
		case fatal(cause):
			return cause
		case errors.Is(cause, ErrSchedulerRestart):
			mode := sc.s.Config().Restarting
			sc.log.Info("scheduler restarting", logx.String("mode", string(mode)))
			switch mode {
			case session.RestartRecall:
				continue
			case session.RestartFresh:
				if err := sc.reload(ctx); err != nil {
					return err
				}
				continue
			default:
				return &RestartError{Mode: mode}
			}
		default:
			sc.log.Info("scheduler stopped", logx.Any("cause", cause), logx.Int("cycles", sc.s.Cycles()))
			return nil
		}
	}
}

// serve runs startup and cycles until a cause ends the loop.
func (sc *Scheduler) serve(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("scheduler panic: %v\n%s", r, debug.Stack())
		}
	}()
	if err := sc.startup(ctx); err != nil {
		return err
	}
	sc.setState(StateRunning)
	for {
		if err := sc.cycle(ctx); err != nil {
			return err
		}
		if err := sc.sleep(ctx); err != nil {
			return err
		}
	}
}

func (sc *Scheduler) startup(ctx context.Context) error {
	start := sc.s.Now()
	sc.s.MarkStarted(start)
	sc.log.Info("scheduler starting", logx.Int("tasks", len(sc.s.Tasks())), logx.Time("at", start))

	hk, err := prerun(sc.s, sc.s.Hooks().Startup)
	if err != nil {
		return fmt.Errorf("startup hook: %w", err)
	}
	if !sc.recovered {
		if err := sc.loadCaches(ctx); err != nil {
			return err
		}
		if err := sc.closeDangling(ctx); err != nil {
			return err
		}
		sc.recovered = true
	}

	var boot []*task.Task
	for _, t := range sc.s.Tasks() {
		if t.OnStartup && !t.Disabled {
			if err := sc.dispatch(ctx, t); err != nil {
				return err
			}
			boot = append(boot, t)
		}
	}
	if err := sc.waitFor(ctx, boot); err != nil {
		return err
	}
	if err := hk.postrun(); err != nil {
		return fmt.Errorf("startup hook: %w", err)
	}
	sc.publishSnapshot()
	return nil
}

func (sc *Scheduler) loadCaches(ctx context.Context) error {
	for _, t := range sc.s.Tasks() {
		if err := t.LoadCache(ctx, sc.s.Repo()); err != nil {
			return err
		}
	}
	return nil
}

// closeDangling writes a crash record for runs a previous process left
// without a terminal record.
func (sc *Scheduler) closeDangling(ctx context.Context) error {
	recs, err := storage.Dangling(ctx, sc.s.Repo(), "")
	if err != nil {
		return fmt.Errorf("scan dangling runs: %w", err)
	}
	for _, r := range recs {
		now := sc.s.Now()
		crash := storage.Record{
			TaskName: r.TaskName,
			Action:   storage.ActionCrash,
			Created:  now,
			RunID:    r.RunID,
			Start:    r.Start,
			End:      now,
			Message:  "run left open by a previous process",
		}
		sc.log.Warn("dangling run closed", logx.String("task", r.TaskName), logx.String("run_id", r.RunID), logx.Time("started", r.Start))
		if err := sc.apply(ctx, crash); err != nil {
			return err
		}
	}
	return nil
}

// reload resets caches and the cycle counter for a fresh restart.
func (sc *Scheduler) reload(ctx context.Context) error {
	sc.s.ResetCycles()
	return sc.loadCaches(ctx)
}

func (sc *Scheduler) cycle(ctx context.Context) error {
	began := time.Now()
	if c, ok := sc.s.TakePending(); ok {
		sc.s.Commit(c)
		sc.eng.Apply(sc.engineConfig(c))
		sc.log.Info("session config applied", logx.Duration("cycle_sleep", c.CycleSleep), logx.Int("max_process_count", c.MaxProcessCount))
	}
	if err := sc.drain(ctx); err != nil {
		return err
	}
	if err := sc.s.TakeRequest(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	stop, err := sc.observe(ctx, sc.s.Config().ShutCond, nil)
	if err != nil {
		return err
	}
	if stop {
		return errShutCond
	}

	hk, err := prerun(sc.s, sc.s.Hooks().Cycle)
	if err != nil {
		return fmt.Errorf("cycle hook: %w", err)
	}
	for _, t := range sc.s.Tasks() {
		if t.OnStartup || t.OnShutdown {
			continue
		}
		if err := sc.step(ctx, t); err != nil {
			return err
		}
	}
	if err := hk.postrun(); err != nil {
		return fmt.Errorf("cycle hook: %w", err)
	}
	sc.s.AddCycle()
	sc.publishSnapshot()

	if took := time.Since(began); took > slowCycle {
		sc.warn("slow_cycle", "scheduler cycle slow", logx.Duration("took", took), logx.Int("tasks", len(sc.s.Tasks())))
	}
	return nil
}

// step dispatches t when runnable, otherwise checks its live runs for
// termination. Timeouts are checked either way.
func (sc *Scheduler) step(ctx context.Context, t *task.Task) error {
	ok, err := sc.isRunnable(ctx, t)
	if err != nil {
		return err
	}
	sc.smu.Lock()
	sc.runnable[t.Name] = ok
	sc.smu.Unlock()
	if ok {
		if err := sc.dispatch(ctx, t); err != nil {
			return err
		}
		return sc.checkTermination(ctx, t, false)
	}
	return sc.checkTermination(ctx, t, true)
}

func (sc *Scheduler) sleep(ctx context.Context) error {
	d := sc.s.Config().CycleSleep
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// shutdown drains or terminates live runs, runs on_shutdown tasks and the
// shutdown hooks.
func (sc *Scheduler) shutdown(ctx context.Context, cause error) error {
	sc.setState(StateShutdown)
	// Records must still reach the repository after ctx ends.
	bg := context.WithoutCancel(ctx)
	cfg := sc.s.Config()

	hk, err := prerun(sc.s, sc.s.Hooks().Shutdown)
	if err != nil {
		_ = sc.terminateAll(bg, "shutdown")
		return fmt.Errorf("shutdown hook: %w", err)
	}

	if cfg.InstantShutdown || fatal(cause) || ctx.Err() != nil {
		if err := sc.terminateAll(bg, "shutdown"); err != nil {
			return err
		}
	} else if err := sc.waitFor(ctx, sc.s.Tasks()); err != nil {
		return err
	}

	var last []*task.Task
	for _, t := range sc.s.Tasks() {
		if t.OnShutdown && !t.Disabled {
			if err := sc.dispatch(bg, t); err != nil {
				return err
			}
			last = append(last, t)
		}
	}
	if err := sc.waitFor(ctx, last); err != nil {
		return err
	}
	if err := hk.postrun(); err != nil {
		return fmt.Errorf("shutdown hook: %w", err)
	}
	sc.publishSnapshot()
	return nil
}

// waitFor blocks until tasks have no live runs, applying end conditions and
// timeouts meanwhile. When ctx ends the remaining runs are terminated.
func (sc *Scheduler) waitFor(ctx context.Context, tasks []*task.Task) error {
	bg := context.WithoutCancel(ctx)
	poll := min(max(sc.s.Config().CycleSleep, time.Millisecond), 100*time.Millisecond)
	timer := time.NewTimer(poll)
	defer timer.Stop()
	for {
		if err := sc.drain(bg); err != nil {
			return err
		}
		busy := false
		for _, t := range tasks {
			if t.Running() == 0 {
				continue
			}
			busy = true
			if err := sc.checkTermination(bg, t, true); err != nil {
				return err
			}
		}
		if !busy {
			return nil
		}
		timer.Reset(poll)
		select {
		case <-timer.C:
		case <-ctx.Done():
			return sc.terminateAll(bg, "shutdown")
		}
	}
}

// terminateAll terminates every live run and waits a bounded time for their
// records.
func (sc *Scheduler) terminateAll(ctx context.Context, reason string) error {
	n := 0
	for _, t := range sc.s.Tasks() {
		for _, r := range t.Runs() {
			if r.Handle != nil {
				r.Handle.Terminate(reason)
				n++
			}
		}
	}
	if n > 0 {
		sc.log.Info("terminating runs", logx.Int("runs", n), logx.String("reason", reason))
		wctx, cancel := context.WithTimeout(ctx, terminateGrace)
		defer cancel()
		if err := sc.eng.Wait(wctx); err != nil {
			sc.log.Warn("runs still alive after terminate", logx.Any("err", err), logx.Int("live", len(sc.eng.Live())))
		}
	}
	return sc.drain(ctx)
}

func (sc *Scheduler) setState(s State) {
	sc.smu.Lock()
	sc.state = s
	sc.smu.Unlock()
}

// warn logs at most once per 5s per key.
func (sc *Scheduler) warn(key, msg string, fields ...logx.Field) {
	sc.wmu.Lock()
	lim, ok := sc.warns[key]
	if !ok {
		lim = rate.NewLimiter(rate.Every(5*time.Second), 1)
		sc.warns[key] = lim
	}
	sc.wmu.Unlock()
	if lim.Allow() {
		sc.log.Warn(msg, fields...)
	}
}
