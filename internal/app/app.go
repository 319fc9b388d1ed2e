// Package app wires a project file into a running scheduler: logging,
// the log repository, the session and its tasks, the status server and
// config hot reload.
package app

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"tempo/internal/config"
	"tempo/internal/eventbus"
	"tempo/internal/observability/status"
	rtsup "tempo/internal/runtime/supervisor"
	"tempo/internal/session"
	"tempo/internal/storage"
	"tempo/internal/task/scheduler"
	logx "tempo/pkg/logx"
	"tempo/pkg/systemdmanager"
)

type App struct {
	cfgPath string
	cfgm    *config.Manager
	sup     *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus
	repo storage.Repo

	sess   *session.Session
	sched  *scheduler.Scheduler
	status *status.Service
	units  *systemdmanager.Manager
}

// Status is what the status server serves as /status.
type Status struct {
	Scheduler     scheduler.Snapshot `json:"scheduler"`
	Supervisor    rtsup.Snapshot     `json:"supervisor"`
	EventsDropped uint64             `json:"events_dropped"`
}

// NewApp loads the project at cfgPath and builds every component. Nothing
// runs until Run.
func NewApp(cfgPath string) (*App, error) {
	p, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}

	logSvc, root := logx.New(mapLoggingConfig(p))
	log := root.With(logx.String("comp", "app"))
	cfgm := config.NewManager(cfgPath, root.With(logx.String("comp", "config")))
	if p, err = cfgm.Load(); err != nil {
		_ = logSvc.Close()
		return nil, err
	}

	sc, err := mapStorageConfig(p)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	repo, err := storage.Open(sc, root.With(logx.String("comp", "storage")))
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	if sc.Driver == "memory" {
		log.Warn("storage is in memory; task history is lost on exit")
	}

	cfg, err := session.ConfigFrom(p.Session, session.DefaultConfig(), nil)
	if err != nil {
		_ = repo.Close()
		_ = logSvc.Close()
		return nil, err
	}
	bus := eventbus.New()
	units := systemdmanager.New(0)
	sess, err := session.New(cfg, repo, root.With(logx.String("comp", "session")), bus)
	if err == nil {
		err = registerUnitConditions(sess.Parser(), units)
	}
	if err == nil {
		err = sess.LoadProject(p)
	}
	if err != nil {
		_ = units.Close()
		_ = repo.Close()
		_ = logSvc.Close()
		return nil, err
	}

	a := &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		repo:    repo,
		sess:    sess,
		sched:   scheduler.New(sess, root.With(logx.String("comp", "scheduler"))),
		units:   units,
	}
	a.status = status.New(mapStatusConfig(p), func() any { return a.Status() }, root.With(logx.String("comp", "status")))
	return a, nil
}

func (a *App) Session() *session.Session       { return a.sess }
func (a *App) Scheduler() *scheduler.Scheduler { return a.sched }
func (a *App) Logger() logx.Logger             { return a.log }

func (a *App) Status() Status {
	st := Status{Scheduler: a.sched.Snapshot(), EventsDropped: a.bus.Dropped()}
	if a.sup != nil {
		st.Supervisor = a.sup.Snapshot()
	}
	return st
}

// OnReady calls fn once the startup phase of the first scheduler start has
// finished.
func (a *App) OnReady(fn func()) {
	fired := false
	a.sess.OnStartup(func(*session.Session) (func() error, error) {
		return func() error {
			if !fired {
				fired = true
				fn()
			}
			return nil
		}, nil
	})
}

// Run serves the status server, optionally watches the project file, and
// runs the scheduler until it returns. The scheduler's error is returned
// unchanged so callers can act on *scheduler.RestartError.
func (a *App) Run(ctx context.Context, watch bool) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.cfgm.SetValidator(validateProject)

	a.status.Start(a.sup.Context())

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go("eventbus.log", func(c context.Context) error {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return nil
			case e, ok := <-events:
				if !ok {
					return nil
				}
				if rec, ok := e.Record(); ok {
					a.log.Debug("event", logx.String("type", e.Type), logx.String("task", rec.TaskName), logx.String("run_id", rec.RunID))
				}
			}
		}
	})

	if watch {
		sub := a.cfgm.Subscribe(8)
		a.sup.Go("config.reload", func(c context.Context) error {
			defer a.cfgm.Unsubscribe(sub)
			last := a.cfgm.Get()
			for {
				select {
				case <-c.Done():
					return nil
				case p, ok := <-sub:
					if !ok {
						return nil
					}
					a.reload(c, last, p)
					last = p
				}
			}
		})
		a.sup.Go("config.watch", a.cfgm.Watch)
	}

	a.log.Info("app started", logx.String("config", a.cfgPath), logx.Int("tasks", len(a.sess.Tasks())), logx.Bool("watch", watch))
	err := a.sched.Run(a.sup.Context())
	if err == nil {
		err = a.sup.Err()
	}
	return err
}

func validateProject(_ context.Context, p *config.Project) error {
	if _, err := session.ConfigFrom(p.Session, session.DefaultConfig(), nil); err != nil {
		return fmt.Errorf("session: %w", err)
	}
	_, err := mapStorageConfig(p)
	return err
}

// reload applies what may change at runtime and warns about the rest.
func (a *App) reload(ctx context.Context, prev, p *config.Project) {
	changed, _ := config.Summarize(prev, p)
	if len(changed) == 0 {
		return
	}
	if slices.Contains(changed, "logging") {
		a.logs.Apply(mapLoggingConfig(p))
	}
	if slices.Contains(changed, "status") {
		a.status.Reconfigure(ctx, mapStatusConfig(p))
	}
	if slices.Contains(changed, "session") {
		cur := a.sess.Config()
		next, err := session.ConfigFrom(p.Session, cur, a.sess.Parser())
		if err == nil {
			err = a.sess.Apply(cur.Live(next))
		}
		if err != nil {
			a.log.Warn("invalid session config; keeping previous", logx.Any("err", err))
		}
	}
	if slices.Contains(changed, "params") {
		for name, v := range p.Params {
			a.sess.SetParam(name, v)
		}
	}
	for _, s := range []string{"storage", "tasks"} {
		if slices.Contains(changed, s) {
			a.log.Warn("config section changed; restart required for changes to take effect", logx.String("section", s))
		}
	}
}

// Stop releases what Run and NewApp acquired. Each step is bounded so one
// component cannot stall the whole stop.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	a.log.Info("stopping", logx.String("reason", string(reason)))

	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, limit)
		defer cancel()
		if err := fn(stepCtx); err != nil && !errors.Is(err, context.Canceled) {
			a.log.Warn("stop step error", logx.String("name", name), logx.Any("err", err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	}

	step("status", time.Second, func(c context.Context) error { a.status.Stop(c); return nil })
	if a.sup != nil {
		step("supervisor", 2*time.Second, a.sup.Stop)
	}
	step("storage", time.Second, func(context.Context) error { return a.repo.Close() })
	step("systemd", time.Second, func(context.Context) error { return a.units.Close() })

	a.log.Info("stopped")
	return a.logs.Close()
}

func isRestart(err error) bool {
	var re *scheduler.RestartError
	return errors.As(err, &re)
}
